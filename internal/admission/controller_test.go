package admission

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/voicegate/types"
)

func TestController_AdmitUpToMax(t *testing.T) {
	c := NewController(2, zap.NewNop())

	s1, err := c.TryAdmit()
	require.NoError(t, err)
	s2, err := c.TryAdmit()
	require.NoError(t, err)

	_, err = c.TryAdmit()
	require.Error(t, err)
	assert.Equal(t, types.ErrCapacityExceeded, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	s1.Release()
	s3, err := c.TryAdmit()
	require.NoError(t, err)

	s2.Release()
	s3.Release()

	stats := c.Snapshot()
	assert.Equal(t, int64(0), stats.Active)
	assert.Equal(t, int64(2), stats.Peak)
	assert.Equal(t, int64(3), stats.Granted)
	assert.Equal(t, int64(1), stats.Rejected)
}

func TestController_ConcurrentAdmitsNeverExceedMax(t *testing.T) {
	const max = 8
	const attempts = 200

	c := NewController(max, zap.NewNop())

	var mu sync.Mutex
	var granted []*Slot
	var rejected int

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := c.TryAdmit()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
				return
			}
			granted = append(granted, slot)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, len(granted), max)
	assert.Equal(t, attempts, len(granted)+rejected)
	assert.LessOrEqual(t, c.Snapshot().Peak, int64(max))

	for _, s := range granted {
		s.Release()
	}
	assert.Equal(t, int64(0), c.Snapshot().Active)
}

func TestSlot_ReleaseIsIdempotent(t *testing.T) {
	c := NewController(1, zap.NewNop())

	slot, err := c.TryAdmit()
	require.NoError(t, err)

	slot.Release()
	slot.Release() // diagnostic no-op

	stats := c.Snapshot()
	assert.Equal(t, int64(0), stats.Active)

	// The double release must not have freed a phantom slot.
	s2, err := c.TryAdmit()
	require.NoError(t, err)
	_, err = c.TryAdmit()
	require.Error(t, err)
	s2.Release()
}

// Property: for any interleaving of admits and releases, the active count
// never exceeds the configured maximum and never goes negative.
func TestController_AdmissionInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		max := rapid.IntRange(1, 10).Draw(rt, "max")
		c := NewController(max, zap.NewNop())

		var held []*Slot
		steps := rapid.IntRange(1, 100).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if len(held) > 0 && rapid.Bool().Draw(rt, "release") {
				idx := rapid.IntRange(0, len(held)-1).Draw(rt, "idx")
				held[idx].Release()
				held = append(held[:idx], held[idx+1:]...)
			} else {
				slot, err := c.TryAdmit()
				if err == nil {
					held = append(held, slot)
				}
			}

			active := c.Snapshot().Active
			if active < 0 || active > int64(max) {
				rt.Fatalf("active=%d outside [0,%d]", active, max)
			}
			if active != int64(len(held)) {
				rt.Fatalf("active=%d but holding %d slots", active, len(held))
			}
		}
	})
}
