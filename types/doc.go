// Package types provides core types shared across the voicegate server.
// This package has ZERO dependencies on other voicegate packages to avoid
// circular imports. All other packages should import types from here.
package types
