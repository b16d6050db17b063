// Package types provides core types used across the gateflow engine.
// This package has ZERO dependencies on other gateflow packages to avoid
// circular imports. All other packages should import types from here.
package types
