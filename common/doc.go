// Package common provides shared constants, errors, and the application
// logger used throughout relayhop.
//
// This package is the foundation for cross-cutting concerns:
//
//   - Constants: application-wide timeouts, file names, and defaults
//   - Errors: sentinel errors for consistent handling across packages
//   - Logger: leveled logging with rotating file output
//   - Utils: small helpers for paths and slices
//
// # Usage
//
//	import "github.com/yllada/relayhop/common"
//
//	common.LogInfo("probing %d candidates", n)
//
//	if errors.Is(err, common.ErrDirectoryUnavailable) {
//	    // abort this discovery cycle
//	}
package common
