// Package ir defines the data model shared by the podwire packages.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Definitions are tagged variants validated once by the compiler
//   - Sequence numbers come from a logical clock, never wall-clock time
//   - All JSON tags use snake_case and match the catalog files at rest
package ir
