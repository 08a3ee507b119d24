// Package api defines the shared data types exchanged between the flow
// execution engine, the authentication subsystem, the stores, and the
// HTTP surface. The package is intentionally dependency-free.
package api
