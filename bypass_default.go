//go:build !e2e

package auth

// BypassEnabled reports whether the e2e guard bypass flag is honored.
// Release builds never honor it.
const BypassEnabled = false
