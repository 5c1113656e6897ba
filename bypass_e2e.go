//go:build e2e

package auth

// BypassEnabled reports whether the e2e guard bypass flag is honored.
// Binaries built with the e2e tag admit every navigation while the flag
// is set.
const BypassEnabled = true
