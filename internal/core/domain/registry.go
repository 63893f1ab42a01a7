package domain

// =============================================================================
// Registry Session
// =============================================================================

// RegistrySession is the identity established from a registry credential.
// It lives for the duration of one process and is never persisted to disk.
type RegistrySession struct {
	Principal string
	Scope     string
	Token     string
}
