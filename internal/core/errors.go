package core

import "errors"

var (
	// ErrKeyNotFound means the target identifier is not in the pool.
	ErrKeyNotFound = errors.New("key not found")

	// ErrRateLimitExceeded means the pool-wide per-minute ceiling has been reached.
	ErrRateLimitExceeded = errors.New("aggregate rate limit exceeded")

	// ErrNoAvailableKey means no Active key has per-key capacity left.
	ErrNoAvailableKey = errors.New("no available key")

	// ErrKeyVanished means the selected key was removed before its use could be recorded.
	ErrKeyVanished = errors.New("selected key vanished before commit")
)
