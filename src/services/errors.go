package services

import "errors"

// Sentinel errors for explicit error handling
// These errors allow callers to distinguish between different failure modes
// using errors.Is() instead of string matching

var (
	// ErrSubscriptionNotFound indicates the requested subscription does not exist
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrCredentialNotFound indicates no OAuth credential exists for the key
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrPBXRejected indicates the remote PBX refused an operation the
	// registry needed to mirror locally
	ErrPBXRejected = errors.New("PBX rejected operation")
)
