package models

import "errors"

var (
	// ErrNoActiveKey means no ACTIVE key version exists. Signing fails
	// closed; verification of historical records stays possible.
	ErrNoActiveKey = errors.New("record chain: no active signing key")

	// ErrConcurrentAppend means another writer advanced the chain tip
	// between reading previousHash and persisting. Recoverable by retrying
	// with a freshly read tip.
	ErrConcurrentAppend = errors.New("record chain: concurrent append conflict")

	// ErrInvalidKeyState means a rotation or revocation was attempted from
	// an illegal lifecycle state. Not retryable.
	ErrInvalidKeyState = errors.New("record chain: invalid key lifecycle state")

	// ErrKeyNotFound means the requested key version does not exist.
	ErrKeyNotFound = errors.New("record chain: key version not found")

	// ErrRecordNotFound means the requested record does not exist.
	ErrRecordNotFound = errors.New("record chain: record not found")

	// ErrForkDetected means two records claim the same predecessor. Never
	// auto-resolved; surfaced for the auditor.
	ErrForkDetected = errors.New("record chain: fork detected")

	// ErrKeyMaterialMissing means the keyring holds no private key for the
	// requested version.
	ErrKeyMaterialMissing = errors.New("record chain: private key material missing")

	// ErrTimestampNotCovered means the requested record timestamp falls
	// outside the active key's validity window. Signing it anyway would
	// produce a record whose signature can never verify, because
	// verification resolves the key by the timestamp.
	ErrTimestampNotCovered = errors.New("record chain: timestamp outside active key validity window")
)
