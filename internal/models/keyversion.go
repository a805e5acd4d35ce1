package models

import "time"

// Key lifecycle statuses. REVOKED is terminal.
const (
	KeyStatusActive  = "ACTIVE"
	KeyStatusRotated = "ROTATED"
	KeyStatusRevoked = "REVOKED"
)

// Signature algorithm used for all key versions.
const (
	KeyAlgorithm = "ECDSA_SECP256K1"
	KeySize      = 256
)

// KeyVersion is one generation of the chain signing key. At most one version
// is ACTIVE at any instant and version numbers are never reused. The private
// half never appears here; it stays with the keyring.
type KeyVersion struct {
	Version            int        `json:"version" dynamodbav:"version"`
	PublicKey          string     `json:"publicKey" dynamodbav:"publicKey"`
	Algorithm          string     `json:"algorithm" dynamodbav:"algorithm"`
	KeySize            int        `json:"keySize" dynamodbav:"keySize"`
	Status             string     `json:"status" dynamodbav:"status"`
	ValidFrom          time.Time  `json:"validFrom" dynamodbav:"validFrom"`
	ValidUntil         *time.Time `json:"validUntil,omitempty" dynamodbav:"validUntil"`
	RevokedAt          *time.Time `json:"revokedAt,omitempty" dynamodbav:"revokedAt"`
	RevokedReason      string     `json:"revokedReason,omitempty" dynamodbav:"revokedReason"`
	SignaturesCreated  int64      `json:"signaturesCreated" dynamodbav:"signaturesCreated"`
	SignaturesVerified int64      `json:"signaturesVerified" dynamodbav:"signaturesVerified"`
	CreatedAt          time.Time  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt" dynamodbav:"updatedAt"`
}

// CoversInstant reports whether ts falls inside the key's validity window
// [validFrom, validUntil). Revocation closes the window but does not
// invalidate signatures made while it was open.
func (k *KeyVersion) CoversInstant(ts time.Time) bool {
	if ts.Before(k.ValidFrom) {
		return false
	}
	if k.ValidUntil != nil && !ts.Before(*k.ValidUntil) {
		return false
	}
	return true
}

// RevokeRequest is the payload of POST /api/keys/{version}/revoke.
type RevokeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// KeyRotatedEvent is published after an atomic rotation.
type KeyRotatedEvent struct {
	SchemaVersion string    `json:"schemaVersion"`
	OldVersion    int       `json:"oldVersion"`
	NewVersion    int       `json:"newVersion"`
	RotatedAt     time.Time `json:"rotatedAt"`
	CorrelationID string    `json:"correlationId"`
}

// KeyRevokedEvent is published after a revocation.
type KeyRevokedEvent struct {
	SchemaVersion string    `json:"schemaVersion"`
	Version       int       `json:"version"`
	Reason        string    `json:"reason"`
	RevokedAt     time.Time `json:"revokedAt"`
	CorrelationID string    `json:"correlationId"`
}
