package models

import (
	"strings"
	"time"
)

// ZeroHash is the reserved previousHash of the first record of an owner's
// chain (the genesis record). 32 zero bytes, hex-encoded.
var ZeroHash = strings.Repeat("0", 64)

// ActivityRecord is one immutable entry of a cultivation activity chain.
// The hash covers (type, data, timestamp, actorId) plus the previous hash;
// the signature covers the hash under the key version active at creation.
// Records are never updated after insertion except for the verification
// annotation fields, which only the verifier may set.
type ActivityRecord struct {
	RecordID          string                 `json:"recordId" dynamodbav:"recordId"`
	OwnerID           string                 `json:"ownerId" dynamodbav:"ownerId"`
	Sequence          int64                  `json:"sequence" dynamodbav:"seq"`
	Type              string                 `json:"type" dynamodbav:"type"`
	Data              map[string]interface{} `json:"data" dynamodbav:"data"`
	Hash              string                 `json:"hash" dynamodbav:"hash"`
	Signature         string                 `json:"signature" dynamodbav:"signature"`
	PreviousHash      string                 `json:"previousHash" dynamodbav:"previousHash"`
	KeyVersion        int                    `json:"keyVersion" dynamodbav:"keyVersion"`
	Timestamp         time.Time              `json:"timestamp" dynamodbav:"timestamp"`
	TimestampToken    string                 `json:"timestampToken,omitempty" dynamodbav:"timestampToken"`
	TimestampProvider string                 `json:"timestampProvider,omitempty" dynamodbav:"timestampProvider"`
	ActorID           string                 `json:"actorId" dynamodbav:"actorId"`
	Verified          bool                   `json:"verified" dynamodbav:"verified"`
	VerifiedAt        *time.Time             `json:"verifiedAt,omitempty" dynamodbav:"verifiedAt"`
	VerifiedBy        string                 `json:"verifiedBy,omitempty" dynamodbav:"verifiedBy"`
	CreatedAt         time.Time              `json:"createdAt" dynamodbav:"createdAt"`
}

// IsGenesis reports whether the record opens its owner's chain.
func (r *ActivityRecord) IsGenesis() bool {
	return r.PreviousHash == ZeroHash
}

// Closed set of cultivation activity types.
const (
	ActivityPlanting    = "PLANTING"
	ActivityTransplant  = "TRANSPLANT"
	ActivityFertilizing = "FERTILIZING"
	ActivityTreatment   = "TREATMENT"
	ActivityHarvest     = "HARVEST"
	ActivityTesting     = "TESTING"
	ActivityTransport   = "TRANSPORT"
	ActivityDisposal    = "DISPOSAL"
)

// ValidActivityType reports whether activityType belongs to the closed set.
func ValidActivityType(activityType string) bool {
	switch activityType {
	case ActivityPlanting, ActivityTransplant, ActivityFertilizing, ActivityTreatment,
		ActivityHarvest, ActivityTesting, ActivityTransport, ActivityDisposal:
		return true
	}
	return false
}

// Verification reason codes.
const (
	ReasonOK               = "OK"
	ReasonHashMismatch     = "HASH_MISMATCH"
	ReasonSignatureInvalid = "SIGNATURE_INVALID"
	ReasonKeyNotFound      = "KEY_NOT_FOUND"
	ReasonBrokenLink       = "BROKEN_LINK"
	ReasonForkDetected     = "FORK_DETECTED"
)

// VerificationResult is the verdict for a single record.
type VerificationResult struct {
	RecordID   string `json:"recordId"`
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason"`
	KeyVersion int    `json:"keyVersion,omitempty"`
}

// ChainVerificationResult is the verdict for a whole chain walk. FailedIndex
// is -1 when the chain is valid; otherwise it points at the first record
// that failed, so an auditor can pinpoint where trust breaks.
type ChainVerificationResult struct {
	OwnerID        string    `json:"ownerId"`
	Valid          bool      `json:"valid"`
	TotalRecords   int       `json:"totalRecords"`
	FailedIndex    int       `json:"failedIndex"`
	FailedRecordID string    `json:"failedRecordId,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CheckedAt      time.Time `json:"checkedAt"`
}

// Walk directions for chain navigation.
const (
	DirectionForward  = "forward"
	DirectionBackward = "backward"
)

// RecordRequest is the payload of POST /api/records.
type RecordRequest struct {
	OwnerID   string                 `json:"ownerId" binding:"required"`
	Type      string                 `json:"type" binding:"required"`
	Data      map[string]interface{} `json:"data" binding:"required"`
	ActorID   string                 `json:"actorId" binding:"required"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
}

// ActivityRecordedEvent is the command consumed from the certification
// workflow: one cultivation activity to sign and append.
type ActivityRecordedEvent struct {
	SchemaVersion string                 `json:"schemaVersion"`
	OwnerID       string                 `json:"ownerId"`
	ActivityType  string                 `json:"activityType"`
	ActorID       string                 `json:"actorId"`
	OccurredAt    time.Time              `json:"occurredAt"`
	Payload       map[string]interface{} `json:"payload"`
	CorrelationID string                 `json:"correlationId"`
}

// RecordSignedEvent is published after a record is signed and persisted.
type RecordSignedEvent struct {
	SchemaVersion string    `json:"schemaVersion"`
	OwnerID       string    `json:"ownerId"`
	RecordID      string    `json:"recordId"`
	Type          string    `json:"type"`
	Hash          string    `json:"hash"`
	PreviousHash  string    `json:"previousHash"`
	KeyVersion    int       `json:"keyVersion"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId"`
}

// ChainVerifiedEvent is published after a successful full-chain verification.
type ChainVerifiedEvent struct {
	SchemaVersion string    `json:"schemaVersion"`
	OwnerID       string    `json:"ownerId"`
	TotalRecords  int       `json:"totalRecords"`
	CheckedAt     time.Time `json:"checkedAt"`
	CorrelationID string    `json:"correlationId"`
}

// ChainInconsistencyEvent is published when chain verification fails.
type ChainInconsistencyEvent struct {
	SchemaVersion  string    `json:"schemaVersion"`
	OwnerID        string    `json:"ownerId"`
	FailedIndex    int       `json:"failedIndex"`
	FailedRecordID string    `json:"failedRecordId"`
	Reason         string    `json:"reason"`
	CheckedAt      time.Time `json:"checkedAt"`
	CorrelationID  string    `json:"correlationId"`
}
