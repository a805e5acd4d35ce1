package services

import (
	"context"
	"time"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
)

// RecordStore is the persistence boundary for activity records. Append must
// be atomic against concurrent writers of the same owner: InsertRecord
// returns models.ErrConcurrentAppend when the chain tip moved between the
// caller's LastRecord read and the write.
type RecordStore interface {
	// LastRecord returns the owner's chain tip, or nil when the chain is empty.
	LastRecord(ctx context.Context, ownerID string) (*models.ActivityRecord, error)
	// InsertRecord appends atomically relative to the owner's tip.
	InsertRecord(ctx context.Context, record *models.ActivityRecord) error
	// FindRecord returns a record by its ID, or nil when absent.
	FindRecord(ctx context.Context, ownerID, recordID string) (*models.ActivityRecord, error)
	// FindByHash returns the record whose hash matches, or nil when absent.
	FindByHash(ctx context.Context, ownerID, hash string) (*models.ActivityRecord, error)
	// FindByPreviousHash returns every record claiming the given predecessor.
	// More than one element means a fork.
	FindByPreviousHash(ctx context.Context, ownerID, previousHash string) ([]models.ActivityRecord, error)
	// ListRecords returns up to limit records in creation order from genesis.
	ListRecords(ctx context.Context, ownerID string, limit int) ([]models.ActivityRecord, error)
	// MarkVerified stamps the post-hoc verification annotation. It must not
	// touch any hash-covered field.
	MarkVerified(ctx context.Context, ownerID, recordID, verifiedBy string, verifiedAt time.Time) error
}

// KeyVersionStore is the persistence boundary for signing key versions.
// RotateKeys must be transactional so the single-active-key invariant holds
// under concurrent rotation requests.
type KeyVersionStore interface {
	// ActiveKey returns the ACTIVE version, or nil when none exists.
	ActiveKey(ctx context.Context) (*models.KeyVersion, error)
	// KeyByVersion returns a version, or nil when absent.
	KeyByVersion(ctx context.Context, version int) (*models.KeyVersion, error)
	// ListKeys returns every key version.
	ListKeys(ctx context.Context) ([]models.KeyVersion, error)
	// PutNewKey persists a freshly created version; fails if the version
	// number is already taken.
	PutNewKey(ctx context.Context, key *models.KeyVersion) error
	// RotateKeys atomically marks old ROTATED (only if still ACTIVE) and
	// persists next as the new ACTIVE version.
	RotateKeys(ctx context.Context, old, next *models.KeyVersion) error
	// UpdateKeyStatus persists a status change, guarded by the expected
	// previous status; returns models.ErrInvalidKeyState on mismatch.
	UpdateKeyStatus(ctx context.Context, key *models.KeyVersion, expectedStatus string) error
	// IncrementSignatures bumps usage counters. Observability only.
	IncrementSignatures(ctx context.Context, version int, created, verified int64) error
}
