package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
)

// RecordEventPublisher publishes record domain events after persistence.
type RecordEventPublisher interface {
	PublishRecordSigned(ctx context.Context, event *models.RecordSignedEvent) error
}

// TimestampProvider requests an opaque trusted-timestamp token for a digest.
// Failure degrades to no token; it never blocks record creation.
type TimestampProvider interface {
	RequestToken(ctx context.Context, digestHex string) (token, provider string)
}

// SignerService builds signed record envelopes: it reads the owner's chain
// tip, hashes the canonical content against it, signs the digest with the
// active key and persists the result. Append conflicts from concurrent
// writers of the same owner are retried with a freshly read tip.
type SignerService struct {
	records    RecordStore
	keys       *KeyLifecycleService
	keyring    *KeyringService
	canonical  *CanonicalService
	tsa        TimestampProvider
	publisher  RecordEventPublisher
	maxRetries int
}

// NewSignerService creates a new SignerService instance. tsa and publisher
// may be nil.
func NewSignerService(
	records RecordStore,
	keys *KeyLifecycleService,
	keyring *KeyringService,
	canonical *CanonicalService,
	tsa TimestampProvider,
	publisher RecordEventPublisher,
	maxRetries int,
) *SignerService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &SignerService{
		records:    records,
		keys:       keys,
		keyring:    keyring,
		canonical:  canonical,
		tsa:        tsa,
		publisher:  publisher,
		maxRetries: maxRetries,
	}
}

// Sign creates, signs and persists one activity record for ownerID.
// timestamp defaults to now and must fall inside the active key's validity
// window (models.ErrTimestampNotCovered otherwise). Fails closed with
// models.ErrNoActiveKey when no ACTIVE key exists — an unsigned record must
// never be produced. Returns
// models.ErrConcurrentAppend when retries against racing writers are
// exhausted; the caller may retry the whole operation.
func (ss *SignerService) Sign(ctx context.Context, ownerID, activityType string, data map[string]interface{}, actorID string, timestamp *time.Time) (*models.ActivityRecord, error) {
	if ownerID == "" || actorID == "" {
		return nil, fmt.Errorf("ownerId and actorId are required")
	}
	if !models.ValidActivityType(activityType) {
		return nil, fmt.Errorf("unknown activity type %q", activityType)
	}

	ts := time.Now().UTC()
	if timestamp != nil {
		ts = timestamp.UTC()
	}

	active, err := ss.keys.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching active key: %w", err)
	}
	if active == nil {
		return nil, models.ErrNoActiveKey
	}

	// Verification resolves the key by the record timestamp, so a timestamp
	// outside the active key's window would yield a record that can never
	// verify. Refuse it instead of signing a contradiction.
	if !active.CoversInstant(ts) {
		return nil, fmt.Errorf("timestamp %s not covered by key version %d: %w",
			ts.Format(time.RFC3339Nano), active.Version, models.ErrTimestampNotCovered)
	}

	canonical := ss.canonical.CanonicalBytes(activityType, data, ts, actorID)

	for attempt := 1; attempt <= ss.maxRetries; attempt++ {
		record, err := ss.buildAndPersist(ctx, ownerID, activityType, data, actorID, ts, canonical, active)
		if errors.Is(err, models.ErrConcurrentAppend) {
			log.Printf("⚠️ Append conflict for owner %s (attempt %d/%d), re-reading tip", ownerID, attempt, ss.maxRetries)
			continue
		}
		if err != nil {
			return nil, err
		}
		return record, nil
	}

	return nil, fmt.Errorf("owner %s: %w", ownerID, models.ErrConcurrentAppend)
}

// buildAndPersist runs one append attempt against the tip read at call time.
func (ss *SignerService) buildAndPersist(
	ctx context.Context,
	ownerID, activityType string,
	data map[string]interface{},
	actorID string,
	ts time.Time,
	canonical []byte,
	active *models.KeyVersion,
) (*models.ActivityRecord, error) {
	last, err := ss.records.LastRecord(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("reading chain tip for owner %s: %w", ownerID, err)
	}

	previousHash := models.ZeroHash
	var sequence int64
	if last != nil {
		previousHash = last.Hash
		sequence = last.Sequence + 1
	}

	digest, err := ss.canonical.ComputeDigest(canonical, previousHash)
	if err != nil {
		return nil, fmt.Errorf("computing record digest: %w", err)
	}
	hash := fmt.Sprintf("%x", digest)

	signature, err := ss.keyring.SignDigest(active.Version, digest)
	if err != nil {
		return nil, fmt.Errorf("signing record digest: %w", err)
	}

	var token, provider string
	if ss.tsa != nil {
		token, provider = ss.tsa.RequestToken(ctx, hash)
	}

	now := time.Now().UTC()
	record := &models.ActivityRecord{
		RecordID:          uuid.New().String(),
		OwnerID:           ownerID,
		Sequence:          sequence,
		Type:              activityType,
		Data:              data,
		Hash:              hash,
		Signature:         signature,
		PreviousHash:      previousHash,
		KeyVersion:        active.Version,
		Timestamp:         ts,
		TimestampToken:    token,
		TimestampProvider: provider,
		ActorID:           actorID,
		CreatedAt:         now,
	}

	if err := ss.records.InsertRecord(ctx, record); err != nil {
		return nil, err
	}

	// Usage counter is observability only; a failed increment never undoes
	// a persisted record.
	if err := ss.keys.store.IncrementSignatures(ctx, active.Version, 1, 0); err != nil {
		log.Printf("⚠️ Failed to increment signature counter for key version %d: %v", active.Version, err)
	}

	log.Printf("✅ Record signed: owner=%s id=%s type=%s seq=%d key=v%d", ownerID, record.RecordID, activityType, sequence, active.Version)

	if ss.publisher != nil {
		event := &models.RecordSignedEvent{
			SchemaVersion: "1.0",
			OwnerID:       ownerID,
			RecordID:      record.RecordID,
			Type:          activityType,
			Hash:          hash,
			PreviousHash:  previousHash,
			KeyVersion:    active.Version,
			Timestamp:     ts,
			CorrelationID: uuid.New().String(),
		}
		if err := ss.publisher.PublishRecordSigned(ctx, event); err != nil {
			log.Printf("⚠️ Failed to publish record signed event: %v", err)
		}
	}

	return record, nil
}
