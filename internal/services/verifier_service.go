package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
)

// ChainEventPublisher publishes chain verification outcomes.
type ChainEventPublisher interface {
	PublishChainVerified(ctx context.Context, event *models.ChainVerifiedEvent) error
	PublishChainInconsistency(ctx context.Context, event *models.ChainInconsistencyEvent) error
}

// VerifierService re-derives hashes, checks signatures against the key
// version active at signing time, and validates link continuity. Integrity
// failures are reported with the failing record identified and are never
// repaired: the chain is legal evidence, not a cache.
type VerifierService struct {
	records   RecordStore
	keys      *KeyLifecycleService
	keyring   *KeyringService
	canonical *CanonicalService
	publisher ChainEventPublisher
}

// NewVerifierService creates a new VerifierService instance. publisher may
// be nil.
func NewVerifierService(
	records RecordStore,
	keys *KeyLifecycleService,
	keyring *KeyringService,
	canonical *CanonicalService,
	publisher ChainEventPublisher,
) *VerifierService {
	return &VerifierService{
		records:   records,
		keys:      keys,
		keyring:   keyring,
		canonical: canonical,
		publisher: publisher,
	}
}

// VerifyRecord checks one record: recomputed hash, signature under the key
// whose validity window contains the record's timestamp, and (when
// expectedPreviousHash is non-empty) link continuity. Pure except for the
// best-effort signaturesVerified counter.
func (vs *VerifierService) VerifyRecord(ctx context.Context, record *models.ActivityRecord, expectedPreviousHash string) models.VerificationResult {
	result := models.VerificationResult{RecordID: record.RecordID}

	canonical := vs.canonical.CanonicalBytes(record.Type, record.Data, record.Timestamp, record.ActorID)
	digest, err := vs.canonical.ComputeDigest(canonical, record.PreviousHash)
	if err != nil {
		result.Reason = models.ReasonHashMismatch
		return result
	}
	if fmt.Sprintf("%x", digest) != record.Hash {
		result.Reason = models.ReasonHashMismatch
		return result
	}

	key, err := vs.keys.ActiveAt(ctx, record.Timestamp)
	if err != nil || key == nil {
		result.Reason = models.ReasonKeyNotFound
		return result
	}
	result.KeyVersion = key.Version

	if !vs.keyring.VerifyDigest(key.PublicKey, digest, record.Signature) {
		result.Reason = models.ReasonSignatureInvalid
		return result
	}

	if expectedPreviousHash != "" && record.PreviousHash != expectedPreviousHash {
		result.Reason = models.ReasonBrokenLink
		return result
	}

	if err := vs.keys.store.IncrementSignatures(ctx, key.Version, 0, 1); err != nil {
		log.Printf("⚠️ Failed to increment verification counter for key version %d: %v", key.Version, err)
	}

	result.Valid = true
	result.Reason = models.ReasonOK
	return result
}

// VerifyChain loads up to limit records of an owner in creation order and
// verifies every record plus link continuity. It stops at the first failure
// and reports its index; an empty chain is trivially valid. Two records
// claiming the same predecessor are flagged as a fork, never silently
// tie-broken.
func (vs *VerifierService) VerifyChain(ctx context.Context, ownerID string, limit int) (*models.ChainVerificationResult, error) {
	records, err := vs.records.ListRecords(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading chain for owner %s: %w", ownerID, err)
	}

	result := &models.ChainVerificationResult{
		OwnerID:      ownerID,
		Valid:        true,
		TotalRecords: len(records),
		FailedIndex:  -1,
		CheckedAt:    time.Now().UTC(),
	}

	claimed := make(map[string]int, len(records))
	for i := range records {
		record := &records[i]

		if _, dup := claimed[record.PreviousHash]; dup {
			vs.fail(result, i, record.RecordID, models.ReasonForkDetected)
			break
		}
		claimed[record.PreviousHash] = i

		expected := models.ZeroHash
		if i > 0 {
			expected = records[i-1].Hash
		}

		verdict := vs.VerifyRecord(ctx, record, expected)
		if !verdict.Valid {
			vs.fail(result, i, record.RecordID, verdict.Reason)
			break
		}
	}

	vs.publishChainResult(ctx, result)
	return result, nil
}

// VerifyAndAnnotate verifies one stored record and, on success, stamps the
// post-hoc verification annotation. Only this path may set verified fields.
func (vs *VerifierService) VerifyAndAnnotate(ctx context.Context, ownerID, recordID, verifiedBy string) (*models.VerificationResult, error) {
	record, err := vs.records.FindRecord(ctx, ownerID, recordID)
	if err != nil {
		return nil, fmt.Errorf("fetching record %s: %w", recordID, err)
	}
	if record == nil {
		return nil, fmt.Errorf("record %s: %w", recordID, models.ErrRecordNotFound)
	}

	verdict := vs.VerifyRecord(ctx, record, "")
	if verdict.Valid {
		verifiedAt := time.Now().UTC()
		if err := vs.records.MarkVerified(ctx, ownerID, recordID, verifiedBy, verifiedAt); err != nil {
			log.Printf("⚠️ Failed to annotate verified record %s: %v", recordID, err)
		}
	}

	return &verdict, nil
}

func (vs *VerifierService) fail(result *models.ChainVerificationResult, index int, recordID, reason string) {
	result.Valid = false
	result.FailedIndex = index
	result.FailedRecordID = recordID
	result.Reason = reason
	log.Printf("❌ Chain verification failed: owner=%s index=%d record=%s reason=%s", result.OwnerID, index, recordID, reason)
}

func (vs *VerifierService) publishChainResult(ctx context.Context, result *models.ChainVerificationResult) {
	if vs.publisher == nil {
		return
	}

	correlationID := uuid.New().String()
	if result.Valid {
		event := &models.ChainVerifiedEvent{
			SchemaVersion: "1.0",
			OwnerID:       result.OwnerID,
			TotalRecords:  result.TotalRecords,
			CheckedAt:     result.CheckedAt,
			CorrelationID: correlationID,
		}
		if err := vs.publisher.PublishChainVerified(ctx, event); err != nil {
			log.Printf("⚠️ Failed to publish chain verified event: %v", err)
		}
		return
	}

	event := &models.ChainInconsistencyEvent{
		SchemaVersion:  "1.0",
		OwnerID:        result.OwnerID,
		FailedIndex:    result.FailedIndex,
		FailedRecordID: result.FailedRecordID,
		Reason:         result.Reason,
		CheckedAt:      result.CheckedAt,
		CorrelationID:  correlationID,
	}
	if err := vs.publisher.PublishChainInconsistency(ctx, event); err != nil {
		log.Printf("⚠️ Failed to publish chain inconsistency event: %v", err)
	}
}
