package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
)

func TestVerifyChain_ValidChain(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)
	f.signN(t, "farm-1", 3)

	result, err := f.verifier.VerifyChain(ctx, "farm-1", 0)

	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 3, result.TotalRecords)
	assert.Equal(t, -1, result.FailedIndex)
	assert.Empty(t, result.Reason)
}

func TestVerifyChain_EmptyChainIsValid(t *testing.T) {
	f := newChainFixture(t)

	result, err := f.verifier.VerifyChain(context.Background(), "farm-untouched", 0)

	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 0, result.TotalRecords)
	assert.Equal(t, -1, result.FailedIndex)
}

func TestVerifyChain_TamperedPayload(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)
	records := f.signN(t, "farm-1", 3)

	// Inflate the harvest quantity of the middle record after the fact.
	f.records.tamper("farm-1", 1, func(r *models.ActivityRecord) {
		r.Data = map[string]interface{}{"round": 1, "bonus": true}
	})

	result, err := f.verifier.VerifyChain(ctx, "farm-1", 0)

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 1, result.FailedIndex)
	assert.Equal(t, records[1].RecordID, result.FailedRecordID)
	assert.Equal(t, models.ReasonHashMismatch, result.Reason)
}

func TestVerifyChain_RehashedRecordBreaksSuccessorLink(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)
	records := f.signN(t, "farm-1", 3)

	// A more careful attacker tampers the payload AND recomputes hash and
	// signature for the middle record. The record itself then verifies, but
	// the successor's stored previousHash no longer matches.
	f.records.tamper("farm-1", 1, func(r *models.ActivityRecord) {
		r.Data = map[string]interface{}{"round": 1, "bonus": true}
		canonical := f.canonical.CanonicalBytes(r.Type, r.Data, r.Timestamp, r.ActorID)
		digest, err := f.canonical.ComputeDigest(canonical, r.PreviousHash)
		require.NoError(t, err)
		hash, err := f.canonical.ComputeHash(canonical, r.PreviousHash)
		require.NoError(t, err)
		signature, err := f.keyring.SignDigest(1, digest)
		require.NoError(t, err)
		r.Hash = hash
		r.Signature = signature
	})

	result, err := f.verifier.VerifyChain(ctx, "farm-1", 0)

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 2, result.FailedIndex)
	assert.Equal(t, records[2].RecordID, result.FailedRecordID)
	assert.Equal(t, models.ReasonBrokenLink, result.Reason)
}

func TestVerifyChain_ForkDetected(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)
	records := f.signN(t, "farm-1", 2)

	// Inject a second record claiming the genesis as predecessor, bypassing
	// the append CAS the way a corrupted store would look.
	fork := *records[1]
	fork.RecordID = uuid.New().String()
	fork.PreviousHash = records[0].Hash
	f.records.inject(fork)

	result, err := f.verifier.VerifyChain(ctx, "farm-1", 0)

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 2, result.FailedIndex)
	assert.Equal(t, models.ReasonForkDetected, result.Reason)
}

func TestVerifyRecord_SignatureInvalid(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)
	records := f.signN(t, "farm-1", 1)

	// Swap in a signature over a different digest made with the same key.
	otherDigest, err := f.canonical.ComputeDigest([]byte("something else"), models.ZeroHash)
	require.NoError(t, err)
	wrongSignature, err := f.keyring.SignDigest(1, otherDigest)
	require.NoError(t, err)
	record := *records[0]
	record.Signature = wrongSignature

	verdict := f.verifier.VerifyRecord(ctx, &record, "")

	assert.False(t, verdict.Valid)
	assert.Equal(t, models.ReasonSignatureInvalid, verdict.Reason)
}

func TestVerifyRecord_NoKeyForTimestamp(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)

	// Hand-build a correctly hashed and signed record dated before any key
	// version existed.
	before := time.Now().UTC().Add(-24 * time.Hour)
	data := map[string]interface{}{"plot": "A-12"}
	canonical := f.canonical.CanonicalBytes(models.ActivityPlanting, data, before, "farmer-7")
	digest, err := f.canonical.ComputeDigest(canonical, models.ZeroHash)
	require.NoError(t, err)
	hash, err := f.canonical.ComputeHash(canonical, models.ZeroHash)
	require.NoError(t, err)
	signature, err := f.keyring.SignDigest(1, digest)
	require.NoError(t, err)

	record := &models.ActivityRecord{
		RecordID:     uuid.New().String(),
		OwnerID:      "farm-1",
		Type:         models.ActivityPlanting,
		Data:         data,
		Hash:         hash,
		Signature:    signature,
		PreviousHash: models.ZeroHash,
		KeyVersion:   1,
		Timestamp:    before,
		ActorID:      "farmer-7",
	}

	verdict := f.verifier.VerifyRecord(ctx, record, "")

	assert.False(t, verdict.Valid)
	assert.Equal(t, models.ReasonKeyNotFound, verdict.Reason)
}

func TestVerifyRecord_PinsToKeyActiveAtSigningTime(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)
	records := f.signN(t, "farm-1", 1)

	time.Sleep(10 * time.Millisecond)
	_, err = f.lifecycle.Rotate(ctx)
	require.NoError(t, err)

	verdict := f.verifier.VerifyRecord(ctx, records[0], "")

	assert.True(t, verdict.Valid, "records signed before rotation must verify under the old key")
	assert.Equal(t, models.ReasonOK, verdict.Reason)
	assert.Equal(t, 1, verdict.KeyVersion)

	key, err := f.lifecycle.ByVersion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), key.SignaturesVerified)
}

func TestVerifyChain_SpansKeyRotation(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)

	f.signN(t, "farm-1", 2)
	time.Sleep(10 * time.Millisecond)
	_, err = f.lifecycle.Rotate(ctx)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	f.signN(t, "farm-1", 2)

	result, err := f.verifier.VerifyChain(ctx, "farm-1", 0)

	require.NoError(t, err)
	assert.True(t, result.Valid, "a chain signed under several key versions is still one valid chain")
	assert.Equal(t, 4, result.TotalRecords)
}

func TestVerifyAndAnnotate(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)
	records := f.signN(t, "farm-1", 1)

	verdict, err := f.verifier.VerifyAndAnnotate(ctx, "farm-1", records[0].RecordID, "inspector-3")

	require.NoError(t, err)
	assert.True(t, verdict.Valid)

	stored, err := f.records.FindRecord(ctx, "farm-1", records[0].RecordID)
	require.NoError(t, err)
	assert.True(t, stored.Verified)
	assert.Equal(t, "inspector-3", stored.VerifiedBy)
	require.NotNil(t, stored.VerifiedAt)
}

func TestVerifyAndAnnotate_InvalidRecordIsNotAnnotated(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)
	records := f.signN(t, "farm-1", 1)

	f.records.tamper("farm-1", 0, func(r *models.ActivityRecord) {
		r.Data = map[string]interface{}{"plot": "B-99"}
	})

	verdict, err := f.verifier.VerifyAndAnnotate(ctx, "farm-1", records[0].RecordID, "inspector-3")

	require.NoError(t, err)
	assert.False(t, verdict.Valid)

	stored, err := f.records.FindRecord(ctx, "farm-1", records[0].RecordID)
	require.NoError(t, err)
	assert.False(t, stored.Verified, "failed verification must leave the record unannotated")
}

func TestVerifyAndAnnotate_UnknownRecord(t *testing.T) {
	f := newChainFixture(t)

	_, err := f.verifier.VerifyAndAnnotate(context.Background(), "farm-1", "missing", "inspector-3")

	assert.ErrorIs(t, err, models.ErrRecordNotFound)
}
