package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/services"
)

// chainFixture wires a full signing stack over the in-memory stores.
type chainFixture struct {
	records   *memoryRecordStore
	keys      *memoryKeyStore
	keyring   *services.KeyringService
	canonical *services.CanonicalService
	lifecycle *services.KeyLifecycleService
	signer    *services.SignerService
	verifier  *services.VerifierService
}

func newChainFixture(t *testing.T) *chainFixture {
	t.Helper()

	keyring, err := services.NewKeyringService("")
	require.NoError(t, err)

	f := &chainFixture{
		records:   newMemoryRecordStore(),
		keys:      newMemoryKeyStore(),
		keyring:   keyring,
		canonical: services.NewCanonicalService(),
	}
	f.lifecycle = services.NewKeyLifecycleService(f.keys, keyring, nil)
	f.signer = services.NewSignerService(f.records, f.lifecycle, keyring, f.canonical, nil, nil, 3)
	f.verifier = services.NewVerifierService(f.records, f.lifecycle, keyring, f.canonical, nil)
	return f
}

// signN appends n valid records for ownerID and returns them in order.
func (f *chainFixture) signN(t *testing.T, ownerID string, n int) []*models.ActivityRecord {
	t.Helper()
	out := make([]*models.ActivityRecord, 0, n)
	for i := 0; i < n; i++ {
		record, err := f.signer.Sign(context.Background(), ownerID, models.ActivityFertilizing,
			map[string]interface{}{"round": i}, "farmer-7", nil)
		require.NoError(t, err)
		out = append(out, record)
	}
	return out
}

func TestSign_Genesis(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)

	record, err := f.signer.Sign(ctx, "farm-1", models.ActivityPlanting,
		map[string]interface{}{"plot": "A-12", "strain": "CBD-1"}, "farmer-7", nil)

	require.NoError(t, err)
	assert.Equal(t, models.ZeroHash, record.PreviousHash)
	assert.True(t, record.IsGenesis())
	assert.Equal(t, int64(0), record.Sequence)
	assert.Equal(t, 1, record.KeyVersion)
	assert.NotEmpty(t, record.RecordID)
	assert.Len(t, record.Hash, 64)

	// The stored hash and signature must verify against the public key.
	canonical := f.canonical.CanonicalBytes(record.Type, record.Data, record.Timestamp, record.ActorID)
	digest, err := f.canonical.ComputeDigest(canonical, record.PreviousHash)
	require.NoError(t, err)
	key, err := f.lifecycle.ByVersion(ctx, 1)
	require.NoError(t, err)
	assert.True(t, f.keyring.VerifyDigest(key.PublicKey, digest, record.Signature))
}

func TestSign_ChainsRecords(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)

	records := f.signN(t, "farm-1", 3)

	assert.Equal(t, models.ZeroHash, records[0].PreviousHash)
	assert.Equal(t, records[0].Hash, records[1].PreviousHash)
	assert.Equal(t, records[1].Hash, records[2].PreviousHash)
	assert.Equal(t, int64(2), records[2].Sequence)

	key, err := f.lifecycle.ByVersion(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), key.SignaturesCreated, "every signature must bump the usage counter")
}

func TestSign_IndependentOwnersIndependentChains(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)

	a := f.signN(t, "farm-a", 2)
	b := f.signN(t, "farm-b", 1)

	assert.Equal(t, models.ZeroHash, a[0].PreviousHash)
	assert.Equal(t, models.ZeroHash, b[0].PreviousHash, "each owner starts its own genesis")
	assert.Equal(t, int64(0), b[0].Sequence)
}

func TestSign_NoActiveKeyFailsClosed(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()

	_, err := f.signer.Sign(ctx, "farm-1", models.ActivityPlanting,
		map[string]interface{}{"plot": "A-12"}, "farmer-7", nil)

	assert.ErrorIs(t, err, models.ErrNoActiveKey)

	chain, listErr := f.records.ListRecords(ctx, "farm-1", 0)
	require.NoError(t, listErr)
	assert.Empty(t, chain, "no unsigned record may ever be persisted")
}

func TestSign_AfterRevocationFailsClosed(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)
	f.signN(t, "farm-1", 1)
	_, err = f.lifecycle.Revoke(ctx, 1, "suspected compromise")
	require.NoError(t, err)

	_, err = f.signer.Sign(ctx, "farm-1", models.ActivityHarvest,
		map[string]interface{}{"grams": 120}, "farmer-7", nil)

	assert.ErrorIs(t, err, models.ErrNoActiveKey)
}

func TestSign_RejectsUnknownActivityType(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)

	_, err = f.signer.Sign(ctx, "farm-1", "PRUNING", map[string]interface{}{}, "farmer-7", nil)

	assert.Error(t, err)
}

func TestSign_UsesProvidedTimestamp(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)
	occurredAt := time.Now().UTC().Add(time.Minute)

	record, err := f.signer.Sign(ctx, "farm-1", models.ActivityTesting,
		map[string]interface{}{"lab": "cert-lab-2"}, "inspector-3", &occurredAt)

	require.NoError(t, err)
	assert.True(t, record.Timestamp.Equal(occurredAt))
}

func TestSign_RejectsTimestampBeforeActiveKeyWindow(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	beforeRotation := time.Now().UTC()
	time.Sleep(10 * time.Millisecond)
	_, err = f.lifecycle.Rotate(ctx)
	require.NoError(t, err)

	// Signing a pre-rotation timestamp with the post-rotation key would
	// produce a record whose verification resolves key v1 but whose
	// signature was made with v2. Refused outright.
	_, err = f.signer.Sign(ctx, "farm-1", models.ActivityPlanting,
		map[string]interface{}{"plot": "A-12"}, "farmer-7", &beforeRotation)

	assert.ErrorIs(t, err, models.ErrTimestampNotCovered)

	chain, listErr := f.records.ListRecords(ctx, "farm-1", 0)
	require.NoError(t, listErr)
	assert.Empty(t, chain, "a refused timestamp must not leave a record behind")
}

func TestSign_AcceptedTimestampVerifiesUnderSigningKey(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)
	_, err = f.lifecycle.Rotate(ctx)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	occurredAt := time.Now().UTC()

	record, err := f.signer.Sign(ctx, "farm-1", models.ActivityPlanting,
		map[string]interface{}{"plot": "A-12"}, "farmer-7", &occurredAt)

	require.NoError(t, err)
	assert.Equal(t, 2, record.KeyVersion)

	verdict := f.verifier.VerifyRecord(ctx, record, "")
	assert.True(t, verdict.Valid, "any record Sign accepts must verify")
	assert.Equal(t, 2, verdict.KeyVersion, "verification must resolve the key that signed")
}

func TestSign_RetriesAppendConflict(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)

	// Two racing writers lose the transactional append; the third attempt wins.
	f.records.failAppends = 2

	record, err := f.signer.Sign(ctx, "farm-1", models.ActivityPlanting,
		map[string]interface{}{"plot": "A-12"}, "farmer-7", nil)

	require.NoError(t, err)
	assert.Equal(t, models.ZeroHash, record.PreviousHash)
}

func TestSign_ExhaustedRetriesSurfaceConflict(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)

	f.records.failAppends = 3

	_, err = f.signer.Sign(ctx, "farm-1", models.ActivityPlanting,
		map[string]interface{}{"plot": "A-12"}, "farmer-7", nil)

	assert.ErrorIs(t, err, models.ErrConcurrentAppend)
}

// stubTSA returns a fixed token for every digest.
type stubTSA struct{ calls int }

func (s *stubTSA) RequestToken(_ context.Context, _ string) (string, string) {
	s.calls++
	return "token-ab12", "freetsa"
}

func TestSign_AttachesTimestampToken(t *testing.T) {
	f := newChainFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.CreateInitial(ctx)
	require.NoError(t, err)

	tsa := &stubTSA{}
	signer := services.NewSignerService(f.records, f.lifecycle, f.keyring, f.canonical, tsa, nil, 3)

	record, err := signer.Sign(ctx, "farm-1", models.ActivityTransport,
		map[string]interface{}{"truck": "TH-88-1234"}, "driver-2", nil)

	require.NoError(t, err)
	assert.Equal(t, "token-ab12", record.TimestampToken)
	assert.Equal(t, "freetsa", record.TimestampProvider)
	assert.Equal(t, 1, tsa.calls)
}
