package services_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
)

// memoryRecordStore is an in-memory RecordStore with the same append CAS
// semantics as the DynamoDB implementation: an insert only commits when its
// previousHash still matches the owner's tip.
type memoryRecordStore struct {
	mu     sync.Mutex
	chains map[string][]models.ActivityRecord

	// failAppends rejects the next n inserts with ErrConcurrentAppend to
	// simulate racing writers.
	failAppends int
}

func newMemoryRecordStore() *memoryRecordStore {
	return &memoryRecordStore{chains: make(map[string][]models.ActivityRecord)}
}

func (s *memoryRecordStore) LastRecord(_ context.Context, ownerID string) (*models.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[ownerID]
	if len(chain) == 0 {
		return nil, nil
	}
	record := chain[len(chain)-1]
	return &record, nil
}

func (s *memoryRecordStore) InsertRecord(_ context.Context, record *models.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAppends > 0 {
		s.failAppends--
		return models.ErrConcurrentAppend
	}

	chain := s.chains[record.OwnerID]
	if len(chain) == 0 {
		if record.PreviousHash != models.ZeroHash {
			return models.ErrConcurrentAppend
		}
	} else if chain[len(chain)-1].Hash != record.PreviousHash {
		return models.ErrConcurrentAppend
	}

	s.chains[record.OwnerID] = append(chain, *record)
	return nil
}

func (s *memoryRecordStore) FindRecord(_ context.Context, ownerID, recordID string) (*models.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.chains[ownerID] {
		if record.RecordID == recordID {
			record := record
			return &record, nil
		}
	}
	return nil, nil
}

func (s *memoryRecordStore) FindByHash(_ context.Context, ownerID, hash string) (*models.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.chains[ownerID] {
		if record.Hash == hash {
			record := record
			return &record, nil
		}
	}
	return nil, nil
}

func (s *memoryRecordStore) FindByPreviousHash(_ context.Context, ownerID, previousHash string) ([]models.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []models.ActivityRecord
	for _, record := range s.chains[ownerID] {
		if record.PreviousHash == previousHash {
			matches = append(matches, record)
		}
	}
	return matches, nil
}

func (s *memoryRecordStore) ListRecords(_ context.Context, ownerID string, limit int) ([]models.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[ownerID]
	if limit > 0 && limit < len(chain) {
		chain = chain[:limit]
	}
	out := make([]models.ActivityRecord, len(chain))
	copy(out, chain)
	return out, nil
}

func (s *memoryRecordStore) MarkVerified(_ context.Context, ownerID, recordID, verifiedBy string, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[ownerID]
	for i := range chain {
		if chain[i].RecordID == recordID {
			at := verifiedAt
			chain[i].Verified = true
			chain[i].VerifiedAt = &at
			chain[i].VerifiedBy = verifiedBy
			return nil
		}
	}
	return models.ErrRecordNotFound
}

// tamper replaces a stored record in place, bypassing the append CAS, to
// simulate after-the-fact modification of persisted data.
func (s *memoryRecordStore) tamper(ownerID string, index int, mutate func(*models.ActivityRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.chains[ownerID][index])
}

// inject appends a record directly, bypassing the CAS, to build corrupted
// chains (forks) that the write path would reject.
func (s *memoryRecordStore) inject(record models.ActivityRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[record.OwnerID] = append(s.chains[record.OwnerID], record)
}

// memoryKeyStore is an in-memory KeyVersionStore mirroring the DynamoDB
// conditional-write semantics.
type memoryKeyStore struct {
	mu   sync.Mutex
	keys map[int]models.KeyVersion
}

func newMemoryKeyStore() *memoryKeyStore {
	return &memoryKeyStore{keys: make(map[int]models.KeyVersion)}
}

func (s *memoryKeyStore) ActiveKey(_ context.Context) (*models.KeyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.keys {
		if key.Status == models.KeyStatusActive {
			key := key
			return &key, nil
		}
	}
	return nil, nil
}

func (s *memoryKeyStore) KeyByVersion(_ context.Context, version int) (*models.KeyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[version]
	if !ok {
		return nil, nil
	}
	return &key, nil
}

func (s *memoryKeyStore) ListKeys(_ context.Context) ([]models.KeyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]models.KeyVersion, 0, len(s.keys))
	for _, key := range s.keys {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *memoryKeyStore) PutNewKey(_ context.Context, key *models.KeyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key.Version]; exists {
		return fmt.Errorf("version %d already exists: %w", key.Version, models.ErrInvalidKeyState)
	}
	s.keys[key.Version] = *key
	return nil
}

func (s *memoryKeyStore) RotateKeys(_ context.Context, old, next *models.KeyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.keys[old.Version]
	if !ok || current.Status != models.KeyStatusActive {
		return fmt.Errorf("version %d not active: %w", old.Version, models.ErrInvalidKeyState)
	}
	if _, exists := s.keys[next.Version]; exists {
		return fmt.Errorf("version %d already exists: %w", next.Version, models.ErrInvalidKeyState)
	}
	s.keys[old.Version] = *old
	s.keys[next.Version] = *next
	return nil
}

func (s *memoryKeyStore) UpdateKeyStatus(_ context.Context, key *models.KeyVersion, expectedStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.keys[key.Version]
	if !ok || current.Status != expectedStatus {
		return fmt.Errorf("version %d changed state: %w", key.Version, models.ErrInvalidKeyState)
	}
	s.keys[key.Version] = *key
	return nil
}

func (s *memoryKeyStore) IncrementSignatures(_ context.Context, version int, created, verified int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[version]
	if !ok {
		return models.ErrKeyNotFound
	}
	key.SignaturesCreated += created
	key.SignaturesVerified += verified
	s.keys[version] = key
	return nil
}
