package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
)

// KeyEventPublisher publishes key lifecycle domain events. The lifecycle
// service returns results and hands events to this publisher instead of
// firing process-wide hooks from the model layer.
type KeyEventPublisher interface {
	PublishKeyRotated(ctx context.Context, event *models.KeyRotatedEvent) error
	PublishKeyRevoked(ctx context.Context, event *models.KeyRevokedEvent) error
}

// KeyLifecycleService owns the signing key state machine:
// ACTIVE → ROTATED on rotation, ACTIVE|ROTATED → REVOKED (terminal).
// The single-active-key invariant is enforced by the store's transactional
// rotation, not by a scan-and-deactivate pass.
type KeyLifecycleService struct {
	store     KeyVersionStore
	keyring   *KeyringService
	publisher KeyEventPublisher
}

// NewKeyLifecycleService creates a new KeyLifecycleService instance.
// publisher may be nil; lifecycle operations then skip event publication.
func NewKeyLifecycleService(store KeyVersionStore, keyring *KeyringService, publisher KeyEventPublisher) *KeyLifecycleService {
	return &KeyLifecycleService{
		store:     store,
		keyring:   keyring,
		publisher: publisher,
	}
}

// CreateInitial creates version 1 as ACTIVE. Only legal while no key
// version exists at all.
func (kls *KeyLifecycleService) CreateInitial(ctx context.Context) (*models.KeyVersion, error) {
	existing, err := kls.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking existing key versions: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("key versions already exist: %w", models.ErrInvalidKeyState)
	}

	key, err := kls.newVersion(1)
	if err != nil {
		return nil, err
	}

	if err := kls.store.PutNewKey(ctx, key); err != nil {
		return nil, fmt.Errorf("persisting initial key: %w", err)
	}

	log.Printf("✅ Initial signing key created: version %d", key.Version)
	return key, nil
}

// Rotate replaces the ACTIVE key with a new version in one atomic store
// operation. When no ACTIVE key exists but versions do (revoked-while-active
// recovery), a fresh ACTIVE version is created without touching any
// terminal-state key.
func (kls *KeyLifecycleService) Rotate(ctx context.Context) (*models.KeyVersion, error) {
	active, err := kls.store.ActiveKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching active key: %w", err)
	}

	if active == nil {
		return kls.recoverActive(ctx)
	}

	next, err := kls.newVersion(active.Version + 1)
	if err != nil {
		return nil, err
	}

	now := next.ValidFrom
	rotated := *active
	rotated.Status = models.KeyStatusRotated
	rotated.ValidUntil = &now
	rotated.UpdatedAt = now

	if err := kls.store.RotateKeys(ctx, &rotated, next); err != nil {
		return nil, fmt.Errorf("rotating key version %d: %w", active.Version, err)
	}

	log.Printf("🔄 Signing key rotated: version %d → %d", active.Version, next.Version)
	kls.publishRotated(ctx, active.Version, next.Version, now)
	return next, nil
}

// recoverActive creates the successor version after the active key was
// revoked and the store was left with no active key.
func (kls *KeyLifecycleService) recoverActive(ctx context.Context) (*models.KeyVersion, error) {
	existing, err := kls.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing key versions: %w", err)
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("no key versions exist, use initial creation: %w", models.ErrInvalidKeyState)
	}

	maxVersion := 0
	for _, key := range existing {
		if key.Version > maxVersion {
			maxVersion = key.Version
		}
	}

	next, err := kls.newVersion(maxVersion + 1)
	if err != nil {
		return nil, err
	}

	if err := kls.store.PutNewKey(ctx, next); err != nil {
		return nil, fmt.Errorf("persisting recovery key: %w", err)
	}

	log.Printf("✅ Signing restored with new key version %d", next.Version)
	kls.publishRotated(ctx, maxVersion, next.Version, next.ValidFrom)
	return next, nil
}

// Revoke marks a version REVOKED. Legal from ACTIVE or ROTATED; REVOKED is
// terminal. Revoking the active key leaves signing blocked until Rotate is
// called, which is intentional (fail closed, suspected compromise).
func (kls *KeyLifecycleService) Revoke(ctx context.Context, version int, reason string) (*models.KeyVersion, error) {
	key, err := kls.store.KeyByVersion(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("fetching key version %d: %w", version, err)
	}
	if key == nil {
		return nil, fmt.Errorf("version %d: %w", version, models.ErrKeyNotFound)
	}
	if key.Status == models.KeyStatusRevoked {
		return nil, fmt.Errorf("version %d already revoked: %w", version, models.ErrInvalidKeyState)
	}

	now := time.Now().UTC()
	previousStatus := key.Status

	key.Status = models.KeyStatusRevoked
	key.RevokedAt = &now
	key.RevokedReason = reason
	key.UpdatedAt = now
	if key.ValidUntil == nil {
		// Revoking the active key also closes its validity window so
		// ActiveAt lookups pin later timestamps to a successor.
		key.ValidUntil = &now
	}

	if err := kls.store.UpdateKeyStatus(ctx, key, previousStatus); err != nil {
		return nil, fmt.Errorf("revoking key version %d: %w", version, err)
	}

	log.Printf("🛑 Signing key revoked: version %d (%s)", version, reason)
	if kls.publisher != nil {
		event := &models.KeyRevokedEvent{
			SchemaVersion: "1.0",
			Version:       version,
			Reason:        reason,
			RevokedAt:     now,
			CorrelationID: uuid.New().String(),
		}
		if err := kls.publisher.PublishKeyRevoked(ctx, event); err != nil {
			log.Printf("⚠️ Failed to publish key revoked event: %v", err)
		}
	}
	return key, nil
}

// Active returns the current ACTIVE key version, or nil when signing is
// blocked.
func (kls *KeyLifecycleService) Active(ctx context.Context) (*models.KeyVersion, error) {
	return kls.store.ActiveKey(ctx)
}

// ByVersion returns one key version, or nil when absent.
func (kls *KeyLifecycleService) ByVersion(ctx context.Context, version int) (*models.KeyVersion, error) {
	return kls.store.KeyByVersion(ctx, version)
}

// List returns every key version.
func (kls *KeyLifecycleService) List(ctx context.Context) ([]models.KeyVersion, error) {
	return kls.store.ListKeys(ctx)
}

// ActiveAt returns the key whose validity window contains ts — the key that
// was active at signing time, regardless of what is active now or whether
// the version has since been revoked. Returns nil when no window matches.
func (kls *KeyLifecycleService) ActiveAt(ctx context.Context, ts time.Time) (*models.KeyVersion, error) {
	keys, err := kls.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing key versions: %w", err)
	}

	// Highest version wins when windows touch at a rotation boundary.
	var match *models.KeyVersion
	for i := range keys {
		key := &keys[i]
		if !key.CoversInstant(ts) {
			continue
		}
		if match == nil || key.Version > match.Version {
			match = key
		}
	}
	return match, nil
}

// newVersion generates key material and the KeyVersion entity for it.
func (kls *KeyLifecycleService) newVersion(version int) (*models.KeyVersion, error) {
	publicKey, err := kls.keyring.GenerateKeypair(version)
	if err != nil {
		return nil, fmt.Errorf("generating key material for version %d: %w", version, err)
	}

	now := time.Now().UTC()
	return &models.KeyVersion{
		Version:   version,
		PublicKey: publicKey,
		Algorithm: models.KeyAlgorithm,
		KeySize:   models.KeySize,
		Status:    models.KeyStatusActive,
		ValidFrom: now,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (kls *KeyLifecycleService) publishRotated(ctx context.Context, oldVersion, newVersion int, at time.Time) {
	if kls.publisher == nil {
		return
	}
	event := &models.KeyRotatedEvent{
		SchemaVersion: "1.0",
		OldVersion:    oldVersion,
		NewVersion:    newVersion,
		RotatedAt:     at,
		CorrelationID: uuid.New().String(),
	}
	if err := kls.publisher.PublishKeyRotated(ctx, event); err != nil {
		log.Printf("⚠️ Failed to publish key rotated event: %v", err)
	}
}
