package services

import (
	"context"
	"fmt"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
)

// NavigatorService traverses a persisted chain by hash pointers. Traversals
// are bounded by a caller-supplied limit; running out of chain before the
// limit (reaching genesis or the tip) is normal termination, not an error.
type NavigatorService struct {
	records RecordStore
}

// NewNavigatorService creates a new NavigatorService instance.
func NewNavigatorService(records RecordStore) *NavigatorService {
	return &NavigatorService{records: records}
}

// Previous returns the record the given one points at, or nil for genesis.
func (ns *NavigatorService) Previous(ctx context.Context, record *models.ActivityRecord) (*models.ActivityRecord, error) {
	if record.IsGenesis() {
		return nil, nil
	}
	return ns.records.FindByHash(ctx, record.OwnerID, record.PreviousHash)
}

// Next returns the record pointing at the given one, or nil at the tip.
// More than one candidate means the chain forked; that is surfaced, never
// tie-broken.
func (ns *NavigatorService) Next(ctx context.Context, record *models.ActivityRecord) (*models.ActivityRecord, error) {
	children, err := ns.records.FindByPreviousHash(ctx, record.OwnerID, record.Hash)
	if err != nil {
		return nil, err
	}
	switch len(children) {
	case 0:
		return nil, nil
	case 1:
		return &children[0], nil
	default:
		return nil, fmt.Errorf("record %s has %d successors: %w", record.RecordID, len(children), models.ErrForkDetected)
	}
}

// Walk follows hash pointers from start in the given direction, returning
// at most limit records (start excluded). The partial path found is returned
// even when the chain ends early.
func (ns *NavigatorService) Walk(ctx context.Context, start *models.ActivityRecord, direction string, limit int) ([]models.ActivityRecord, error) {
	if direction != models.DirectionForward && direction != models.DirectionBackward {
		return nil, fmt.Errorf("unknown walk direction %q", direction)
	}
	if limit <= 0 {
		return []models.ActivityRecord{}, nil
	}

	path := make([]models.ActivityRecord, 0, limit)
	current := start
	for len(path) < limit {
		var next *models.ActivityRecord
		var err error
		if direction == models.DirectionBackward {
			next, err = ns.Previous(ctx, current)
		} else {
			next, err = ns.Next(ctx, current)
		}
		if err != nil {
			return path, err
		}
		if next == nil {
			break
		}
		path = append(path, *next)
		current = next
	}

	return path, nil
}

// Tip returns the owner's most recent record, or nil for an empty chain.
func (ns *NavigatorService) Tip(ctx context.Context, ownerID string) (*models.ActivityRecord, error) {
	return ns.records.LastRecord(ctx, ownerID)
}

// RecordByHash resolves a record by its hash, or nil when absent.
func (ns *NavigatorService) RecordByHash(ctx context.Context, ownerID, hash string) (*models.ActivityRecord, error) {
	return ns.records.FindByHash(ctx, ownerID, hash)
}

// Chain returns up to limit records of an owner in creation order.
func (ns *NavigatorService) Chain(ctx context.Context, ownerID string, limit int) ([]models.ActivityRecord, error) {
	return ns.records.ListRecords(ctx, ownerID, limit)
}
