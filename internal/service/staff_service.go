package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/staff-store/internal/domain"
	apperrors "github.com/spec-kit/staff-store/pkg/util/errorutil"
)

// StaffService edits individual records as whole-collection rewrites
// through the store.
type StaffService struct {
	store *StoreService
	mu    sync.Mutex
	now   func() time.Time
}

// NewStaffService constructs the service.
func NewStaffService(store *StoreService) *StaffService {
	return &StaffService{store: store, now: time.Now}
}

// List returns the current collection.
func (s *StaffService) List(ctx context.Context) []domain.StaffRecord {
	return s.store.ReadAll(ctx)
}

// Get returns one record by id.
func (s *StaffService) Get(ctx context.Context, id string) (domain.StaffRecord, error) {
	records := s.store.ReadAll(ctx)
	if i := indexOf(records, id); i >= 0 {
		return records[i], nil
	}
	return domain.StaffRecord{}, apperrors.NewNotFound("staff record", map[string]any{"id": id})
}

// Add assigns a new id and appends the record.
func (s *StaffService) Add(ctx context.Context, rec domain.StaffRecord) (domain.StaffRecord, error) {
	if err := validateRecord(rec); err != nil {
		return domain.StaffRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec.ID = uuid.NewString()
	rec.Category = domain.NormalizeCategory(rec.Category)
	rec.CreatedAt = now
	rec.UpdatedAt = now

	records := append(s.store.ReadAll(ctx), rec)
	if err := s.store.WriteAll(ctx, records); err != nil {
		return domain.StaffRecord{}, err
	}
	return rec, nil
}

// Update replaces the record with the given id. The id and creation time
// are kept from the stored record.
func (s *StaffService) Update(ctx context.Context, id string, rec domain.StaffRecord) (domain.StaffRecord, error) {
	if err := validateRecord(rec); err != nil {
		return domain.StaffRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.store.ReadAll(ctx)
	i := indexOf(records, id)
	if i < 0 {
		return domain.StaffRecord{}, apperrors.NewNotFound("staff record", map[string]any{"id": id})
	}
	rec.ID = records[i].ID
	rec.CreatedAt = records[i].CreatedAt
	rec.Category = domain.NormalizeCategory(rec.Category)
	rec.UpdatedAt = s.now().UTC()
	records[i] = rec

	if err := s.store.WriteAll(ctx, records); err != nil {
		return domain.StaffRecord{}, err
	}
	return rec, nil
}

// Delete removes the record with the given id.
func (s *StaffService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.store.ReadAll(ctx)
	i := indexOf(records, id)
	if i < 0 {
		return apperrors.NewNotFound("staff record", map[string]any{"id": id})
	}
	return s.store.WriteAll(ctx, append(records[:i], records[i+1:]...))
}

// Replace writes a whole collection, assigning ids to records that lack one.
func (s *StaffService) Replace(ctx context.Context, records []domain.StaffRecord) ([]domain.StaffRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records = domain.CloneRecords(records)
	for i := range records {
		if strings.TrimSpace(records[i].ID) == "" {
			records[i].ID = uuid.NewString()
		}
	}
	if err := s.store.WriteAll(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

func validateRecord(rec domain.StaffRecord) error {
	if strings.TrimSpace(rec.Name) == "" {
		return apperrors.NewValidationError("name is required", nil)
	}
	return nil
}

func indexOf(records []domain.StaffRecord, id string) int {
	for i, rec := range records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}
