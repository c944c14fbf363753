package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/spec-kit/staff-store/internal/domain"
	apperrors "github.com/spec-kit/staff-store/pkg/util/errorutil"
)

func TestStaffServiceLifecycle(t *testing.T) {
	f := newFixture(t, true)
	f.login(t, domain.PermissionStaffManagement)
	svc := NewStaffService(f.store)
	ctx := context.Background()

	added, err := svc.Add(ctx, domain.StaffRecord{Name: "Dr. Nia Brooks", Title: "Pediatrician", Category: "Medical"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := uuid.Parse(added.ID); err != nil {
		t.Errorf("id %q is not a uuid", added.ID)
	}
	if added.CreatedAt.IsZero() || added.Category != domain.CategoryMedical {
		t.Errorf("added = %+v", added)
	}

	updated, err := svc.Update(ctx, added.ID, domain.StaffRecord{ID: "ignored", Name: "Dr. Nia Brooks-Hall", Title: "Pediatrician"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ID != added.ID || !updated.CreatedAt.Equal(added.CreatedAt) {
		t.Errorf("update changed identity: %+v", updated)
	}

	got, err := svc.Get(ctx, added.ID)
	if err != nil || got.Name != "Dr. Nia Brooks-Hall" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	if err := svc.Delete(ctx, added.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(svc.List(ctx)) != 0 {
		t.Error("record survived delete")
	}
	if err := svc.Delete(ctx, added.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("second delete = %v", err)
	}
}

func TestStaffServiceValidation(t *testing.T) {
	f := newFixture(t, true)
	f.login(t, domain.PermissionStaffManagement)
	svc := NewStaffService(f.store)
	if _, err := svc.Add(context.Background(), domain.StaffRecord{Title: "No name"}); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Add without name = %v", err)
	}
	if _, err := svc.Update(context.Background(), "missing", domain.StaffRecord{Name: "x"}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Update of missing id = %v", err)
	}
}

func TestStaffServiceReplaceAssignsIDs(t *testing.T) {
	f := newFixture(t, true)
	f.login(t, domain.PermissionStaffManagement)
	svc := NewStaffService(f.store)

	saved, err := svc.Replace(context.Background(), []domain.StaffRecord{{ID: "keep", Name: "A"}, {Name: "B"}})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if saved[0].ID != "keep" || saved[1].ID == "" {
		t.Errorf("ids = %q, %q", saved[0].ID, saved[1].ID)
	}
	if n := len(svc.List(context.Background())); n != 2 {
		t.Errorf("stored %d records", n)
	}
}

func TestStaffServiceRequiresSession(t *testing.T) {
	f := newFixture(t, true)
	svc := NewStaffService(f.store)
	if _, err := svc.Add(context.Background(), domain.StaffRecord{Name: "x"}); !errors.Is(err, apperrors.ErrAuthRequired) {
		t.Errorf("Add without session = %v", err)
	}
}
