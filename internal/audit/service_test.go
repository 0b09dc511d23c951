package audit

import (
	"context"
	"testing"
	"time"
)

type stubTrailRepo struct {
	entries    []Entry
	total      int
	lastLimit  int
	lastOffset int
	lastFilter Filters
}

func (s *stubTrailRepo) List(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error) {
	s.lastFilter = filters
	s.lastLimit = limit
	s.lastOffset = offset
	return s.entries, nil
}

func (s *stubTrailRepo) Count(ctx context.Context, filters Filters) (int, error) {
	return s.total, nil
}

func mockEntry(id int64, action string) Entry {
	return Entry{ID: id, ActorID: 1, Action: action, Entity: "role", EntityID: "2", OccurredAt: time.Now()}
}

func TestTrailDefaultsPageSize(t *testing.T) {
	repo := &stubTrailRepo{entries: []Entry{mockEntry(1, "role.create")}, total: 1}
	svc := NewService(repo)

	result, err := svc.Trail(context.Background(), Filters{})
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if repo.lastLimit != defaultPageSize {
		t.Fatalf("expected default limit %d, got %d", defaultPageSize, repo.lastLimit)
	}
	if repo.lastOffset != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastOffset)
	}
	if result.Paging.TotalPages != 1 {
		t.Fatalf("expected one page, got %d", result.Paging.TotalPages)
	}
}

func TestTrailPagingOffsets(t *testing.T) {
	repo := &stubTrailRepo{total: 120}
	svc := NewService(repo)

	result, err := svc.Trail(context.Background(), Filters{Page: 3, Per: 50})
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if repo.lastLimit != 50 || repo.lastOffset != 100 {
		t.Fatalf("expected limit 50 offset 100, got %d/%d", repo.lastLimit, repo.lastOffset)
	}
	if result.Paging.TotalPages != 3 {
		t.Fatalf("expected 3 pages, got %d", result.Paging.TotalPages)
	}
}

func TestTrailCapsPageSize(t *testing.T) {
	repo := &stubTrailRepo{}
	svc := NewService(repo)

	if _, err := svc.Trail(context.Background(), Filters{Per: 10000}); err != nil {
		t.Fatalf("trail: %v", err)
	}
	if repo.lastLimit != defaultPageSize {
		t.Fatalf("oversized page size must fall back to %d, got %d", defaultPageSize, repo.lastLimit)
	}
}

func TestTrailPassesFilters(t *testing.T) {
	repo := &stubTrailRepo{}
	svc := NewService(repo)

	_, err := svc.Trail(context.Background(), Filters{Entity: "user", Action: "user.delete"})
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if repo.lastFilter.Entity != "user" || repo.lastFilter.Action != "user.delete" {
		t.Fatalf("filters not forwarded: %+v", repo.lastFilter)
	}
}
