package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventdesk/eventdesk/internal/shared"
)

// Entry is one row of the audit trail, enriched with the actor's email when
// the account still exists.
type Entry struct {
	ID         int64
	ActorID    int64
	ActorEmail string
	Action     string
	Entity     string
	EntityID   string
	Meta       map[string]any
	OccurredAt time.Time
}

// Filters narrows the audit trail listing.
type Filters struct {
	Entity string
	Action string
	Page   int
	Per    int
}

// Result couples a page of entries with pagination metadata.
type Result struct {
	Entries []Entry
	Paging  shared.Pagination
}

// Repository reads the audit trail.
type Repository interface {
	List(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error)
	Count(ctx context.Context, filters Filters) (int, error)
}

// PGRepository implements Repository against audit_logs.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const listQuery = `
	SELECT a.id, a.actor_id, COALESCE(u.email, ''), a.action, a.entity, a.entity_id, a.meta, a.occurred_at
	FROM audit_logs a
	LEFT JOIN users u ON u.id = a.actor_id
	WHERE ($1 = '' OR a.entity = $1)
	  AND ($2 = '' OR a.action = $2)
	ORDER BY a.occurred_at DESC
	LIMIT $3 OFFSET $4`

// List returns one page of the trail, newest first.
func (r *PGRepository) List(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, listQuery, filters.Entity, filters.Action, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var meta []byte
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorEmail, &entry.Action,
			&entry.Entity, &entry.EntityID, &meta, &entry.OccurredAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &entry.Meta)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Count returns the number of rows the filters match.
func (r *PGRepository) Count(ctx context.Context, filters Filters) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM audit_logs a
		WHERE ($1 = '' OR a.entity = $1)
		  AND ($2 = '' OR a.action = $2)`, filters.Entity, filters.Action).Scan(&total)
	return total, err
}

// Service serves paginated views of the audit trail.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

const defaultPageSize = 25

// Trail returns the requested page of the audit trail.
func (s *Service) Trail(ctx context.Context, filters Filters) (Result, error) {
	if filters.Per <= 0 || filters.Per > 100 {
		filters.Per = defaultPageSize
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	total, err := s.repo.Count(ctx, filters)
	if err != nil {
		return Result{}, err
	}
	offset := (filters.Page - 1) * filters.Per
	entries, err := s.repo.List(ctx, filters, filters.Per, offset)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Entries: entries,
		Paging:  shared.NewPagination(filters.Page, filters.Per, total),
	}, nil
}
