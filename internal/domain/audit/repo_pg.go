package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bjyoucef/inaya/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Record(ctx context.Context, e Entry) error {
	if !e.EntityType.Valid() {
		return fmt.Errorf("audit: unknown entity type %q", e.EntityType)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_entry (id, entity_type, entity_id, action, actor, request_id, detail, recorded_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		e.ID, string(e.EntityType), e.EntityID, e.Action, e.Actor, e.RequestID, []byte(e.Detail), e.At,
	)
	if err != nil {
		return fmt.Errorf("audit: record %s %s: %w", e.EntityType, e.Action, err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	var where []string
	var args []interface{}
	if f.EntityType != "" {
		args = append(args, string(f.EntityType))
		where = append(where, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if f.EntityID != uuid.Nil {
		args = append(args, f.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if f.Actor != "" {
		args = append(args, f.Actor)
		where = append(where, fmt.Sprintf("actor = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entry`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT id, entity_type, entity_id, action, COALESCE(actor, ''), COALESCE(request_id, ''), detail, recorded_at
		FROM audit_entry%s ORDER BY recorded_at DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var et string
		var detail []byte
		if err := rows.Scan(&e.ID, &et, &e.EntityID, &e.Action, &e.Actor, &e.RequestID, &detail, &e.At); err != nil {
			return nil, 0, err
		}
		e.EntityType = EntityType(et)
		e.Detail = detail
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}
