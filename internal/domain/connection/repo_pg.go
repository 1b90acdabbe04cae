package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medicheck/medicheck/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const requestCols = `id, from_id, from_name, from_role, to_id, to_name, to_role, status,
	COALESCE(member_tag, ''), created_at, updated_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.FromID, &req.FromName, &req.FromRole, &req.ToID, &req.ToName, &req.ToRole,
		&req.Status, &req.MemberTag, &req.Timestamp, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection request: %w", err)
	}
	return &req, nil
}

func (r *repoPG) Insert(ctx context.Context, req *Request) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO connection_requests (id, from_id, from_name, from_role, to_id, to_name, to_role, status, member_tag, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$10)
		ON CONFLICT DO NOTHING`,
		req.ID, req.FromID, req.FromName, req.FromRole, req.ToID, req.ToName, req.ToRole, req.Status, req.MemberTag, req.Timestamp)
	if err != nil {
		return fmt.Errorf("insert connection request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	req.UpdatedAt = req.Timestamp
	return nil
}

func (r *repoPG) Get(ctx context.Context, id string) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestCols+` FROM connection_requests WHERE id = $1`, id))
}

func (r *repoPG) FindPair(ctx context.Context, fromID, toID string) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM connection_requests WHERE from_id = $1 AND to_id = $2`, fromID, toID))
}

// missOrMismatch explains why a conditional write touched no row.
func (r *repoPG) missOrMismatch(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrStatusMismatch
}

func (r *repoPG) Transition(ctx context.Context, id string, from, to Status, tag string, at time.Time) (*Request, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx, `
		UPDATE connection_requests
		SET status = $3, member_tag = COALESCE(NULLIF($4, ''), member_tag), updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+requestCols,
		id, from, to, tag, at))
	if errors.Is(err, ErrNotFound) {
		return nil, r.missOrMismatch(ctx, id)
	}
	return req, err
}

func (r *repoPG) SetTag(ctx context.Context, id, tag string, at time.Time) (*Request, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx, `
		UPDATE connection_requests SET member_tag = $2, updated_at = $3
		WHERE id = $1 AND status = 'ACCEPTED'
		RETURNING `+requestCols,
		id, tag, at))
	if errors.Is(err, ErrNotFound) {
		return nil, r.missOrMismatch(ctx, id)
	}
	return req, err
}

func (r *repoPG) DeleteIf(ctx context.Context, id string, status Status) (*Request, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx, `
		DELETE FROM connection_requests WHERE id = $1 AND status = $2
		RETURNING `+requestCols,
		id, status))
	if errors.Is(err, ErrNotFound) {
		return nil, r.missOrMismatch(ctx, id)
	}
	return req, err
}

func (r *repoPG) ListTo(ctx context.Context, toID string, f Filter) ([]*Request, error) {
	return r.list(ctx, "to_id", toID, f)
}

func (r *repoPG) ListFrom(ctx context.Context, fromID string, f Filter) ([]*Request, error) {
	return r.list(ctx, "from_id", fromID, f)
}

func (r *repoPG) list(ctx context.Context, column, value string, f Filter) ([]*Request, error) {
	query := `SELECT ` + requestCols + ` FROM connection_requests WHERE ` + column + ` = $1`
	args := []interface{}{value}
	idx := 2
	if f.ToRole != "" {
		query += fmt.Sprintf(" AND to_role = $%d", idx)
		args = append(args, f.ToRole)
		idx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list connection requests: %w", err)
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, req)
	}
	return items, rows.Err()
}
