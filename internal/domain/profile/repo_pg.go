package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

const profileCols = `id, role, display_name, email, phone_number, details, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Profile, error) {
	var p Profile
	var details []byte
	err := row.Scan(&p.ID, &p.Role, &p.DisplayName, &p.Email, &p.PhoneNumber, &details, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeDetails(&p, details); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeDetails(p *Profile, raw []byte) error {
	var target interface{}
	switch p.Role {
	case RolePatient:
		p.Medical = &MedicalProfile{}
		target = p.Medical
	case RoleDoctor:
		p.Doctor = &DoctorCredentials{}
		target = p.Doctor
	case RoleClinic:
		p.Clinic = &ClinicDetails{}
		target = p.Clinic
	default:
		return fmt.Errorf("profile %s has unknown role %q", p.ID, p.Role)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode profile details: %w", err)
	}
	p.withDefaults()
	return nil
}

func (r *repoPG) Create(ctx context.Context, p *Profile) error {
	details, err := json.Marshal(p.Details())
	if err != nil {
		return fmt.Errorf("encode profile details: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO profiles (id, role, display_name, email, phone_number, details, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.Role, p.DisplayName, p.Email, p.PhoneNumber, details, p.CreatedAt, p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExists
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*Profile, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Profile) error {
	details, err := json.Marshal(p.Details())
	if err != nil {
		return fmt.Errorf("encode profile details: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE profiles SET display_name=$2, email=$3, phone_number=$4, details=$5, updated_at=$6
		WHERE id = $1`,
		p.ID, p.DisplayName, p.Email, p.PhoneNumber, details, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByRole(ctx context.Context, role Role, limit, offset int) ([]*Profile, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM profiles WHERE role = $1`, role).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+profileCols+` FROM profiles WHERE role = $1
		ORDER BY display_name, id LIMIT $2 OFFSET $3`, role, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Profile
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
