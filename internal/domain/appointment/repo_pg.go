package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
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

const apptCols = `id, patient_id, patient_name, clinic_id, clinic_name, to_char(appt_date, 'YYYY-MM-DD'),
	appt_time, reason, status, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.ClinicID, &a.ClinicName, &a.Date,
		&a.Time, &a.Reason, &a.Status, &a.Timestamp, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, patient_id, patient_name, clinic_id, clinic_name, appt_date, appt_time, reason, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6::date,$7,$8,$9,$10,$10)`,
		a.ID, a.PatientID, a.PatientName, a.ClinicID, a.ClinicName, a.Date, a.Time, a.Reason, a.Status, a.Timestamp)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	a.UpdatedAt = a.Timestamp
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *repoPG) Transition(ctx context.Context, id string, from, to Status, at time.Time) (*Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+apptCols,
		id, from, to, at))
	if !errors.Is(err, ErrNotFound) {
		return a, err
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrStatusMismatch
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string) ([]*Appointment, error) {
	return r.query(ctx, `SELECT `+apptCols+` FROM appointments WHERE patient_id = $1 ORDER BY created_at DESC, id`, patientID)
}

func (r *repoPG) ListByClinic(ctx context.Context, clinicID string) ([]*Appointment, error) {
	return r.query(ctx, `SELECT `+apptCols+` FROM appointments WHERE clinic_id = $1 ORDER BY created_at DESC, id`, clinicID)
}

func (r *repoPG) ListByDate(ctx context.Context, date string, status Status) ([]*Appointment, error) {
	return r.query(ctx, `SELECT `+apptCols+` FROM appointments WHERE appt_date = $1::date AND status = $2
		ORDER BY appt_time, id`, date, status)
}

func (r *repoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
