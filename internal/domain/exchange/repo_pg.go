package exchange

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

// validID reports whether id can be compared with a UUID column. Other
// ids cannot exist and are treated as not found.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// -- Reports --

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const reportCols = `id, patient_id, patient_name, symptoms, analysis, possible_conditions, urgency, advice,
	created_at, shared_with, read_by`

func scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	err := row.Scan(&rep.ID, &rep.PatientID, &rep.PatientName, &rep.Symptoms, &rep.Analysis,
		&rep.PossibleConditions, &rep.Urgency, &rep.Advice, &rep.Timestamp, &rep.SharedWith, &rep.ReadBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	return &rep, nil
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO reports (id, patient_id, patient_name, symptoms, analysis, possible_conditions, urgency, advice,
			created_at, shared_with, read_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rep.ID, rep.PatientID, rep.PatientName, rep.Symptoms, rep.Analysis, rep.PossibleConditions, rep.Urgency,
		rep.Advice, rep.Timestamp, rep.SharedWith, rep.ReadBy)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (r *reportRepoPG) GetByID(ctx context.Context, id string) (*Report, error) {
	if !validID(id) {
		return nil, ErrReportNotFound
	}
	return scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE id = $1`, id))
}

func (r *reportRepoPG) AddReader(ctx context.Context, id, doctorID string) (bool, error) {
	if !validID(id) {
		return false, ErrReportNotFound
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reports SET read_by = array_append(read_by, $2)
		WHERE id = $1 AND NOT ($2 = ANY(read_by))`, id, doctorID)
	if err != nil {
		return false, fmt.Errorf("mark report read: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *reportRepoPG) ListByPatient(ctx context.Context, patientID string) ([]*Report, error) {
	return r.query(ctx, `SELECT `+reportCols+` FROM reports WHERE patient_id = $1 ORDER BY created_at DESC, id`, patientID)
}

func (r *reportRepoPG) ListSharedWith(ctx context.Context, doctorID string) ([]*Report, error) {
	return r.query(ctx, `SELECT `+reportCols+` FROM reports WHERE shared_with @> ARRAY[$1]::text[]
		ORDER BY created_at DESC, id`, doctorID)
}

func (r *reportRepoPG) ListSharedByPatient(ctx context.Context, doctorID, patientID string, since time.Time) ([]*Report, error) {
	return r.query(ctx, `SELECT `+reportCols+` FROM reports
		WHERE patient_id = $1 AND shared_with @> ARRAY[$2]::text[] AND created_at >= $3
		ORDER BY created_at DESC, id`, patientID, doctorID, since)
}

func (r *reportRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Report, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rep)
	}
	return items, rows.Err()
}

// -- Messages --

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const messageCols = `id, doctor_id, doctor_name, patient_id, patient_name, content, COALESCE(report_id::text, ''),
	created_at, is_read`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.DoctorID, &m.DoctorName, &m.PatientID, &m.PatientName, &m.Content, &m.ReportID,
		&m.Timestamp, &m.Read)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &m, nil
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_messages (id, doctor_id, doctor_name, patient_id, patient_name, content, report_id, created_at, is_read)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,'')::uuid,$8,$9)`,
		m.ID, m.DoctorID, m.DoctorName, m.PatientID, m.PatientName, m.Content, m.ReportID, m.Timestamp, m.Read)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *messageRepoPG) GetByID(ctx context.Context, id string) (*Message, error) {
	if !validID(id) {
		return nil, ErrMessageNotFound
	}
	return scanMessage(r.conn(ctx).QueryRow(ctx, `SELECT `+messageCols+` FROM doctor_messages WHERE id = $1`, id))
}

func (r *messageRepoPG) MarkRead(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, ErrMessageNotFound
	}
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE doctor_messages SET is_read = TRUE WHERE id = $1 AND NOT is_read`, id)
	if err != nil {
		return false, fmt.Errorf("mark message read: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *messageRepoPG) ListByPatient(ctx context.Context, patientID string) ([]*Message, error) {
	return r.query(ctx, `SELECT `+messageCols+` FROM doctor_messages WHERE patient_id = $1 ORDER BY created_at DESC, id`, patientID)
}

func (r *messageRepoPG) ListByDoctor(ctx context.Context, doctorID string) ([]*Message, error) {
	return r.query(ctx, `SELECT `+messageCols+` FROM doctor_messages WHERE doctor_id = $1 ORDER BY created_at DESC, id`, doctorID)
}

func (r *messageRepoPG) ListByDoctorPatient(ctx context.Context, doctorID, patientID string) ([]*Message, error) {
	return r.query(ctx, `SELECT `+messageCols+` FROM doctor_messages WHERE doctor_id = $1 AND patient_id = $2
		ORDER BY created_at DESC, id`, doctorID, patientID)
}

func (r *messageRepoPG) UnreadCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT patient_id, COUNT(*) FROM doctor_messages WHERE NOT is_read GROUP BY patient_id`)
	if err != nil {
		return nil, fmt.Errorf("count unread messages: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var patientID string
		var n int
		if err := rows.Scan(&patientID, &n); err != nil {
			return nil, err
		}
		counts[patientID] = n
	}
	return counts, rows.Err()
}

func (r *messageRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
