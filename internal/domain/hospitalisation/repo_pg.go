package hospitalisation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bjyoucef/inaya/internal/platform/apperr"
	"github.com/bjyoucef/inaya/internal/platform/db"
	"github.com/bjyoucef/inaya/internal/pricing"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// constraintError maps the partial unique indexes that back the occupancy
// rules onto their business errors.
func constraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "uq_admission_active_patient":
		return apperr.DuplicateActiveAdmission("patient already has an active admission")
	case "uq_assignment_current_bed":
		return apperr.BedUnavailable("bed is occupied")
	case "uq_assignment_current_admission":
		return apperr.InvalidTransition("admission already occupies a bed")
	}
	return err
}

// noRows reports a Find* miss, which is not an error.
func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// -- Admissions --

const admissionColumns = `id, patient_id, physician_id, service_id, state, started_at, ended_at,
	total_cost, active, discharge_destination, discharge_notes, created_at, updated_at`

func (r *repoPG) CreateAdmission(ctx context.Context, adm *Admission) error {
	adm.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission (id, patient_id, physician_id, service_id, state, started_at, total_cost, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		adm.ID, adm.PatientID, adm.PhysicianID, adm.ServiceID, string(adm.State),
		adm.StartedAt, adm.TotalCost, adm.Active,
	).Scan(&adm.CreatedAt, &adm.UpdatedAt)
	return constraintError(err)
}

func (r *repoPG) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	adm, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionColumns+` FROM admission WHERE id = $1`, id))
	return adm, apperr.FromDB(err, "admission")
}

func (r *repoPG) LockAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	adm, err := scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionColumns+` FROM admission WHERE id = $1 FOR UPDATE`, id))
	return adm, apperr.FromDB(err, "admission")
}

func (r *repoPG) UpdateAdmission(ctx context.Context, adm *Admission) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE admission SET
			service_id = $2, state = $3, ended_at = $4, total_cost = $5, active = $6,
			discharge_destination = $7, discharge_notes = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		adm.ID, adm.ServiceID, string(adm.State), adm.EndedAt, adm.TotalCost, adm.Active,
		adm.DischargeDestination, adm.DischargeNotes,
	).Scan(&adm.UpdatedAt)
	return apperr.FromDB(err, "admission")
}

func (r *repoPG) FindActiveAdmission(ctx context.Context, patientID uuid.UUID) (*Admission, error) {
	adm, err := scanAdmission(r.conn(ctx).QueryRow(ctx,
		`SELECT `+admissionColumns+` FROM admission WHERE patient_id = $1 AND active`, patientID))
	if noRows(err) {
		return nil, nil
	}
	return adm, err
}

func (r *repoPG) ListAdmissions(ctx context.Context, f AdmissionFilter, limit, offset int) ([]*Admission, int, error) {
	var where []string
	var args []interface{}
	if f.ServiceID != uuid.Nil {
		args = append(args, f.ServiceID)
		where = append(where, fmt.Sprintf("service_id = $%d", len(args)))
	}
	if f.PatientID != uuid.Nil {
		args = append(args, f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "active")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+admissionColumns+` FROM admission%s
		ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Admission
	for rows.Next() {
		adm, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, adm)
	}
	return out, total, rows.Err()
}

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	var state string
	err := row.Scan(&a.ID, &a.PatientID, &a.PhysicianID, &a.ServiceID, &state, &a.StartedAt, &a.EndedAt,
		&a.TotalCost, &a.Active, &a.DischargeDestination, &a.DischargeNotes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.State = State(state)
	return &a, nil
}

// -- Bed-assignment ledger --

const assignmentColumns = `id, admission_id, bed_id, service_id, started_at, ended_at, is_current,
	nightly_price, billing_mode, hourly_rate, cost, billing_anchor, created_at`

func (r *repoPG) CreateAssignment(ctx context.Context, a *Assignment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bed_assignment (id, admission_id, bed_id, service_id, started_at, is_current,
			nightly_price, billing_mode, hourly_rate, billing_anchor)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $8, $9)
		RETURNING created_at`,
		a.ID, a.AdmissionID, a.BedID, a.ServiceID, a.StartedAt,
		a.NightlyPrice, string(a.BillingMode), a.HourlyRate, a.BillingAnchor,
	).Scan(&a.CreatedAt)
	if err != nil {
		return constraintError(err)
	}
	a.IsCurrent = true
	return nil
}

func (r *repoPG) CloseAssignment(ctx context.Context, a *Assignment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bed_assignment SET ended_at = $2, is_current = FALSE, cost = $3
		WHERE id = $1 AND is_current`,
		a.ID, a.EndedAt, a.Cost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidTransition("assignment %s is already closed", a.ID)
	}
	return nil
}

func (r *repoPG) GetCurrentAssignment(ctx context.Context, admissionID uuid.UUID) (*Assignment, error) {
	a, err := scanAssignment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM bed_assignment WHERE admission_id = $1 AND is_current`, admissionID))
	if noRows(err) {
		return nil, nil
	}
	return a, err
}

func (r *repoPG) ListAssignments(ctx context.Context, admissionID uuid.UUID) ([]*Assignment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+assignmentColumns+` FROM bed_assignment WHERE admission_id = $1 ORDER BY started_at, created_at`, admissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	var mode string
	err := row.Scan(&a.ID, &a.AdmissionID, &a.BedID, &a.ServiceID, &a.StartedAt, &a.EndedAt, &a.IsCurrent,
		&a.NightlyPrice, &mode, &a.HourlyRate, &a.Cost, &a.BillingAnchor, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.BillingMode = pricing.Mode(mode)
	return &a, nil
}

// -- Transfer log --

func (r *repoPG) CreateTransfer(ctx context.Context, t *Transfer) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO transfer (id, admission_id, kind, from_assignment_id, to_assignment_id,
			from_service_id, to_service_id, occurred_at, reason, actor, price_difference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11)
		RETURNING created_at`,
		t.ID, t.AdmissionID, string(t.Kind), t.FromAssignmentID, t.ToAssignmentID,
		t.FromServiceID, t.ToServiceID, t.OccurredAt, t.Reason, t.Actor, t.PriceDifference,
	).Scan(&t.CreatedAt)
}

func (r *repoPG) ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]*Transfer, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, admission_id, kind, from_assignment_id, to_assignment_id, from_service_id, to_service_id,
			occurred_at, COALESCE(reason, ''), COALESCE(actor, ''), price_difference, created_at
		FROM transfer WHERE admission_id = $1 ORDER BY occurred_at, created_at`, admissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transfer
	for rows.Next() {
		var t Transfer
		var kind string
		if err := rows.Scan(&t.ID, &t.AdmissionID, &kind, &t.FromAssignmentID, &t.ToAssignmentID,
			&t.FromServiceID, &t.ToServiceID, &t.OccurredAt, &t.Reason, &t.Actor, &t.PriceDifference, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = TransferKind(kind)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// -- Admission requests --

const requestColumns = `id, patient_id, service_id, admission_id, origin, status,
	COALESCE(reason, ''), COALESCE(requested_by, ''), COALESCE(cancel_reason, ''), created_at, resolved_at`

func (r *repoPG) CreateRequest(ctx context.Context, req *Request) error {
	req.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO admission_request (id, patient_id, service_id, admission_id, origin, status,
			reason, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)`,
		req.ID, req.PatientID, req.ServiceID, req.AdmissionID, string(req.Origin), string(req.Status),
		req.Reason, req.RequestedBy, req.CreatedAt,
	)
	return err
}

func (r *repoPG) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx, `SELECT `+requestColumns+` FROM admission_request WHERE id = $1`, id))
	return req, apperr.FromDB(err, "admission request")
}

func (r *repoPG) LockRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestColumns+` FROM admission_request WHERE id = $1 FOR UPDATE`, id))
	return req, apperr.FromDB(err, "admission request")
}

func (r *repoPG) UpdateRequest(ctx context.Context, req *Request) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE admission_request SET
			admission_id = $2, status = $3, cancel_reason = NULLIF($4, ''), resolved_at = $5
		WHERE id = $1`,
		req.ID, req.AdmissionID, string(req.Status), req.CancelReason, req.ResolvedAt)
	return err
}

func (r *repoPG) ListRequests(ctx context.Context, f RequestFilter, limit, offset int) ([]*Request, int, error) {
	var where []string
	var args []interface{}
	if f.ServiceID != uuid.Nil {
		args = append(args, f.ServiceID)
		where = append(where, fmt.Sprintf("service_id = $%d", len(args)))
	}
	if f.PatientID != uuid.Nil {
		args = append(args, f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM admission_request`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// Oldest first: a waiting list is served in arrival order.
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+requestColumns+` FROM admission_request%s
		ORDER BY created_at LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

func (r *repoPG) FindWaitingRequest(ctx context.Context, patientID, serviceID uuid.UUID) (*Request, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx, `
		SELECT `+requestColumns+` FROM admission_request
		WHERE patient_id = $1 AND service_id = $2 AND status = 'waiting'
		LIMIT 1`, patientID, serviceID))
	if noRows(err) {
		return nil, nil
	}
	return req, err
}

func (r *repoPG) FindPendingTransferRequest(ctx context.Context, admissionID uuid.UUID) (*Request, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx, `
		SELECT `+requestColumns+` FROM admission_request
		WHERE admission_id = $1 AND origin = 'transfer' AND status = 'waiting'
		FOR UPDATE`, admissionID))
	if noRows(err) {
		return nil, nil
	}
	return req, err
}

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	var origin, status string
	err := row.Scan(&req.ID, &req.PatientID, &req.ServiceID, &req.AdmissionID, &origin, &status,
		&req.Reason, &req.RequestedBy, &req.CancelReason, &req.CreatedAt, &req.ResolvedAt)
	if err != nil {
		return nil, err
	}
	req.Origin = RequestOrigin(origin)
	req.Status = RequestStatus(status)
	return &req, nil
}
