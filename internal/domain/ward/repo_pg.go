package ward

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

// uniqueViolation reports a duplicate code, room number or bed label as a
// validation error.
func uniqueViolation(err error, what string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Validation("%s already exists", what)
	}
	return err
}

// -- Care services --

const serviceColumns = `id, code, name, billing_mode, hourly_rate, active, created_at, updated_at`

func (r *repoPG) CreateService(ctx context.Context, svc *CareService) error {
	svc.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO care_service (id, code, name, billing_mode, hourly_rate, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		svc.ID, svc.Code, svc.Name, string(svc.BillingMode), svc.HourlyRate, svc.Active,
	).Scan(&svc.CreatedAt, &svc.UpdatedAt)
	return uniqueViolation(err, "service code "+svc.Code)
}

func (r *repoPG) GetService(ctx context.Context, id uuid.UUID) (*CareService, error) {
	svc, err := scanService(r.conn(ctx).QueryRow(ctx, `SELECT `+serviceColumns+` FROM care_service WHERE id = $1`, id))
	return svc, apperr.FromDB(err, "service")
}

func (r *repoPG) ListServices(ctx context.Context) ([]*CareService, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+serviceColumns+` FROM care_service ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CareService
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func scanService(row pgx.Row) (*CareService, error) {
	var s CareService
	var mode string
	if err := row.Scan(&s.ID, &s.Code, &s.Name, &mode, &s.HourlyRate, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.BillingMode = pricing.Mode(mode)
	return &s, nil
}

// -- Rooms --

const roomColumns = `id, service_id, number, room_type, capacity, nightly_price, active, created_at, updated_at`

func (r *repoPG) CreateRoom(ctx context.Context, room *Room) error {
	room.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO room (id, service_id, number, room_type, capacity, nightly_price, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		room.ID, room.ServiceID, room.Number, room.RoomType, room.Capacity, room.NightlyPrice, room.Active,
	).Scan(&room.CreatedAt, &room.UpdatedAt)
	return uniqueViolation(err, "room "+room.Number)
}

func (r *repoPG) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	room, err := scanRoom(r.conn(ctx).QueryRow(ctx, `SELECT `+roomColumns+` FROM room WHERE id = $1`, id))
	return room, apperr.FromDB(err, "room")
}

func (r *repoPG) LockRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	room, err := scanRoom(r.conn(ctx).QueryRow(ctx, `SELECT `+roomColumns+` FROM room WHERE id = $1 FOR UPDATE`, id))
	return room, apperr.FromDB(err, "room")
}

func (r *repoPG) ListRooms(ctx context.Context, serviceID uuid.UUID, limit, offset int) ([]*Room, int, error) {
	where := ` WHERE ($1::uuid IS NULL OR service_id = $1)`
	var sid *uuid.UUID
	if serviceID != uuid.Nil {
		sid = &serviceID
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM room`+where, sid).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+roomColumns+` FROM room`+where+` ORDER BY number LIMIT $2 OFFSET $3`, sid, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		rooms = append(rooms, room)
	}
	return rooms, total, rows.Err()
}

func (r *repoPG) UpdateRoomPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE room SET nightly_price = $2, updated_at = NOW() WHERE id = $1`, id, price)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("room not found")
	}
	return nil
}

func (r *repoPG) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM room WHERE id = $1`, id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperr.InvalidTransition("room has assignment history and cannot be deleted")
	}
	return err
}

func (r *repoPG) RoomHasHistory(ctx context.Context, id uuid.UUID) (bool, error) {
	var used bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bed_assignment a
			JOIN bed b ON b.id = a.bed_id
			WHERE b.room_id = $1
		)`, id).Scan(&used)
	return used, err
}

func (r *repoPG) DeactivateRoom(ctx context.Context, id uuid.UUID) error {
	if _, err := r.conn(ctx).Exec(ctx,
		`UPDATE room SET active = FALSE, updated_at = NOW() WHERE id = $1`, id); err != nil {
		return err
	}
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE bed SET status = 'inactive', updated_at = NOW() WHERE room_id = $1`, id)
	return err
}

func (r *repoPG) CountBeds(ctx context.Context, roomID uuid.UUID) (total, occupied int, err error) {
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE occupied)
		FROM bed WHERE room_id = $1`, roomID).Scan(&total, &occupied)
	return total, occupied, err
}

func scanRoom(row pgx.Row) (*Room, error) {
	var rm Room
	err := row.Scan(&rm.ID, &rm.ServiceID, &rm.Number, &rm.RoomType, &rm.Capacity,
		&rm.NightlyPrice, &rm.Active, &rm.CreatedAt, &rm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rm, nil
}

// -- Beds --

const bedColumns = `b.id, b.room_id, b.label, b.status, b.occupied, b.last_cleaned_at, b.created_at, b.updated_at`

func (r *repoPG) CreateBed(ctx context.Context, bed *Bed) error {
	bed.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bed (id, room_id, label, status, occupied, last_cleaned_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		RETURNING created_at, updated_at`,
		bed.ID, bed.RoomID, bed.Label, string(bed.Status), bed.LastCleanedAt,
	).Scan(&bed.CreatedAt, &bed.UpdatedAt)
	return uniqueViolation(err, "bed "+bed.Label)
}

func (r *repoPG) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	bed, err := scanBed(r.conn(ctx).QueryRow(ctx, `SELECT `+bedColumns+` FROM bed b WHERE b.id = $1`, id))
	return bed, apperr.FromDB(err, "bed")
}

func (r *repoPG) ListBeds(ctx context.Context, roomID uuid.UUID) ([]*Bed, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bedColumns+` FROM bed b WHERE b.room_id = $1 ORDER BY b.label`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var beds []*Bed
	for rows.Next() {
		bed, err := scanBed(rows)
		if err != nil {
			return nil, err
		}
		beds = append(beds, bed)
	}
	return beds, rows.Err()
}

// LockBed locks only the bed row. Room and service are read for the price
// snapshot but stay unlocked so price edits do not queue behind admissions.
func (r *repoPG) LockBed(ctx context.Context, id uuid.UUID) (*BedDetail, error) {
	var d BedDetail
	var status, mode string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT `+bedColumns+`, rm.service_id, rm.active, rm.nightly_price, s.billing_mode, s.hourly_rate
		FROM bed b
		JOIN room rm ON rm.id = b.room_id
		JOIN care_service s ON s.id = rm.service_id
		WHERE b.id = $1
		FOR UPDATE OF b`, id,
	).Scan(&d.ID, &d.RoomID, &d.Label, &status, &d.Occupied, &d.LastCleanedAt, &d.CreatedAt, &d.UpdatedAt,
		&d.ServiceID, &d.RoomActive, &d.NightlyPrice, &mode, &d.HourlyRate)
	if err != nil {
		return nil, apperr.FromDB(err, "bed")
	}
	d.Status = BedStatus(status)
	d.BillingMode = pricing.Mode(mode)
	return &d, nil
}

func (r *repoPG) SetBedOccupied(ctx context.Context, id uuid.UUID, occupied, resetCleaning bool) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE bed SET
			occupied = $2,
			last_cleaned_at = CASE WHEN $3 THEN NULL ELSE last_cleaned_at END,
			updated_at = NOW()
		WHERE id = $1`, id, occupied, resetCleaning)
	return err
}

func (r *repoPG) SetBedStatus(ctx context.Context, id uuid.UUID, status BedStatus) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE bed SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return err
}

func (r *repoPG) MarkBedCleaned(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE bed SET last_cleaned_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return err
}

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	var status string
	err := row.Scan(&b.ID, &b.RoomID, &b.Label, &status, &b.Occupied, &b.LastCleanedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = BedStatus(status)
	return &b, nil
}

// -- Availability --

func (r *repoPG) ListAvailableBeds(ctx context.Context, serviceID uuid.UUID) ([]*AvailableBed, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT b.id, b.label, rm.id, rm.number, rm.room_type, rm.nightly_price, b.last_cleaned_at IS NULL
		FROM bed b
		JOIN room rm ON rm.id = b.room_id
		WHERE rm.service_id = $1 AND rm.active AND b.status = 'active' AND NOT b.occupied
		ORDER BY rm.number, b.label`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AvailableBed
	for rows.Next() {
		var a AvailableBed
		if err := rows.Scan(&a.BedID, &a.Label, &a.RoomID, &a.RoomNumber, &a.RoomType, &a.NightlyPrice, &a.NeedsCleaning); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *repoPG) Occupancy(ctx context.Context, serviceID uuid.UUID) (*Occupancy, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT rm.id, rm.number, rm.capacity,
			COUNT(b.id),
			COUNT(b.id) FILTER (WHERE b.occupied),
			COUNT(b.id) FILTER (WHERE NOT b.occupied AND (b.status <> 'active' OR NOT rm.active))
		FROM room rm
		LEFT JOIN bed b ON b.room_id = rm.id
		WHERE rm.service_id = $1
		GROUP BY rm.id, rm.number, rm.capacity
		ORDER BY rm.number`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	occ := &Occupancy{ServiceID: serviceID, Rooms: []RoomOccupancy{}}
	for rows.Next() {
		var ro RoomOccupancy
		var out int
		if err := rows.Scan(&ro.RoomID, &ro.Number, &ro.Capacity, &ro.Beds, &ro.Occupied, &out); err != nil {
			return nil, err
		}
		occ.OutOfService += out
		occ.Rooms = append(occ.Rooms, ro)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	occ.Summarize()
	return occ, nil
}
