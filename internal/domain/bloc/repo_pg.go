package bloc

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

func constraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.ConstraintName == "uq_rental_in_progress":
		return apperr.InvalidTransition("bloc already has a rental in progress")
	case pgErr.Code == "23505":
		return apperr.Validation("duplicate value: %s", pgErr.Detail)
	case pgErr.Code == "23503":
		return apperr.Validation("unknown reference: %s", pgErr.Detail)
	}
	return err
}

// -- Blocs --

const blocColumns = `id, name, base_price, supplement_price, active, created_at, updated_at`

func (r *repoPG) CreateBloc(ctx context.Context, b *Bloc) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bloc (id, name, base_price, supplement_price, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		b.ID, b.Name, b.BasePrice, b.SupplementPrice, b.Active,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return constraintError(err)
}

func (r *repoPG) GetBloc(ctx context.Context, id uuid.UUID) (*Bloc, error) {
	b, err := scanBloc(r.conn(ctx).QueryRow(ctx, `SELECT `+blocColumns+` FROM bloc WHERE id = $1`, id))
	return b, apperr.FromDB(err, "bloc")
}

func (r *repoPG) LockBloc(ctx context.Context, id uuid.UUID) (*Bloc, error) {
	b, err := scanBloc(r.conn(ctx).QueryRow(ctx, `SELECT `+blocColumns+` FROM bloc WHERE id = $1 FOR UPDATE`, id))
	return b, apperr.FromDB(err, "bloc")
}

func (r *repoPG) ListBlocs(ctx context.Context) ([]*Bloc, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+blocColumns+` FROM bloc ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Bloc
	for rows.Next() {
		b, err := scanBloc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBloc(row pgx.Row) (*Bloc, error) {
	var b Bloc
	err := row.Scan(&b.ID, &b.Name, &b.BasePrice, &b.SupplementPrice, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

// -- Forfaits --

const forfaitColumns = `id, bloc_id, name, price, included_minutes, active, created_at`

func (r *repoPG) CreateForfait(ctx context.Context, f *Forfait) error {
	f.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO forfait (id, bloc_id, name, price, included_minutes, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		f.ID, f.BlocID, f.Name, f.Price, f.IncludedMinutes, f.Active,
	).Scan(&f.CreatedAt)
	if err != nil {
		return constraintError(err)
	}
	for i := range f.Items {
		it := &f.Items[i]
		it.ID = uuid.New()
		it.ForfaitID = f.ID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO forfait_item (id, forfait_id, item_code, kind, quantity)
			VALUES ($1, $2, $3, $4, $5)`,
			it.ID, it.ForfaitID, it.ItemCode, string(it.Kind), it.Quantity,
		); err != nil {
			return constraintError(err)
		}
	}
	return nil
}

func (r *repoPG) GetForfait(ctx context.Context, id uuid.UUID) (*Forfait, error) {
	f, err := scanForfait(r.conn(ctx).QueryRow(ctx, `SELECT `+forfaitColumns+` FROM forfait WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "forfait")
	}
	if f.Items, err = r.forfaitItems(ctx, f.ID); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *repoPG) ListForfaits(ctx context.Context, blocID uuid.UUID) ([]*Forfait, error) {
	var filter *uuid.UUID
	if blocID != uuid.Nil {
		filter = &blocID
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+forfaitColumns+` FROM forfait
		WHERE $1::uuid IS NULL OR bloc_id IS NULL OR bloc_id = $1
		ORDER BY name`, filter)
	if err != nil {
		return nil, err
	}
	var out []*Forfait
	for rows.Next() {
		f, err := scanForfait(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, f := range out {
		if f.Items, err = r.forfaitItems(ctx, f.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *repoPG) forfaitItems(ctx context.Context, forfaitID uuid.UUID) ([]ForfaitItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, forfait_id, item_code, kind, quantity FROM forfait_item
		WHERE forfait_id = $1 ORDER BY item_code`, forfaitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ForfaitItem{}
	for rows.Next() {
		var it ForfaitItem
		var kind string
		if err := rows.Scan(&it.ID, &it.ForfaitID, &it.ItemCode, &kind, &it.Quantity); err != nil {
			return nil, err
		}
		it.Kind = ItemKind(kind)
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanForfait(row pgx.Row) (*Forfait, error) {
	var f Forfait
	err := row.Scan(&f.ID, &f.BlocID, &f.Name, &f.Price, &f.IncludedMinutes, &f.Active, &f.CreatedAt)
	return &f, err
}

// -- Rentals --

const rentalColumns = `id, bloc_id, forfait_id, patient_id, admission_id, surgeon_id, started_at, ended_at,
	status, base_amount, overtime_amount, consumables_amount, total, included_minutes, tranches,
	created_at, updated_at`

func (r *repoPG) CreateRental(ctx context.Context, rt *Rental) error {
	rt.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bloc_rental (id, bloc_id, forfait_id, patient_id, admission_id, surgeon_id, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		rt.ID, rt.BlocID, rt.ForfaitID, rt.PatientID, rt.AdmissionID, rt.SurgeonID, rt.StartedAt, string(rt.Status),
	).Scan(&rt.CreatedAt, &rt.UpdatedAt)
	return constraintError(err)
}

func (r *repoPG) GetRental(ctx context.Context, id uuid.UUID) (*Rental, error) {
	rt, err := scanRental(r.conn(ctx).QueryRow(ctx, `SELECT `+rentalColumns+` FROM bloc_rental WHERE id = $1`, id))
	return rt, apperr.FromDB(err, "bloc rental")
}

func (r *repoPG) LockRental(ctx context.Context, id uuid.UUID) (*Rental, error) {
	rt, err := scanRental(r.conn(ctx).QueryRow(ctx,
		`SELECT `+rentalColumns+` FROM bloc_rental WHERE id = $1 FOR UPDATE`, id))
	return rt, apperr.FromDB(err, "bloc rental")
}

func (r *repoPG) UpdateRental(ctx context.Context, rt *Rental) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE bloc_rental SET ended_at = $2, status = $3, base_amount = $4, overtime_amount = $5,
			consumables_amount = $6, total = $7, included_minutes = $8, tranches = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rt.ID, rt.EndedAt, string(rt.Status), rt.BaseAmount, rt.OvertimeAmount, rt.ConsumablesAmount, rt.Total,
		rt.IncludedMinutes, rt.Tranches,
	).Scan(&rt.UpdatedAt)
}

func (r *repoPG) ListRentals(ctx context.Context, f RentalFilter, limit, offset int) ([]*Rental, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.BlocID != uuid.Nil {
		add("bloc_id = $%d", f.BlocID)
	}
	if f.PatientID != uuid.Nil {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bloc_rental`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT `+rentalColumns+` FROM bloc_rental`+clause+` ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
			len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Rental
	for rows.Next() {
		rt, err := scanRental(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rt)
	}
	return out, total, rows.Err()
}

func (r *repoPG) FindInProgress(ctx context.Context, blocID uuid.UUID) (*Rental, error) {
	rt, err := scanRental(r.conn(ctx).QueryRow(ctx,
		`SELECT `+rentalColumns+` FROM bloc_rental WHERE bloc_id = $1 AND status = 'in_progress'`, blocID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rt, apperr.FromDB(err, "bloc rental")
}

func scanRental(row pgx.Row) (*Rental, error) {
	var rt Rental
	var status string
	err := row.Scan(&rt.ID, &rt.BlocID, &rt.ForfaitID, &rt.PatientID, &rt.AdmissionID, &rt.SurgeonID,
		&rt.StartedAt, &rt.EndedAt, &status, &rt.BaseAmount, &rt.OvertimeAmount, &rt.ConsumablesAmount,
		&rt.Total, &rt.IncludedMinutes, &rt.Tranches, &rt.CreatedAt, &rt.UpdatedAt)
	rt.Status = RentalStatus(status)
	return &rt, err
}

// -- Consumptions --

func (r *repoPG) UpsertConsumption(ctx context.Context, c *Consumption) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bloc_consumption (id, rental_id, item_code, kind, quantity_included, quantity_used, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (rental_id, item_code) DO UPDATE SET
			kind = EXCLUDED.kind,
			quantity_included = EXCLUDED.quantity_included,
			quantity_used = EXCLUDED.quantity_used,
			unit_price = EXCLUDED.unit_price
		RETURNING id, created_at`,
		c.ID, c.RentalID, c.ItemCode, string(c.Kind), c.QuantityIncluded, c.QuantityUsed, c.UnitPrice,
	).Scan(&c.ID, &c.CreatedAt)
}

func (r *repoPG) ListConsumptions(ctx context.Context, rentalID uuid.UUID) ([]*Consumption, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, rental_id, item_code, kind, quantity_included, quantity_used, unit_price, created_at
		FROM bloc_consumption WHERE rental_id = $1 ORDER BY created_at, item_code`, rentalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Consumption
	for rows.Next() {
		var c Consumption
		var kind string
		if err := rows.Scan(&c.ID, &c.RentalID, &c.ItemCode, &kind, &c.QuantityIncluded, &c.QuantityUsed,
			&c.UnitPrice, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Kind = ItemKind(kind)
		out = append(out, &c)
	}
	return out, rows.Err()
}
