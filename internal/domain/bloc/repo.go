package bloc

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists blocs, forfaits and rentals. FindInProgress returns
// nil, nil when the bloc is free.
type Repository interface {
	CreateBloc(ctx context.Context, b *Bloc) error
	GetBloc(ctx context.Context, id uuid.UUID) (*Bloc, error)
	LockBloc(ctx context.Context, id uuid.UUID) (*Bloc, error)
	ListBlocs(ctx context.Context) ([]*Bloc, error)

	// CreateForfait stores the forfait and its items.
	CreateForfait(ctx context.Context, f *Forfait) error
	GetForfait(ctx context.Context, id uuid.UUID) (*Forfait, error)
	ListForfaits(ctx context.Context, blocID uuid.UUID) ([]*Forfait, error)

	CreateRental(ctx context.Context, r *Rental) error
	GetRental(ctx context.Context, id uuid.UUID) (*Rental, error)
	LockRental(ctx context.Context, id uuid.UUID) (*Rental, error)
	UpdateRental(ctx context.Context, r *Rental) error
	ListRentals(ctx context.Context, f RentalFilter, limit, offset int) ([]*Rental, int, error)
	FindInProgress(ctx context.Context, blocID uuid.UUID) (*Rental, error)

	// UpsertConsumption replaces the line for the same rental and item code.
	UpsertConsumption(ctx context.Context, c *Consumption) error
	ListConsumptions(ctx context.Context, rentalID uuid.UUID) ([]*Consumption, error)
}
