package ward

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository defines the persistence interface for services, rooms and beds.
// Lock* methods take a row lock and must run inside a transaction.
type Repository interface {
	CreateService(ctx context.Context, svc *CareService) error
	GetService(ctx context.Context, id uuid.UUID) (*CareService, error)
	ListServices(ctx context.Context) ([]*CareService, error)

	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	LockRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	ListRooms(ctx context.Context, serviceID uuid.UUID, limit, offset int) ([]*Room, int, error)
	UpdateRoomPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error
	DeleteRoom(ctx context.Context, id uuid.UUID) error
	// RoomHasHistory reports whether any bed of the room was ever assigned.
	RoomHasHistory(ctx context.Context, id uuid.UUID) (bool, error)
	// DeactivateRoom marks the room and its beds inactive.
	DeactivateRoom(ctx context.Context, id uuid.UUID) error
	CountBeds(ctx context.Context, roomID uuid.UUID) (total, occupied int, err error)

	CreateBed(ctx context.Context, bed *Bed) error
	GetBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	ListBeds(ctx context.Context, roomID uuid.UUID) ([]*Bed, error)
	LockBed(ctx context.Context, id uuid.UUID) (*BedDetail, error)
	SetBedOccupied(ctx context.Context, id uuid.UUID, occupied, resetCleaning bool) error
	SetBedStatus(ctx context.Context, id uuid.UUID, status BedStatus) error
	MarkBedCleaned(ctx context.Context, id uuid.UUID, at time.Time) error

	ListAvailableBeds(ctx context.Context, serviceID uuid.UUID) ([]*AvailableBed, error)
	Occupancy(ctx context.Context, serviceID uuid.UUID) (*Occupancy, error)
}
