// Package audit records who changed which ward, admission or bloc entity.
// Services write entries explicitly inside the transaction of the change;
// nothing is captured implicitly.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bjyoucef/inaya/internal/platform/auth"
	"github.com/bjyoucef/inaya/internal/platform/middleware"
)

// EntityType tags the table an entry's EntityID points into.
type EntityType string

const (
	EntityService    EntityType = "service"
	EntityRoom       EntityType = "room"
	EntityBed        EntityType = "bed"
	EntityAdmission  EntityType = "admission"
	EntityAssignment EntityType = "assignment"
	EntityRequest    EntityType = "request"
	EntityBloc       EntityType = "bloc"
	EntityBlocRental EntityType = "bloc_rental"
)

var validEntityTypes = map[EntityType]bool{
	EntityService:    true,
	EntityRoom:       true,
	EntityBed:        true,
	EntityAdmission:  true,
	EntityAssignment: true,
	EntityRequest:    true,
	EntityBloc:       true,
	EntityBlocRental: true,
}

func (t EntityType) Valid() bool {
	return validEntityTypes[t]
}

type Entry struct {
	ID         uuid.UUID       `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Action     string          `json:"action"`
	Actor      string          `json:"actor,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	At         time.Time       `json:"at"`
}

// NewEntry builds an entry attributed to the caller found in ctx. detail is
// marshalled as JSON; nil leaves it empty.
func NewEntry(ctx context.Context, et EntityType, id uuid.UUID, action string, detail interface{}) Entry {
	e := Entry{
		EntityType: et,
		EntityID:   id,
		Action:     action,
		Actor:      auth.UserIDFromContext(ctx),
		RequestID:  middleware.RequestIDFromContext(ctx),
	}
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			e.Detail = raw
		}
	}
	return e
}

// Recorder persists entries. Record joins the transaction carried by ctx.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	EntityType EntityType
	EntityID   uuid.UUID
	Actor      string
}

type Repository interface {
	Recorder
	List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
