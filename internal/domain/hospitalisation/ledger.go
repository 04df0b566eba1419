package hospitalisation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bjyoucef/inaya/internal/domain/ward"
	"github.com/bjyoucef/inaya/internal/platform/apperr"
	"github.com/bjyoucef/inaya/internal/platform/cache"
)

// Ledger keeps each admission's bed assignments ordered and
// non-overlapping. Every method must run inside a transaction: the bed rows
// it touches are locked until commit. The bed events it returns are to be
// published once the transaction has committed.
type Ledger struct {
	repo Repository
	beds ward.Repository
}

func NewLedger(repo Repository, beds ward.Repository) *Ledger {
	return &Ledger{repo: repo, beds: beds}
}

// Current returns the admission's open assignment, or nil while the patient
// has no bed.
func (l *Ledger) Current(ctx context.Context, admissionID uuid.UUID) (*Assignment, error) {
	return l.repo.GetCurrentAssignment(ctx, admissionID)
}

// Open puts the admission in bedID from at. A current assignment is closed
// at the same instant, so the new interval starts where the previous one
// ends. Reopening onto the bed the admission already occupies closes the
// interval and starts a new one that keeps billing from the stay's start.
func (l *Ledger) Open(ctx context.Context, admissionID, bedID uuid.UUID, at time.Time) (*Assignment, []cache.BedEvent, error) {
	bed, err := l.beds.LockBed(ctx, bedID)
	if err != nil {
		return nil, nil, err
	}
	cur, err := l.repo.GetCurrentAssignment(ctx, admissionID)
	if err != nil {
		return nil, nil, err
	}
	if err := l.checkAfterLast(ctx, admissionID, cur, at); err != nil {
		return nil, nil, err
	}

	var events []cache.BedEvent
	var anchor *time.Time
	sameBed := cur != nil && cur.BedID == bedID
	if sameBed {
		start := cur.Anchor()
		anchor = &start
		ev, err := l.Close(ctx, cur, at, false)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, ev)
		bed.Occupied = false
	}
	if err := bed.CheckAssignable(); err != nil {
		return nil, nil, err
	}
	if cur != nil && !sameBed {
		ev, err := l.Close(ctx, cur, at, true)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, ev)
	}

	rate := bed.Rate()
	a := &Assignment{
		AdmissionID:   admissionID,
		BedID:         bedID,
		ServiceID:     bed.ServiceID,
		StartedAt:     at,
		NightlyPrice:  rate.NightlyPrice,
		BillingMode:   rate.Mode,
		HourlyRate:    rate.HourlyRate,
		BillingAnchor: anchor,
	}
	if err := l.beds.SetBedOccupied(ctx, bedID, true, false); err != nil {
		return nil, nil, err
	}
	if err := l.repo.CreateAssignment(ctx, a); err != nil {
		return nil, nil, err
	}

	aid := admissionID
	events = append(events, cache.BedEvent{
		Type:        cache.BedOccupied,
		BedID:       bedID,
		RoomID:      bed.RoomID,
		ServiceID:   bed.ServiceID,
		AdmissionID: &aid,
		Status:      string(bed.Status),
		At:          at,
	})
	return a, events, nil
}

// Close ends a at the given instant, stores its cost and frees the bed.
// With resetCleaning the bed is flagged for housekeeping.
func (l *Ledger) Close(ctx context.Context, a *Assignment, at time.Time, resetCleaning bool) (cache.BedEvent, error) {
	if !a.IsCurrent || a.EndedAt != nil {
		return cache.BedEvent{}, apperr.InvalidTransition("assignment %s is already closed", a.ID)
	}
	if at.Before(a.StartedAt) {
		return cache.BedEvent{}, apperr.Validation("end %s is before the assignment start %s",
			at.Format(time.RFC3339), a.StartedAt.Format(time.RFC3339))
	}
	bed, err := l.beds.LockBed(ctx, a.BedID)
	if err != nil {
		return cache.BedEvent{}, err
	}

	cost := closingCost(a, at)
	end := at
	a.EndedAt = &end
	a.IsCurrent = false
	a.Cost = &cost
	if err := l.repo.CloseAssignment(ctx, a); err != nil {
		return cache.BedEvent{}, err
	}
	if err := l.beds.SetBedOccupied(ctx, a.BedID, false, resetCleaning); err != nil {
		return cache.BedEvent{}, err
	}

	aid := a.AdmissionID
	return cache.BedEvent{
		Type:          cache.BedReleased,
		BedID:         a.BedID,
		RoomID:        bed.RoomID,
		ServiceID:     bed.ServiceID,
		AdmissionID:   &aid,
		Status:        string(bed.Status),
		NeedsCleaning: resetCleaning || bed.NeedsCleaning(),
		At:            at,
	}, nil
}

// checkAfterLast rejects an instant earlier than the start of the current
// interval or, with no current interval, the end of the last closed one.
func (l *Ledger) checkAfterLast(ctx context.Context, admissionID uuid.UUID, cur *Assignment, at time.Time) error {
	if cur != nil {
		if at.Before(cur.StartedAt) {
			return apperr.Validation("%s is before the current assignment start %s",
				at.Format(time.RFC3339), cur.StartedAt.Format(time.RFC3339))
		}
		return nil
	}
	last, err := l.lastClosed(ctx, admissionID)
	if err != nil || last == nil {
		return err
	}
	if at.Before(*last.EndedAt) {
		return apperr.Validation("%s is before the end of the previous assignment %s",
			at.Format(time.RFC3339), last.EndedAt.Format(time.RFC3339))
	}
	return nil
}

// lastClosed returns the closed assignment that ended last, or nil.
func (l *Ledger) lastClosed(ctx context.Context, admissionID uuid.UUID) (*Assignment, error) {
	all, err := l.repo.ListAssignments(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	var last *Assignment
	for _, a := range all {
		if a.EndedAt == nil {
			continue
		}
		if last == nil || a.EndedAt.After(*last.EndedAt) {
			last = a
		}
	}
	return last, nil
}
