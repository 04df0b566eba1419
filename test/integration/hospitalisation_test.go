package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya/internal/domain/audit"
	"github.com/bjyoucef/inaya/internal/domain/hospitalisation"
	"github.com/bjyoucef/inaya/internal/domain/ward"
	"github.com/bjyoucef/inaya/internal/platform/apperr"
	"github.com/bjyoucef/inaya/internal/platform/auth"
	"github.com/bjyoucef/inaya/internal/platform/db"
)

type stack struct {
	ward  *ward.Service
	hosp  *hospitalisation.Service
	audit audit.Repository
}

func newStack(pool *pgxpool.Pool) *stack {
	tx := db.NewTxRunner(pool)
	rec := audit.NewRepo(pool)
	wardSvc := ward.NewService(ward.NewRepo(pool), tx, rec, zerolog.Nop())
	hosp := hospitalisation.NewService(hospitalisation.NewRepo(pool), wardSvc.Repo(), tx, rec, zerolog.Nop())
	hosp.SetNotifier(wardSvc)
	return &stack{ward: wardSvc, hosp: hosp, audit: rec}
}

func userCtx() context.Context {
	return auth.WithUser(context.Background(), "dr-haddad", []string{auth.RolePhysician})
}

// seedRooms creates a service with one room per price, each holding beds
// beds, and returns the bed ids room by room.
func seedRooms(t *testing.T, ctx context.Context, s *stack, code string, beds int, prices ...int64) (uuid.UUID, [][]uuid.UUID) {
	t.Helper()
	cs := &ward.CareService{Code: code, Name: code}
	if err := s.ward.CreateService(ctx, cs); err != nil {
		t.Fatalf("create service: %v", err)
	}
	var out [][]uuid.UUID
	for i, price := range prices {
		room := &ward.Room{ServiceID: cs.ID, Number: code + "-" + string(rune('1'+i)), Capacity: beds, NightlyPrice: decimal.NewFromInt(price)}
		if err := s.ward.CreateRoom(ctx, room); err != nil {
			t.Fatalf("create room: %v", err)
		}
		var ids []uuid.UUID
		for j := 0; j < beds; j++ {
			bed := &ward.Bed{RoomID: room.ID, Label: string(rune('A' + j))}
			if err := s.ward.AddBed(ctx, bed); err != nil {
				t.Fatalf("add bed: %v", err)
			}
			ids = append(ids, bed.ID)
		}
		out = append(out, ids)
	}
	return cs.ID, out
}

func TestAdmissionLifecycle(t *testing.T) {
	pool := newSchemaPool(t)
	s := newStack(pool)
	ctx := userCtx()

	serviceID, beds := seedRooms(t, ctx, s, "MED", 1, 15000, 20000)
	t0 := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Second)
	at := func(h int) *time.Time {
		v := t0.Add(time.Duration(h) * time.Hour)
		return &v
	}

	req := &hospitalisation.Request{PatientID: uuid.New(), ServiceID: serviceID, Reason: "pneumonia"}
	if err := s.hosp.RequestAdmission(ctx, req); err != nil {
		t.Fatalf("request: %v", err)
	}
	view, err := s.hosp.Admit(ctx, req.ID, hospitalisation.AdmitInput{BedID: beds[0][0], PhysicianID: uuid.New(), At: at(0)})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	bed, err := s.ward.GetBed(ctx, beds[0][0])
	if err != nil {
		t.Fatalf("get bed: %v", err)
	}
	if !bed.Occupied {
		t.Error("admitted bed must be occupied")
	}

	if _, err := s.hosp.TransferBed(ctx, view.ID, hospitalisation.TransferInput{BedID: beds[1][0], Reason: "isolation", At: at(24)}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	done, err := s.hosp.Discharge(ctx, view.ID, hospitalisation.DischargeInput{Destination: "home", Notes: "stable", At: at(48)})
	if err != nil {
		t.Fatalf("discharge: %v", err)
	}
	if done.Active || done.State != hospitalisation.StateDischarged {
		t.Errorf("unexpected discharged admission %+v", done.Admission)
	}
	if !done.TotalCost.Equal(decimal.NewFromInt(35000)) {
		t.Errorf("expected total 35000, got %s", done.TotalCost)
	}

	assignments, err := s.hosp.ListAssignments(ctx, view.ID)
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(assignments) != 2 || assignments[0].EndedAt == nil || !assignments[0].EndedAt.Equal(assignments[1].StartedAt) {
		t.Errorf("expected two contiguous intervals, got %+v", assignments)
	}

	released, _ := s.ward.GetBed(ctx, beds[1][0])
	if released.Occupied || !released.NeedsCleaning() {
		t.Errorf("discharged bed must be free and waiting for cleaning: %+v", released)
	}

	entries, total, err := s.audit.List(ctx, audit.Filter{EntityType: audit.EntityAdmission, EntityID: view.ID}, 50, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if total == 0 || entries[0].Actor != "dr-haddad" {
		t.Errorf("expected audit entries by dr-haddad, got %d", total)
	}
}

func TestDeleteRoomAfterDischarge(t *testing.T) {
	pool := newSchemaPool(t)
	s := newStack(pool)
	ctx := userCtx()
	serviceID, beds := seedRooms(t, ctx, s, "ORL", 1, 11000, 11000)

	req := &hospitalisation.Request{PatientID: uuid.New(), ServiceID: serviceID}
	if err := s.hosp.RequestAdmission(ctx, req); err != nil {
		t.Fatalf("request: %v", err)
	}
	view, err := s.hosp.Admit(ctx, req.ID, hospitalisation.AdmitInput{BedID: beds[0][0], PhysicianID: uuid.New()})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if _, err := s.hosp.Discharge(ctx, view.ID, hospitalisation.DischargeInput{Destination: "home"}); err != nil {
		t.Fatalf("discharge: %v", err)
	}

	used, err := s.ward.GetBed(ctx, beds[0][0])
	if err != nil {
		t.Fatalf("get bed: %v", err)
	}
	kept, err := s.ward.DeleteRoom(ctx, used.RoomID)
	if err != nil {
		t.Fatalf("delete used room: %v", err)
	}
	if kept == nil || kept.Active {
		t.Fatalf("expected the used room to be deactivated, got %+v", kept)
	}
	assignments, err := s.hosp.ListAssignments(ctx, view.ID)
	if err != nil || len(assignments) != 1 {
		t.Fatalf("expected the ledger to survive, got %d (%v)", len(assignments), err)
	}
	available, err := s.ward.AvailableBeds(ctx, serviceID)
	if err != nil {
		t.Fatalf("available beds: %v", err)
	}
	for _, b := range available {
		if b.RoomID == used.RoomID {
			t.Errorf("bed %s of the deactivated room is still offered", b.BedID)
		}
	}

	// The untouched room is deleted outright.
	spare, err := s.ward.GetBed(ctx, beds[1][0])
	if err != nil {
		t.Fatalf("get bed: %v", err)
	}
	kept, err = s.ward.DeleteRoom(ctx, spare.RoomID)
	if err != nil || kept != nil {
		t.Fatalf("expected a plain delete, got %+v (%v)", kept, err)
	}
	if _, err := s.ward.GetRoom(ctx, spare.RoomID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected the room to be gone, got %v", err)
	}
}

func TestDuplicateActiveAdmission(t *testing.T) {
	pool := newSchemaPool(t)
	s := newStack(pool)
	ctx := userCtx()
	serviceID, beds := seedRooms(t, ctx, s, "CHIR", 2, 12000)
	patient := uuid.New()

	req := &hospitalisation.Request{PatientID: patient, ServiceID: serviceID}
	if err := s.hosp.RequestAdmission(ctx, req); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := s.hosp.Admit(ctx, req.ID, hospitalisation.AdmitInput{BedID: beds[0][0], PhysicianID: uuid.New()}); err != nil {
		t.Fatalf("admit: %v", err)
	}

	err := s.hosp.RequestAdmission(ctx, &hospitalisation.Request{PatientID: patient, ServiceID: serviceID})
	if !errors.Is(err, apperr.ErrDuplicateActiveAdmission) {
		t.Errorf("expected DuplicateActiveAdmission, got %v", err)
	}
}

func TestConcurrentAdmissionsOnOneBed(t *testing.T) {
	pool := newSchemaPool(t)
	s := newStack(pool)
	ctx := userCtx()
	serviceID, beds := seedRooms(t, ctx, s, "PED", 1, 9000)

	const n = 6
	reqs := make([]*hospitalisation.Request, n)
	for i := range reqs {
		reqs[i] = &hospitalisation.Request{PatientID: uuid.New(), ServiceID: serviceID}
		if err := s.hosp.RequestAdmission(ctx, reqs[i]); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.hosp.Admit(ctx, reqs[i].ID, hospitalisation.AdmitInput{BedID: beds[0][0], PhysicianID: uuid.New()})
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, apperr.ErrBedUnavailable):
		default:
			t.Errorf("admission %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one admission to win the bed, got %d", wins)
	}

	var current int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM bed_assignment WHERE bed_id = $1 AND ended_at IS NULL`, beds[0][0]).Scan(&current); err != nil {
		t.Fatalf("count: %v", err)
	}
	if current != 1 {
		t.Errorf("expected one current assignment, got %d", current)
	}
}
