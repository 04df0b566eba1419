package hospitalisation

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists admissions and their ledger. Find* methods return
// nil, nil when nothing matches; Get* and Lock* return a NotFound error.
// Lock* methods must run inside a transaction.
type Repository interface {
	// Admissions
	CreateAdmission(ctx context.Context, adm *Admission) error
	GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error)
	LockAdmission(ctx context.Context, id uuid.UUID) (*Admission, error)
	UpdateAdmission(ctx context.Context, adm *Admission) error
	FindActiveAdmission(ctx context.Context, patientID uuid.UUID) (*Admission, error)
	ListAdmissions(ctx context.Context, f AdmissionFilter, limit, offset int) ([]*Admission, int, error)

	// Bed-assignment ledger
	CreateAssignment(ctx context.Context, a *Assignment) error
	CloseAssignment(ctx context.Context, a *Assignment) error
	GetCurrentAssignment(ctx context.Context, admissionID uuid.UUID) (*Assignment, error)
	ListAssignments(ctx context.Context, admissionID uuid.UUID) ([]*Assignment, error)

	// Transfer log
	CreateTransfer(ctx context.Context, t *Transfer) error
	ListTransfers(ctx context.Context, admissionID uuid.UUID) ([]*Transfer, error)

	// Admission requests
	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	LockRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	UpdateRequest(ctx context.Context, r *Request) error
	ListRequests(ctx context.Context, f RequestFilter, limit, offset int) ([]*Request, int, error)
	FindWaitingRequest(ctx context.Context, patientID, serviceID uuid.UUID) (*Request, error)
	FindPendingTransferRequest(ctx context.Context, admissionID uuid.UUID) (*Request, error)
}
