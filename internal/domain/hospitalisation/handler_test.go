package hospitalisation_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya/internal/domain/hospitalisation"
)

func newTestHandler(t *testing.T) (*hospitalisation.Handler, *fixture, *echo.Echo) {
	f := newFixture(t)
	return hospitalisation.NewHandler(f.svc), f, echo.New()
}

func jsonRequest(f *fixture, method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(f.ctx)
}

func TestHandler_CreateRequestAndAdmit(t *testing.T) {
	h, f, e := newTestHandler(t)
	cs, _, beds := f.beds.Seed("MED", decimal.NewFromInt(15000), 1)

	body := `{"patient_id":"` + uuid.NewString() + `","service_id":"` + cs.ID.String() + `","reason":"fever"}`
	rec := httptest.NewRecorder()
	if err := h.CreateRequest(e.NewContext(jsonRequest(f, http.MethodPost, body), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created hospitalisation.Request
	json.Unmarshal(rec.Body.Bytes(), &created)

	body = `{"bed_id":"` + beds[0].ID.String() + `","physician_id":"` + uuid.NewString() + `","at":"` +
		day0.Format(time.RFC3339) + `"}`
	rec = httptest.NewRecorder()
	c := e.NewContext(jsonRequest(f, http.MethodPost, body), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.Admit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var view struct {
		ID      uuid.UUID                     `json:"id"`
		State   hospitalisation.State         `json:"state"`
		Current *hospitalisation.Assignment   `json:"current_assignment"`
		Cost    hospitalisation.CostBreakdown `json:"cost"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.State != hospitalisation.StateAssigned || view.Current == nil {
		t.Errorf("unexpected admission body %s", rec.Body.String())
	}
	// Four days as of the fixture clock.
	if !view.Cost.Total.Equal(decimal.NewFromInt(60000)) {
		t.Errorf("expected running cost 60000, got %s", view.Cost.Total)
	}
}

func TestHandler_AdmitOccupiedBed_Conflict(t *testing.T) {
	h, f, e := newTestHandler(t)
	cs, _, beds := f.beds.Seed("MED", decimal.NewFromInt(15000), 1)
	f.admit(t, cs.ID, beds[0].ID)
	req := f.request(t, uuid.New(), cs.ID)

	body := `{"bed_id":"` + beds[0].ID.String() + `","physician_id":"` + uuid.NewString() + `"}`
	c := e.NewContext(jsonRequest(f, http.MethodPost, body), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(req.ID.String())

	err := h.Admit(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_Discharge_MissingNotes(t *testing.T) {
	h, f, e := newTestHandler(t)
	cs, _, beds := f.beds.Seed("MED", decimal.NewFromInt(15000), 1)
	view := f.admit(t, cs.ID, beds[0].ID)

	c := e.NewContext(jsonRequest(f, http.MethodPost, `{"destination":"home"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(view.ID.String())

	err := h.Discharge(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetAdmission_NotFound(t *testing.T) {
	h, f, e := newTestHandler(t)

	c := e.NewContext(jsonRequest(f, http.MethodGet, ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())

	err := h.GetAdmission(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_InvalidID(t *testing.T) {
	h, f, e := newTestHandler(t)

	c := e.NewContext(jsonRequest(f, http.MethodGet, ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.GetCost(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ListRequests_DefaultsToWaiting(t *testing.T) {
	h, f, e := newTestHandler(t)
	cs, _, _ := f.beds.Seed("MED", decimal.NewFromInt(15000), 1)
	f.request(t, uuid.New(), cs.ID)
	cancelled := f.request(t, uuid.New(), cs.ID)
	if _, err := f.svc.CancelRequest(f.ctx, cancelled.ID, "duplicate"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admission-requests?service_id="+cs.ID.String(), nil)
	rec := httptest.NewRecorder()
	if err := h.ListRequests(e.NewContext(req.WithContext(f.ctx), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var page struct {
		Data  []hospitalisation.Request `json:"data"`
		Total int                       `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || len(page.Data) != 1 || page.Data[0].Status != hospitalisation.RequestWaiting {
		t.Errorf("expected one waiting request, got %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admission-requests?service_id=bad", nil)
	err := h.ListRequests(e.NewContext(req, httptest.NewRecorder()))
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad service_id, got %v", err)
	}
}

func TestHandler_TransferService(t *testing.T) {
	h, f, e := newTestHandler(t)
	med, _, medBeds := f.beds.Seed("MED", decimal.NewFromInt(15000), 1)
	chir, _, _ := f.beds.Seed("CHIR", decimal.NewFromInt(18000), 1)
	view := f.admit(t, med.ID, medBeds[0].ID)

	body := `{"service_id":"` + chir.ID.String() + `","reason":"surgery"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(f, http.MethodPost, body), rec)
	c.SetParamNames("id")
	c.SetParamValues(view.ID.String())
	if err := h.TransferService(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		Admission struct {
			State hospitalisation.State `json:"state"`
		} `json:"admission"`
		Request hospitalisation.Request `json:"request"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Admission.State != hospitalisation.StateWaitingTransfer || out.Request.Origin != hospitalisation.OriginTransfer {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
