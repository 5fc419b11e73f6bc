package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/api/middleware"
	"github.com/angelmondragon/terminalpay/internal/pos"
	"github.com/angelmondragon/terminalpay/internal/reconciliation"
	"github.com/angelmondragon/terminalpay/internal/terminals"
	"github.com/angelmondragon/terminalpay/pkg/auth"
	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "controllers-test", Output: io.Discard})
}

func withUser(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithIdentity(req.Context(), auth.Identity{
		UserID:    userID,
		Role:      enums.MemberRoleCashier,
		POSClient: "scanner-app",
	}))
}

func withURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func jsonBody(t *testing.T, payload any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(raw)
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error.Code
}

type stubChargeStarter struct {
	startFn func(ctx context.Context, input pos.StartChargeInput) (*reconciliation.ChargeView, error)
}

func (s stubChargeStarter) StartCharge(ctx context.Context, input pos.StartChargeInput) (*reconciliation.ChargeView, error) {
	return s.startFn(ctx, input)
}

func TestChargeCreate(t *testing.T) {
	userID := uuid.New()
	orderID := uuid.New()
	var got pos.StartChargeInput
	svc := stubChargeStarter{startFn: func(ctx context.Context, input pos.StartChargeInput) (*reconciliation.ChargeView, error) {
		got = input
		return &reconciliation.ChargeView{ChargeID: "BOLD-1", Status: enums.ChargeStatusPending}, nil
	}}

	req := httptest.NewRequest(http.MethodPost, "/", jsonBody(t, map[string]any{
		"order_id":       orderID.String(),
		"ticket_tier_id": uuid.NewString(),
		"amount":         25000,
		"terminal_id":    "T-100",
	}))
	req.Header.Set(posClientHeader, "android-pos")
	req.Header.Set("X-Forwarded-For", "10.1.2.3, 10.0.0.1")
	req = withUser(req, userID)
	resp := httptest.NewRecorder()
	ChargeCreate(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.TransactionID != orderID || got.UserID != userID || got.AmountCents != 25000 {
		t.Fatalf("unexpected input %+v", got)
	}
	if got.POSClient != "android-pos" || got.IPAddress != "10.1.2.3" {
		t.Fatalf("unexpected client metadata %+v", got)
	}
}

func TestChargeCreateRejectsInvalidBody(t *testing.T) {
	called := false
	svc := stubChargeStarter{startFn: func(ctx context.Context, input pos.StartChargeInput) (*reconciliation.ChargeView, error) {
		called = true
		return nil, nil
	}}
	req := httptest.NewRequest(http.MethodPost, "/", jsonBody(t, map[string]any{
		"order_id":    "not-a-uuid",
		"amount":      0,
		"terminal_id": "T-100",
	}))
	req = withUser(req, uuid.New())
	resp := httptest.NewRecorder()
	ChargeCreate(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if called {
		t.Fatalf("service should not be called on invalid body")
	}
}

func TestChargeCreateRequiresUser(t *testing.T) {
	svc := stubChargeStarter{}
	req := httptest.NewRequest(http.MethodPost, "/", jsonBody(t, map[string]any{}))
	resp := httptest.NewRecorder()
	ChargeCreate(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

type stubChargeReader struct {
	statusFn    func(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error)
	reconcileFn func(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error)
}

func (s stubChargeReader) GetChargeStatus(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error) {
	return s.statusFn(ctx, chargeID)
}

func (s stubChargeReader) ReconcileCharge(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error) {
	return s.reconcileFn(ctx, chargeID)
}

func TestChargeStatusNotFound(t *testing.T) {
	svc := stubChargeReader{statusFn: func(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Charge not found")
	}}
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"chargeId": "BOLD-404"})
	resp := httptest.NewRecorder()
	ChargeStatus(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != string(pkgerrors.CodeNotFound) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestChargeReconcile(t *testing.T) {
	svc := stubChargeReader{reconcileFn: func(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error) {
		return &reconciliation.ChargeView{ChargeID: chargeID, Status: enums.ChargeStatusApproved}, nil
	}}
	req := withURLParams(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"chargeId": "BOLD-7"})
	resp := httptest.NewRecorder()
	ChargeReconcile(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data struct {
			Message string                    `json:"message"`
			Charge  reconciliation.ChargeView `json:"charge"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Message != "Reconciliation triggered" || envelope.Data.Charge.ChargeID != "BOLD-7" {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}
}

type stubWebhookProcessor struct {
	result *reconciliation.WebhookResult
	err    error
	sig    string
	body   []byte
}

func (s *stubWebhookProcessor) ProcessWebhook(ctx context.Context, signature string, rawBody []byte) (*reconciliation.WebhookResult, error) {
	s.sig = signature
	s.body = rawBody
	return s.result, s.err
}

func decodeAck(t *testing.T, resp *httptest.ResponseRecorder) webhookAck {
	t.Helper()
	var ack webhookAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack
}

func TestBoldWebhookOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		result    *reconciliation.WebhookResult
		err       error
		status    int
		processed bool
		message   string
	}{
		{
			name:      "processed",
			result:    &reconciliation.WebhookResult{Processed: true, ChargeID: "BOLD-1"},
			status:    http.StatusOK,
			processed: true,
			message:   "Webhook processed successfully",
		},
		{
			name:    "duplicate",
			result:  &reconciliation.WebhookResult{Duplicate: true},
			status:  http.StatusOK,
			message: "Webhook acknowledged",
		},
		{
			name:    "bad signature",
			err:     pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid signature"),
			status:  http.StatusUnauthorized,
			message: "Invalid signature",
		},
		{
			name:    "internal failure still acknowledged",
			err:     errors.New("db down"),
			status:  http.StatusOK,
			message: "Internal processing error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubWebhookProcessor{result: tc.result, err: tc.err}
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"id":"evt-1"}`))
			req.Header.Set(reconciliation.SignatureHeader, "sig")
			resp := httptest.NewRecorder()
			BoldWebhook(svc, testLogger()).ServeHTTP(resp, req)

			if resp.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, resp.Code)
			}
			ack := decodeAck(t, resp)
			if ack.Processed != tc.processed || ack.Message != tc.message {
				t.Fatalf("unexpected ack %+v", ack)
			}
			if svc.sig != "sig" || string(svc.body) != `{"id":"evt-1"}` {
				t.Fatalf("raw body or signature not forwarded: %q %q", svc.sig, svc.body)
			}
		})
	}
}

type stubAssignments struct {
	available []terminals.AvailableTerminal
	assigned  *models.TerminalAssignment
	current   *terminals.AssignmentView
	status    *terminals.StatusView
	err       error
	lastInput terminals.AssignInput
	released  bool
}

func (s *stubAssignments) AvailableTerminals(ctx context.Context, userID, eventID uuid.UUID) ([]terminals.AvailableTerminal, error) {
	return s.available, s.err
}

func (s *stubAssignments) Assign(ctx context.Context, input terminals.AssignInput) (*models.TerminalAssignment, error) {
	s.lastInput = input
	return s.assigned, s.err
}

func (s *stubAssignments) CurrentAssignment(ctx context.Context, userID, eventID uuid.UUID) (*terminals.AssignmentView, error) {
	return s.current, s.err
}

func (s *stubAssignments) Release(ctx context.Context, userID, eventID uuid.UUID) error {
	s.released = s.err == nil
	return s.err
}

func (s *stubAssignments) TerminalStatus(ctx context.Context, userID uuid.UUID, terminalID string) (*terminals.StatusView, error) {
	return s.status, s.err
}

func TestTerminalAssign(t *testing.T) {
	location := "Gate A"
	eventID := uuid.New()
	svc := &stubAssignments{assigned: &models.TerminalAssignment{
		TerminalID: "T-1",
		Location:   &location,
		AssignedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}
	req := httptest.NewRequest(http.MethodPost, "/", jsonBody(t, map[string]string{
		"eventId":    eventID.String(),
		"terminalId": "T-1",
		"location":   location,
	}))
	req = withUser(req, uuid.New())
	resp := httptest.NewRecorder()
	TerminalAssign(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.lastInput.EventID != eventID || svc.lastInput.TerminalID != "T-1" {
		t.Fatalf("unexpected assign input %+v", svc.lastInput)
	}
	var envelope struct {
		Data assignmentResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.TerminalID != "T-1" || envelope.Data.Location == nil || *envelope.Data.Location != location {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}
}

func TestTerminalAssignmentNoneReturnsNullData(t *testing.T) {
	svc := &stubAssignments{}
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"eventId": uuid.NewString()})
	req = withUser(req, uuid.New())
	resp := httptest.NewRecorder()
	TerminalAssignment(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(envelope["data"]) != "null" {
		t.Fatalf("expected null data got %s", envelope["data"])
	}
}

func TestTerminalReleaseNotFound(t *testing.T) {
	svc := &stubAssignments{err: pkgerrors.New(pkgerrors.CodeNotFound, "No active terminal assignment found")}
	req := withURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"eventId": uuid.NewString()})
	req = withUser(req, uuid.New())
	resp := httptest.NewRecorder()
	TerminalRelease(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestTerminalsAvailableRejectsBadEvent(t *testing.T) {
	svc := &stubAssignments{}
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"eventId": "nope"})
	req = withUser(req, uuid.New())
	resp := httptest.NewRecorder()
	TerminalsAvailable(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestTerminalStatusForbidden(t *testing.T) {
	svc := &stubAssignments{err: pkgerrors.New(pkgerrors.CodeForbidden, "terminal belongs to another organization")}
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"terminalId": "T-9"})
	req = withUser(req, uuid.New())
	resp := httptest.NewRecorder()
	TerminalStatus(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

type stubPOS struct {
	chargeFn  func(ctx context.Context, input pos.ChargeOrderInput) (*pos.ChargeOrderResult, error)
	pending   []models.TicketTransaction
	lastLimit int
}

func (s *stubPOS) ChargeOrder(ctx context.Context, input pos.ChargeOrderInput) (*pos.ChargeOrderResult, error) {
	return s.chargeFn(ctx, input)
}

func (s *stubPOS) GetCharge(ctx context.Context, chargeID string) (*reconciliation.ChargeView, error) {
	return &reconciliation.ChargeView{ChargeID: chargeID}, nil
}

func (s *stubPOS) PendingOrders(ctx context.Context, eventID uuid.UUID, limit int) ([]models.TicketTransaction, error) {
	s.lastLimit = limit
	return s.pending, nil
}

func TestPOSChargeConflict(t *testing.T) {
	svc := &stubPOS{chargeFn: func(ctx context.Context, input pos.ChargeOrderInput) (*pos.ChargeOrderResult, error) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "Terminal is busy processing another payment")
	}}
	req := httptest.NewRequest(http.MethodPost, "/", jsonBody(t, map[string]string{
		"transactionId": uuid.NewString(),
		"terminalId":    "T-1",
	}))
	req = withUser(req, uuid.New())
	resp := httptest.NewRecorder()
	POSCharge(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
}

func TestPOSPendingOrdersLimit(t *testing.T) {
	svc := &stubPOS{}
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/?limit=10", nil), map[string]string{"eventId": uuid.NewString()})
	resp := httptest.NewRecorder()
	POSPendingOrders(svc, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.lastLimit != 10 {
		t.Fatalf("expected limit 10 got %d", svc.lastLimit)
	}

	req = withURLParams(httptest.NewRequest(http.MethodGet, "/?limit=5000", nil), map[string]string{"eventId": uuid.NewString()})
	resp = httptest.NewRecorder()
	POSPendingOrders(svc, testLogger()).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized limit got %d", resp.Code)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	resp := httptest.NewRecorder()
	HealthReady(cfg, testLogger(), map[string]Pinger{"db": fakePinger{}, "redis": fakePinger{}}).
		ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp.Header().Get(envHeader) != "test" {
		t.Fatalf("missing env header")
	}

	resp = httptest.NewRecorder()
	HealthReady(cfg, testLogger(), map[string]Pinger{"db": fakePinger{}, "redis": fakePinger{err: errors.New("refused")}}).
		ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}
