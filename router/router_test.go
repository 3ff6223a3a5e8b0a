package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIGmindz/chainbridge/event"
	"github.com/BIGmindz/chainbridge/metric"
	"github.com/BIGmindz/chainbridge/pkg/retry"
	"github.com/BIGmindz/chainbridge/token"
)

type fakeRisk struct {
	mu    sync.Mutex
	resp  RiskResponse
	err   error
	calls int
}

func (f *fakeRisk) Score(_ context.Context, _ RiskRequest) (RiskResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.resp, f.err
}

type fakeSettlement struct {
	mu    sync.Mutex
	resp  SettlementResponse
	err   error
	calls int
	last  SettlementRequest
}

func (f *fakeSettlement) Trigger(_ context.Context, req SettlementRequest) (SettlementResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	return f.resp, f.err
}

type fakeDashboard struct {
	mu       sync.Mutex
	events   []*event.Event
	failures int // fail the first N calls
	calls    int
}

func (f *fakeDashboard) Emit(_ context.Context, e *event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return fmt.Errorf("dashboard unavailable")
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeDashboard) emitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func fastRetries() map[string]retry.Config {
	fast := retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
	return map[string]retry.Config{
		CollaboratorRisk:       fast,
		CollaboratorSettlement: fast,
		CollaboratorDashboard:  fast,
	}
}

func newTestRouter(t *testing.T) (*Router, *token.Store, *fakeRisk, *fakeSettlement, *fakeDashboard) {
	t.Helper()
	store := token.NewStore()
	risk := &fakeRisk{resp: RiskResponse{RiskScore: 10, RiskLabel: "LOW"}}
	settlement := &fakeSettlement{resp: SettlementResponse{Accepted: true, NewState: "ESCROWED"}}
	dashboard := &fakeDashboard{}
	cfg := DefaultConfig()
	cfg.RetryPolicies = fastRetries()
	r := New(store, risk, settlement, dashboard, metric.NewMetrics(), nil, cfg)
	return r, store, risk, settlement, dashboard
}

func evt(eventType event.Type, shipmentID string, payload map[string]any) *event.Event {
	return event.New(eventType, "", shipmentID, "test-actor", payload)
}

// seedShipment puts an ST-01 token directly into the given state.
func seedShipment(t *testing.T, store *token.Store, shipmentID string, state token.State) *token.Token {
	t.Helper()
	tok, err := token.New(token.TypeShipment, shipmentID, map[string]any{"origin": "DAL"}, nil)
	require.NoError(t, err)
	tok.State = state
	require.NoError(t, store.Put(tok))
	return tok
}

func TestSubmit_TenderCreatesShipment(t *testing.T) {
	r, store, risk, _, dashboard := newTestRouter(t)

	res, err := r.Submit(context.Background(), evt(event.TypeEDITenderRequest, "SHIP-001",
		map[string]any{"origin": "DAL", "destination": "HOU", "carrier_id": "CARR-9"}))
	require.NoError(t, err)
	assert.Equal(t, DecisionProcessed, res.Decision)
	require.Len(t, res.TokensCreated, 1)

	tok, err := store.Get(res.TokensCreated[0])
	require.NoError(t, err)
	assert.Equal(t, token.TypeShipment, tok.Type)
	assert.Equal(t, token.ShipmentCreated, tok.State)
	assert.Equal(t, "DAL", tok.Metadata["origin"])

	assert.Equal(t, 1, risk.calls)
	assert.Equal(t, 1, dashboard.emitted())
}

func TestSubmit_DuplicateShipmentWarnsWithoutCreating(t *testing.T) {
	r, store, _, _, _ := newTestRouter(t)
	seedShipment(t, store, "SHIP-001", token.ShipmentCreated)

	res, err := r.Submit(context.Background(), evt(event.TypeEDITenderRequest, "SHIP-001", nil))
	require.NoError(t, err)
	assert.Empty(t, res.TokensCreated)
	assert.NotEmpty(t, res.Warnings)
	assert.Equal(t, 1, store.Len())
}

func TestSubmit_GeofenceExitTransitionsAndCreatesMilestone(t *testing.T) {
	r, store, _, _, _ := newTestRouter(t)
	ship := seedShipment(t, store, "SHIP-001", token.ShipmentDispatched)

	res, err := r.Submit(context.Background(), evt(event.TypeIoTGeofenceExit, "SHIP-001",
		map[string]any{"geofence_type": "SHIPPER_PICKUP", "location": "DAL-YARD"}))
	require.NoError(t, err)
	assert.Equal(t, DecisionProcessed, res.Decision)
	assert.Empty(t, res.Errors)

	require.Len(t, res.TokensTransitioned, 1)
	assert.Equal(t, token.ShipmentDispatched, res.TokensTransitioned[0].From)
	assert.Equal(t, token.ShipmentInTransit, res.TokensTransitioned[0].To)

	require.Len(t, res.TokensCreated, 1)
	milestone, err := store.Get(res.TokensCreated[0])
	require.NoError(t, err)
	assert.Equal(t, token.TypeMovement, milestone.Type)
	assert.Equal(t, "IN_TRANSIT", milestone.Metadata["milestone_type"])
	assert.Equal(t, "DAL-YARD", milestone.Metadata["location"])
	assert.Equal(t, []string{"SHIP-001"}, milestone.Relations["st01_id"])

	// The shipment token gains the reverse relation
	updated, err := store.Get(ship.ID)
	require.NoError(t, err)
	assert.Contains(t, updated.Relations[token.RelationMilestones], milestone.ID)
}

func TestSubmit_GeofenceEnterWithoutEligibleShipmentWarns(t *testing.T) {
	r, store, _, _, _ := newTestRouter(t)
	seedShipment(t, store, "SHIP-001", token.ShipmentCreated)

	// ENTER requires IN_TRANSIT; a CREATED shipment only gets the milestone
	res, err := r.Submit(context.Background(), evt(event.TypeIoTGeofenceEnter, "SHIP-001",
		map[string]any{"geofence_type": "TERMINAL"}))
	require.NoError(t, err)
	assert.Empty(t, res.TokensTransitioned)
	assert.Len(t, res.TokensCreated, 1)
	assert.NotEmpty(t, res.Warnings)
}

func TestSubmit_EDIStatusCodes(t *testing.T) {
	tests := []struct {
		code       string
		seedState  token.State
		wantState  token.State
		transition bool
		milestone  string
	}{
		{"AG", token.ShipmentCreated, token.ShipmentDispatched, true, "PICKUP_DEPARTED"},
		{"AF", token.ShipmentDispatched, token.ShipmentInTransit, true, "IN_TRANSIT"},
		{"X1", token.ShipmentInTransit, token.ShipmentArrived, true, "TERMINAL_ARRIVED"},
		{"X3", token.ShipmentInTransit, token.ShipmentInTransit, false, "TERMINAL_DEPARTED"},
		{"X6", token.ShipmentInTransit, token.ShipmentInTransit, false, "CHECKPOINT_ARRIVED"},
		{"D1", token.ShipmentArrived, token.ShipmentDelivered, true, "DELIVERED"},
	}

	for _, test := range tests {
		t.Run(test.code, func(t *testing.T) {
			r, store, _, _, _ := newTestRouter(t)
			ship := seedShipment(t, store, "SHIP-001", test.seedState)

			res, err := r.Submit(context.Background(), evt(event.TypeEDIStatusUpdate, "SHIP-001",
				map[string]any{"status_code": test.code}))
			require.NoError(t, err)
			assert.Empty(t, res.Errors)

			got, err := store.Get(ship.ID)
			require.NoError(t, err)
			assert.Equal(t, test.wantState, got.State)
			if test.transition {
				require.Len(t, res.TokensTransitioned, 1)
			} else {
				assert.Empty(t, res.TokensTransitioned)
			}

			require.Len(t, res.TokensCreated, 1)
			milestone, err := store.Get(res.TokensCreated[0])
			require.NoError(t, err)
			assert.Equal(t, test.milestone, milestone.Metadata["milestone_type"])
		})
	}
}

func TestSubmit_DeliveryTriggersSettlement(t *testing.T) {
	r, store, _, settlement, _ := newTestRouter(t)
	seedShipment(t, store, "SHIP-001", token.ShipmentArrived)

	_, err := r.Submit(context.Background(), evt(event.TypeEDIStatusUpdate, "SHIP-001",
		map[string]any{"status_code": "D1"}))
	require.NoError(t, err)
	assert.Equal(t, 1, settlement.calls)
}

func TestSubmit_SettlementInitiatedCreatesPayment(t *testing.T) {
	r, store, _, settlement, _ := newTestRouter(t)
	ship := seedShipment(t, store, "SHIP-001", token.ShipmentDelivered)

	res, err := r.Submit(context.Background(), evt(event.TypeSettlementInitiated, "SHIP-001",
		map[string]any{"amount": 1250.00, "currency": "USD"}))
	require.NoError(t, err)
	require.Len(t, res.TokensCreated, 1)

	payment, err := store.Get(res.TokensCreated[0])
	require.NoError(t, err)
	assert.Equal(t, token.TypePayment, payment.Type)
	assert.Equal(t, token.PaymentInitiated, payment.State)

	updated, err := store.Get(ship.ID)
	require.NoError(t, err)
	assert.Contains(t, updated.Relations[token.RelationPayments], payment.ID)

	assert.Equal(t, 1, settlement.calls)
	assert.Equal(t, 1250.00, settlement.last.Amount)
}

func TestSubmit_SettlementCompleteSettlesShipment(t *testing.T) {
	r, store, _, _, _ := newTestRouter(t)

	payment, err := token.New(token.TypePayment, "SHIP-001", nil, nil)
	require.NoError(t, err)
	payment.State = token.PaymentReleased
	require.NoError(t, store.Put(payment))

	ship := seedShipment(t, store, "SHIP-001", token.ShipmentDelivered)
	require.NoError(t, store.Update(ship.ID, func(t *token.Token) error {
		t.AddRelation(token.RelationPayments, payment.ID)
		return nil
	}))

	res, err := r.Submit(context.Background(), evt(event.TypeSettlementComplete, "SHIP-001",
		map[string]any{"pt01_id": payment.ID}))
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Len(t, res.TokensTransitioned, 2)

	gotPayment, err := store.Get(payment.ID)
	require.NoError(t, err)
	assert.Equal(t, token.PaymentComplete, gotPayment.State)

	gotShip, err := store.Get(ship.ID)
	require.NoError(t, err)
	assert.Equal(t, token.ShipmentSettled, gotShip.State)
	assert.Equal(t, true, gotShip.Metadata[token.MetaSettlementConfirmed])
}

func TestSubmit_ProofComputedAttaches(t *testing.T) {
	r, store, _, _, _ := newTestRouter(t)

	acc, err := token.New(token.TypeAccessorial, "SHIP-001", nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(acc))

	res, err := r.Submit(context.Background(), evt(event.TypeProofComputed, "SHIP-001",
		map[string]any{"target_token_id": acc.ID, "proof_hash": "abc123", "proof_type": "DETENTION"}))
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{acc.ID}, res.TokensUpdated)

	got, err := store.Get(acc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Proof)
	assert.Equal(t, "abc123", got.Proof.Hash)
	assert.Equal(t, "SxT", got.Proof.Source)
}

func TestSubmit_ProofComputedMissingTarget(t *testing.T) {
	r, _, _, _, _ := newTestRouter(t)

	res, err := r.Submit(context.Background(), evt(event.TypeProofComputed, "SHIP-001",
		map[string]any{"proof_hash": "abc123"}))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Errors)
}

func TestSubmit_GovernanceApprovalUnlocksVerification(t *testing.T) {
	r, store, _, _, _ := newTestRouter(t)

	acc, err := token.New(token.TypeAccessorial, "SHIP-001", nil, nil)
	require.NoError(t, err)
	require.NoError(t, acc.AttachProof("abc123", "SxT", nil))
	require.NoError(t, acc.Transition(token.AccessorialProofAttached))
	require.NoError(t, store.Put(acc))

	// Without the governance stamp, verification is rejected
	res, err := r.Submit(context.Background(), evt(event.TypeProofValidated, "SHIP-001",
		map[string]any{"target_token_id": acc.ID}))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Errors)

	_, err = r.Submit(context.Background(), evt(event.TypeGovernanceApproval, "SHIP-001",
		map[string]any{"target_token_id": acc.ID, "policy_match_id": "POL-77"}))
	require.NoError(t, err)

	res, err = r.Submit(context.Background(), evt(event.TypeProofValidated, "SHIP-001",
		map[string]any{"target_token_id": acc.ID}))
	require.NoError(t, err)
	assert.Empty(t, res.Errors)

	got, err := store.Get(acc.ID)
	require.NoError(t, err)
	assert.Equal(t, token.AccessorialVerified, got.State)
	assert.Equal(t, "POL-77", got.Metadata[token.MetaPolicyMatchID])
}

func TestSubmit_DuplicateEventDeduped(t *testing.T) {
	r, store, _, _, dashboard := newTestRouter(t)

	e := evt(event.TypeEDITenderRequest, "SHIP-001", nil)
	first, err := r.Submit(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, DecisionProcessed, first.Decision)

	second, err := r.Submit(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, DecisionDeduped, second.Decision)
	assert.Empty(t, second.TokensCreated)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, dashboard.emitted())
}

func TestSubmit_RejectsUnknownType(t *testing.T) {
	r, _, _, _, _ := newTestRouter(t)

	e := evt(event.TypeIoTTelemetry, "SHIP-001", nil)
	e.Type = "NOT_A_TYPE"
	res, err := r.Submit(context.Background(), e)
	require.Error(t, err)
	assert.Equal(t, DecisionRejected, res.Decision)
}

func TestSubmit_NilEvent(t *testing.T) {
	r, _, _, _, _ := newTestRouter(t)
	_, err := r.Submit(context.Background(), nil)
	assert.Error(t, err)
}

func TestSubmit_DashboardFailureIsIsolated(t *testing.T) {
	r, store, risk, _, dashboard := newTestRouter(t)
	dashboard.failures = 100 // exhaust every retry

	res, err := r.Submit(context.Background(), evt(event.TypeEDITenderRequest, "SHIP-001", nil))
	require.NoError(t, err)
	assert.Equal(t, DecisionDeadLettered, res.Decision)

	// Committed token work stands and earlier steps ran
	assert.Equal(t, 1, store.Len())
	assert.Len(t, res.TokensCreated, 1)
	assert.Equal(t, 1, risk.calls)

	require.Equal(t, 1, r.DeadLetters().Len())
	letters := r.DeadLetters().Drain()
	assert.Equal(t, CollaboratorDashboard, letters[0].Collaborator)
	assert.Equal(t, 3, letters[0].Attempts)
}

func TestSubmit_TransientFailureRetried(t *testing.T) {
	r, _, _, _, dashboard := newTestRouter(t)
	dashboard.failures = 1 // first attempt fails, second succeeds

	res, err := r.Submit(context.Background(), evt(event.TypeEDITenderRequest, "SHIP-001", nil))
	require.NoError(t, err)
	assert.Equal(t, DecisionProcessed, res.Decision)
	assert.Equal(t, 1, dashboard.emitted())

	for _, step := range res.Steps {
		if step.Collaborator == CollaboratorDashboard {
			assert.True(t, step.Success)
			assert.Equal(t, 2, step.Attempts)
		}
	}
}

func TestSubmit_RiskHaltIsAdvisory(t *testing.T) {
	r, store, risk, _, dashboard := newTestRouter(t)
	risk.resp = RiskResponse{RiskScore: 95, RiskLabel: "CRITICAL", HaltTransition: true}

	res, err := r.Submit(context.Background(), evt(event.TypeEDITenderRequest, "SHIP-001", nil))
	require.NoError(t, err)
	assert.Equal(t, DecisionDeadLettered, res.Decision)

	// Token work committed before the risk verdict stays committed, and the
	// dashboard still sees the event
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, dashboard.emitted())
	assert.Equal(t, 1, risk.calls) // halt is definitive, not retried
}

func TestSubmit_NilCollaboratorsSkipped(t *testing.T) {
	store := token.NewStore()
	r := New(store, nil, nil, nil, metric.NewMetrics(), nil, DefaultConfig())

	res, err := r.Submit(context.Background(), evt(event.TypeEDITenderRequest, "SHIP-001", nil))
	require.NoError(t, err)
	assert.Equal(t, DecisionProcessed, res.Decision)
	assert.Len(t, res.TokensCreated, 1)
	assert.Equal(t, 0, r.DeadLetters().Len())
}

func TestSubmit_ConcurrentShipmentsIsolated(t *testing.T) {
	r, store, _, _, dashboard := newTestRouter(t)

	const shipments = 16
	var wg sync.WaitGroup
	for i := 0; i < shipments; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			shipmentID := fmt.Sprintf("SHIP-%03d", n)
			_, err := r.Submit(context.Background(), evt(event.TypeEDITenderRequest, shipmentID, nil))
			assert.NoError(t, err)
			_, err = r.Submit(context.Background(), evt(event.TypeIoTTelemetry, shipmentID,
				map[string]any{"location": "EN-ROUTE"}))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	counts := store.CountByType()
	assert.Equal(t, shipments, counts[token.TypeShipment])
	assert.Equal(t, shipments, counts[token.TypeMovement])
	assert.Equal(t, 2*shipments, dashboard.emitted())
}

func TestDeadLetterQueue_BoundedEviction(t *testing.T) {
	q := NewDeadLetterQueue(2)
	for i := 0; i < 3; i++ {
		q.Push(evt(event.TypeIoTTelemetry, "SHIP-001", nil), CollaboratorDashboard, "down", 3)
	}
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, int64(1), q.Dropped())

	letters := q.Drain()
	assert.Len(t, letters, 2)
	assert.Equal(t, 0, q.Len())
}
