package router

import (
	"context"

	"github.com/BIGmindz/chainbridge/consistency"
	"github.com/BIGmindz/chainbridge/event"
)

// Collaborator names as they appear in step results and metrics.
const (
	CollaboratorTokenEngine = "token_engine"
	CollaboratorRisk        = "risk_scorer"
	CollaboratorSettlement  = "settlement_trigger"
	CollaboratorDashboard   = "dashboard_emitter"
)

// RiskRequest is the scoring contract sent to the external risk engine.
type RiskRequest struct {
	ShipmentID string                `json:"shipment_id"`
	EventType  event.Type            `json:"event_type"`
	Tokens     []string              `json:"tokens"`
	ActorID    string                `json:"actor_id"`
	Anomalies  []consistency.Anomaly `json:"anomalies,omitempty"`
}

// RiskResponse is the risk engine's verdict. HaltTransition marks the risk
// step as failed; committed token work is never rolled back for it.
type RiskResponse struct {
	RiskScore      int    `json:"risk_score"`
	RiskLabel      string `json:"risk_label"`
	RequiresProof  bool   `json:"requires_proof"`
	Freeze         bool   `json:"freeze"`
	HaltTransition bool   `json:"halt_transition"`
}

// RiskScorer is the external risk engine boundary.
type RiskScorer interface {
	Score(ctx context.Context, req RiskRequest) (RiskResponse, error)
}

// SettlementRequest is the trigger contract sent to the settlement service.
type SettlementRequest struct {
	TokenIDs []string `json:"token_ids"`
	Amount   float64  `json:"amount"`
	Currency string   `json:"currency"`
	Stage    string   `json:"stage"`
	Reason   string   `json:"reason"`
}

// SettlementResponse reports whether the settlement service accepted the
// trigger.
type SettlementResponse struct {
	Accepted    bool   `json:"accepted"`
	NewState    string `json:"new_state"`
	TxReference string `json:"tx_reference"`
}

// SettlementTrigger is the external settlement service boundary.
type SettlementTrigger interface {
	Trigger(ctx context.Context, req SettlementRequest) (SettlementResponse, error)
}

// DashboardEmitter publishes the canonical event for operator consoles. The
// NATS implementation deduplicates by event id downstream.
type DashboardEmitter interface {
	Emit(ctx context.Context, e *event.Event) error
}
