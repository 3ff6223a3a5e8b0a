// Package router is the single entry point for normalized events. It applies
// the static routing table to the token store, then fans out to downstream
// collaborators in a fixed order with fault isolation: a failed step never
// rolls back committed token work and never blocks independent later steps.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BIGmindz/chainbridge/errors"
	"github.com/BIGmindz/chainbridge/event"
	"github.com/BIGmindz/chainbridge/metric"
	"github.com/BIGmindz/chainbridge/pkg/cache"
	"github.com/BIGmindz/chainbridge/pkg/retry"
	"github.com/BIGmindz/chainbridge/pkg/timestamp"
	"github.com/BIGmindz/chainbridge/token"
)

// Decision is the routing outcome for one event.
type Decision string

// Routing decisions.
const (
	DecisionProcessed    Decision = "PROCESSED"
	DecisionDeduped      Decision = "DEDUPED"
	DecisionRejected     Decision = "REJECTED"
	DecisionDeadLettered Decision = "DEAD_LETTERED"
)

// Transition records one committed token state change.
type Transition struct {
	TokenID string      `json:"token_id"`
	From    token.State `json:"from"`
	To      token.State `json:"to"`
}

// StepResult records one collaborator invocation.
type StepResult struct {
	Collaborator string `json:"collaborator"`
	Success      bool   `json:"success"`
	Attempts     int    `json:"attempts"`
	Error        string `json:"error,omitempty"`
}

// Result is the outcome of routing one event. The router never silently
// drops an event: every submission yields a Result or an error.
type Result struct {
	EventID            string        `json:"event_id"`
	Decision           Decision      `json:"decision"`
	TokensCreated      []string      `json:"tokens_created,omitempty"`
	TokensTransitioned []Transition  `json:"tokens_transitioned,omitempty"`
	TokensUpdated      []string      `json:"tokens_updated,omitempty"`
	Steps              []StepResult  `json:"steps"`
	Errors             []string      `json:"errors,omitempty"`
	Warnings           []string      `json:"warnings,omitempty"`
	ProcessingTime     time.Duration `json:"processing_time"`
}

// Config tunes the router.
type Config struct {
	DedupTTL            time.Duration
	DedupMaxSize        int
	CollaboratorTimeout time.Duration
	DeadLetterMaxSize   int
	// RetryPolicies overrides the per-collaborator retry policy by name.
	RetryPolicies map[string]retry.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DedupTTL:            10 * time.Minute,
		DedupMaxSize:        100_000,
		CollaboratorTimeout: 5 * time.Second,
		DeadLetterMaxSize:   1000,
	}
}

// Router routes events to token operations and downstream collaborators.
// Events for the same parent shipment are serialized in arrival order;
// cross-shipment routing runs concurrently.
type Router struct {
	store      *token.Store
	risk       RiskScorer
	settlement SettlementTrigger
	dashboard  DashboardEmitter

	cfg      Config
	policies map[string]retry.Config
	dedup    *cache.TTL[struct{}]
	dlq      *DeadLetterQueue
	metrics  *metric.Metrics
	logger   *slog.Logger

	mu            sync.Mutex
	shipmentLocks map[string]*sync.Mutex
}

// New creates a router. Collaborators may be nil; nil collaborators are
// skipped rather than failed, so a deployment without a risk engine still
// routes.
func New(store *token.Store, risk RiskScorer, settlement SettlementTrigger,
	dashboard DashboardEmitter, metrics *metric.Metrics, logger *slog.Logger, cfg Config) *Router {

	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = metric.NewMetrics()
	}
	if cfg.DedupTTL == 0 {
		cfg.DedupTTL = DefaultConfig().DedupTTL
	}
	if cfg.CollaboratorTimeout == 0 {
		cfg.CollaboratorTimeout = DefaultConfig().CollaboratorTimeout
	}

	policies := map[string]retry.Config{
		CollaboratorRisk:       errors.DefaultRetryConfig().ToRetryConfig(),
		CollaboratorSettlement: errors.DefaultRetryConfig().ToRetryConfig(),
		CollaboratorDashboard:  errors.DefaultRetryConfig().ToRetryConfig(),
	}
	for name, policy := range cfg.RetryPolicies {
		policies[name] = policy
	}

	return &Router{
		store:         store,
		risk:          risk,
		settlement:    settlement,
		dashboard:     dashboard,
		cfg:           cfg,
		policies:      policies,
		dedup:         cache.NewTTL[struct{}](cfg.DedupTTL, cfg.DedupMaxSize),
		dlq:           NewDeadLetterQueue(cfg.DeadLetterMaxSize),
		metrics:       metrics,
		logger:        logger,
		shipmentLocks: make(map[string]*sync.Mutex),
	}
}

// DeadLetters exposes the dead letter queue for operator tooling.
func (r *Router) DeadLetters() *DeadLetterQueue {
	return r.dlq
}

// Submit routes one event. Duplicate event ids within the dedup window are
// dropped with a DEDUPED decision. Token operations commit before any
// collaborator call; collaborator failures are retried per policy, then
// dead-lettered, and never undo committed token work.
func (r *Router) Submit(ctx context.Context, e *event.Event) (*Result, error) {
	if e == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nil event"), "Router", "Submit", "validate event")
	}
	if !event.ValidType(e.Type) {
		r.metrics.RecordEventRouted(string(e.Type), "rejected")
		return &Result{EventID: e.EventID, Decision: DecisionRejected},
			errors.WrapInvalid(
				fmt.Errorf("%w: %q", errors.ErrUnknownEvent, e.Type),
				"Router", "Submit", "validate event type")
	}

	start := time.Now()

	if !r.dedup.SetIfAbsent(e.EventID, struct{}{}) {
		r.metrics.RecordDuplicateEvent()
		r.logger.Debug("duplicate event dropped",
			"event_id", e.EventID, "event_type", e.Type)
		return &Result{
			EventID:        e.EventID,
			Decision:       DecisionDeduped,
			ProcessingTime: time.Since(start),
		}, nil
	}

	// FIFO per shipment: hold the shipment lock for the whole routing
	lock := r.shipmentLock(e.ParentShipmentID)
	lock.Lock()
	defer lock.Unlock()

	result := &Result{EventID: e.EventID, Decision: DecisionProcessed}

	r.applyTokenRules(e, result)
	r.fanOut(ctx, e, result)

	result.ProcessingTime = time.Since(start)
	r.metrics.RecordEventRouted(string(e.Type), string(result.Decision))
	r.metrics.RecordRoutingDuration(string(e.Type), result.ProcessingTime)
	r.logger.Info("event routed",
		"event_id", e.EventID,
		"event_type", e.Type,
		"shipment_id", e.ParentShipmentID,
		"decision", result.Decision,
		"tokens_created", len(result.TokensCreated),
		"tokens_transitioned", len(result.TokensTransitioned),
		"duration_ms", result.ProcessingTime.Milliseconds())
	return result, nil
}

func (r *Router) shipmentLock(shipmentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.shipmentLocks[shipmentID]
	if !ok {
		lock = &sync.Mutex{}
		r.shipmentLocks[shipmentID] = lock
	}
	return lock
}

// fanOut invokes the required collaborators in fixed order. Each failure is
// isolated: it is recorded, the event is dead-lettered after retries, and
// later steps still run.
func (r *Router) fanOut(ctx context.Context, e *event.Event, result *Result) {
	for _, name := range r.requiredCollaborators(e) {
		step := r.invoke(ctx, name, e, result)
		result.Steps = append(result.Steps, step)

		status := "success"
		if !step.Success {
			status = "failure"
			result.Decision = DecisionDeadLettered
			r.dlq.Push(e, name, step.Error, step.Attempts)
			r.metrics.RecordDeadLetter()
			r.logger.Warn("collaborator step dead-lettered",
				"event_id", e.EventID, "collaborator", name, "reason", step.Error)
		}
		r.metrics.RecordCollaboratorCall(name, status)
	}
}

// requiredCollaborators resolves the external fan-out for an event type, in
// invocation order. The token engine already ran synchronously; the
// dashboard sees every event.
func (r *Router) requiredCollaborators(e *event.Event) []string {
	var steps []string

	switch e.Type {
	case event.TypeIoTTelemetry, event.TypeIoTGeofenceEnter, event.TypeIoTGeofenceExit,
		event.TypeEDITenderRequest, event.TypeEDIStatusUpdate, event.TypeEDIInvoice,
		event.TypeProofComputed, event.TypeProofValidated:
		steps = append(steps, CollaboratorRisk)
	}

	if r.settlementRequired(e) {
		steps = append(steps, CollaboratorSettlement)
	}

	steps = append(steps, CollaboratorDashboard)
	return steps
}

// settlementRequired reports whether the event must trigger the settlement
// service: an explicit initiation, or an EDI delivery confirmation.
func (r *Router) settlementRequired(e *event.Event) bool {
	switch e.Type {
	case event.TypeSettlementInitiated:
		return true
	case event.TypeEDIStatusUpdate:
		code, _ := e.Payload["status_code"].(string)
		return code == "D1"
	default:
		return false
	}
}

// invoke runs one collaborator with a bounded timeout per attempt, retrying
// per that collaborator's policy. No token or device lock is held inside the
// call itself; only the shipment-order lock, which exists to serialize this
// shipment's events end to end.
func (r *Router) invoke(parent context.Context, name string, e *event.Event, result *Result) StepResult {
	call, ok := r.call(name, e, result)
	if !ok {
		// Unconfigured collaborator: record the skip as success so a
		// deployment without a risk engine is not a stream of dead letters.
		return StepResult{Collaborator: name, Success: true, Attempts: 0}
	}

	policy, ok := r.policies[name]
	if !ok {
		policy = retry.None()
	}

	attempts := 0
	err := retry.Do(parent, policy, func() error {
		attempts++
		if attempts > 1 {
			r.metrics.RecordCollaboratorRetry(name)
		}
		ctx, cancel := context.WithTimeout(parent, r.cfg.CollaboratorTimeout)
		defer cancel()
		return call(ctx)
	})

	step := StepResult{Collaborator: name, Success: err == nil, Attempts: attempts}
	if err != nil {
		step.Error = err.Error()
	}
	return step
}

// call builds the invocation closure for a named collaborator, or reports
// that the collaborator is not configured.
func (r *Router) call(name string, e *event.Event, result *Result) (func(context.Context) error, bool) {
	switch name {
	case CollaboratorRisk:
		if r.risk == nil {
			return nil, false
		}
		return func(ctx context.Context) error {
			resp, err := r.risk.Score(ctx, RiskRequest{
				ShipmentID: e.ParentShipmentID,
				EventType:  e.Type,
				Tokens:     append(append([]string{}, result.TokensCreated...), result.TokensUpdated...),
				ActorID:    e.ActorID,
			})
			if err != nil {
				return err
			}
			if resp.HaltTransition {
				// Advisory halt: the step fails, committed work stands
				return retry.NonRetryable(
					fmt.Errorf("risk engine halted routing: score %d (%s)",
						resp.RiskScore, resp.RiskLabel))
			}
			return nil
		}, true

	case CollaboratorSettlement:
		if r.settlement == nil {
			return nil, false
		}
		return func(ctx context.Context) error {
			amount, _ := e.Payload["amount"].(float64)
			currency, _ := e.Payload["currency"].(string)
			if currency == "" {
				currency = "USD"
			}
			resp, err := r.settlement.Trigger(ctx, SettlementRequest{
				TokenIDs: result.TokensCreated,
				Amount:   amount,
				Currency: currency,
				Stage:    string(e.Type),
				Reason:   fmt.Sprintf("event %s", e.EventID),
			})
			if err != nil {
				return err
			}
			if !resp.Accepted {
				return retry.NonRetryable(
					fmt.Errorf("settlement trigger declined: %s", resp.NewState))
			}
			return nil
		}, true

	case CollaboratorDashboard:
		if r.dashboard == nil {
			return nil, false
		}
		return func(ctx context.Context) error {
			return r.dashboard.Emit(ctx, e)
		}, true

	default:
		return nil, false
	}
}

// applyTokenRules runs the routing table against the token store. Rule
// failures are definitive (never retried) and recorded per rule; one rule's
// failure does not stop the remaining rules.
func (r *Router) applyTokenRules(e *event.Event, result *Result) {
	rules := routingRules[e.Type]
	if len(rules) == 0 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no routing rules for %s", e.Type))
	}

	success := true
	for _, rule := range rules {
		var err error
		switch rule.Impact {
		case ImpactCreate:
			err = r.handleCreate(e, rule, result)
		case ImpactTransition:
			err = r.handleTransition(e, rule, result)
		case ImpactAttachProof:
			err = r.handleAttachProof(e, result)
		case ImpactUpdateMetadata:
			err = r.handleMetadata(e, result)
		}
		if err != nil {
			success = false
			result.Errors = append(result.Errors, err.Error())
			r.metrics.RecordTransitionRejected(string(rule.TargetType), errors.ReasonCode(err))
			r.logger.Error("token rule failed",
				"event_id", e.EventID,
				"event_type", e.Type,
				"impact", rule.Impact,
				"target_type", rule.TargetType,
				"error", err)
		}
	}

	result.Steps = append(result.Steps, StepResult{
		Collaborator: CollaboratorTokenEngine,
		Success:      success,
		Attempts:     1,
	})
}

func (r *Router) handleCreate(e *event.Event, rule Rule, result *Result) error {
	metadata := r.createMetadata(e, rule)
	relations := map[string][]string{}
	if rule.TargetType != token.TypeShipment {
		relations["st01_id"] = []string{e.ParentShipmentID}
	}

	if rule.TargetType == token.TypeShipment {
		if _, err := r.store.ShipmentToken(e.ParentShipmentID); err == nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("shipment token for %s already exists", e.ParentShipmentID))
			return nil
		}
	}

	tok, err := token.New(rule.TargetType, e.ParentShipmentID, metadata, relations)
	if err != nil {
		return err
	}
	if err := r.store.Put(tok); err != nil {
		return err
	}
	result.TokensCreated = append(result.TokensCreated, tok.ID)
	r.metrics.RecordTokenTransition(string(tok.Type), string(tok.State))

	switch tok.Type {
	case token.TypeMovement:
		r.relateToShipment(e.ParentShipmentID, token.RelationMilestones, tok.ID)
	case token.TypePayment:
		r.relateToShipment(e.ParentShipmentID, token.RelationPayments, tok.ID)
	}
	return nil
}

// relateToShipment appends the relation on the shipment token when one
// exists. Shipmentless milestones (pure telemetry feeds) are fine.
func (r *Router) relateToShipment(shipmentID, relation, tokenID string) {
	ship, err := r.store.ShipmentToken(shipmentID)
	if err != nil {
		return
	}
	_ = r.store.Update(ship.ID, func(t *token.Token) error {
		t.AddRelation(relation, tokenID)
		return nil
	})
}

func (r *Router) createMetadata(e *event.Event, rule Rule) map[string]any {
	metadata := map[string]any{
		"source_event_id": e.EventID,
		"timestamp":       timestamp.Format(e.OccurredAt),
	}

	switch rule.TargetType {
	case token.TypeMovement:
		metadata["milestone_type"] = milestoneType(e)
		if loc, ok := e.Payload["location"]; ok {
			metadata["location"] = loc
		}
		if code, ok := e.Payload["status_code"]; ok {
			metadata["edi_status_code"] = code
		}
	case token.TypeShipment:
		for _, field := range []string{"origin", "destination", "carrier_id", "shipper_id"} {
			if v, ok := e.Payload[field]; ok {
				metadata[field] = v
			}
		}
	case token.TypePayment:
		for _, field := range []string{"amount", "currency", "escrow_account", "settlement_id"} {
			if v, ok := e.Payload[field]; ok {
				metadata[field] = v
			}
		}
	case token.TypeInvoice:
		for _, field := range []string{"amount", "currency", "invoice_number"} {
			if v, ok := e.Payload[field]; ok {
				metadata[field] = v
			}
		}
	}
	return metadata
}

func (r *Router) handleTransition(e *event.Event, rule Rule, result *Result) error {
	required, target, run := r.resolveStatePair(e, rule)
	if !run {
		return nil
	}

	tok, found := r.findTarget(e, rule.TargetType, required)
	if !found {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no %s token in state %s for shipment %s",
				rule.TargetType, required, e.ParentShipmentID))
		return nil
	}

	from := tok.State
	if err := r.store.Transition(tok.ID, target); err != nil {
		return err
	}
	result.TokensTransitioned = append(result.TokensTransitioned, Transition{
		TokenID: tok.ID, From: from, To: target,
	})
	r.metrics.RecordTokenTransition(string(rule.TargetType), string(target))
	return nil
}

// resolveStatePair determines the required and target state for a
// transition rule. EDI status rules resolve through the status-code map;
// self-mapping codes (X3, X6) produce a milestone only and no transition.
func (r *Router) resolveStatePair(e *event.Event, rule Rule) (required, target token.State, run bool) {
	if rule.NewState != "" {
		return rule.RequiredState, rule.NewState, true
	}
	if e.Type == event.TypeEDIStatusUpdate {
		code, _ := e.Payload["status_code"].(string)
		pair, ok := ediStatusTransitions[code]
		if !ok || pair.from == pair.to {
			return "", "", false
		}
		return pair.from, pair.to, true
	}
	return "", "", false
}

// findTarget locates the token a transition applies to: an explicit token id
// in the payload wins, then the shipment's tokens filtered by type and
// required state.
func (r *Router) findTarget(e *event.Event, tokenType token.Type, required token.State) (*token.Token, bool) {
	for _, key := range []string{"token_id", "target_token_id", "pt01_id"} {
		if id, ok := e.Payload[key].(string); ok && id != "" {
			if tok, err := r.store.Get(id); err == nil && tok.Type == tokenType {
				return tok, true
			}
		}
	}

	candidates := r.store.ByShipment(e.ParentShipmentID, tokenType)
	if required != "" {
		for _, tok := range candidates {
			if tok.State == required {
				return tok, true
			}
		}
		return nil, false
	}
	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[len(candidates)-1], true
}

func (r *Router) handleAttachProof(e *event.Event, result *Result) error {
	targetID, _ := e.Payload["target_token_id"].(string)
	if targetID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: target_token_id required for proof attachment", errors.ErrSchemaViolation),
			"Router", "handleAttachProof", "resolve proof target")
	}
	hash, _ := e.Payload["proof_hash"].(string)
	if hash == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: proof_hash required for proof attachment", errors.ErrSchemaViolation),
			"Router", "handleAttachProof", "resolve proof hash")
	}

	err := r.store.Update(targetID, func(t *token.Token) error {
		return t.AttachProof(hash, "SxT", map[string]any{
			"proof_id":   e.Payload["proof_id"],
			"proof_type": e.Payload["proof_type"],
		})
	})
	if err != nil {
		return err
	}
	result.TokensUpdated = append(result.TokensUpdated, targetID)
	return nil
}

// handleMetadata applies a governance decision: approvals stamp the policy
// match the AT-02 VERIFIED guard checks; rejections stamp the refusal.
func (r *Router) handleMetadata(e *event.Event, result *Result) error {
	targetID, _ := e.Payload["target_token_id"].(string)
	if targetID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: target_token_id required for governance decision", errors.ErrSchemaViolation),
			"Router", "handleMetadata", "resolve governance target")
	}

	err := r.store.Update(targetID, func(t *token.Token) error {
		switch e.Type {
		case event.TypeGovernanceApproval:
			matchID, _ := e.Payload[token.MetaPolicyMatchID].(string)
			if matchID == "" {
				matchID, _ = e.Payload["governance_id"].(string)
			}
			t.SetMetadata(token.MetaPolicyMatchID, matchID)
		case event.TypeGovernanceRejection:
			reason, _ := e.Payload["reason"].(string)
			t.SetMetadata("governance_rejected", reason)
		}
		return nil
	})
	if err != nil {
		return err
	}
	result.TokensUpdated = append(result.TokensUpdated, targetID)
	return nil
}
