// Package event defines the canonical ChainBridge event schema and the
// dispatcher that detects event types from heterogeneous inbound payloads
// and normalizes them into immutable Event records.
package event

import (
	"github.com/google/uuid"

	"github.com/BIGmindz/chainbridge/pkg/timestamp"
)

// Source identifies the origin subsystem of an event.
type Source string

// Canonical event sources.
const (
	SourceIoT         Source = "IOT_CHAINSENSE"
	SourceEDI         Source = "SEEBURGER_EDI"
	SourceTokenEngine Source = "TOKEN_ENGINE"
	SourceRisk        Source = "CHAINIQ_RISK"
	SourceProof       Source = "SXT_PROOF"
	SourceSettlement  Source = "CHAINPAY_SETTLEMENT"
	SourceGovernance  Source = "ALEX_GOVERNANCE"
	SourceOperator    Source = "OPERATOR_CONSOLE"
)

// Priority orders events when timestamps tie. Lower value is more urgent.
type Priority int

// Priority levels.
const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Type is a canonical event type. The set is closed: the dispatcher rejects
// anything it cannot map onto one of these.
type Type string

// Canonical event types.
const (
	TypeIoTTelemetry     Type = "IOT_TELEMETRY"
	TypeIoTGeofenceEnter Type = "IOT_GEOFENCE_ENTER"
	TypeIoTGeofenceExit  Type = "IOT_GEOFENCE_EXIT"

	TypeEDITenderRequest Type = "EDI_TENDER_REQUEST" // EDI 204
	TypeEDIStatusUpdate  Type = "EDI_STATUS_UPDATE"  // EDI 214
	TypeEDIInvoice       Type = "EDI_INVOICE"        // EDI 210

	TypeTokenCreated    Type = "TOKEN_CREATED"
	TypeTokenTransition Type = "TOKEN_TRANSITION"

	TypeProofComputed  Type = "PROOF_COMPUTED"
	TypeProofValidated Type = "PROOF_VALIDATED"

	TypeSettlementInitiated Type = "SETTLEMENT_INITIATED"
	TypeSettlementComplete  Type = "SETTLEMENT_COMPLETE"

	TypeGovernanceApproval  Type = "GOVERNANCE_APPROVAL"
	TypeGovernanceRejection Type = "GOVERNANCE_REJECTION"
)

// Event is an immutable record of one real-world occurrence, produced once
// and consumed exactly once by the router. Timestamps are Unix milliseconds.
type Event struct {
	EventID          string         `json:"event_id"`
	Type             Type           `json:"event_type"`
	Source           Source         `json:"source"`
	Priority         Priority       `json:"priority"`
	OccurredAt       int64          `json:"timestamp"`
	IngestedAt       int64          `json:"ingested_at"`
	SequenceID       int64          `json:"sequence_id,omitempty"`
	ParentShipmentID string         `json:"parent_shipment_id"`
	ActorID          string         `json:"actor_id"`
	DeviceID         string         `json:"device_id,omitempty"`
	Payload          map[string]any `json:"payload"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
}

// New constructs an event with generated id and ingestion time. Callers set
// the remaining fields before handing the event to the router.
func New(eventType Type, source Source, shipmentID, actorID string, payload map[string]any) *Event {
	if payload == nil {
		payload = make(map[string]any)
	}
	if source == "" {
		source = defaultSource(eventType)
	}
	now := timestamp.Now()
	return &Event{
		EventID:          uuid.NewString(),
		Type:             eventType,
		Source:           source,
		Priority:         defaultPriority(eventType),
		OccurredAt:       now,
		IngestedAt:       now,
		ParentShipmentID: shipmentID,
		ActorID:          actorID,
		Payload:          payload,
	}
}

// defaultSource maps each event type to the subsystem that produces it.
func defaultSource(eventType Type) Source {
	switch eventType {
	case TypeIoTTelemetry, TypeIoTGeofenceEnter, TypeIoTGeofenceExit:
		return SourceIoT
	case TypeEDITenderRequest, TypeEDIStatusUpdate, TypeEDIInvoice:
		return SourceEDI
	case TypeTokenCreated, TypeTokenTransition:
		return SourceTokenEngine
	case TypeProofComputed, TypeProofValidated:
		return SourceProof
	case TypeSettlementInitiated, TypeSettlementComplete:
		return SourceSettlement
	case TypeGovernanceApproval, TypeGovernanceRejection:
		return SourceGovernance
	default:
		return SourceOperator
	}
}

// defaultPriority assigns the processing priority for a type. Settlement and
// governance decisions outrank operational traffic; raw telemetry is lowest.
func defaultPriority(eventType Type) Priority {
	switch eventType {
	case TypeSettlementInitiated, TypeSettlementComplete:
		return PriorityCritical
	case TypeGovernanceApproval, TypeGovernanceRejection,
		TypeIoTGeofenceEnter, TypeIoTGeofenceExit:
		return PriorityHigh
	case TypeIoTTelemetry:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// validTypes is the closed set accepted by the dispatcher.
var validTypes = map[Type]struct{}{
	TypeIoTTelemetry:        {},
	TypeIoTGeofenceEnter:    {},
	TypeIoTGeofenceExit:     {},
	TypeEDITenderRequest:    {},
	TypeEDIStatusUpdate:     {},
	TypeEDIInvoice:          {},
	TypeTokenCreated:        {},
	TypeTokenTransition:     {},
	TypeProofComputed:       {},
	TypeProofValidated:      {},
	TypeSettlementInitiated: {},
	TypeSettlementComplete:  {},
	TypeGovernanceApproval:  {},
	TypeGovernanceRejection: {},
}

// ValidType reports whether t belongs to the canonical type set.
func ValidType(t Type) bool {
	_, ok := validTypes[t]
	return ok
}
