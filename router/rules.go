package router

import (
	"github.com/BIGmindz/chainbridge/event"
	"github.com/BIGmindz/chainbridge/geofence"
	"github.com/BIGmindz/chainbridge/token"
)

// Impact is the kind of token operation a routing rule performs.
type Impact string

// Token impacts.
const (
	ImpactCreate         Impact = "CREATE"
	ImpactTransition     Impact = "TRANSITION"
	ImpactAttachProof    Impact = "ATTACH_PROOF"
	ImpactUpdateMetadata Impact = "UPDATE_METADATA"
)

// Rule maps one event type onto one token operation. A nil RequiredState on
// a transition rule means the state pair is resolved from the event payload
// (EDI status codes).
type Rule struct {
	TargetType    token.Type
	Impact        Impact
	RequiredState token.State
	NewState      token.State
}

// routingRules is the master table: event type to ordered token operations.
var routingRules = map[event.Type][]Rule{
	event.TypeIoTTelemetry: {
		{TargetType: token.TypeMovement, Impact: ImpactCreate},
	},
	event.TypeIoTGeofenceEnter: {
		{TargetType: token.TypeMovement, Impact: ImpactCreate},
		{TargetType: token.TypeShipment, Impact: ImpactTransition,
			RequiredState: token.ShipmentInTransit, NewState: token.ShipmentArrived},
	},
	event.TypeIoTGeofenceExit: {
		{TargetType: token.TypeMovement, Impact: ImpactCreate},
		{TargetType: token.TypeShipment, Impact: ImpactTransition,
			RequiredState: token.ShipmentDispatched, NewState: token.ShipmentInTransit},
	},
	event.TypeEDITenderRequest: {
		{TargetType: token.TypeShipment, Impact: ImpactCreate},
	},
	event.TypeEDIStatusUpdate: {
		{TargetType: token.TypeShipment, Impact: ImpactTransition},
		{TargetType: token.TypeMovement, Impact: ImpactCreate},
	},
	event.TypeEDIInvoice: {
		{TargetType: token.TypeInvoice, Impact: ImpactCreate},
	},
	event.TypeProofComputed: {
		{Impact: ImpactAttachProof},
	},
	event.TypeProofValidated: {
		{TargetType: token.TypeAccessorial, Impact: ImpactTransition,
			RequiredState: token.AccessorialProofAttached, NewState: token.AccessorialVerified},
	},
	event.TypeSettlementInitiated: {
		{TargetType: token.TypePayment, Impact: ImpactCreate},
	},
	event.TypeSettlementComplete: {
		{TargetType: token.TypePayment, Impact: ImpactTransition,
			NewState: token.PaymentComplete},
		{TargetType: token.TypeShipment, Impact: ImpactTransition,
			RequiredState: token.ShipmentDelivered, NewState: token.ShipmentSettled},
	},
	event.TypeGovernanceApproval: {
		{Impact: ImpactUpdateMetadata},
	},
	event.TypeGovernanceRejection: {
		{Impact: ImpactUpdateMetadata},
	},
}

// ediStatusTransitions maps EDI 214 status codes to the ST-01 state pair
// they drive. Codes mapping a state to itself (X3, X6) generate a milestone
// without a shipment transition.
var ediStatusTransitions = map[string]struct{ from, to token.State }{
	"AG": {token.ShipmentCreated, token.ShipmentDispatched},
	"AF": {token.ShipmentDispatched, token.ShipmentInTransit},
	"X1": {token.ShipmentInTransit, token.ShipmentArrived},
	"D1": {token.ShipmentArrived, token.ShipmentDelivered},
	"X3": {token.ShipmentInTransit, token.ShipmentInTransit},
	"X6": {token.ShipmentInTransit, token.ShipmentInTransit},
}

// ediStatusMilestones maps EDI 214 status codes to MT-01 milestone types.
var ediStatusMilestones = map[string]string{
	"AG": "PICKUP_DEPARTED",
	"AF": "IN_TRANSIT",
	"X1": "TERMINAL_ARRIVED",
	"X3": "TERMINAL_DEPARTED",
	"X6": "CHECKPOINT_ARRIVED",
	"D1": "DELIVERED",
}

// milestoneType derives the MT-01 milestone name for an event.
func milestoneType(e *event.Event) string {
	switch e.Type {
	case event.TypeIoTGeofenceEnter:
		switch geofenceKind(e) {
		case geofence.KindTerminal:
			return "TERMINAL_ARRIVED"
		case geofence.KindConsignee:
			return "DELIVERED"
		case geofence.KindShipperPickup:
			return "PICKUP_ARRIVED"
		}
		return "GEOFENCE_ENTER"
	case event.TypeIoTGeofenceExit:
		switch geofenceKind(e) {
		case geofence.KindShipperPickup:
			return "IN_TRANSIT"
		case geofence.KindTerminal:
			return "TERMINAL_DEPARTED"
		}
		return "GEOFENCE_EXIT"
	case event.TypeIoTTelemetry:
		return "IN_TRANSIT"
	case event.TypeEDIStatusUpdate:
		if code, ok := e.Payload["status_code"].(string); ok {
			if milestone, mapped := ediStatusMilestones[code]; mapped {
				return milestone
			}
		}
		return "UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

func geofenceKind(e *event.Event) geofence.Kind {
	if kind, ok := e.Payload["geofence_type"].(string); ok {
		return geofence.Kind(kind)
	}
	return geofence.KindCustom
}
