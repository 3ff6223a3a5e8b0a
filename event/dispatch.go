package event

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/BIGmindz/chainbridge/errors"
	"github.com/BIGmindz/chainbridge/pkg/timestamp"
)

// ediTypeMap maps EDI transaction set numbers to canonical event types.
var ediTypeMap = map[string]Type{
	"204": TypeEDITenderRequest,
	"214": TypeEDIStatusUpdate,
	"210": TypeEDIInvoice,
}

// iotNestedMap maps nested IoT event_type markers to canonical types.
var iotNestedMap = map[string]Type{
	"TELEMETRY":      TypeIoTTelemetry,
	"GEOFENCE_ENTER": TypeIoTGeofenceEnter,
	"GEOFENCE_EXIT":  TypeIoTGeofenceExit,
}

// DetectType determines the canonical event type of a raw payload. An
// explicit top-level event_type wins; otherwise source-specific heuristics
// apply: an edi_type field selects the EDI mapping, and an IoT payload is
// classified by the event_type nested inside its payload field.
func DetectType(raw map[string]any) (Type, error) {
	if explicit, ok := stringField(raw, "event_type"); ok {
		t := Type(explicit)
		if !ValidType(t) {
			return "", errors.WrapInvalid(
				fmt.Errorf("%w: %q", errors.ErrUnknownEvent, explicit),
				"Dispatcher", "DetectType", "validate explicit event type")
		}
		return t, nil
	}

	if ediType, ok := stringField(raw, "edi_type"); ok {
		if t, mapped := ediTypeMap[ediType]; mapped {
			return t, nil
		}
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: edi_type %q", errors.ErrUnknownEvent, ediType),
			"Dispatcher", "DetectType", "map edi transaction type")
	}

	if source, ok := stringField(raw, "source"); ok && isIoTSource(source) {
		if nested, ok := raw["payload"].(map[string]any); ok {
			if marker, ok := stringField(nested, "event_type"); ok {
				if t, mapped := iotNestedMap[marker]; mapped {
					return t, nil
				}
				return "", errors.WrapInvalid(
					fmt.Errorf("%w: nested iot event_type %q", errors.ErrUnknownEvent, marker),
					"Dispatcher", "DetectType", "map nested iot event type")
			}
		}
		// IoT payload with no nested marker is plain telemetry
		return TypeIoTTelemetry, nil
	}

	return "", errors.WrapInvalid(
		fmt.Errorf("%w: no event_type, edi_type, or recognizable source", errors.ErrUnknownEvent),
		"Dispatcher", "DetectType", "detect event type")
}

// requiredFields lists the payload fields each type's schema demands after
// defaulting. A missing field is a schema violation, never a silent drop.
var requiredFields = map[Type][]string{
	TypeEDIStatusUpdate:     {"status_code"},
	TypeProofComputed:       {"target_token_id"},
	TypeProofValidated:      {"target_token_id"},
	TypeSettlementInitiated: {"amount"},
	TypeSettlementComplete:  {"pt01_id"},
	TypeGovernanceApproval:  {"target_token_id"},
	TypeGovernanceRejection: {"target_token_id"},
}

// Normalize converts a raw inbound payload into a canonical immutable Event.
// It detects the type, fills defaults for event_id, source, priority,
// timestamps, actor and shipment linkage, then validates against the schema
// for the detected type.
func Normalize(raw map[string]any) (*Event, error) {
	eventType, err := DetectType(raw)
	if err != nil {
		return nil, err
	}

	e := &Event{
		Type:       eventType,
		Priority:   defaultPriority(eventType),
		IngestedAt: timestamp.Now(),
	}

	if id, ok := stringField(raw, "event_id"); ok {
		e.EventID = id
	} else {
		e.EventID = uuid.NewString()
	}

	if source, ok := stringField(raw, "source"); ok {
		e.Source = canonicalSource(source)
	} else {
		e.Source = defaultSource(eventType)
	}

	if ts := timestamp.Parse(raw["timestamp"]); ts != 0 {
		e.OccurredAt = ts
	} else if ts := timestamp.Parse(raw["occurred_at"]); ts != 0 {
		e.OccurredAt = ts
	} else {
		e.OccurredAt = e.IngestedAt
	}

	if actor, ok := stringField(raw, "actor_id"); ok {
		e.ActorID = actor
	} else {
		e.ActorID = "system"
	}

	if shipment, ok := stringField(raw, "parent_shipment_id"); ok {
		e.ParentShipmentID = shipment
	} else if shipment, ok := stringField(raw, "shipment_id"); ok {
		e.ParentShipmentID = shipment
	}

	if device, ok := stringField(raw, "device_id"); ok {
		e.DeviceID = device
	}
	if corr, ok := stringField(raw, "correlation_id"); ok {
		e.CorrelationID = corr
	}
	if seq, ok := raw["sequence_id"].(float64); ok {
		e.SequenceID = int64(seq)
	}

	if nested, ok := raw["payload"].(map[string]any); ok {
		e.Payload = nested
	} else {
		// Flat payloads (EDI feeds) carry their fields at the top level
		e.Payload = raw
	}

	if err := validate(e); err != nil {
		return nil, err
	}
	return e, nil
}

// validate checks the normalized event against the schema for its type.
func validate(e *Event) error {
	if e.ParentShipmentID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: parent_shipment_id required", errors.ErrSchemaViolation),
			"Dispatcher", "Normalize", "validate event schema")
	}
	if len(e.ParentShipmentID) < 3 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: parent_shipment_id %q too short", errors.ErrSchemaViolation, e.ParentShipmentID),
			"Dispatcher", "Normalize", "validate event schema")
	}

	switch e.Type {
	case TypeIoTTelemetry, TypeIoTGeofenceEnter, TypeIoTGeofenceExit:
		if e.DeviceID == "" {
			if device, ok := stringField(e.Payload, "device_id"); ok {
				e.DeviceID = device
			} else {
				return errors.WrapInvalid(
					fmt.Errorf("%w: device_id required for %s", errors.ErrSchemaViolation, e.Type),
					"Dispatcher", "Normalize", "validate event schema")
			}
		}
	}

	for _, field := range requiredFields[e.Type] {
		if _, ok := e.Payload[field]; !ok {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %s requires payload field %q", errors.ErrSchemaViolation, e.Type, field),
				"Dispatcher", "Normalize", "validate event schema")
		}
	}
	return nil
}

// canonicalSource maps loose source markers onto the canonical enum. Devices
// report "IOT"; EDI feeds report "EDI" or the full Seeburger name.
func canonicalSource(source string) Source {
	switch source {
	case "IOT", string(SourceIoT):
		return SourceIoT
	case "EDI", string(SourceEDI):
		return SourceEDI
	case string(SourceTokenEngine), string(SourceRisk), string(SourceProof),
		string(SourceSettlement), string(SourceGovernance), string(SourceOperator):
		return Source(source)
	default:
		return SourceOperator
	}
}

func isIoTSource(source string) bool {
	return source == "IOT" || source == string(SourceIoT)
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
