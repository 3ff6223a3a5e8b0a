package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIGmindz/chainbridge/errors"
)

func TestDetectType_Explicit(t *testing.T) {
	eventType, err := DetectType(map[string]any{"event_type": "PROOF_COMPUTED"})
	require.NoError(t, err)
	assert.Equal(t, TypeProofComputed, eventType)
}

func TestDetectType_ExplicitUnknown(t *testing.T) {
	_, err := DetectType(map[string]any{"event_type": "TIME_TRAVEL"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownEvent)
}

func TestDetectType_EDI(t *testing.T) {
	tests := []struct {
		ediType  string
		expected Type
	}{
		{"204", TypeEDITenderRequest},
		{"214", TypeEDIStatusUpdate},
		{"210", TypeEDIInvoice},
	}

	for _, test := range tests {
		t.Run(test.ediType, func(t *testing.T) {
			eventType, err := DetectType(map[string]any{"edi_type": test.ediType})
			require.NoError(t, err)
			assert.Equal(t, test.expected, eventType)
		})
	}

	_, err := DetectType(map[string]any{"edi_type": "999"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownEvent)
}

// IoT payload with no top-level event_type and a nested marker must be
// classified from the nested payload.
func TestDetectType_IoTNested(t *testing.T) {
	raw := map[string]any{
		"source": "IOT",
		"payload": map[string]any{
			"event_type":  "GEOFENCE_ENTER",
			"geofence_id": "GF-DALLAS-DOCK",
		},
	}

	eventType, err := DetectType(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeIoTGeofenceEnter, eventType)
}

func TestDetectType_IoTDefaultTelemetry(t *testing.T) {
	eventType, err := DetectType(map[string]any{
		"source":  "IOT_CHAINSENSE",
		"payload": map[string]any{"latitude": 32.7, "longitude": -96.8},
	})
	require.NoError(t, err)
	assert.Equal(t, TypeIoTTelemetry, eventType)
}

func TestDetectType_Undetectable(t *testing.T) {
	_, err := DetectType(map[string]any{"something": "else"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownEvent)
}

// Scenario: source=IOT, no top-level event_type, nested GEOFENCE_ENTER must
// normalize to a schema-valid IOT_GEOFENCE_ENTER event.
func TestNormalize_IoTNestedGeofence(t *testing.T) {
	raw := map[string]any{
		"source":             "IOT",
		"parent_shipment_id": "SHIP-001",
		"device_id":          "SENSOR-001",
		"timestamp":          "2025-03-15T12:00:00Z",
		"payload": map[string]any{
			"event_type":  "GEOFENCE_ENTER",
			"geofence_id": "GF-DALLAS-DOCK",
			"action":      "ENTER",
		},
	}

	e, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeIoTGeofenceEnter, e.Type)
	assert.Equal(t, SourceIoT, e.Source)
	assert.Equal(t, "SHIP-001", e.ParentShipmentID)
	assert.Equal(t, "SENSOR-001", e.DeviceID)
	assert.Equal(t, PriorityHigh, e.Priority)
	assert.NotEmpty(t, e.EventID)
	assert.NotZero(t, e.OccurredAt)
	assert.NotZero(t, e.IngestedAt)
	assert.Equal(t, "GF-DALLAS-DOCK", e.Payload["geofence_id"])
}

func TestNormalize_Defaults(t *testing.T) {
	raw := map[string]any{
		"edi_type":           "204",
		"parent_shipment_id": "SHIP-002",
		"shipper_id":         "SHPR-1",
	}

	e, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeEDITenderRequest, e.Type)
	assert.Equal(t, SourceEDI, e.Source, "source defaulted from type")
	assert.Equal(t, "system", e.ActorID, "actor defaulted")
	assert.NotEmpty(t, e.EventID, "event id generated")
	assert.Equal(t, e.IngestedAt, e.OccurredAt, "occurred_at defaulted to ingestion time")
	assert.Equal(t, "SHPR-1", e.Payload["shipper_id"], "flat payload carried over")
}

func TestNormalize_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"missing shipment", map[string]any{"event_type": "PROOF_COMPUTED",
			"payload": map[string]any{"target_token_id": "AT-02-x"}}},
		{"shipment too short", map[string]any{"event_type": "PROOF_COMPUTED",
			"parent_shipment_id": "S",
			"payload":            map[string]any{"target_token_id": "AT-02-x"}}},
		{"missing required payload field", map[string]any{"event_type": "EDI_STATUS_UPDATE",
			"parent_shipment_id": "SHIP-001",
			"payload":            map[string]any{"location_code": "DAL"}}},
		{"iot missing device", map[string]any{"event_type": "IOT_TELEMETRY",
			"parent_shipment_id": "SHIP-001",
			"payload":            map[string]any{"latitude": 1.0}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e, err := Normalize(test.raw)
			require.Error(t, err)
			assert.Nil(t, e)
			assert.ErrorIs(t, err, errors.ErrSchemaViolation)
			assert.Equal(t, "SCHEMA_VIOLATION", errors.ReasonCode(err))
		})
	}
}

func TestNormalize_DeviceIDFromPayload(t *testing.T) {
	raw := map[string]any{
		"event_type":         "IOT_TELEMETRY",
		"parent_shipment_id": "SHIP-001",
		"payload": map[string]any{
			"device_id": "SENSOR-007",
			"latitude":  32.7,
		},
	}

	e, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "SENSOR-007", e.DeviceID)
}

func TestNew_Defaults(t *testing.T) {
	e := New(TypeSettlementComplete, SourceSettlement, "SHIP-003", "chainpay", nil)
	assert.Equal(t, PriorityCritical, e.Priority)
	assert.NotEmpty(t, e.EventID)
	assert.NotNil(t, e.Payload)
	assert.Equal(t, "SHIP-003", e.ParentShipmentID)
}
