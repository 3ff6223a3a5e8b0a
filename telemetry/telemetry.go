// Package telemetry defines the signed telemetry request accepted by the
// ingestion API, its canonical signing encoding, and the normalizer that
// converts raw device payloads into canonical TelemetryRecords.
package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BIGmindz/chainbridge/errors"
	"github.com/BIGmindz/chainbridge/pkg/timestamp"
)

// Request is the raw signed telemetry submission, one per device reading.
// EventTime accepts Unix seconds, Unix milliseconds, or RFC3339 strings;
// devices in the field report all three.
type Request struct {
	DeviceID        string         `json:"device_id"`
	ShipmentID      string         `json:"shipment_id"`
	EventTime       any            `json:"event_time"`
	Latitude        float64        `json:"latitude"`
	Longitude       float64        `json:"longitude"`
	Speed           float64        `json:"speed"`
	Heading         float64        `json:"heading"`
	EngineState     string         `json:"engine_state"`
	IdleTimeSeconds int            `json:"idle_time_seconds"`
	Ignition        bool           `json:"ignition"`
	BatteryVoltage  float64        `json:"battery_voltage"`
	RawMetadata     map[string]any `json:"raw_metadata,omitempty"`
	Nonce           uint64         `json:"nonce"`
	Signature       string         `json:"signature"`
}

// Canonical returns the fixed-order byte encoding of all non-signature
// fields, the exact input to the HMAC on both the device and the guard.
// Event time is canonicalized to Unix milliseconds so string and numeric
// encodings of the same instant sign identically.
func (r *Request) Canonical() []byte {
	fields := []string{
		r.DeviceID,
		r.ShipmentID,
		strconv.FormatInt(timestamp.Parse(r.EventTime), 10),
		strconv.FormatFloat(r.Latitude, 'f', -1, 64),
		strconv.FormatFloat(r.Longitude, 'f', -1, 64),
		strconv.FormatFloat(r.Speed, 'f', -1, 64),
		strconv.FormatFloat(r.Heading, 'f', -1, 64),
		r.EngineState,
		strconv.Itoa(r.IdleTimeSeconds),
		strconv.FormatBool(r.Ignition),
		strconv.FormatFloat(r.BatteryVoltage, 'f', -1, 64),
		strconv.FormatUint(r.Nonce, 10),
	}
	return []byte(strings.Join(fields, "|"))
}

// Record is the canonical normalized telemetry record. Derived
// deterministically from a Request; each ingestion produces a new one.
type Record struct {
	DeviceID       string         `json:"device_id"`
	ShipmentID     string         `json:"shipment_id"`
	EventTime      int64          `json:"event_time"`
	Lat            float64        `json:"lat"`
	Lon            float64        `json:"lon"`
	SpeedMPS       float64        `json:"speed_mps"`
	Heading        float64        `json:"heading"`
	EngineState    string         `json:"engine_state"`
	Ignition       bool           `json:"ignition"`
	IdleSeconds    int            `json:"idle_seconds"`
	BatteryVoltage float64        `json:"battery_voltage"`
	Raw            map[string]any `json:"raw,omitempty"`
}

// Normalize converts a verified request into a canonical record, validating
// coordinate and value ranges. A missing event time defaults to ingestion
// time rather than rejecting: field devices with drifted clocks still count.
func Normalize(req *Request) (*Record, error) {
	if req.DeviceID == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: device_id required", errors.ErrSchemaViolation),
			"Telemetry", "Normalize", "validate request")
	}
	if req.ShipmentID == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: shipment_id required", errors.ErrSchemaViolation),
			"Telemetry", "Normalize", "validate request")
	}
	if req.Latitude < -90 || req.Latitude > 90 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: latitude %v out of range", errors.ErrSchemaViolation, req.Latitude),
			"Telemetry", "Normalize", "validate coordinates")
	}
	if req.Longitude < -180 || req.Longitude > 180 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: longitude %v out of range", errors.ErrSchemaViolation, req.Longitude),
			"Telemetry", "Normalize", "validate coordinates")
	}
	if req.Speed < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: speed %v negative", errors.ErrSchemaViolation, req.Speed),
			"Telemetry", "Normalize", "validate speed")
	}
	if req.Heading < 0 || req.Heading > 360 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: heading %v out of range", errors.ErrSchemaViolation, req.Heading),
			"Telemetry", "Normalize", "validate heading")
	}
	if req.IdleTimeSeconds < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: idle_time_seconds %d negative", errors.ErrSchemaViolation, req.IdleTimeSeconds),
			"Telemetry", "Normalize", "validate idle time")
	}

	eventTime := timestamp.Parse(req.EventTime)
	if eventTime == 0 {
		eventTime = timestamp.Now()
	}
	if err := timestamp.Validate(eventTime); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrSchemaViolation, err),
			"Telemetry", "Normalize", "validate event time")
	}

	return &Record{
		DeviceID:       req.DeviceID,
		ShipmentID:     req.ShipmentID,
		EventTime:      eventTime,
		Lat:            req.Latitude,
		Lon:            req.Longitude,
		SpeedMPS:       req.Speed,
		Heading:        req.Heading,
		EngineState:    req.EngineState,
		Ignition:       req.Ignition,
		IdleSeconds:    req.IdleTimeSeconds,
		BatteryVoltage: req.BatteryVoltage,
		Raw:            req.RawMetadata,
	}, nil
}
