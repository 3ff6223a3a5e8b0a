// Package ingest is the ChainSense telemetry service: signature guard,
// normalization, geofence evaluation, consistency checking, and routing of
// the resulting canonical events. The guard fails closed: a rejected request
// runs nothing downstream and advances no watermark.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/BIGmindz/chainbridge/consistency"
	"github.com/BIGmindz/chainbridge/device"
	"github.com/BIGmindz/chainbridge/errors"
	"github.com/BIGmindz/chainbridge/event"
	"github.com/BIGmindz/chainbridge/geofence"
	"github.com/BIGmindz/chainbridge/health"
	"github.com/BIGmindz/chainbridge/metric"
	"github.com/BIGmindz/chainbridge/router"
	"github.com/BIGmindz/chainbridge/telemetry"
)

// Receipt is the ingestion outcome returned to the caller. OCPayload is the
// canonical summary event as published for operator consoles.
type Receipt struct {
	Accepted            bool                  `json:"accepted"`
	EventID             string                `json:"event_id"`
	DeviceID            string                `json:"device_id"`
	ShipmentID          string                `json:"shipment_id"`
	MilestonesGenerated int                   `json:"milestones_generated"`
	Transitions         []router.Transition   `json:"transitions,omitempty"`
	GeofenceEvents      []geofence.Event      `json:"geofence_events,omitempty"`
	Anomalies           []consistency.Anomaly `json:"anomalies,omitempty"`
	OCPayload           map[string]any        `json:"oc_payload"`
}

// DeviceStatus is the last accepted telemetry summary for a device.
type DeviceStatus struct {
	DeviceID       string  `json:"device_id"`
	ShipmentID     string  `json:"shipment_id,omitempty"`
	LastEventTime  int64   `json:"last_event_time,omitempty"`
	Latitude       float64 `json:"latitude,omitempty"`
	Longitude      float64 `json:"longitude,omitempty"`
	SpeedMPS       float64 `json:"speed_mps,omitempty"`
	NonceWatermark uint64  `json:"nonce_watermark"`
	HasTelemetry   bool    `json:"has_telemetry"`
}

// Service composes the ingestion pipeline.
type Service struct {
	guard     *device.Guard
	geofences *geofence.Engine
	checker   *consistency.Checker
	router    *router.Router
	metrics   *metric.Metrics
	monitor   *health.Monitor
	logger    *slog.Logger
}

// NewService wires the pipeline. The monitor may be nil.
func NewService(guard *device.Guard, geofences *geofence.Engine, checker *consistency.Checker,
	r *router.Router, metrics *metric.Metrics, monitor *health.Monitor, logger *slog.Logger) *Service {

	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = metric.NewMetrics()
	}
	return &Service{
		guard:     guard,
		geofences: geofences,
		checker:   checker,
		router:    r,
		metrics:   metrics,
		monitor:   monitor,
		logger:    logger,
	}
}

// Ingest runs one signed telemetry request through the pipeline. Security
// and schema rejections return a classified error with nothing committed;
// an accepted request always yields a receipt, even when downstream routing
// steps are degraded.
func (s *Service) Ingest(ctx context.Context, req *telemetry.Request) (*Receipt, error) {
	start := time.Now()

	if err := s.verify(req); err != nil {
		s.metrics.RecordIngestRejected(errors.ReasonCode(err))
		s.logger.Warn("telemetry rejected",
			"device_id", req.DeviceID, "reason", errors.ReasonCode(err))
		return nil, err
	}

	rec, err := s.normalize(req)
	if err != nil {
		s.metrics.RecordIngestRejected(errors.ReasonCode(err))
		s.logger.Warn("telemetry rejected",
			"device_id", req.DeviceID, "reason", errors.ReasonCode(err))
		return nil, err
	}

	geofenceEvents := s.evaluateGeofences(rec)
	anomalies := s.checkConsistency(rec)

	receipt := &Receipt{
		Accepted:       true,
		DeviceID:       rec.DeviceID,
		ShipmentID:     rec.ShipmentID,
		GeofenceEvents: geofenceEvents,
		Anomalies:      anomalies,
	}

	// Route each boundary crossing, then always one summary event
	for i := range geofenceEvents {
		s.routeGeofenceEvent(ctx, rec, &geofenceEvents[i], receipt)
	}
	s.routeSummary(ctx, rec, geofenceEvents, anomalies, receipt)

	watermark, _ := s.guard.Watermark(rec.DeviceID)
	s.metrics.RecordNonceWatermark(rec.DeviceID, watermark)
	s.metrics.RecordIngestAccepted(rec.DeviceID)
	s.metrics.RecordIngestDuration("total", time.Since(start))
	if s.monitor != nil {
		s.monitor.UpdateHealthy("ingest", "processing telemetry")
	}

	s.logger.Info("telemetry accepted",
		"device_id", rec.DeviceID,
		"shipment_id", rec.ShipmentID,
		"geofence_events", len(geofenceEvents),
		"milestones", receipt.MilestonesGenerated,
		"anomalies", len(anomalies))
	return receipt, nil
}

// Status returns the last accepted telemetry summary for a known device.
func (s *Service) Status(deviceID string) (*DeviceStatus, error) {
	watermark, err := s.guard.Watermark(deviceID)
	if err != nil {
		return nil, err
	}

	status := &DeviceStatus{DeviceID: deviceID, NonceWatermark: watermark}
	if last, ok := s.checker.Last(deviceID); ok {
		status.HasTelemetry = true
		status.ShipmentID = last.ShipmentID
		status.LastEventTime = last.EventTime
		status.Latitude = last.Lat
		status.Longitude = last.Lon
		status.SpeedMPS = last.SpeedMPS
	}
	return status, nil
}

func (s *Service) verify(req *telemetry.Request) error {
	start := time.Now()
	defer func() { s.metrics.RecordIngestDuration("guard", time.Since(start)) }()
	return s.guard.Verify(req.DeviceID, req.Nonce, req.Canonical(), req.Signature)
}

func (s *Service) normalize(req *telemetry.Request) (*telemetry.Record, error) {
	start := time.Now()
	defer func() { s.metrics.RecordIngestDuration("normalize", time.Since(start)) }()
	return telemetry.Normalize(req)
}

func (s *Service) evaluateGeofences(rec *telemetry.Record) []geofence.Event {
	start := time.Now()
	defer func() { s.metrics.RecordIngestDuration("geofence", time.Since(start)) }()

	events := s.geofences.Evaluate(rec)
	for _, evt := range events {
		s.metrics.RecordGeofenceEvent(string(evt.Action))
	}
	return events
}

func (s *Service) checkConsistency(rec *telemetry.Record) []consistency.Anomaly {
	start := time.Now()
	defer func() { s.metrics.RecordIngestDuration("consistency", time.Since(start)) }()

	anomalies := s.checker.Check(rec)
	for _, a := range anomalies {
		s.metrics.RecordAnomaly(a.Type)
		s.logger.Warn("telemetry anomaly",
			"device_id", a.DeviceID, "type", a.Type, "detail", a.Detail)
	}
	return anomalies
}

// routeGeofenceEvent submits one boundary crossing to the router. DOCKED has
// no routing rule of its own; it rides along in the telemetry summary.
func (s *Service) routeGeofenceEvent(ctx context.Context, rec *telemetry.Record, gev *geofence.Event, receipt *Receipt) {
	var eventType event.Type
	switch gev.Action {
	case geofence.ActionEnter:
		eventType = event.TypeIoTGeofenceEnter
	case geofence.ActionExit:
		eventType = event.TypeIoTGeofenceExit
	default:
		return
	}

	e := event.New(eventType, event.SourceIoT, rec.ShipmentID, rec.DeviceID, map[string]any{
		"geofence_id":   gev.GeofenceID,
		"geofence_type": string(gev.GeofenceKind),
		"location":      gev.GeofenceName,
		"latitude":      gev.Location.Lat,
		"longitude":     gev.Location.Lon,
	})
	e.DeviceID = rec.DeviceID
	e.OccurredAt = rec.EventTime

	s.submit(ctx, e, receipt)
}

// routeSummary submits the IOT_TELEMETRY event that every accepted ingestion
// produces, geofence crossings or not.
func (s *Service) routeSummary(ctx context.Context, rec *telemetry.Record,
	geofenceEvents []geofence.Event, anomalies []consistency.Anomaly, receipt *Receipt) {

	docked := false
	for _, gev := range geofenceEvents {
		if gev.Action == geofence.ActionDocked {
			docked = true
		}
	}

	e := event.New(event.TypeIoTTelemetry, event.SourceIoT, rec.ShipmentID, rec.DeviceID, map[string]any{
		"latitude":        rec.Lat,
		"longitude":       rec.Lon,
		"speed_mps":       rec.SpeedMPS,
		"heading":         rec.Heading,
		"engine_state":    rec.EngineState,
		"ignition":        rec.Ignition,
		"docked":          docked,
		"geofence_events": len(geofenceEvents),
		"anomalies":       len(anomalies),
	})
	e.DeviceID = rec.DeviceID
	e.OccurredAt = rec.EventTime

	s.submit(ctx, e, receipt)
	receipt.EventID = e.EventID
	receipt.OCPayload = map[string]any{
		"event_id":           e.EventID,
		"event_type":         string(e.Type),
		"source":             string(e.Source),
		"parent_shipment_id": e.ParentShipmentID,
		"device_id":          e.DeviceID,
		"payload":            e.Payload,
	}
}

// submit routes one event and folds the outcome into the receipt. Routing
// degradation never fails an already-accepted ingestion: the nonce advance
// and any committed token work stand.
func (s *Service) submit(ctx context.Context, e *event.Event, receipt *Receipt) {
	res, err := s.router.Submit(ctx, e)
	if err != nil {
		s.logger.Error("routing failed for accepted telemetry",
			"event_id", e.EventID, "event_type", e.Type, "error", err)
		if s.monitor != nil {
			s.monitor.UpdateDegraded("ingest", "routing failures on accepted telemetry")
		}
		return
	}

	receipt.MilestonesGenerated += len(res.TokensCreated)
	receipt.Transitions = append(receipt.Transitions, res.TokensTransitioned...)
}
