// Package consistency flags physically implausible telemetry sequences.
// Anomalies are advisory: they ride along on the ingestion receipt and never
// block ingestion by themselves.
package consistency

import (
	"fmt"
	"sync"

	"github.com/BIGmindz/chainbridge/pkg/geo"
	"github.com/BIGmindz/chainbridge/pkg/timestamp"
	"github.com/BIGmindz/chainbridge/telemetry"
)

// Anomaly types.
const (
	AnomalySpeedViolation   = "SPEED_VIOLATION"
	AnomalyNonMonotonicTime = "NON_MONOTONIC_TIME"
)

// DefaultMaxSpeedMPS is the physically plausible ceiling for implied ground
// speed. 90 m/s is well above highway traffic and below anything a truck
// can do; GPS jumps and cloned devices land far past it.
const DefaultMaxSpeedMPS = 90.0

// Anomaly is one advisory finding about a telemetry sequence.
type Anomaly struct {
	Type     string  `json:"type"`
	DeviceID string  `json:"device_id"`
	Detail   string  `json:"detail"`
	Value    float64 `json:"value,omitempty"`
}

// Checker compares consecutive records per device.
type Checker struct {
	mu          sync.Mutex
	maxSpeedMPS float64
	previous    map[string]*telemetry.Record
}

// NewChecker creates a checker with the given implied-speed ceiling.
// maxSpeedMPS <= 0 selects the default.
func NewChecker(maxSpeedMPS float64) *Checker {
	if maxSpeedMPS <= 0 {
		maxSpeedMPS = DefaultMaxSpeedMPS
	}
	return &Checker{
		maxSpeedMPS: maxSpeedMPS,
		previous:    make(map[string]*telemetry.Record),
	}
}

// Check compares the record against the device's previous one, records the
// new record as the device's latest, and returns any anomalies. The first
// record for a device can never be anomalous.
func (c *Checker) Check(rec *telemetry.Record) []Anomaly {
	c.mu.Lock()
	prev := c.previous[rec.DeviceID]
	c.previous[rec.DeviceID] = rec
	c.mu.Unlock()

	if prev == nil {
		return nil
	}

	var anomalies []Anomaly

	elapsed := timestamp.Between(prev.EventTime, rec.EventTime)
	if elapsed <= 0 {
		anomalies = append(anomalies, Anomaly{
			Type:     AnomalyNonMonotonicTime,
			DeviceID: rec.DeviceID,
			Detail: fmt.Sprintf("event time %s not after previous %s",
				timestamp.Format(rec.EventTime), timestamp.Format(prev.EventTime)),
		})
		// No meaningful speed without a positive time delta
		return anomalies
	}

	distance := geo.HaversineMeters(
		geo.Point{Lat: prev.Lat, Lon: prev.Lon},
		geo.Point{Lat: rec.Lat, Lon: rec.Lon},
	)
	impliedSpeed := distance / elapsed.Seconds()
	if impliedSpeed > c.maxSpeedMPS {
		anomalies = append(anomalies, Anomaly{
			Type:     AnomalySpeedViolation,
			DeviceID: rec.DeviceID,
			Detail: fmt.Sprintf("implied speed %.1f m/s over %.0f m exceeds ceiling %.1f m/s",
				impliedSpeed, distance, c.maxSpeedMPS),
			Value: impliedSpeed,
		})
	}

	return anomalies
}

// Last returns the device's most recent accepted record, if any.
func (c *Checker) Last(deviceID string) (*telemetry.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.previous[deviceID]
	return rec, ok
}
