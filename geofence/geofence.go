// Package geofence implements containment transition detection. The engine
// tracks the previous containment state of every device-geofence pair and
// emits ENTER, EXIT, and DOCKED events only on a change, so re-evaluating
// the same telemetry never duplicates an event.
package geofence

import (
	"sync"

	"github.com/BIGmindz/chainbridge/pkg/geo"
	"github.com/BIGmindz/chainbridge/telemetry"
)

// Kind classifies a geofence by its role in the shipment lifecycle.
type Kind string

// Geofence kinds.
const (
	KindShipperPickup Kind = "SHIPPER_PICKUP"
	KindConsignee     Kind = "CONSIGNEE"
	KindTerminal      Kind = "TERMINAL"
	KindBorder        Kind = "BORDER"
	KindCustom        Kind = "CUSTOM"
)

// Action is a containment transition.
type Action string

// Containment transitions. DOCKED is evaluated independently of the
// enter/exit edge and can co-occur with either.
const (
	ActionEnter  Action = "ENTER"
	ActionExit   Action = "EXIT"
	ActionDocked Action = "DOCKED"
)

// dockedSpeedMPS is the ceiling below which a vehicle counts as stationary.
const dockedSpeedMPS = 0.5

// Definition is static reference data for one geofence, immutable at
// evaluation time.
type Definition struct {
	ID       string        `json:"geofence_id"`
	Name     string        `json:"name"`
	Kind     Kind          `json:"kind"`
	Polygons []geo.Polygon `json:"polygons"`
}

// Event is one detected containment transition.
type Event struct {
	GeofenceID   string    `json:"geofence_id"`
	GeofenceName string    `json:"geofence_name"`
	GeofenceKind Kind      `json:"geofence_type"`
	Action       Action    `json:"action"`
	DeviceID     string    `json:"device_id"`
	ShipmentID   string    `json:"shipment_id"`
	Location     geo.Point `json:"location"`
	OccurredAt   int64     `json:"occurred_at"`
}

type pairKey struct {
	deviceID   string
	geofenceID string
}

type pairState struct {
	inside bool
	docked bool
}

// Engine evaluates telemetry against the configured geofence definitions.
//
// BaselineEnter selects the first-observation policy: when false (the
// default), a device's first reading inside a geofence establishes a
// baseline without emitting ENTER, avoiding spurious events on restart;
// when true, the first inside reading emits ENTER.
type Engine struct {
	mu            sync.Mutex
	definitions   []Definition
	baselineEnter bool
	states        map[pairKey]pairState
}

// NewEngine creates an engine over static definitions.
func NewEngine(definitions []Definition, baselineEnter bool) *Engine {
	return &Engine{
		definitions:   definitions,
		baselineEnter: baselineEnter,
		states:        make(map[pairKey]pairState),
	}
}

// Evaluate compares the record against every definition and the stored
// per-pair state, emitting transitions and updating the state. Serialized
// internally; callers may evaluate concurrently for different devices.
func (e *Engine) Evaluate(rec *telemetry.Record) []Event {
	point := geo.Point{Lat: rec.Lat, Lon: rec.Lon}

	e.mu.Lock()
	defer e.mu.Unlock()

	var events []Event
	for _, def := range e.definitions {
		key := pairKey{deviceID: rec.DeviceID, geofenceID: def.ID}
		inside := geo.ContainsAny(def.Polygons, point)
		stationary := inside && rec.SpeedMPS < dockedSpeedMPS && !rec.Ignition

		prev, seen := e.states[key]

		switch {
		case !seen:
			if inside && e.baselineEnter {
				events = append(events, e.newEvent(def, ActionEnter, rec, point))
			}
		case inside && !prev.inside:
			events = append(events, e.newEvent(def, ActionEnter, rec, point))
		case !inside && prev.inside:
			events = append(events, e.newEvent(def, ActionExit, rec, point))
		}

		if stationary && !prev.docked {
			events = append(events, e.newEvent(def, ActionDocked, rec, point))
		}

		e.states[key] = pairState{inside: inside, docked: stationary}
	}
	return events
}

// Inside reports the tracked containment state for a device-geofence pair.
func (e *Engine) Inside(deviceID, geofenceID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[pairKey{deviceID: deviceID, geofenceID: geofenceID}].inside
}

func (e *Engine) newEvent(def Definition, action Action, rec *telemetry.Record, point geo.Point) Event {
	return Event{
		GeofenceID:   def.ID,
		GeofenceName: def.Name,
		GeofenceKind: def.Kind,
		Action:       action,
		DeviceID:     rec.DeviceID,
		ShipmentID:   rec.ShipmentID,
		Location:     point,
		OccurredAt:   rec.EventTime,
	}
}
