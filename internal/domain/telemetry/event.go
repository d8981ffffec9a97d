// Package telemetry defines the outbound status events of the feeder.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/iotreat/internal/domain/settings"
	"github.com/okian/iotreat/internal/domain/species"
)

// Name is the event tag carried in the "event" field.
type Name string

// Event vocabulary.
const (
	DeviceReady      Name = "device_ready"
	SpeciesDetected  Name = "species_detected"
	CooldownActive   Name = "cooldown_active"
	DispenseStart    Name = "dispense_start"
	DispenseProgress Name = "dispense_progress"
	DispenseDone     Name = "dispense_done"
	DispenseTimeout  Name = "dispense_timeout"
	SkipDispense     Name = "skip_dispense"
	SettingsUpdated  Name = "settings_updated"
)

// ReasonTargetNotPositive is the skip reason for a zero or negative target.
const ReasonTargetNotPositive = "target_grams<=0"

// Envelope keys. Body keys with the same name are overridden on encode.
const (
	keyEvent = "event"
	keyTS    = "ts"
)

// Event is one telemetry message. On the wire the body is flattened next to
// the "event" tag and the millisecond "ts".
type Event struct {
	Name Name
	TS   time.Time
	Body map[string]any
}

// New builds an event with a copy of body.
func New(name Name, ts time.Time, body map[string]any) Event {
	b := make(map[string]any, len(body))
	for k, v := range body {
		b[k] = v
	}
	return Event{Name: name, TS: ts, Body: b}
}

// Millis returns the timestamp in Unix milliseconds.
func (e Event) Millis() int64 { return e.TS.UnixMilli() }

// MarshalJSON encodes {"event": name, "ts": millis, ...body}.
func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Body)+2)
	for k, v := range e.Body {
		flat[k] = v
	}
	flat[keyEvent] = e.Name
	flat[keyTS] = e.Millis()
	return json.Marshal(flat)
}

// UnmarshalJSON decodes the flattened form.
func (e *Event) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	var name string
	if raw, ok := flat[keyEvent]; ok {
		if err := json.Unmarshal(raw, &name); err != nil {
			return fmt.Errorf("event tag: %w", err)
		}
	}
	if name == "" {
		return fmt.Errorf("missing %q field", keyEvent)
	}
	var ms int64
	if raw, ok := flat[keyTS]; ok {
		if err := json.Unmarshal(raw, &ms); err != nil {
			return fmt.Errorf("event ts: %w", err)
		}
	}
	body := make(map[string]any, len(flat))
	for k, raw := range flat {
		if k == keyEvent || k == keyTS {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		body[k] = v
	}
	e.Name = Name(name)
	e.TS = time.UnixMilli(ms)
	e.Body = body
	return nil
}

// Publisher delivers events without blocking the caller.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f.
func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {}) //nolint:gochecknoglobals // stateless sink

// NewDeviceReady announces the settings in effect at startup.
func NewDeviceReady(ts time.Time, current map[species.Species]settings.SpeciesSettings) Event {
	return New(DeviceReady, ts, map[string]any{"settings": settingsBody(current)})
}

// NewSpeciesDetected reports an eligible detection that passed the cooldown.
func NewSpeciesDetected(ts time.Time, sp species.Species) Event {
	return New(SpeciesDetected, ts, map[string]any{"species": string(sp)})
}

// NewCooldownActive reports a detection rejected by the cooldown gate.
func NewCooldownActive(ts time.Time, sp species.Species, cooldown, elapsed time.Duration) Event {
	return New(CooldownActive, ts, map[string]any{
		"species":    string(sp),
		"cooldown_s": int(cooldown / time.Second),
		"elapsed_s":  int(elapsed / time.Second),
	})
}

// NewDispenseStart reports that the dispenser is about to open.
func NewDispenseStart(ts time.Time, sp species.Species, target float64, attemptID string) Event {
	return New(DispenseStart, ts, withAttempt(map[string]any{
		"species":      string(sp),
		"target_grams": target,
	}, attemptID))
}

// NewDispenseProgress reports the mass during a dispense.
func NewDispenseProgress(ts time.Time, sp species.Species, grams float64, attemptID string) Event {
	return New(DispenseProgress, ts, withAttempt(map[string]any{
		"species": string(sp),
		"grams":   grams,
	}, attemptID))
}

// NewDispenseDone reports a dispense that reached its target.
func NewDispenseDone(ts time.Time, sp species.Species, reached float64, attemptID string) Event {
	return New(DispenseDone, ts, withAttempt(map[string]any{
		"species":       string(sp),
		"reached_grams": reached,
	}, attemptID))
}

// NewDispenseTimeout reports a dispense that ended without reaching its target.
// cause is omitted when nil.
func NewDispenseTimeout(ts time.Time, sp species.Species, last float64, attemptID string, cause error) Event {
	body := withAttempt(map[string]any{
		"species":    string(sp),
		"last_grams": last,
	}, attemptID)
	if cause != nil {
		body["error"] = cause.Error()
	}
	return New(DispenseTimeout, ts, body)
}

// NewSkipDispense reports an attempt that never moved the actuator.
func NewSkipDispense(ts time.Time, sp species.Species, reason, attemptID string) Event {
	return New(SkipDispense, ts, withAttempt(map[string]any{
		"species": string(sp),
		"reason":  reason,
	}, attemptID))
}

// NewSettingsUpdated lists exactly the species changed by one message.
func NewSettingsUpdated(ts time.Time, updated map[species.Species]settings.SpeciesSettings) Event {
	return New(SettingsUpdated, ts, map[string]any{"updated": settingsBody(updated)})
}

func settingsBody(m map[species.Species]settings.SpeciesSettings) map[string]settings.SpeciesSettings {
	out := make(map[string]settings.SpeciesSettings, len(m))
	for sp, s := range m {
		out[string(sp)] = s
	}
	return out
}

func withAttempt(body map[string]any, attemptID string) map[string]any {
	if attemptID != "" {
		body["attempt_id"] = attemptID
	}
	return body
}
