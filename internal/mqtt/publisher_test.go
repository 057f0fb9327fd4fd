package mqtt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nugget/asistente/internal/config"
	"github.com/nugget/asistente/internal/events"
)

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Errorf("id %q is not a UUID: %v", first, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}

func TestLoadOrCreateInstanceID_ReplacesGarbage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "instance_id"), []byte("not-a-uuid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if id == "not-a-uuid" {
		t.Error("garbage instance ID was kept")
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("id-1", "cocina")
	if info.Name != "cocina" {
		t.Errorf("Name = %q, want cocina", info.Name)
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "id-1" {
		t.Errorf("Identifiers = %v, want [id-1]", info.Identifiers)
	}
	if info.SWVersion == "" {
		t.Error("SWVersion is empty")
	}
}

func testPublisher() *Publisher {
	return New(config.MQTTConfig{
		Broker:          "mqtt://localhost:1883",
		TopicPrefix:     "asistente",
		DeviceName:      "cocina",
		DiscoveryPrefix: "homeassistant",
	}, "instance-123", nil)
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := testPublisher()
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"base", p.baseTopic(), "asistente/cocina"},
		{"availability", p.availabilityTopic(), "asistente/cocina/availability"},
		{"state", p.stateTopic("last_command"), "asistente/cocina/last_command/state"},
		{"execution", p.executionTopic(), "asistente/cocina/last_execution"},
		{"discovery", p.discoveryTopic("commands_total"), "homeassistant/sensor/cocina/commands_total/config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	p := testPublisher()
	defs := p.sensorDefinitions()
	if len(defs) != 6 {
		t.Fatalf("got %d sensors, want 6", len(defs))
	}

	seen := make(map[string]bool)
	states := p.status.States("test")
	for _, d := range defs {
		if seen[d.config.UniqueID] {
			t.Errorf("duplicate unique_id %q", d.config.UniqueID)
		}
		seen[d.config.UniqueID] = true
		if d.config.AvailabilityTopic != "asistente/cocina/availability" {
			t.Errorf("%s availability = %q", d.entity, d.config.AvailabilityTopic)
		}
		if _, ok := states[d.entity]; !ok {
			t.Errorf("sensor %s has no state value", d.entity)
		}

		raw, err := json.Marshal(d.config)
		if err != nil {
			t.Fatal(err)
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatal(err)
		}
		if _, ok := m["device"]; !ok {
			t.Errorf("%s payload missing device block", d.entity)
		}
	}

	if defs[0].config.JsonAttributesTopic != "asistente/cocina/last_execution" {
		t.Errorf("last_command attributes topic = %q", defs[0].config.JsonAttributesTopic)
	}
}

func TestStatus_Observe(t *testing.T) {
	ts := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	var s Status

	if b, _ := s.Attributes(); b != nil {
		t.Errorf("Attributes() before any event = %s", b)
	}
	states := s.States("1.0")
	if states[entityLastCommand] != "none" || states[entityLastTrigger] != "never" || states[entityVersion] != "1.0" {
		t.Errorf("initial states = %v", states)
	}

	if s.Observe(events.Event{Kind: events.KindCommandResolved, Data: map[string]any{"stage": "empty"}}) {
		t.Error("empty utterance changed the status")
	}
	if s.Observe(events.Event{Kind: events.KindSessionStarted}) {
		t.Error("session event changed the status")
	}

	s.Observe(events.Event{Timestamp: ts, Kind: events.KindCommandResolved, Data: map[string]any{
		"stage": "template", "utterance": "enciende la luz", "phrase": "enciende la luz", "success": true,
	}})
	s.Observe(events.Event{Timestamp: ts, Kind: events.KindCommandResolved, Data: map[string]any{
		"stage": "fallback", "utterance": "cuéntame un chiste", "error": "boom",
	}})
	s.Observe(events.Event{Timestamp: ts, Kind: events.KindTriggerFired, Data: map[string]any{
		"phrase": "buenos días", "success": false,
	}})
	s.Observe(events.Event{Timestamp: ts, Kind: events.KindFallbackFailed})

	states = s.States("1.0")
	want := map[string]string{
		entityLastCommand: "buenos días",
		entityLastStage:   "trigger",
		entityCommands:    "3",
		entityFailures:    "3",
		entityLastTrigger: "2026-03-14T08:00:00Z",
	}
	for k, v := range want {
		if states[k] != v {
			t.Errorf("%s = %q, want %q", k, states[k], v)
		}
	}

	raw, err := s.Attributes()
	if err != nil {
		t.Fatal(err)
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		t.Fatal(err)
	}
	if attrs["phrase"] != "buenos días" || attrs["at"] != "2026-03-14T08:00:00Z" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestPublisher_AwaitConnectionBeforeStart(t *testing.T) {
	if err := testPublisher().AwaitConnection(t.Context()); err == nil {
		t.Error("AwaitConnection() before Start should fail")
	}
	if err := testPublisher().Stop(t.Context()); err != nil {
		t.Errorf("Stop() before Start = %v", err)
	}
}
