package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeHA struct {
	lastPath string
	lastBody map[string]any
	auth     string
}

func (f *fakeHA) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/", func(w http.ResponseWriter, r *http.Request) {
		f.auth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(APIStatus{Message: "API running."})
	})
	mux.HandleFunc("GET /api/config", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Config{LocationName: "Casa", TimeZone: "Europe/Madrid", Version: "2026.3.0"})
	})
	mux.HandleFunc("GET /api/states/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch id := r.PathValue("id"); id {
		case "sensor.salon_temperatura":
			json.NewEncoder(w).Encode(State{
				EntityID:   id,
				State:      "21.5",
				Attributes: map[string]any{"unit_of_measurement": "°C", "friendly_name": "Salón"},
			})
		case "light.cocina":
			json.NewEncoder(w).Encode(State{EntityID: id, State: "on"})
		case "sensor.roto":
			json.NewEncoder(w).Encode(State{EntityID: id, State: "unavailable"})
		default:
			http.Error(w, `{"message":"Entity not found."}`, http.StatusNotFound)
		}
	})
	mux.HandleFunc("POST /api/services/{domain}/{service}", func(w http.ResponseWriter, r *http.Request) {
		f.lastPath = r.URL.Path
		f.lastBody = nil
		json.NewDecoder(r.Body).Decode(&f.lastBody)
		if r.PathValue("domain") == "broken" {
			http.Error(w, "bad service", http.StatusBadRequest)
			return
		}
		w.Write([]byte("[]"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) (*Client, *fakeHA) {
	f := &fakeHA{}
	srv := f.server(t)
	return NewClient(srv.URL+"/", "secret", srv.Client(), nil), f
}

func TestPingAndConfig(t *testing.T) {
	c, f := newTestClient(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	if f.auth != "Bearer secret" {
		t.Errorf("Authorization = %q", f.auth)
	}
	cfg, err := c.GetConfig(context.Background())
	if err != nil || cfg.LocationName != "Casa" {
		t.Errorf("GetConfig() = %+v, %v", cfg, err)
	}
}

func TestInvoke(t *testing.T) {
	c, f := newTestClient(t)
	data := map[string]any{"brightness": 128.0}

	if err := c.Invoke(context.Background(), "light", "turn_on", "light.cocina", data); err != nil {
		t.Fatalf("Invoke() error: %v", err)
	}
	if f.lastPath != "/api/services/light/turn_on" {
		t.Errorf("path = %q", f.lastPath)
	}
	if f.lastBody["entity_id"] != "light.cocina" || f.lastBody["brightness"] != 128.0 {
		t.Errorf("body = %v", f.lastBody)
	}
	if _, ok := data["entity_id"]; ok {
		t.Error("Invoke modified the caller's data map")
	}

	if err := c.Invoke(context.Background(), "scene", "turn_on", "", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.lastBody["entity_id"]; ok {
		t.Errorf("empty target sent entity_id: %v", f.lastBody)
	}
}

func TestInvoke_Failure(t *testing.T) {
	c, _ := newTestClient(t)
	err := c.Invoke(context.Background(), "broken", "x", "", nil)
	if err == nil || !strings.Contains(err.Error(), "API error 400") {
		t.Errorf("Invoke() error = %v", err)
	}
}

func TestQueryState(t *testing.T) {
	c, _ := newTestClient(t)
	tests := []struct {
		entity  string
		want    string
		wantErr error
	}{
		{"sensor.salon_temperatura", "21.5 °C", nil},
		{"light.cocina", "on", nil},
		{"sensor.roto", "", ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.entity, func(t *testing.T) {
			got, err := c.QueryState(context.Background(), tt.entity)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("QueryState() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}

	if _, err := c.QueryState(context.Background(), "sensor.nope"); err == nil {
		t.Error("missing entity should fail")
	}
}

func TestStateHelpers(t *testing.T) {
	s := &State{EntityID: "light.cocina", Attributes: map[string]any{}}
	if s.FriendlyName() != "light.cocina" || s.Unit() != "" {
		t.Errorf("helpers = %q, %q", s.FriendlyName(), s.Unit())
	}
}

type readyFunc func() bool

func (f readyFunc) IsReady() bool { return f() }

func TestIsReady(t *testing.T) {
	c := NewClient("http://ha.local", "t", nil, nil)
	if !c.IsReady() {
		t.Error("IsReady() without watcher should be true")
	}
	c.SetWatcher(readyFunc(func() bool { return false }))
	if c.IsReady() {
		t.Error("IsReady() should follow the watcher")
	}
}
