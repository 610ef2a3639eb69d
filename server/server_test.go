package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relacs/relacsd/data"
	"github.com/relacs/relacsd/engine"
)

func newTestServer(t *testing.T) (*Server, *data.InData) {
	t.Helper()
	eng := engine.New()
	eng.DisableReader = true
	eng.Printlog = t.Logf
	s := New(eng, nil, nil)
	tr := data.NewInData("V-1", 1.0, 1e-3)
	tr.Unit = "mV"
	tr.Restart(0.0)
	for i := 0; i < 100; i++ {
		tr.Push(2.0)
	}
	// install the trace without arming devices
	eng.InstallTraces(data.InList{tr})
	return s, tr
}

func TestListTraces(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/traces", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status==%d, want 200", rec.Code)
	}
	var out []map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0]["name"] != "V-1" {
		t.Errorf("traces==%v", out)
	}
}

func TestTraceStats(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/trace/V-1/stats?from=0&upto=0.1", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status==%d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "\"mean\":2") {
		t.Errorf("stats body==%s", rec.Body.String())
	}
}

func TestUnknownTrace404(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/trace/nope/stats", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status==%d, want 404", rec.Code)
	}
}

func TestMacroRoutesWithoutEngine(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/macro/soft-break", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status==%d, want 503", rec.Code)
	}
}
