// Package server exposes the acquisition core over HTTP: trace and
// event read-outs, the last stimulus record, macro controls and the
// session lifecycle.  It is a thin adapter; all state lives in the
// engine, the macro engine and the session controller.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/relacs/relacsd/engine"
	"github.com/relacs/relacsd/macro"
	"github.com/relacs/relacsd/session"
)

// Server binds the core's components to HTTP routes.
type Server struct {
	Eng     *engine.Engine
	Macros  *macro.Engine
	Session *session.Controller
}

// New creates a server over the given components.  Macros and Session
// may be nil; their routes then answer 503.
func New(eng *engine.Engine, me *macro.Engine, sc *session.Controller) *Server {
	return &Server{Eng: eng, Macros: me, Session: sc}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/traces", s.listTraces)
	r.Get("/trace/{name}/stats", s.traceStats)
	r.Get("/events/{name}", s.eventInfo)
	r.Get("/signal", s.lastSignal)
	r.Get("/sync-mode", s.syncMode)
	r.Get("/debug/engine", s.debugEngine)

	r.Post("/macro/start", s.startMacro)
	r.Post("/macro/soft-break", s.softBreak)
	r.Post("/macro/hard-break", s.hardBreak)
	r.Post("/macro/resume", s.resume)
	r.Post("/macro/resume-next", s.resumeNext)

	r.Get("/session", s.sessionInfo)
	r.Post("/session/start", s.sessionStart)
	r.Post("/session/stop", s.sessionStop)
	return r
}

// ListenAndServe serves the routes on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.Routes())
}

func encodeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type traceInfo struct {
	Name       string  `json:"name"`
	Unit       string  `json:"unit"`
	SampleRate float64 `json:"sampleRate"`
	Size       int     `json:"size"`
	Time       float64 `json:"time"`
}

func (s *Server) listTraces(w http.ResponseWriter, r *http.Request) {
	s.Eng.LockTraces()
	defer s.Eng.UnlockTraces()
	var out []traceInfo
	for _, d := range s.Eng.Traces() {
		out = append(out, traceInfo{
			Name:       d.Ident,
			Unit:       d.Unit,
			SampleRate: d.SampleRate(),
			Size:       d.Size(),
			Time:       d.CurrentTime(),
		})
	}
	encodeJSON(w, out)
}

type traceStats struct {
	Mean  float64 `json:"mean"`
	Stdev float64 `json:"stdev"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

func (s *Server) traceStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d := s.Eng.Trace(name)
	if d == nil {
		http.Error(w, fmt.Sprintf("no trace %q", name), http.StatusNotFound)
		return
	}
	var from, upto float64
	fmt.Sscanf(r.URL.Query().Get("from"), "%g", &from)
	upto = from + 1.0
	fmt.Sscanf(r.URL.Query().Get("upto"), "%g", &upto)

	s.Eng.LockTraces()
	defer s.Eng.UnlockTraces()
	encodeJSON(w, traceStats{
		Mean:  d.Mean(from, upto),
		Stdev: d.Stdev(from, upto),
		Min:   d.MinValue(from, upto),
		Max:   d.MaxValue(from, upto),
	})
}

type eventInfo struct {
	Name     string  `json:"name"`
	Size     int     `json:"size"`
	MeanSize float64 `json:"meanSize"`
	Back     float64 `json:"back"`
}

func (s *Server) eventInfo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	e := s.Eng.Events(name)
	if e == nil {
		http.Error(w, fmt.Sprintf("no event stream %q", name), http.StatusNotFound)
		return
	}
	s.Eng.LockTraces()
	defer s.Eng.UnlockTraces()
	encodeJSON(w, eventInfo{
		Name:     e.Ident,
		Size:     e.Size(),
		MeanSize: e.MeanSize(),
		Back:     e.Back(),
	})
}

type signalInfo struct {
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"`
	Delay    float64 `json:"delay"`
}

func (s *Server) lastSignal(w http.ResponseWriter, r *http.Request) {
	si := s.Eng.GetSignal()
	encodeJSON(w, signalInfo{Time: si.Time, Duration: si.Duration, Delay: si.Delay})
}

func (s *Server) syncMode(w http.ResponseWriter, r *http.Request) {
	encodeJSON(w, struct {
		Mode string `json:"mode"`
	}{engine.FormatSyncMode(s.Eng.SyncModeValue())})
}

func (s *Server) debugEngine(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	s.Eng.DumpState(w)
}

type macroStart struct {
	Name   string `json:"name"`
	Params string `json:"params"`
	Saving bool   `json:"saving"`
}

func (s *Server) startMacro(w http.ResponseWriter, r *http.Request) {
	if s.Macros == nil {
		http.Error(w, "no macro engine", http.StatusServiceUnavailable)
		return
	}
	var input macroStart
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Macros.StartMacroByName(input.Name, input.Params, input.Saving); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) softBreak(w http.ResponseWriter, r *http.Request) {
	if s.Macros == nil {
		http.Error(w, "no macro engine", http.StatusServiceUnavailable)
		return
	}
	s.Macros.SoftBreak()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) hardBreak(w http.ResponseWriter, r *http.Request) {
	if s.Macros == nil {
		http.Error(w, "no macro engine", http.StatusServiceUnavailable)
		return
	}
	s.Macros.HardBreak()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	if s.Macros == nil {
		http.Error(w, "no macro engine", http.StatusServiceUnavailable)
		return
	}
	if err := s.Macros.Resume(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) resumeNext(w http.ResponseWriter, r *http.Request) {
	if s.Macros == nil {
		http.Error(w, "no macro engine", http.StatusServiceUnavailable)
		return
	}
	if err := s.Macros.ResumeNext(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type sessionInfo struct {
	Running    bool `json:"running"`
	Saving     bool `json:"saving"`
	ReproCount int  `json:"reproCount"`
}

func (s *Server) sessionInfo(w http.ResponseWriter, r *http.Request) {
	if s.Session == nil {
		http.Error(w, "no session controller", http.StatusServiceUnavailable)
		return
	}
	encodeJSON(w, sessionInfo{
		Running:    s.Session.Running(),
		Saving:     s.Session.Saving(),
		ReproCount: s.Session.ReproCount(),
	})
}

func (s *Server) sessionStart(w http.ResponseWriter, r *http.Request) {
	if s.Session == nil {
		http.Error(w, "no session controller", http.StatusServiceUnavailable)
		return
	}
	if err := s.Session.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) sessionStop(w http.ResponseWriter, r *http.Request) {
	if s.Session == nil {
		http.Error(w, "no session controller", http.StatusServiceUnavailable)
		return
	}
	if err := s.Session.Stop(true); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}
