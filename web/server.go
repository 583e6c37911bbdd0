// Package web exposes the replay scheduler over HTTP: a JSON control API
// and a websocket stream of replayed track positions.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Bucknalla/go-geomessage-simulator/broadcast"
	"github.com/Bucknalla/go-geomessage-simulator/geomessage"
	"github.com/Bucknalla/go-geomessage-simulator/gps"
	"github.com/Bucknalla/go-geomessage-simulator/log"
	"github.com/Bucknalla/go-geomessage-simulator/replay"
)

// Server serves the control API. It is also a position listener: every
// published track position is forwarded to connected websocket clients.
type Server struct {
	lg        *log.Logger
	sched     *replay.Scheduler
	registry  *broadcast.Registry
	cache     *geomessage.Cache
	upgrader  websocket.Upgrader
	staticDir string

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	fields  []string
}

func NewServer(lg *log.Logger, sched *replay.Scheduler, registry *broadcast.Registry, cache *geomessage.Cache) *Server {
	if cache == nil {
		cache = geomessage.NewCache(0, 0)
	}
	return &Server{
		lg:       lg,
		sched:    sched,
		registry: registry,
		cache:    cache,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// SetStaticDir serves files from dir at the root path.
func (s *Server) SetStaticDir(dir string) {
	s.staticDir = dir
}

// SetFields records the field names of a log loaded outside the API, so
// GET /api/fields reports them.
func (s *Server) SetFields(fields []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = fields
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/start", s.handleStart).Methods("POST")
	api.HandleFunc("/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/config", s.handleConfig).Methods("POST")
	api.HandleFunc("/load", s.handleLoad).Methods("POST")
	api.HandleFunc("/fields", s.handleFields).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket)

	r.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if s.staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	s.lg.Info("serving control API", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Start(); err != nil {
		s.lg.Warnf("start rejected: %v", err)
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Pause(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type statusResponse struct {
	Replay    replay.Status             `json:"replay"`
	Endpoints []broadcast.EndpointStats `json:"endpoints"`
	Clients   int                       `json:"clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Replay: s.sched.Status()}
	if s.registry != nil {
		resp.Endpoints = s.registry.Stats()
	}
	s.mu.Lock()
	resp.Clients = len(s.clients)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// configRequest carries a partial update; absent fields keep their values.
type configRequest struct {
	Frequency       *int      `json:"frequency"`
	Throughput      *int      `json:"throughput"`
	Port            *int      `json:"port"`
	SpeedMultiplier *float64  `json:"speed_multiplier"`
	OverrideFields  *[]string `json:"override_fields"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	session := s.sched.Session()
	if req.Frequency != nil {
		session.Frequency = *req.Frequency
	}
	if req.Throughput != nil {
		session.Throughput = *req.Throughput
	}
	if req.Port != nil {
		session.Port = *req.Port
	}
	if req.SpeedMultiplier != nil {
		session.SpeedMultiplier = *req.SpeedMultiplier
	}

	if err := s.sched.Configure(session); err != nil {
		s.lg.Warnf("config rejected: %v", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.OverrideFields != nil {
		s.sched.Overrides().Replace(*req.OverrideFields)
	}

	s.lg.Info("configuration updated", "session", session)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "updated",
		"session":         s.sched.Session(),
		"override_fields": s.sched.Overrides().Names(),
	})
}

type loadRequest struct {
	Path string      `json:"path"`
	Kind replay.Kind `json:"kind"`
}

// kindFor guesses the source kind from a file extension.
func kindFor(path string) replay.Kind {
	if strings.EqualFold(filepath.Ext(path), ".gpx") {
		return replay.KindTrack
	}
	return replay.KindEvents
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("path is required"))
		return
	}
	if req.Kind == replay.KindNone {
		req.Kind = kindFor(req.Path)
	}

	var fields []string
	switch req.Kind {
	case replay.KindTrack:
		track, err := gps.ReadTrackFile(req.Path)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.sched.LoadTrack(track); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	case replay.KindEvents:
		l, err := s.cache.Load(req.Path)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.sched.LoadEvents(l); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		fields = l.FieldNames()
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown source kind %q", req.Kind))
		return
	}

	s.SetFields(fields)
	st := s.sched.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "loaded",
		"kind":   st.Source,
		"total":  st.Total,
		"fields": fields,
	})
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fields := s.fields
	s.mu.Unlock()
	if fields == nil {
		fields = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fields":   fields,
		"selected": s.sched.Overrides().Names(),
	})
}
