// Package api serves the read-only status of the controller over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/modbus-hvac/internal/exchange"
)

// StateProvider hands out the snapshot of the last completed cycle.
type StateProvider interface {
	Last() exchange.Snapshot
}

type Server struct {
	state    StateProvider
	gatherer prometheus.Gatherer
}

type StatusResponse struct {
	CycleID string    `json:"cycle_id"`
	Time    time.Time `json:"time"`
	Groups  int       `json:"groups"`
	Devices int       `json:"devices"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(state StateProvider, gatherer prometheus.Gatherer) *Server {
	return &Server{state: state, gatherer: gatherer}
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/api/status", s.getStatus)
	router.GET("/api/groups", s.getGroups)
	router.GET("/api/groups/:id", s.getGroup)
	router.GET("/api/devices", s.getDevices)
	router.GET("/api/devices/:bus/:id", s.getDevice)
	if s.gatherer != nil {
		router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		router.ServeHTTP(w, r)
	})
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("Starting REST API server")
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap := s.state.Last()
	s.writeJSON(w, http.StatusOK, StatusResponse{
		CycleID: snap.CycleID,
		Time:    snap.Time,
		Groups:  len(snap.Groups),
		Devices: len(snap.Devices),
	})
}

func (s *Server) getGroups(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	groups := s.state.Last().Groups
	if groups == nil {
		groups = []exchange.GroupState{}
	}
	s.writeJSON(w, http.StatusOK, groups)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.Atoi(ps.ByName("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Group id must be an integer")
		return
	}
	for _, g := range s.state.Last().Groups {
		if g.ID == id {
			s.writeJSON(w, http.StatusOK, g)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "Group not found")
}

func (s *Server) getDevices(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	devices := s.state.Last().Devices
	if devices == nil {
		devices = []exchange.DeviceState{}
	}
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	bus, err := strconv.Atoi(ps.ByName("bus"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Bus id must be an integer")
		return
	}
	id, err := strconv.Atoi(ps.ByName("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Device id must be an integer")
		return
	}
	for _, d := range s.state.Last().Devices {
		if d.Bus == bus && d.ID == id {
			s.writeJSON(w, http.StatusOK, d)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "Device not found")
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
