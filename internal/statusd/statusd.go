// Package statusd exposes a minimal read-only HTTP surface reporting
// store and GC statistics, for a host daemon to poll. It is not the
// resource-manager daemon itself — that remains out of scope — only a
// diagnostic window onto the registry and collector this process already
// holds in memory.
package statusd

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/docker/go-metrics"
	"github.com/gorilla/mux"

	"github.com/nixstore/nixstore/registry"
)

const namespacePrefix = "nixstore"

var (
	ns = metrics.NewNamespace(namespacePrefix, "store", nil)

	objectsImportedCounter = ns.NewCounter("objects_imported", "total objects imported")
	gcRunsCounter          = ns.NewCounter("gc_runs", "total garbage collection runs")
	bytesReclaimedCounter  = ns.NewCounter("bytes_reclaimed", "total bytes reclaimed by garbage collection")
	objectsLiveGauge       = ns.NewGauge("objects_live", "current count of registered objects", metrics.Total)
)

func init() {
	metrics.Register(ns)
}

// RecordImport increments the imported-objects counter. Called by the
// importer after a successful Import.
func RecordImport() {
	objectsImportedCounter.Inc(1)
}

// RecordGCRun records the outcome of one garbage collection pass.
func RecordGCRun(bytesReclaimed int64) {
	gcRunsCounter.Inc(1)
	bytesReclaimedCounter.Inc(float64(bytesReclaimed))
}

// Server exposes /status and /metrics.json over HTTP, reading the live
// object/root counts directly from reg at request time.
type Server struct {
	Registry *registry.Registry
}

// NewHandler builds the gorilla/mux router the way the teacher's HTTP
// API composes routes: one mux.Router, explicit method + path per route.
func (s *Server) NewHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/metrics.json", s.handleMetricsJSON).Methods(http.MethodGet)
	return r
}

type statusResponse struct {
	ObjectCount int       `json:"object_count"`
	RootCount   int       `json:"root_count"`
	Timestamp   time.Time `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	objectCount := len(s.Registry.Paths())
	objectsLiveGauge.Set(float64(objectCount))

	resp := statusResponse{
		ObjectCount: objectCount,
		RootCount:   len(s.Registry.Roots()),
		Timestamp:   time.Now(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type metricsResponse struct {
	ObjectsLive int `json:"objects_live"`
}

// handleMetricsJSON reports the subset of the in-process counters that
// makes sense to surface as a point-in-time JSON snapshot, rather than
// the full Prometheus text exposition format, which has no consumer in
// this single-process, non-HTTP-registry design.
func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	objectCount := len(s.Registry.Paths())
	objectsLiveGauge.Set(float64(objectCount))

	resp := metricsResponse{ObjectsLive: objectCount}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
