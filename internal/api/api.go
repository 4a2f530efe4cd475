// Package api is the request surface. It exposes the four coordinator
// operations — configure, get_work, submit_points, status — as JSON over
// HTTP, plus a Prometheus /metrics endpoint, a /healthz liveness probe,
// and a minimal HTML status page. The coordinator itself knows nothing
// about HTTP; this package is the only thing that does.
package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rckangaroo/coordinator/internal/coordinator"
	"github.com/rckangaroo/coordinator/internal/dpstore"
	"github.com/rckangaroo/coordinator/internal/kangerr"
	"github.com/rckangaroo/coordinator/internal/workledger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Metrics are the Prometheus series the status page and /metrics endpoint
// expose.
type Metrics struct {
	Registry    *prometheus.Registry
	DPTotal     prometheus.Gauge
	WorkRanges  *prometheus.GaugeVec
	Solved      prometheus.Gauge
	RequestsTot *prometheus.CounterVec
}

// NewMetrics registers the coordinator's metrics with reg and keeps a
// reference to it so Server.Mux can serve exactly this registry's series
// rather than falling back to the process-global default.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Registry: reg,
		DPTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kangaroo_dp_total",
			Help: "Number of distinguished points stored.",
		}),
		WorkRanges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kangaroo_work_ranges",
			Help: "Work chunks by lifecycle state.",
		}, []string{"state"}),
		Solved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kangaroo_solved",
			Help: "1 if the configured search has a frozen solution.",
		}),
		RequestsTot: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kangaroo_requests_total",
			Help: "API requests by operation and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.DPTotal, m.WorkRanges, m.Solved, m.RequestsTot)
	return m
}

// Server wires a Coordinator up to HTTP handlers.
type Server struct {
	coord   *coordinator.Coordinator
	logger  *zap.Logger
	metrics *Metrics
}

// New constructs a Server. metrics may be nil, in which case request
// counters are not recorded (used by tests that don't need a registry).
func New(coord *coordinator.Coordinator, logger *zap.Logger, metrics *Metrics) *Server {
	return &Server{coord: coord, logger: logger, metrics: metrics}
}

// Mux builds the request surface: the four JSON operations, plus
// /healthz, /metrics, and a minimal / status page.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/configure", s.handleConfigure)
	mux.HandleFunc("/api/get_work", s.handleGetWork)
	mux.HandleFunc("/api/submit_points", s.handleSubmitPoints)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/", s.handleIndex)
	if s.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) recordResult(op, result string) {
	if s.metrics != nil {
		s.metrics.RequestsTot.WithLabelValues(op, result).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The client already has a status code; nothing further to do
		// but drop the broken response.
		return
	}
}

type configureRequest struct {
	StartRange string `json:"start_range"`
	EndRange   string `json:"end_range"`
	PubKey     string `json:"pubkey"`
	DPBits     int    `json:"dp_bits"`
	RangeSize  string `json:"range_size"`
}

type configureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func parseHexScalar(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 16)
	return n, ok
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.recordResult("configure", "malformed")
		writeJSON(w, http.StatusBadRequest, configureResponse{Success: false, Message: "malformed-input"})
		return
	}

	start, ok1 := parseHexScalar(req.StartRange)
	end, ok2 := parseHexScalar(req.EndRange)
	chunkSize, ok3 := parseHexScalar(req.RangeSize)
	if !ok1 || !ok2 || !ok3 {
		s.recordResult("configure", "malformed")
		writeJSON(w, http.StatusBadRequest, configureResponse{Success: false, Message: "malformed-input"})
		return
	}

	err := s.coord.Configure(coordinator.ConfigureRequest{
		Start: start, End: end, PubKeyHex: req.PubKey, DPBits: req.DPBits, ChunkSize: chunkSize,
	})
	switch {
	case err == nil:
		s.recordResult("configure", "ok")
		writeJSON(w, http.StatusOK, configureResponse{Success: true})
	case errors.Is(err, kangerr.ErrAlreadySolved):
		s.recordResult("configure", "already-solved")
		writeJSON(w, http.StatusConflict, configureResponse{Success: false, Message: "already-solved"})
	case errors.Is(err, kangerr.ErrMalformedInput):
		s.recordResult("configure", "malformed")
		writeJSON(w, http.StatusBadRequest, configureResponse{Success: false, Message: "malformed-input"})
	case errors.Is(err, kangerr.ErrStorageUnavailable):
		s.logger.Error("configure: storage unavailable", zap.Error(err))
		s.recordResult("configure", "storage-unavailable")
		writeJSON(w, http.StatusServiceUnavailable, configureResponse{Success: false, Message: "storage-unavailable"})
	default:
		s.logger.Error("configure failed", zap.Error(err))
		s.recordResult("configure", "error")
		writeJSON(w, http.StatusInternalServerError, configureResponse{Success: false, Message: "internal-error"})
	}
}

type getWorkRequest struct {
	ClientID string `json:"client_id"`
}

type workPayload struct {
	RangeID    string `json:"range_id"`
	StartRange string `json:"start_range"`
	EndRange   string `json:"end_range"`
	BitRange   int    `json:"bit_range"`
	DPBits     int    `json:"dp_bits"`
	PubKey     string `json:"pubkey"`
}

type getWorkResponse struct {
	Success bool         `json:"success"`
	Work    *workPayload `json:"work,omitempty"`
	Message string       `json:"message,omitempty"`
}

func (s *Server) handleGetWork(w http.ResponseWriter, r *http.Request) {
	var req getWorkRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.ClientID == "" {
		s.recordResult("get_work", "malformed")
		writeJSON(w, http.StatusBadRequest, getWorkResponse{Success: false, Message: "malformed-input"})
		return
	}

	chunk, ok, err := s.coord.GetWork(req.ClientID)
	if errors.Is(err, kangerr.ErrStorageUnavailable) {
		s.logger.Error("get_work: storage unavailable", zap.Error(err))
		s.recordResult("get_work", "storage-unavailable")
		writeJSON(w, http.StatusServiceUnavailable, getWorkResponse{Success: false, Message: "storage-unavailable"})
		return
	}
	if err != nil {
		s.logger.Error("get_work failed", zap.Error(err))
		s.recordResult("get_work", "error")
		writeJSON(w, http.StatusInternalServerError, getWorkResponse{Success: false, Message: "internal-error"})
		return
	}
	if !ok {
		s.recordResult("get_work", "none")
		writeJSON(w, http.StatusOK, getWorkResponse{Success: false, Message: "none"})
		return
	}

	_, snap, err := s.statusSnapshotOrEmpty()
	if err != nil {
		s.logger.Error("get_work status lookup failed", zap.Error(err))
	}

	s.recordResult("get_work", "ok")
	writeJSON(w, http.StatusOK, getWorkResponse{
		Success: true,
		Work: &workPayload{
			RangeID:    chunk.RangeID,
			StartRange: chunk.Start,
			EndRange:   chunk.End,
			BitRange:   chunk.BitRange,
			DPBits:     chunk.DPBits,
			PubKey:     snap.PubKey,
		},
	})
}

type pointPayload struct {
	XCoord   string `json:"x_coord"`
	Distance string `json:"distance"`
	KangType int    `json:"kang_type"`
}

type submitPointsRequest struct {
	ClientID string         `json:"client_id"`
	Points   []pointPayload `json:"points"`
}

type submitPointsResponse struct {
	Status         string `json:"status"`
	PointsProcessed int   `json:"points_processed,omitempty"`
	Solution       string `json:"solution,omitempty"`
}

func (s *Server) handleSubmitPoints(w http.ResponseWriter, r *http.Request) {
	var req submitPointsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.ClientID == "" {
		s.recordResult("submit_points", "malformed")
		writeJSON(w, http.StatusBadRequest, submitPointsResponse{Status: "malformed-input"})
		return
	}

	points := make([]coordinator.PointSubmission, len(req.Points))
	for i, p := range req.Points {
		if p.KangType < 0 || p.KangType > 2 {
			s.recordResult("submit_points", "malformed")
			writeJSON(w, http.StatusBadRequest, submitPointsResponse{Status: "malformed-input"})
			return
		}
		points[i] = coordinator.PointSubmission{X: p.XCoord, D: p.Distance, T: dpstore.WalkType(p.KangType)}
	}

	res, err := s.coord.SubmitPoints(req.ClientID, points)
	if errors.Is(err, kangerr.ErrStorageUnavailable) {
		s.logger.Error("submit_points: storage unavailable", zap.Error(err))
		s.recordResult("submit_points", "storage-unavailable")
		writeJSON(w, http.StatusServiceUnavailable, submitPointsResponse{Status: "storage-unavailable"})
		return
	}
	if err != nil {
		s.logger.Error("submit_points failed", zap.Error(err))
		s.recordResult("submit_points", "error")
		writeJSON(w, http.StatusInternalServerError, submitPointsResponse{Status: "internal-error"})
		return
	}

	if res.Solved {
		s.recordResult("submit_points", "solved")
		writeJSON(w, http.StatusOK, submitPointsResponse{Status: "solved", Solution: res.Solution})
		return
	}
	s.recordResult("submit_points", "success")
	writeJSON(w, http.StatusOK, submitPointsResponse{Status: "success", PointsProcessed: res.Accepted})
}

type searchRangePayload struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	PubKey string `json:"pubkey"`
	DPBits int    `json:"dp_bits"`
}

type statusResponse struct {
	Solved      bool              `json:"solved"`
	Solution    string            `json:"solution,omitempty"`
	DPCount     int               `json:"dp_count"`
	WorkRanges  map[string]int    `json:"work_ranges"`
	SearchRange searchRangePayload `json:"search_range"`
}

func (s *Server) statusSnapshotOrEmpty() (statusResponse, coordinator.StatusSnapshot, error) {
	snap, err := s.coord.Status()
	if err != nil {
		return statusResponse{}, snap, err
	}
	workRanges := make(map[string]int, len(snap.WorkRangeCounts))
	for state, count := range snap.WorkRangeCounts {
		workRanges[string(state)] = count
	}
	return statusResponse{
		Solved:   snap.Solved,
		Solution: snap.Solution,
		DPCount:  snap.DPCount,
		WorkRanges: workRanges,
		SearchRange: searchRangePayload{
			Start: snap.RangeStart, End: snap.RangeEnd, PubKey: snap.PubKey, DPBits: snap.DPBits,
		},
	}, snap, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp, snap, err := s.statusSnapshotOrEmpty()
	if errors.Is(err, kangerr.ErrStorageUnavailable) {
		s.logger.Error("status: storage unavailable", zap.Error(err))
		s.recordResult("status", "storage-unavailable")
		writeJSON(w, http.StatusServiceUnavailable, struct{}{})
		return
	}
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.recordResult("status", "error")
		writeJSON(w, http.StatusInternalServerError, struct{}{})
		return
	}
	s.updateMetrics(snap)
	s.recordResult("status", "ok")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) updateMetrics(snap coordinator.StatusSnapshot) {
	if s.metrics == nil {
		return
	}
	s.metrics.DPTotal.Set(float64(snap.DPCount))
	for _, state := range []workledger.State{workledger.Pending, workledger.Assigned, workledger.Completed, workledger.Failed} {
		s.metrics.WorkRanges.WithLabelValues(string(state)).Set(float64(snap.WorkRangeCounts[state]))
	}
	if snap.Solved {
		s.metrics.Solved.Set(1)
	} else {
		s.metrics.Solved.Set(0)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	resp, _, err := s.statusSnapshotOrEmpty()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, statusPageTemplate,
		resp.Solved, resp.Solution, resp.DPCount,
		resp.SearchRange.Start, resp.SearchRange.End, resp.SearchRange.PubKey,
		resp.WorkRanges["pending"], resp.WorkRanges["assigned"],
		time.Now().UTC().Format(time.RFC3339))
}

const statusPageTemplate = `<!DOCTYPE html>
<html>
<head><title>kangaroo coordinator status</title></head>
<body>
<h1>Search status</h1>
<p>solved: %v</p>
<p>solution: %s</p>
<p>distinguished points: %d</p>
<p>range: %s .. %s</p>
<p>pubkey: %s</p>
<p>pending chunks: %d, assigned chunks: %d</p>
<p>generated: %s</p>
</body>
</html>
`
