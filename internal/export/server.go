// Package export serves the gap log as CSV, a health check, and Prometheus
// metrics over HTTP.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/thientran01/weather-bot/internal/logger"
	"github.com/thientran01/weather-bot/internal/storage"
)

// csvHeader is the column order of the exported gap log.
var csvHeader = []string{
	"timestamp", "city", "metric", "market_date", "bucket_low", "bucket_high",
	"market_prob", "forecast_prob", "gap", "note",
}

// GapSource is the read side of the gap log.
type GapSource interface {
	GapRows(since time.Time) ([]storage.GapRow, error)
	LastCycle() (*storage.CycleRow, error)
}

// Server is the export HTTP server.
type Server struct {
	addr       string
	source     GapSource
	metrics    http.Handler
	origins    []string
	httpServer *http.Server
}

// NewServer creates a server listening on addr. A nil metrics handler leaves
// /metrics unrouted.
func NewServer(addr string, source GapSource, metrics http.Handler, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	s := &Server{addr: addr, source: source, metrics: metrics, origins: allowedOrigins}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(router)
}

// Start listens until Stop is called. It returns http.ErrServerClosed after a
// clean shutdown, including when Stop ran first. Start and Stop may be called
// from different goroutines.
func (s *Server) Start() error {
	logger.Info("Export server listening on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down, waiting up to 5 seconds for open requests.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Export server shutdown error: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	last, err := s.source.LastCycle()
	if err != nil {
		logger.Error("Health check: %v", err)
		resp["status"] = "degraded"
	} else if last != nil {
		resp["last_cycle"] = last.StartedAt.UTC().Format(time.RFC3339)
		resp["last_cycle_id"] = last.ID
		resp["sections"] = last.Sections
		resp["no_data"] = last.NoData
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = t
	}

	rows, err := s.source.GapRows(since)
	if err != nil {
		logger.Error("Export: %v", err)
		http.Error(w, "failed to read gap log", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="gap_log.csv"`)

	cw := csv.NewWriter(w)
	cw.Write(csvHeader) //nolint:errcheck
	for i := range rows {
		cw.Write(csvRecord(&rows[i])) //nolint:errcheck
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logger.Warn("Export: write failed: %v", err)
	}
}

func csvRecord(r *storage.GapRow) []string {
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.City,
		string(r.Metric),
		r.MarketDate,
		intOrBlank(r.BucketLow),
		intOrBlank(r.BucketHigh),
		floatOrBlank(r.MarketProb),
		floatOrBlank(r.ForecastProb),
		floatOrBlank(r.Gap),
		r.Note,
	}
}

func intOrBlank(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatOrBlank(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
