package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/thientran01/weather-bot/internal/models"
	"github.com/thientran01/weather-bot/internal/storage"
)

type fakeSource struct {
	rows     []storage.GapRow
	last     *storage.CycleRow
	err      error
	gotSince time.Time
}

func (f *fakeSource) GapRows(since time.Time) ([]storage.GapRow, error) {
	f.gotSince = since
	return f.rows, f.err
}

func (f *fakeSource) LastCycle() (*storage.CycleRow, error) {
	return f.last, f.err
}

func ip(v int) *int         { return &v }
func fp(v float64) *float64 { return &v }

func sampleRows() []storage.GapRow {
	ts := time.Date(2026, 2, 18, 15, 0, 0, 0, time.UTC)
	return []storage.GapRow{
		{Timestamp: ts, City: "NYC", Metric: models.MetricHigh, MarketDate: "2026-02-18", BucketHigh: ip(60), ForecastProb: fp(0.0013), Note: "no market"},
		{Timestamp: ts, City: "NYC", Metric: models.MetricHigh, MarketDate: "2026-02-18", BucketLow: ip(70), BucketHigh: ip(80), MarketProb: fp(0.55), ForecastProb: fp(0.6827), Gap: fp(0.1327)},
		{Timestamp: ts, City: "CHI", Metric: models.MetricLow, MarketDate: "2026-02-18", Note: "no data: fetch_failed"},
	}
}

func TestExport_CSV(t *testing.T) {
	src := &fakeSource{rows: sampleRows()}
	rec := httptest.NewRecorder()
	NewServer(":0", src, nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}

	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(records))
	}
	if strings.Join(records[0], ",") != "timestamp,city,metric,market_date,bucket_low,bucket_high,market_prob,forecast_prob,gap,note" {
		t.Errorf("header = %v", records[0])
	}
	if got := strings.Join(records[1], ","); got != "2026-02-18T15:00:00Z,NYC,high,2026-02-18,,60,,0.0013,,no market" {
		t.Errorf("tail row = %q", got)
	}
	if got := strings.Join(records[2], ","); got != "2026-02-18T15:00:00Z,NYC,high,2026-02-18,70,80,0.5500,0.6827,0.1327," {
		t.Errorf("gap row = %q", got)
	}
	if got := records[3][9]; got != "no data: fetch_failed" {
		t.Errorf("marker note = %q", got)
	}
	if !src.gotSince.IsZero() {
		t.Errorf("since = %v, want zero", src.gotSince)
	}
}

func TestExport_Since(t *testing.T) {
	src := &fakeSource{}
	rec := httptest.NewRecorder()
	NewServer(":0", src, nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export?since=2026-02-18T00:00:00Z", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if want := time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC); !src.gotSince.Equal(want) {
		t.Errorf("since = %v, want %v", src.gotSince, want)
	}

	rec = httptest.NewRecorder()
	NewServer(":0", src, nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export?since=yesterday", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", rec.Code)
	}
}

func TestExport_SourceError(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(":0", &fakeSource{err: errors.New("disk")}, nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	src := &fakeSource{last: &storage.CycleRow{ID: "c1", StartedAt: time.Date(2026, 2, 18, 15, 0, 0, 0, time.UTC), Sections: 4, NoData: 1}}
	rec := httptest.NewRecorder()
	NewServer(":0", src, nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["last_cycle"] != "2026-02-18T15:00:00Z" || body["last_cycle_id"] != "c1" {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("weatherbot_cycles_total 1\n")) //nolint:errcheck
	})
	h := NewServer(":0", &fakeSource{}, metrics, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "weatherbot_cycles_total") {
		t.Errorf("metrics not served: %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	NewServer(":0", &fakeSource{}, nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("metrics without handler status = %d, want 404", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.org")
	NewServer(":0", &fakeSource{}, nil, nil).Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer("127.0.0.1:0", &fakeSource{}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	srv.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("Start() = %v, want http.ErrServerClosed", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
