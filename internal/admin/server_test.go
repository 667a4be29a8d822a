package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threat-relay/internal/config"
	"threat-relay/internal/scan"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeScanner struct {
	stats  scan.Stats
	report scan.Report
	err    error
	calls  []scan.RunOptions
}

func (f *fakeScanner) Stats() scan.Stats { return f.stats }

func (f *fakeScanner) RunCycle(_ context.Context, trigger string, opts scan.RunOptions) (scan.Report, error) {
	f.calls = append(f.calls, opts)
	r := f.report
	r.Trigger = trigger
	return r, f.err
}

const tenantsDoc = `# operators
soc:
  delivery_target: https://hooks.example/soc
  provider: discord
  filters: [ransomware, cve]
noc:
  filters: [all]
`

func newTestServer(t *testing.T, sc *fakeScanner) (*Server, *config.TenantFile) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tenantsDoc), 0o644))
	tf := config.NewTenantFile(path)
	return NewServer(sc, tf, WithClock(func() time.Time { return now })), tf
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, &fakeScanner{})
	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestStatus(t *testing.T) {
	sc := &fakeScanner{stats: scan.Stats{
		StartedAt:       now.Add(-(2*24*time.Hour + 4*time.Hour + 30*time.Minute)),
		CyclesCompleted: 7,
		ItemsSent:       12,
		NextRunAt:       now.Add(30 * time.Minute),
		LastTrigger:     scan.TriggerSchedule,
	}}
	s, _ := newTestServer(t, sc)

	rec := do(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2d 4h 30m", body.Uptime)
	assert.Equal(t, 7, body.CyclesCompleted)
	assert.Equal(t, 12, body.ItemsSent)
	assert.Nil(t, body.LastRunAt)
	require.NotNil(t, body.NextRunAt)
	assert.True(t, body.NextRunAt.Equal(now.Add(30*time.Minute)))

	require.Len(t, body.Tenants, 2)
	assert.Equal(t, "noc", body.Tenants[0].ID)
	assert.False(t, body.Tenants[0].HasTarget)
	assert.Equal(t, "soc", body.Tenants[1].ID)
	assert.True(t, body.Tenants[1].HasTarget)
	assert.NotContains(t, rec.Body.String(), "hooks.example", "targets are not exposed")
	assert.Contains(t, body.FilterTags, "ransomware")
}

func TestTriggerScan(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		report     scan.Report
		err        error
		wantStatus int
		wantBypass bool
	}{
		{name: "normal", target: "/scan", report: scan.Report{Sent: 2}, wantStatus: http.StatusOK},
		{name: "bypass", target: "/scan?bypass=true", report: scan.Report{Sent: 1}, wantStatus: http.StatusOK, wantBypass: true},
		{name: "already running", target: "/scan", report: scan.Report{Skipped: true}, wantStatus: http.StatusConflict},
		{name: "no tenants", target: "/scan", err: scan.ErrNoTenants, wantStatus: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &fakeScanner{report: tt.report, err: tt.err}
			s, _ := newTestServer(t, sc)

			rec := do(t, s, http.MethodPost, tt.target, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			require.Len(t, sc.calls, 1)
			assert.Equal(t, tt.wantBypass, sc.calls[0].BypassCache)

			if tt.err == nil {
				var body reportResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, scan.TriggerManual, body.Trigger)
				assert.Equal(t, tt.report.Sent, body.Sent)
			}
		})
	}

	t.Run("invalid bypass", func(t *testing.T) {
		sc := &fakeScanner{}
		s, _ := newTestServer(t, sc)
		rec := do(t, s, http.MethodPost, "/scan?bypass=maybe", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, sc.calls)
	})
}

func TestSetTarget(t *testing.T) {
	s, tf := newTestServer(t, &fakeScanner{})

	rec := do(t, s, http.MethodPut, "/tenants/noc/target", `{"delivery_target": "https://hooks.example/noc"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	tenants, err := tf.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/noc", tenants[0].DeliveryTarget)

	data, err := os.ReadFile(tf.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "# operators")

	rec = do(t, s, http.MethodPut, "/tenants/ghost/target", `{"delivery_target": "https://hooks.example/x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPut, "/tenants/noc/target", `{"delivery_target": "ftp://nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/tenants/noc/target", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t, &fakeScanner{})
	rec := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
