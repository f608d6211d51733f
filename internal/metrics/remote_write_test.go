package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/uptime-sync/internal/config"
	"github.com/leozw/uptime-sync/internal/db"
)

func TestRemoteWritePushesSeries(t *testing.T) {
	received := make(chan *prompb.WriteRequest, 4)
	var tenant, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/push", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		tenant = r.Header.Get("X-Scope-OrgID")
		auth = r.Header.Get("Authorization")

		body, _ := io.ReadAll(r.Body)
		data, err := snappy.Decode(nil, body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var req prompb.WriteRequest
		if !assert.NoError(t, req.Unmarshal(data)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- &req
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	c := NewCollector(config.MimirConfig{
		URL:          srv.URL,
		TenantHeader: "X-Scope-OrgID",
		Tenant:       "team-a",
		AuthToken:    "secret",
	}, reg, reg, zap.NewNop())

	c.RecordSync(&db.SyncMetric{SourceID: "s1", Success: true, DurationMs: 1500, Timestamp: db.Now()})

	require.NoError(t, c.writeToMimir(context.Background(), &http.Client{Timeout: 5 * time.Second}))

	var req *prompb.WriteRequest
	select {
	case req = <-received:
	default:
		t.Fatal("no write request received")
	}
	assert.Equal(t, "team-a", tenant)
	assert.Equal(t, "Bearer secret", auth)

	names := map[string]bool{}
	for _, ts := range req.Timeseries {
		for _, l := range ts.Labels {
			if l.Name == "__name__" {
				names[l.Value] = true
			}
		}
	}
	assert.True(t, names["uptime_sync_runs_total"])
	assert.True(t, names["uptime_sync_duration_seconds_bucket"])
	assert.True(t, names["uptime_sync_duration_seconds_count"])
}

func TestStartRemoteWriteWithoutURLReturns(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(config.MimirConfig{}, reg, reg, zap.NewNop())

	done := make(chan struct{})
	go func() {
		c.StartRemoteWrite(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("remote write loop did not return")
	}
}
