package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistryServesMetrics(t *testing.T) {
	r := New("mdi_test_registry")
	r.DedupHitsTotal.Inc()
	r.IngestQueueDepth.Set(42)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "mdi_test_registry_dedup_hits_total 1")
	require.Contains(t, body, "mdi_test_registry_ingest_queue_depth 42")
}

func TestNewRegistryDoesNotPanicAcrossSeparateCalls(t *testing.T) {
	require.NotPanics(t, func() {
		New("mdi_test_registry_unique_a")
		New("mdi_test_registry_unique_b")
	})
}
