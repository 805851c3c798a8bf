package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestEnvValidateRejectsBadBatchBounds(t *testing.T) {
	e := &Env{Addr: ":8090", IngestMinBatch: 100, IngestMaxBatch: 50, LogLevel: "info", LogFormat: "json"}
	require.Error(t, e.Validate())
}

func TestEnvValidateRejectsWatermarkOrder(t *testing.T) {
	e := &Env{
		Addr: ":8090", IngestMinBatch: 50, IngestMaxBatch: 5000,
		IngestLowWatermark: 60000, IngestHighWatermark: 50000,
		LogLevel: "info", LogFormat: "json",
	}
	require.Error(t, e.Validate())
}

func TestEnvValidateAcceptsDefaults(t *testing.T) {
	e := &Env{
		Addr: ":8090", IngestMinBatch: 50, IngestMaxBatch: 5000,
		IngestLowWatermark: 5000, IngestHighWatermark: 50000,
		LogLevel: "info", LogFormat: "json",
	}
	require.NoError(t, e.Validate())
}

func TestLoadDocumentDefaultsWhenMissing(t *testing.T) {
	doc, err := loadDocument(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 1.5, doc.Features.IQRk)
	require.Len(t, doc.Storage.Retention, 4)
}

func TestLoadDocumentOverridesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("features:\n  iqr_k: 3.0\n"), 0o644))

	doc, err := loadDocument(path)
	require.NoError(t, err)
	require.Equal(t, 3.0, doc.Features.IQRk)
	require.Equal(t, 1, doc.Features.FfillLimit)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  max_exposure_per_asset: 0.1\n"), 0o644))

	w, err := NewWatcher(path, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	require.Equal(t, 0.1, w.Current().Risk.MaxExposurePerAsset)

	require.NoError(t, os.WriteFile(path, []byte("risk:\n  max_exposure_per_asset: 0.25\n"), 0o644))

	require.Eventually(t, func() bool {
		return w.Current().Risk.MaxExposurePerAsset == 0.25
	}, 2*time.Second, 20*time.Millisecond)
}
