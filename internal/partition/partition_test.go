package partition

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adred-codev/mdingest/internal/config"
	"github.com/adred-codev/mdingest/internal/event"
)

func TestCandleOpenMillisFixedSpan(t *testing.T) {
	// 2023-11-14T22:17:00Z -> floor to the minute.
	ts := time.Date(2023, 11, 14, 22, 17, 45, 0, time.UTC).UnixMilli()
	open, err := CandleOpenMillis(event.TF1m, ts)
	require.NoError(t, err)
	want := time.Date(2023, 11, 14, 22, 17, 0, 0, time.UTC).UnixMilli()
	require.Equal(t, want, open)
}

func TestCandleOpenMillisWeekAnchorsToMonday(t *testing.T) {
	// Wednesday 2023-11-15 -> week start Monday 2023-11-13 00:00 UTC.
	ts := time.Date(2023, 11, 15, 13, 0, 0, 0, time.UTC).UnixMilli()
	open, err := CandleOpenMillis(event.TF1w, ts)
	require.NoError(t, err)
	want := time.Date(2023, 11, 13, 0, 0, 0, 0, time.UTC).UnixMilli()
	require.Equal(t, want, open)
}

func TestCandleOpenMillisWeekHandlesSunday(t *testing.T) {
	// Sunday belongs to the week that started the preceding Monday.
	ts := time.Date(2023, 11, 19, 23, 59, 0, 0, time.UTC).UnixMilli()
	open, err := CandleOpenMillis(event.TF1w, ts)
	require.NoError(t, err)
	want := time.Date(2023, 11, 13, 0, 0, 0, 0, time.UTC).UnixMilli()
	require.Equal(t, want, open)
}

func TestCandleOpenMillisMonthAnchorsToFirst(t *testing.T) {
	ts := time.Date(2023, 11, 30, 23, 0, 0, 0, time.UTC).UnixMilli()
	open, err := CandleOpenMillis(event.TF1mo, ts)
	require.NoError(t, err)
	want := time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	require.Equal(t, want, open)
}

func TestDeriveKeyDaily(t *testing.T) {
	m := New(t.TempDir(), Policy{Granularity: "daily", Dataset: "ticks"}, nil)
	ts := time.Date(2023, 11, 15, 13, 0, 0, 0, time.UTC).UnixMilli()
	key, err := m.DeriveKey("BTCUSDT", event.TF1h, ts, "")
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", key.Symbol)
	require.Equal(t, "2023-11-15", key.Date)
	require.Nil(t, key.Hour)
}

func TestDeriveKeyHourly(t *testing.T) {
	m := New(t.TempDir(), Policy{Granularity: "hourly", Dataset: "ticks"}, nil)
	ts := time.Date(2023, 11, 15, 13, 30, 0, 0, time.UTC).UnixMilli()
	key, err := m.DeriveKey("BTCUSDT", event.TF1h, ts, "")
	require.NoError(t, err)
	require.NotNil(t, key.Hour)
	require.Equal(t, 13, *key.Hour)
}

func TestPartitionPathHivePath(t *testing.T) {
	m := New(t.TempDir(), Policy{Granularity: "daily", Dataset: "ticks"}, nil)
	key := PartitionKey{Symbol: "BTCUSDT", TF: "1h", Date: "2023-11-15"}
	path := m.PartitionPath(key)
	require.Equal(t, filepath.Join(m.DatasetRoot(), "symbol=BTCUSDT", "tf=1h", "date=2023-11-15"), path)
}

func TestWritePartitionIsIdempotent(t *testing.T) {
	m := New(t.TempDir(), Policy{Granularity: "daily", Dataset: "ticks"}, nil)
	key := PartitionKey{Symbol: "BTCUSDT", TF: "1m", Date: "2023-11-15"}
	records := []map[string]any{{"ts_event": 1700000000000.0, "o": 1.0}}

	res1, err := m.WritePartition(key, records)
	require.NoError(t, err)
	require.Positive(t, res1.BytesWritten)
	require.FileExists(t, res1.Path)

	res2, err := m.WritePartition(key, records)
	require.NoError(t, err)
	require.Equal(t, res1.Path, res2.Path)
	require.Equal(t, 0, res2.BytesWritten) // idempotent skip

	manifestData, err := os.ReadFile(m.ManifestPath(key))
	require.NoError(t, err)
	var meta manifest
	require.NoError(t, json.Unmarshal(manifestData, &meta))
	require.Len(t, meta.Files, 1)
}

func TestWritePartitionDistinctContentProducesDistinctFiles(t *testing.T) {
	m := New(t.TempDir(), Policy{Granularity: "daily", Dataset: "ticks"}, nil)
	key := PartitionKey{Symbol: "BTCUSDT", TF: "1m", Date: "2023-11-15"}

	res1, err := m.WritePartition(key, []map[string]any{{"o": 1.0}})
	require.NoError(t, err)
	res2, err := m.WritePartition(key, []map[string]any{{"o": 2.0}})
	require.NoError(t, err)

	require.NotEqual(t, res1.Path, res2.Path)
	require.NotEqual(t, res1.FileHash, res2.FileHash)
}

func TestWritePartitionRejectsEmptyRecords(t *testing.T) {
	m := New(t.TempDir(), Policy{Dataset: "ticks"}, nil)
	_, err := m.WritePartition(PartitionKey{Symbol: "BTCUSDT", TF: "1m", Date: "2023-11-15"}, nil)
	require.Error(t, err)
}

func TestPlanCompactionFlagsSmallFiles(t *testing.T) {
	m := New(t.TempDir(), Policy{Dataset: "ticks"}, nil)
	key := PartitionKey{Symbol: "BTCUSDT", TF: "1m", Date: "2023-11-15"}
	_, err := m.WritePartition(key, []map[string]any{{"o": 1.0}})
	require.NoError(t, err)

	plan, err := m.PlanCompaction(key, 64)
	require.NoError(t, err)
	require.Equal(t, 1, plan.TotalFiles)
	require.Len(t, plan.SmallFiles, 1) // a one-record file is far under 16MiB
}

func TestPlanRetentionAssignsTiers(t *testing.T) {
	root := t.TempDir()
	m := New(root, Policy{Dataset: "ticks"}, []config.RetentionTier{
		{Name: "hot", AgeDaysMin: 0, AgeDaysMax: intPtr(7), Target: "local-ssd"},
		{Name: "warm", AgeDaysMin: 7, AgeDaysMax: intPtr(90), Target: "object-store"},
		{Name: "delete", AgeDaysMin: 90, Target: "delete"},
	})

	now := time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC)
	oldDate := now.AddDate(0, 0, -100).Format("2006-01-02")
	recentDate := now.AddDate(0, 0, -1).Format("2006-01-02")

	for _, d := range []string{oldDate, recentDate} {
		key := PartitionKey{Symbol: "BTCUSDT", TF: "1m", Date: d}
		_, err := m.WritePartition(key, []map[string]any{{"o": 1.0}})
		require.NoError(t, err)
	}

	plans, err := m.PlanRetention(now.UnixMilli())
	require.NoError(t, err)
	require.Len(t, plans, 2)

	byDate := map[string]RetentionPlanEntry{}
	for _, p := range plans {
		byDate[p.Date] = p
	}
	require.Equal(t, "delete", byDate[oldDate].Tier.Name)
	require.Equal(t, "hot", byDate[recentDate].Tier.Name)
}

func TestPartitionsForTimerangeDaily(t *testing.T) {
	m := New(t.TempDir(), Policy{Dataset: "ticks"}, nil)
	start := time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC).UnixMilli()
	end := time.Date(2023, 11, 17, 12, 0, 0, 0, time.UTC).UnixMilli()

	keys, err := m.PartitionsForTimerange("BTCUSDT", event.TF1d, start, end)
	require.NoError(t, err)
	require.Len(t, keys, 3) // 15th, 16th, 17th
	require.Equal(t, "2023-11-15", keys[0].Date)
	require.Equal(t, "2023-11-17", keys[2].Date)
}

func intPtr(v int) *int { return &v }
