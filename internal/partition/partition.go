// Package partition implements lakehouse-style partition management (C8)
// for archived market-data records: symbol/tf/date partition keys,
// content-hashed idempotent file writes, per-partition manifests, small-file
// compaction planning, and hot/warm/cold/delete retention planning. Grounded
// on original_source/storage/partition_manager.py and the candle-alignment
// rules in original_source/core/utils/time_utils.py.
package partition

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adred-codev/mdingest/internal/config"
	"github.com/adred-codev/mdingest/internal/event"
)

const (
	dayMillis  = int64(24 * 60 * 60 * 1000)
	weekMillis = 7 * dayMillis
)

// PartitionKey identifies a dataset partition: symbol, timeframe, UTC date,
// and optionally an hour (hourly granularity) and region.
type PartitionKey struct {
	Symbol string
	TF     string
	Date   string // YYYY-MM-DD, UTC
	Hour   *int   // 0..23, set only under hourly granularity
	Region string // empty when not in use
}

// HivePath returns the Hive-style partition path segment, e.g.
// "symbol=BTCUSDT/tf=1m/date=2025-08-27[/hour=13][/region=...]".
func (k PartitionKey) HivePath(hourly bool) string {
	parts := []string{"symbol=" + k.Symbol, "tf=" + k.TF, "date=" + k.Date}
	if hourly {
		h := 0
		if k.Hour != nil {
			h = *k.Hour
		}
		parts = append(parts, fmt.Sprintf("hour=%02d", h))
	}
	if k.Region != "" {
		parts = append(parts, "region="+k.Region)
	}
	return strings.Join(parts, "/")
}

// Dict returns a plain map representation carrying only set fields, used in
// manifest metadata.
func (k PartitionKey) Dict() map[string]any {
	d := map[string]any{"symbol": k.Symbol, "tf": k.TF, "date": k.Date}
	if k.Hour != nil {
		d["hour"] = *k.Hour
	}
	if k.Region != "" {
		d["region"] = k.Region
	}
	return d
}

// Policy describes how partitions are formed for a dataset.
type Policy struct {
	Granularity   string // "daily" | "hourly"
	IncludeRegion bool
	Dataset       string
}

func (p Policy) hourly() bool { return p.Granularity == "hourly" }

// CandleOpenMillis floors ts_ms to the start of its candle for tf, in UTC.
// Fixed-span timeframes floor-divide; "1w" anchors to ISO Monday 00:00 UTC;
// "1mo" anchors to the 1st of the calendar month, bucketed from 1970-01-01.
func CandleOpenMillis(tf event.Timeframe, tsMs int64) (int64, error) {
	switch tf {
	case event.TF1mo:
		t := time.UnixMilli(tsMs).UTC()
		floored := floorMonths(t, 1)
		return floored.UnixMilli(), nil
	case event.TF1w:
		t := time.UnixMilli(tsMs).UTC()
		weekday := int(t.Weekday())
		if weekday == 0 { // Go's Sunday=0; ISO wants Monday=0..Sunday=6
			weekday = 6
		} else {
			weekday--
		}
		dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		weekStart := dayStart.AddDate(0, 0, -weekday)
		return weekStart.UnixMilli(), nil
	default:
		span, ok := tf.SpanMillis()
		if !ok {
			return 0, fmt.Errorf("timeframe %q has no fixed millisecond span", tf)
		}
		return (tsMs / span) * span, nil
	}
}

func floorMonths(t time.Time, n int) time.Time {
	monthsSinceEpoch := (t.Year()-1970)*12 + int(t.Month()) - 1
	bucket := (monthsSinceEpoch / n) * n
	year := 1970 + bucket/12
	month := time.Month(bucket%12 + 1)
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// WriteResult is returned by WritePartition.
type WriteResult struct {
	Path          string
	BytesWritten  int
	FileHash      string
	IdempotentKey string
	Partition     PartitionKey
}

// CompactionPlan summarizes a partition's file layout for compaction
// decisions: total files/bytes, and which files fall under the small-file
// threshold (25% of the target file size).
type CompactionPlan struct {
	Partition   PartitionKey
	TotalFiles  int
	TotalBytes  int64
	SmallFiles  []string
}

// RetentionPlanEntry describes the tier a scanned partition date falls into.
type RetentionPlanEntry struct {
	Path    string
	Date    string
	AgeDays int
	Tier    config.RetentionTier
}

// Manager computes partition keys/paths and performs writes, manifest
// updates, compaction planning, and retention planning against a local
// filesystem root.
type Manager struct {
	root      string
	policy    Policy
	retention []config.RetentionTier
	catalog   string
}

// New constructs a Manager rooted at a local directory.
func New(root string, policy Policy, retention []config.RetentionTier) *Manager {
	if policy.Dataset == "" {
		policy.Dataset = "market_data"
	}
	if policy.Granularity == "" {
		policy.Granularity = "daily"
	}
	return &Manager{root: root, policy: policy, retention: retention, catalog: "hive"}
}

// DeriveKey builds a PartitionKey from an event's symbol/tf/ts_event_ms.
func (m *Manager) DeriveKey(symbol string, tf event.Timeframe, tsEventMs int64, region string) (PartitionKey, error) {
	openMs, err := CandleOpenMillis(tf, tsEventMs)
	if err != nil {
		return PartitionKey{}, err
	}
	return m.keyForOpen(symbol, tf, openMs, region), nil
}

func (m *Manager) keyForOpen(symbol string, tf event.Timeframe, openMs int64, region string) PartitionKey {
	t := time.UnixMilli(openMs).UTC()
	k := PartitionKey{Symbol: symbol, TF: string(tf), Date: t.Format("2006-01-02")}
	if m.policy.hourly() {
		h := t.Hour()
		k.Hour = &h
	}
	if m.policy.IncludeRegion && region != "" {
		k.Region = region
	}
	return k
}

// DatasetRoot returns the root directory for the manager's dataset.
func (m *Manager) DatasetRoot() string {
	return filepath.Join(m.root, m.policy.Dataset)
}

// PartitionPath returns the directory for a partition key.
func (m *Manager) PartitionPath(key PartitionKey) string {
	return filepath.Join(m.DatasetRoot(), filepath.FromSlash(key.HivePath(m.policy.hourly())))
}

// ManifestPath returns the path to a partition's manifest file.
func (m *Manager) ManifestPath(key PartitionKey) string {
	return filepath.Join(m.PartitionPath(key), "_manifest.json")
}

func dataFileName(fileHash string) string {
	h := fileHash
	if len(h) > 16 {
		h = h[:16]
	}
	return fmt.Sprintf("part-%s-%s.jsonl", h, uuid.New().String()[:8])
}

// WritePartition encodes records as newline-delimited JSON (sorted, compact
// keys for stable hashing), writes them via a temp-file-then-rename, and
// appends a manifest entry. Writes are idempotent: if a file with the same
// content hash already exists, the write is skipped and BytesWritten is 0.
func (m *Manager) WritePartition(key PartitionKey, records []map[string]any) (WriteResult, error) {
	if len(records) == 0 {
		return WriteResult{}, fmt.Errorf("no records to write")
	}
	data, hash, err := encodeRecords(records)
	if err != nil {
		return WriteResult{}, err
	}
	hourLabel := "none"
	if key.Hour != nil {
		hourLabel = fmt.Sprintf("%d", *key.Hour)
	}
	idemKey := fmt.Sprintf("%s|%s|%s|%s|%s", key.Symbol, key.TF, key.Date, hourLabel, hash)

	partDir := m.PartitionPath(key)
	finalPath := filepath.Join(partDir, dataFileName(hash))

	if existing, err := findByHash(partDir, hash); err == nil && existing != "" {
		return WriteResult{Path: existing, BytesWritten: 0, FileHash: hash, IdempotentKey: idemKey, Partition: key}, nil
	}

	if err := os.MkdirAll(partDir, 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("create partition dir: %w", err)
	}
	tmp, err := os.CreateTemp(partDir, ".tmp-*")
	if err != nil {
		return WriteResult{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return WriteResult{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return WriteResult{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return WriteResult{}, fmt.Errorf("atomic replace: %w", err)
	}

	if err := m.appendManifest(key, finalPath, len(data), "jsonl"); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Path: finalPath, BytesWritten: len(data), FileHash: hash, IdempotentKey: idemKey, Partition: key}, nil
}

// findByHash returns the path of an existing data file whose name embeds the
// given content hash prefix, if any (idempotency check).
func findByHash(partDir, hash string) (string, error) {
	prefix := hash
	if len(prefix) > 16 {
		prefix = prefix[:16]
	}
	entries, err := os.ReadDir(partDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	want := "part-" + prefix + "-"
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), want) {
			return filepath.Join(partDir, e.Name()), nil
		}
	}
	return "", nil
}

func encodeRecords(records []map[string]any) (data []byte, hash string, err error) {
	var sb strings.Builder
	for _, r := range records {
		line, err := canonicalJSON(r)
		if err != nil {
			return nil, "", fmt.Errorf("encode record: %w", err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	data = []byte(sb.String())

	canon, err := canonicalJSON(records)
	if err != nil {
		return nil, "", fmt.Errorf("canonicalize records: %w", err)
	}
	sum := sha256.Sum256(canon)
	return data, hex.EncodeToString(sum[:]), nil
}

// canonicalJSON marshals v with sorted map keys and no extra whitespace.
// encoding/json already sorts map[string]any keys on marshal, which is
// sufficient for a stable, deterministic content hash.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

type manifest struct {
	Format    string           `json:"format"`
	Dataset   string           `json:"dataset"`
	Partition map[string]any   `json:"partition"`
	Files     []manifestFile   `json:"files"`
	UpdatedAt string           `json:"updated_at"`
	Catalog   string           `json:"catalog"`
	Version   int              `json:"version"`
}

type manifestFile struct {
	Path string `json:"path"`
	Size int    `json:"size"`
	Ext  string `json:"ext"`
}

func (m *Manager) appendManifest(key PartitionKey, path string, size int, ext string) error {
	manifestPath := m.ManifestPath(key)
	meta := manifest{
		Format:    ext,
		Dataset:   m.policy.Dataset,
		Partition: key.Dict(),
		Catalog:   m.catalog,
		Version:   1,
	}
	if raw, err := os.ReadFile(manifestPath); err == nil {
		_ = json.Unmarshal(raw, &meta) // best-effort; fall back to fresh meta on parse error
	}
	meta.Files = append(meta.Files, manifestFile{Path: path, Size: size, Ext: ext})
	meta.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(manifestPath, data, 0o644)
}

// PlanCompaction inspects a partition's data files and flags small-file
// compaction candidates: files under 25% of targetFileMiB.
func (m *Manager) PlanCompaction(key PartitionKey, targetFileMiB float64) (CompactionPlan, error) {
	partDir := m.PartitionPath(key)
	entries, err := os.ReadDir(partDir)
	if err != nil {
		if os.IsNotExist(err) {
			return CompactionPlan{Partition: key}, nil
		}
		return CompactionPlan{}, fmt.Errorf("list partition dir: %w", err)
	}
	threshold := int64(targetFileMiB * 1024 * 1024 * 0.25)
	plan := CompactionPlan{Partition: key}
	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".jsonl") || strings.HasSuffix(e.Name(), ".parquet")) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		plan.TotalFiles++
		plan.TotalBytes += info.Size()
		if info.Size() < threshold {
			plan.SmallFiles = append(plan.SmallFiles, filepath.Join(partDir, e.Name()))
		}
	}
	return plan, nil
}

// PlanRetention scans the dataset root for date=* partition directories and
// assigns each the retention tier matching its age in days, as of nowMs.
func (m *Manager) PlanRetention(nowMs int64) ([]RetentionPlanEntry, error) {
	root := m.DatasetRoot()
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}
	now := time.UnixMilli(nowMs).UTC()

	var plans []RetentionPlanEntry
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || !strings.HasPrefix(d.Name(), "date=") {
			return nil
		}
		dateStr := strings.TrimPrefix(d.Name(), "date=")
		dt, parseErr := time.Parse("2006-01-02", dateStr)
		if parseErr != nil {
			return nil
		}
		ageDays := int(now.Sub(dt).Hours() / 24)
		tier := tierForAgeDays(m.retention, ageDays)
		plans = append(plans, RetentionPlanEntry{Path: path, Date: dateStr, AgeDays: ageDays, Tier: tier})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk dataset root: %w", err)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Path < plans[j].Path })
	return plans, nil
}

func tierForAgeDays(tiers []config.RetentionTier, ageDays int) config.RetentionTier {
	for _, t := range tiers {
		if ageDays >= t.AgeDaysMin && (t.AgeDaysMax == nil || ageDays < *t.AgeDaysMax) {
			return t
		}
	}
	if len(tiers) > 0 {
		return tiers[len(tiers)-1]
	}
	return config.RetentionTier{}
}

// ReadPartitionRecords reads every newline-delimited JSON data file in a
// partition directory (in file-name order, for deterministic replay) and
// returns the decoded records. Missing partitions return an empty, nil-error
// result since a replay range may legitimately span days with no archived
// data.
func (m *Manager) ReadPartitionRecords(key PartitionKey) ([]map[string]any, error) {
	partDir := m.PartitionPath(key)
	entries, err := os.ReadDir(partDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list partition dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []map[string]any
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(partDir, name))
		if err != nil {
			return nil, fmt.Errorf("read partition file %s: %w", name, err)
		}
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if line == "" {
				continue
			}
			var rec map[string]any
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				return nil, fmt.Errorf("decode record in %s: %w", name, err)
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// PartitionsForTimerange enumerates the unique partition keys covering
// [startMs, endMs) for a symbol/timeframe, stepping by the timeframe's span.
func (m *Manager) PartitionsForTimerange(symbol string, tf event.Timeframe, startMs, endMs int64) ([]PartitionKey, error) {
	if endMs < startMs {
		return nil, fmt.Errorf("endMs must be >= startMs")
	}
	open, err := CandleOpenMillis(tf, startMs)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []PartitionKey
	for open < endMs {
		key := m.keyForOpen(symbol, tf, open, "")
		dedupKey := key.Date
		if key.Hour != nil {
			dedupKey = fmt.Sprintf("%s|%d", key.Date, *key.Hour)
		}
		if !seen[dedupKey] {
			seen[dedupKey] = true
			out = append(out, key)
		}
		next, err := nextCandleOpen(tf, open)
		if err != nil {
			return nil, err
		}
		if next <= open {
			return nil, fmt.Errorf("non-advancing candle iteration for tf %q", tf)
		}
		open = next
	}
	return out, nil
}

func nextCandleOpen(tf event.Timeframe, openMs int64) (int64, error) {
	switch tf {
	case event.TF1mo:
		t := time.UnixMilli(openMs).UTC()
		next := t.AddDate(0, 1, 0)
		return next.UnixMilli(), nil
	case event.TF1w:
		return openMs + weekMillis, nil
	default:
		span, ok := tf.SpanMillis()
		if !ok {
			return 0, fmt.Errorf("timeframe %q has no fixed millisecond span", tf)
		}
		return openMs + span, nil
	}
}
