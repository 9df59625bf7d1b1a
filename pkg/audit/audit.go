package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EntryType classifies what kind of attempt an entry records.
type EntryType string

const (
	TypeUpload      EntryType = "upload"
	TypeTransaction EntryType = "transaction"
)

// Entry statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// DefaultRetention is the entry count the SDK keeps the log trimmed to.
const DefaultRetention = 1000

// Entry is one recorded attempt. Seq is strictly increasing across the life
// of the log, including across trims.
type Entry struct {
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EntryType      `json:"type"`
	Status    string         `json:"status"`
	Payload   map[string]any `json:"payload"`
}

// Filter selects entries for Query. Zero fields match everything.
type Filter struct {
	Type   EntryType
	Status string
	Since  time.Time
	Until  time.Time
	// Limit > 0 keeps only the newest Limit matches.
	Limit int
}

// Stats is the on-demand aggregation over the full entry list.
type Stats struct {
	Total      int            `json:"total_entries"`
	ByType     map[string]int `json:"counts_by_type"`
	ByStatus   map[string]int `json:"counts_by_status"`
	TotalBytes int64          `json:"total_bytes"`
	TotalGas   uint64         `json:"total_gas_used"`
	First      time.Time      `json:"first_timestamp"`
	Last       time.Time      `json:"last_timestamp"`
}

type metadata struct {
	CreatedAt    time.Time `json:"created_at"`
	Description  string    `json:"description"`
	Version      string    `json:"version"`
	LastUpdated  time.Time `json:"last_updated"`
	TotalEntries int       `json:"total_entries"`
	NextSeq      uint64    `json:"next_seq"`
}

type document struct {
	Metadata metadata `json:"metadata"`
	Entries  []Entry  `json:"entries"`
}

// Log is a single-file audit log. One Log may be shared by goroutines within
// a process; operations on the underlying file are serialized by a mutex.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New returns a Log backed by path. The file is created on first append.
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Append records one attempt and returns its sequence id.
func (l *Log) Append(t EntryType, status string, payload map[string]any) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return 0, err
	}

	seq := doc.Metadata.NextSeq
	entry := Entry{
		Seq:       seq,
		Timestamp: l.now(),
		Type:      t,
		Status:    status,
		Payload:   payload,
	}
	doc.Entries = append(doc.Entries, entry)
	doc.Metadata.NextSeq = seq + 1

	if err := l.save(doc); err != nil {
		return 0, err
	}
	zap.L().Debug("audit entry appended",
		zap.Uint64("seq", seq), zap.String("type", string(t)), zap.String("status", status))
	return seq, nil
}

// Query returns entries matching f, oldest first.
func (l *Log) Query(f Filter) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, e := range doc.Entries {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// Aggregate recomputes counts, byte and gas totals, and the first/last
// timestamps by scanning every entry.
func (l *Log) Aggregate() (*Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:    len(doc.Entries),
		ByType:   make(map[string]int),
		ByStatus: make(map[string]int),
	}
	for i, e := range doc.Entries {
		stats.ByType[string(e.Type)]++
		stats.ByStatus[e.Status]++
		stats.TotalBytes += payloadInt(e.Payload, "size_bytes")
		stats.TotalGas += uint64(payloadInt(e.Payload, "gas_used"))
		if i == 0 {
			stats.First = e.Timestamp
		}
		stats.Last = e.Timestamp
	}
	return stats, nil
}

// Trim keeps only the newest keepLastN entries and returns how many were
// removed. Sequence ids of the survivors are untouched and future appends
// continue the old numbering.
func (l *Log) Trim(keepLastN int) (int, error) {
	if keepLastN < 0 {
		return 0, fmt.Errorf("negative retention count %d", keepLastN)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return 0, err
	}
	if len(doc.Entries) <= keepLastN {
		return 0, nil
	}

	removed := len(doc.Entries) - keepLastN
	doc.Entries = doc.Entries[removed:]
	if err := l.save(doc); err != nil {
		return 0, err
	}
	zap.L().Info("audit log trimmed", zap.Int("removed", removed), zap.Int("kept", keepLastN))
	return removed, nil
}

// FindTransaction returns the newest transaction entry whose payload carries
// the given hash, or nil when none matches.
func (l *Log) FindTransaction(hash string) (*Entry, error) {
	entries, err := l.Query(Filter{Type: TypeTransaction})
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if h, ok := entries[i].Payload["tx_hash"].(string); ok && h == hash {
			e := entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (l *Log) load() (*document, error) {
	raw, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return &document{
			Metadata: metadata{
				CreatedAt:   l.now(),
				Description: "upload and transaction attempt record",
				Version:     "1.0.0",
				NextSeq:     1,
			},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		// Refuse to continue over a corrupted log; entries are never
		// silently dropped.
		return nil, fmt.Errorf("audit log %s is corrupted: %w", l.path, err)
	}
	if doc.Metadata.NextSeq == 0 {
		doc.Metadata.NextSeq = 1
	}
	return &doc, nil
}

func (l *Log) save(doc *document) error {
	doc.Metadata.LastUpdated = l.now()
	doc.Metadata.TotalEntries = len(doc.Entries)

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(l.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// payloadInt extracts an integral payload value that may have round-tripped
// through JSON as float64.
func payloadInt(p map[string]any, key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
