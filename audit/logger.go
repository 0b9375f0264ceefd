package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	EventInitiate   = "initiate"
	EventValidation = "validation"
	EventIPN        = "ipn"
	EventSuccess    = "success"
	EventFailed     = "failed"
	EventCancel     = "cancel"
	EventRefund     = "refund"
)

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityHigh    = "high"
)

// Entry is one append-only audit record. Entries are never updated or
// deleted, and they survive even when the primary Payment/Enrollment
// write fails.
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	Event         string    `json:"event"`
	Source        string    `json:"source,omitempty"`
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	Severity      string    `json:"severity,omitempty"`
	Amount        float64   `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	IP            string    `json:"ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Details       string    `json:"details,omitempty"`
}

// Logger appends one JSON object per line to a per-day file under dir.
type Logger struct {
	mu  sync.Mutex
	dir string
}

func NewLogger(dir string) *Logger {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("🔥 Failed to create audit log directory %s: %v", dir, err)
	}
	return &Logger{dir: dir}
}

// Log writes the entry best-effort. A failed audit write is reported to
// the process log but never propagated to the caller.
func (l *Logger) Log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	line, err := json.Marshal(e)
	if err != nil {
		log.Printf("🔥 Failed to marshal audit entry for %s: %v", e.TransactionID, err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.fileFor(e.Timestamp), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("🔥 Failed to open audit log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Printf("🔥 Failed to append audit entry for %s: %v", e.TransactionID, err)
	}
}

// Summary aggregates the given day's entries into counts per event type.
func (l *Logger) Summary(day time.Time) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.fileFor(day))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int{}, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	counts := make(map[string]int)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			counts["unparsable"]++
			continue
		}
		counts[e.Event]++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return counts, nil
}

// Entries returns the given day's records, newest last.
func (l *Logger) Entries(day time.Time) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.fileFor(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return entries, nil
}

func (l *Logger) fileFor(t time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("payments-%s.log", t.UTC().Format("2006-01-02")))
}
