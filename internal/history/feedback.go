package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FeedbackEntry is one correction record in the append-only feedback log.
type FeedbackEntry struct {
	Timestamp         string `json:"timestamp"`
	Fingerprint       string `json:"fingerprint"`
	OriginalCategory  string `json:"original_category"`
	CorrectedCategory string `json:"corrected_category"`
}

// AppendFeedback records that a message first filed under original was
// reclassified as corrected. The log is line-delimited JSON and only ever
// appended to, so it survives the full-rewrite semantics of the other stores.
func (l *Ledger) AppendFeedback(fingerprint, original, corrected string) error {
	entry := FeedbackEntry{
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		Fingerprint:       fingerprint,
		OriginalCategory:  original,
		CorrectedCategory: corrected,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode feedback entry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.FeedbackPath), 0o700); err != nil {
		return fmt.Errorf("create feedback dir: %w", err)
	}
	f, err := os.OpenFile(l.FeedbackPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open feedback log: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append feedback entry: %w", err)
	}
	return nil
}
