// Package history tracks which messages have already been classified so the
// pipeline never processes the same message twice, and keeps a bounded
// detailed log of past decisions for rule suggestion.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jhalloran/mailsift/internal/mail"
)

// maxDetailedEntries caps the detailed history list. Oldest entries fall off
// the end; the fingerprint set has its own, caller-supplied cap.
const maxDetailedEntries = 2000

// Entry is one detailed history record, newest first on disk.
type Entry struct {
	Subject  string `json:"subject"`
	From     string `json:"from"`
	Date     string `json:"date"`
	Category string `json:"category"`
	Folder   string `json:"folder"`
}

// Ledger persists processed-message fingerprints and the detailed history.
// The save path is load-modify-save with a full rewrite; concurrent processes
// are not coordinated (last writer wins). Single-process usage is a
// precondition.
type Ledger struct {
	// Path holds the fingerprint set (JSON array of strings).
	Path string
	// EntriesPath holds the detailed history (JSON array, newest first).
	EntriesPath string
	// FeedbackPath is the append-only correction log (one JSON object per line).
	FeedbackPath string

	Logger *slog.Logger
}

// New builds a Ledger rooted in dir with the conventional file names.
func New(dir string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Ledger{
		Path:         filepath.Join(dir, "history.json"),
		EntriesPath:  filepath.Join(dir, "full_history.json"),
		FeedbackPath: filepath.Join(dir, "feedback.jsonl"),
		Logger:       logger,
	}
}

// Fingerprint derives the dedup hash for a message. Two messages with the same
// subject, sender and date collide regardless of body or folder; that coarse
// identity is intentional.
func Fingerprint(m mail.Message) string {
	sum := sha256.Sum256([]byte(m.Subject + "|" + m.From + "|" + m.Date))
	return hex.EncodeToString(sum[:])
}

// Load returns the set of processed fingerprints. A missing file is an empty
// set, not an error. If the stored set exceeds maxEntries it is truncated to
// the most recently inserted maxEntries and re-persisted. On a read or parse
// failure the returned set is empty and the error describes the failure;
// callers log it and continue.
func (l *Ledger) Load(maxEntries int) (map[string]struct{}, error) {
	list, err := l.loadList(maxEntries)
	if err != nil {
		return map[string]struct{}{}, err
	}
	set := make(map[string]struct{}, len(list))
	for _, fp := range list {
		set[fp] = struct{}{}
	}
	return set, nil
}

func (l *Ledger) loadList(maxEntries int) ([]string, error) {
	data, err := os.ReadFile(l.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fingerprint set: %w", err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse fingerprint set: %w", err)
	}
	if maxEntries > 0 && len(list) > maxEntries {
		l.Logger.Info("trimming fingerprint set", "from", len(list), "to", maxEntries)
		list = list[len(list)-maxEntries:]
		if err := l.writeJSON(l.Path, list); err != nil {
			l.Logger.Error("persist trimmed fingerprint set", "error", err)
		}
	}
	return list, nil
}

// Save records a fingerprint as processed, keeping at most maxEntries. The
// most recently touched fingerprints are retained.
func (l *Ledger) Save(fingerprint string, maxEntries int) error {
	list, err := l.loadList(maxEntries)
	if err != nil {
		l.Logger.Error("load fingerprint set before save", "error", err)
		list = nil
	}
	for i, fp := range list {
		if fp == fingerprint {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	list = append(list, fingerprint)
	if maxEntries > 0 && len(list) > maxEntries {
		list = list[len(list)-maxEntries:]
	}
	if err := l.writeJSON(l.Path, list); err != nil {
		return fmt.Errorf("save fingerprint set: %w", err)
	}
	return nil
}

// SaveEntry prepends a detailed record for the message and persists the list,
// dropping the oldest entry once the cap is reached.
func (l *Ledger) SaveEntry(m mail.Message) error {
	entries, err := l.LoadEntries(0)
	if err != nil {
		l.Logger.Error("load detailed history before save", "error", err)
		entries = nil
	}
	entry := Entry{
		Subject:  m.Subject,
		From:     m.From,
		Date:     m.Date,
		Category: string(m.Category),
		Folder:   m.TargetFolder,
	}
	entries = append([]Entry{entry}, entries...)
	if len(entries) > maxDetailedEntries {
		entries = entries[:maxDetailedEntries]
	}
	if err := l.writeJSON(l.EntriesPath, entries); err != nil {
		return fmt.Errorf("save detailed history: %w", err)
	}
	return nil
}

// LoadEntries returns detailed history, newest first. maxEntries <= 0 means
// no truncation. Missing file yields an empty slice.
func (l *Ledger) LoadEntries(maxEntries int) ([]Entry, error) {
	data, err := os.ReadFile(l.EntriesPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read detailed history: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse detailed history: %w", err)
	}
	if maxEntries > 0 && len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}
	return entries, nil
}

// Clear empties both the fingerprint set and the detailed history.
func (l *Ledger) Clear() error {
	if err := l.writeJSON(l.Path, []string{}); err != nil {
		return fmt.Errorf("clear fingerprint set: %w", err)
	}
	if err := l.writeJSON(l.EntriesPath, []Entry{}); err != nil {
		return fmt.Errorf("clear detailed history: %w", err)
	}
	return nil
}

func (l *Ledger) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
