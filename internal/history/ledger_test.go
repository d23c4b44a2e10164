package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/jhalloran/mailsift/internal/mail"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFingerprintIgnoresBodyAndFolder(t *testing.T) {
	a := mail.Message{Subject: "Hi", From: "a@x.com", Date: "Mon, 1 Jan 2024 10:00:00 +0000", Body: "one", Folder: "INBOX"}
	b := mail.Message{Subject: "Hi", From: "a@x.com", Date: "Mon, 1 Jan 2024 10:00:00 +0000", Body: "two", Folder: "Archive"}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("fingerprints differ for identical subject/from/date")
	}
	c := mail.Message{Subject: "Hi!", From: "a@x.com", Date: "Mon, 1 Jan 2024 10:00:00 +0000"}
	if Fingerprint(a) == Fingerprint(c) {
		t.Fatalf("fingerprints collide for different subjects")
	}
}

func TestLoadMissingFile(t *testing.T) {
	l := testLedger(t)
	set, err := l.Load(100)
	if err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected empty set, got %d entries", len(set))
	}
}

func TestLoadCorruptFileReturnsEmptySet(t *testing.T) {
	l := testLedger(t)
	if err := os.WriteFile(l.Path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	set, err := l.Load(100)
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if len(set) != 0 {
		t.Fatalf("expected empty set on parse failure, got %d", len(set))
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	l := testLedger(t)
	if err := l.Save("fp1", 100); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := l.Save("fp2", 100); err != nil {
		t.Fatalf("save: %v", err)
	}
	set, err := l.Load(100)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, fp := range []string{"fp1", "fp2"} {
		if _, ok := set[fp]; !ok {
			t.Fatalf("missing %s in %v", fp, set)
		}
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	l := testLedger(t)
	for i := 0; i < 3; i++ {
		if err := l.Save("fp1", 100); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		t.Fatal(err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 stored fingerprint, got %d", len(list))
	}
}

func TestSaveEvictsOldest(t *testing.T) {
	l := testLedger(t)
	for i := 0; i < 5; i++ {
		if err := l.Save(fmt.Sprintf("fp%d", i), 3); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	set, err := l.Load(3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(set) != 3 {
		t.Fatalf("expected 3 fingerprints, got %d", len(set))
	}
	if _, ok := set["fp0"]; ok {
		t.Fatalf("oldest fingerprint should have been evicted")
	}
	if _, ok := set["fp4"]; !ok {
		t.Fatalf("newest fingerprint missing")
	}
}

func TestLoadTruncatesOversizedSet(t *testing.T) {
	l := testLedger(t)
	stored := []string{"a", "b", "c", "d", "e"}
	data, _ := json.Marshal(stored)
	if err := os.WriteFile(l.Path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	set, err := l.Load(2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(set))
	}
	// The truncated form must have been re-persisted.
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk []string
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatal(err)
	}
	if len(onDisk) != 2 || onDisk[0] != "d" || onDisk[1] != "e" {
		t.Fatalf("unexpected persisted set: %v", onDisk)
	}
}

func TestSaveEntryPrependsNewestFirst(t *testing.T) {
	l := testLedger(t)
	first := mail.Message{Subject: "first", From: "a@x.com", Category: mail.CategoryWork, TargetFolder: "Folders/Work"}
	second := mail.Message{Subject: "second", From: "b@x.com", Category: mail.CategoryFinance, TargetFolder: "Folders/Finance"}
	if err := l.SaveEntry(first); err != nil {
		t.Fatalf("save entry: %v", err)
	}
	if err := l.SaveEntry(second); err != nil {
		t.Fatalf("save entry: %v", err)
	}
	entries, err := l.LoadEntries(10)
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Subject != "second" || entries[1].Subject != "first" {
		t.Fatalf("entries not newest-first: %+v", entries)
	}
	if entries[0].Category != "Finance" || entries[0].Folder != "Folders/Finance" {
		t.Fatalf("entry fields wrong: %+v", entries[0])
	}
}

func TestSaveEntryDropsOldestAtCap(t *testing.T) {
	l := testLedger(t)
	entries := make([]Entry, maxDetailedEntries)
	for i := range entries {
		entries[i] = Entry{Subject: fmt.Sprintf("s%d", i)}
	}
	data, _ := json.Marshal(entries)
	if err := os.WriteFile(l.EntriesPath, data, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := l.SaveEntry(mail.Message{Subject: "newest"}); err != nil {
		t.Fatalf("save entry: %v", err)
	}
	got, err := l.LoadEntries(0)
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if len(got) != maxDetailedEntries {
		t.Fatalf("expected cap of %d, got %d", maxDetailedEntries, len(got))
	}
	if got[0].Subject != "newest" {
		t.Fatalf("newest entry not first: %q", got[0].Subject)
	}
	oldest := fmt.Sprintf("s%d", maxDetailedEntries-1)
	if got[len(got)-1].Subject == oldest {
		t.Fatalf("oldest entry %q should have been dropped", oldest)
	}
}

func TestClearEmptiesBothStores(t *testing.T) {
	l := testLedger(t)
	if err := l.Save("fp", 100); err != nil {
		t.Fatal(err)
	}
	if err := l.SaveEntry(mail.Message{Subject: "s"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	set, err := l.Load(100)
	if err != nil || len(set) != 0 {
		t.Fatalf("fingerprint set not cleared: %v %v", set, err)
	}
	entries, err := l.LoadEntries(0)
	if err != nil || len(entries) != 0 {
		t.Fatalf("detailed history not cleared: %v %v", entries, err)
	}
}

func TestAppendFeedbackIsLineDelimited(t *testing.T) {
	l := testLedger(t)
	if err := l.AppendFeedback("fp1", "Spam", "Work"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.AppendFeedback("fp2", "Spam", "Not Spam"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f, err := os.Open(l.FeedbackPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []FeedbackEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var e FeedbackEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 feedback lines, got %d", len(lines))
	}
	if lines[0].Fingerprint != "fp1" || lines[0].OriginalCategory != "Spam" || lines[0].CorrectedCategory != "Work" {
		t.Fatalf("unexpected first entry: %+v", lines[0])
	}
	if lines[0].Timestamp == "" {
		t.Fatalf("timestamp missing")
	}
}
