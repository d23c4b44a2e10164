// Package sorter runs the classification and move pipeline: fetch a batch,
// skip already-processed messages, classify, relocate, record.
package sorter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jhalloran/mailsift/internal/classify"
	"github.com/jhalloran/mailsift/internal/history"
	"github.com/jhalloran/mailsift/internal/mail"
	"github.com/jhalloran/mailsift/internal/rate"
)

// Classifier yields a normalized category for a message.
type Classifier interface {
	Classify(ctx context.Context, m mail.Message, personalContext []string) classify.Result
}

// MessageMover relocates one message; a nil error means moved.
type MessageMover interface {
	Move(m mail.Message, targetFolder string) error
}

// Recorder is the ledger surface the pipeline writes through.
type Recorder interface {
	Load(maxEntries int) (map[string]struct{}, error)
	Save(fingerprint string, maxEntries int) error
	SaveEntry(m mail.Message) error
}

// Service wires the pipeline together.
type Service struct {
	Box      mail.Mailbox
	Classify Classifier
	Mover    MessageMover
	Ledger   Recorder
	Limiter  rate.Limiter
	Logger   *slog.Logger
	Clock    func() time.Time
}

// NewService constructs a Service with sane defaults.
func NewService(box mail.Mailbox, classifier Classifier, mover MessageMover, ledger Recorder, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Box:      box,
		Classify: classifier,
		Mover:    mover,
		Ledger:   ledger,
		Limiter:  limiter,
		Logger:   logger,
		Clock:    time.Now,
	}
}

// Spec describes one pipeline run.
type Spec struct {
	// Folders to pull from, in order, sharing Limit.
	Folders []string
	Limit   int
	Mode    mail.FetchMode
	// SkipFolders are never pulled from even if listed (all-folders mode).
	SkipFolders []string

	DryRun     bool
	Reprocess  bool
	MaxHistory int

	// FolderMap routes categories; unmapped ones go to DefaultFolder.
	FolderMap     map[string]string
	DefaultFolder string

	PersonalContext []string
}

// Summary reports what a run did.
type Summary struct {
	Fetched    int
	Skipped    int
	Moved      int
	Failed     int
	Elapsed    time.Duration
	PerMessage time.Duration // average time per processed message
}

// Run executes the pipeline once. Per-message failures are logged and
// counted; only context cancellation aborts the batch.
func (s *Service) Run(ctx context.Context, spec Spec) (Summary, error) {
	start := s.Clock()
	summary := Summary{}

	processed, err := s.Ledger.Load(spec.MaxHistory)
	if err != nil {
		s.Logger.Error("load history, continuing with empty set", "error", err)
	}

	messages := s.fetch(spec)
	summary.Fetched = len(messages)
	if len(messages) == 0 {
		s.Logger.Info("no messages to process")
		summary.Elapsed = s.Clock().Sub(start)
		return summary, nil
	}

	for _, m := range messages {
		if err := ctx.Err(); err != nil {
			summary.Elapsed = s.Clock().Sub(start)
			return summary, fmt.Errorf("run interrupted: %w", err)
		}

		fingerprint := history.Fingerprint(m)
		if _, seen := processed[fingerprint]; seen && !spec.Reprocess {
			s.Logger.Debug("already processed, skipping", "subject", m.Subject)
			summary.Skipped++
			continue
		}

		if err := s.wait(ctx); err != nil {
			summary.Elapsed = s.Clock().Sub(start)
			return summary, err
		}
		result := s.Classify.Classify(ctx, m, spec.PersonalContext)
		m.Category = result.Category
		m.TargetFolder = mail.FolderFor(result.Category, spec.FolderMap, spec.DefaultFolder)
		s.Logger.Info("classified",
			"subject", m.Subject,
			"category", string(m.Category),
			"folder", m.TargetFolder,
			"confidence", result.Confidence)

		if spec.DryRun {
			s.Logger.Info("dry-run: would move", "subject", m.Subject, "to", m.TargetFolder)
		} else if err := s.Mover.Move(m, m.TargetFolder); err != nil {
			s.Logger.Error("move failed, leaving message in place", "subject", m.Subject, "error", err)
			summary.Failed++
			continue
		}

		// Dry runs share the ledger with real runs so repeated rehearsals
		// don't reclassify the same messages.
		if err := s.Ledger.Save(fingerprint, spec.MaxHistory); err != nil {
			s.Logger.Error("record fingerprint", "error", err)
		}
		if err := s.Ledger.SaveEntry(m); err != nil {
			s.Logger.Error("record history entry", "error", err)
		}
		processed[fingerprint] = struct{}{}
		summary.Moved++
	}

	summary.Elapsed = s.Clock().Sub(start)
	if n := summary.Moved + summary.Failed; n > 0 {
		summary.PerMessage = summary.Elapsed / time.Duration(n)
	}
	s.Logger.Info("run complete",
		"fetched", summary.Fetched,
		"moved", summary.Moved,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed)
	return summary, nil
}

func (s *Service) fetch(spec Spec) []mail.Message {
	skip := make(map[string]struct{}, len(spec.SkipFolders))
	for _, f := range spec.SkipFolders {
		skip[f] = struct{}{}
	}

	var all []mail.Message
	remaining := spec.Limit
	for _, folder := range spec.Folders {
		if spec.Limit > 0 && remaining <= 0 {
			break
		}
		if _, ok := skip[folder]; ok {
			continue
		}
		messages, err := s.Box.Fetch(folder, remaining, spec.Mode)
		if err != nil {
			s.Logger.Error("fetch folder failed", "folder", folder, "error", err)
			continue
		}
		all = append(all, messages...)
		if spec.Limit > 0 {
			remaining = spec.Limit - len(all)
		}
	}
	return all
}

func (s *Service) wait(ctx context.Context) error {
	if s.Limiter == nil {
		return nil
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit classify: %w", err)
	}
	return nil
}
