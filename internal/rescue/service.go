// Package rescue re-audits the spam folder and moves false positives back
// into the regular folder tree.
package rescue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jhalloran/mailsift/internal/classify"
	"github.com/jhalloran/mailsift/internal/history"
	"github.com/jhalloran/mailsift/internal/mail"
	"github.com/jhalloran/mailsift/internal/rate"
)

// BinaryCategory is recorded in history for rescues into a fixed folder,
// where the real category is not determined.
const BinaryCategory = "Not Spam"

// MessageMover relocates one message; a nil error means moved.
type MessageMover interface {
	Move(m mail.Message, targetFolder string) error
}

// Recorder is the ledger surface rescue writes through. Every rescue is also
// appended to the feedback log as a Spam correction.
type Recorder interface {
	Save(fingerprint string, maxEntries int) error
	SaveEntry(m mail.Message) error
	AppendFeedback(fingerprint, original, corrected string) error
}

// Service audits one spam folder.
type Service struct {
	Box     mail.Mailbox
	Rules   classify.RuleMatcher
	Remote  classify.RemoteClassifier
	Mover   MessageMover
	Ledger  Recorder
	Limiter rate.Limiter
	Logger  *slog.Logger
	Clock   func() time.Time
}

// NewService constructs a Service with sane defaults.
func NewService(box mail.Mailbox, rules classify.RuleMatcher, remote classify.RemoteClassifier, mover MessageMover, ledger Recorder, limiter rate.Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Box:     box,
		Rules:   rules,
		Remote:  remote,
		Mover:   mover,
		Ledger:  ledger,
		Limiter: limiter,
		Logger:  logger,
		Clock:   time.Now,
	}
}

// Options describes one rescue run.
type Options struct {
	SpamFolder string
	Limit      int

	// RescueFolder, when set, selects binary mode: every rescue lands there
	// and history records the category as "Not Spam". When empty, rescued
	// messages are routed through FolderMap by their re-derived category.
	RescueFolder string

	// Threshold is the minimum confidence for a rescue, inclusive.
	Threshold float64

	DryRun     bool
	MaxHistory int

	FolderMap     map[string]string
	DefaultFolder string

	PersonalContext []string
}

// Summary reports what a rescue run did. Rescued counts only real moves;
// dry-run hits land in WouldRescue so callers keying exit status off Rescued
// stay quiet during rehearsals.
type Summary struct {
	Reviewed      int
	Rescued       int
	WouldRescue   int
	ConfirmedSpam int
	Kept          int
	Elapsed       time.Duration
	PerMessage    time.Duration
}

// Run reviews the spam folder once. A rule naming a non-Spam category rescues
// with high confidence without consulting the remote collaborator; everything
// else gets a second opinion under the spam-review prompt at lower
// confidence. A message is rescued only when its re-derived category is a
// real one, not Spam, and the confidence clears the threshold.
func (s *Service) Run(ctx context.Context, opts Options) (Summary, error) {
	start := s.Clock()
	summary := Summary{}

	messages, err := s.Box.Fetch(opts.SpamFolder, opts.Limit, mail.FetchMode{Criteria: "ALL"})
	if err != nil {
		return summary, fmt.Errorf("fetch spam folder %s: %w", opts.SpamFolder, err)
	}
	summary.Reviewed = len(messages)
	if len(messages) == 0 {
		s.Logger.Info("spam folder empty", "folder", opts.SpamFolder)
		summary.Elapsed = s.Clock().Sub(start)
		return summary, nil
	}

	for _, m := range messages {
		if err := ctx.Err(); err != nil {
			summary.Elapsed = s.Clock().Sub(start)
			return summary, fmt.Errorf("rescue interrupted: %w", err)
		}

		result, err := s.review(ctx, m, opts.PersonalContext)
		if err != nil {
			summary.Elapsed = s.Clock().Sub(start)
			return summary, err
		}
		switch {
		case result.Category == mail.CategorySpam:
			s.Logger.Debug("confirmed spam", "subject", m.Subject)
			summary.ConfirmedSpam++
			continue
		case result.Category == mail.CategoryUncategorized || result.Category == mail.CategoryError:
			s.Logger.Debug("inconclusive review, keeping in spam", "subject", m.Subject)
			summary.Kept++
			continue
		case result.Confidence < opts.Threshold:
			s.Logger.Info("below rescue threshold, keeping in spam",
				"subject", m.Subject,
				"category", string(result.Category),
				"confidence", result.Confidence)
			summary.Kept++
			continue
		}

		m.Category = result.Category
		if opts.RescueFolder != "" {
			m.Category = mail.Category(BinaryCategory)
			m.TargetFolder = opts.RescueFolder
		} else {
			m.TargetFolder = mail.FolderFor(result.Category, opts.FolderMap, opts.DefaultFolder)
		}

		if opts.DryRun {
			s.Logger.Info("dry-run: would rescue",
				"subject", m.Subject,
				"to", m.TargetFolder,
				"confidence", result.Confidence)
			summary.WouldRescue++
			continue
		}
		if err := s.Mover.Move(m, m.TargetFolder); err != nil {
			s.Logger.Error("rescue move failed", "subject", m.Subject, "error", err)
			summary.Kept++
			continue
		}
		s.record(m, opts.MaxHistory)
		summary.Rescued++
		s.Logger.Info("rescued from spam",
			"subject", m.Subject,
			"to", m.TargetFolder,
			"confidence", result.Confidence)
	}

	summary.Elapsed = s.Clock().Sub(start)
	if n := summary.Reviewed; n > 0 {
		summary.PerMessage = summary.Elapsed / time.Duration(n)
	}
	s.Logger.Info("rescue complete",
		"reviewed", summary.Reviewed,
		"rescued", summary.Rescued,
		"would_rescue", summary.WouldRescue,
		"confirmed_spam", summary.ConfirmedSpam,
		"kept", summary.Kept,
		"elapsed", summary.Elapsed)
	return summary, nil
}

// review re-derives a category for a message sitting in spam. Rules that
// name a non-Spam category win outright; a Spam rule hit is treated the same
// as no hit, since the point is to second-guess spam placement.
func (s *Service) review(ctx context.Context, m mail.Message, personalContext []string) (classify.Result, error) {
	if s.Rules != nil {
		if category, ok := s.Rules.Match(m); ok && category != mail.CategorySpam {
			return classify.Result{
				Category:   category,
				Confidence: classify.RuleConfidence,
				Source:     classify.SourceRule,
			}, nil
		}
	}

	if err := s.wait(ctx); err != nil {
		return classify.Result{}, err
	}
	text, err := s.Remote.Classify(ctx, m, personalContext)
	if errors.Is(err, classify.ErrMalformed) {
		s.Logger.Warn("unusable completion response", "subject", m.Subject)
		return classify.Result{Category: mail.CategoryUncategorized, Source: classify.SourceRemote}, nil
	}
	if err != nil {
		s.Logger.Error("spam review failed", "subject", m.Subject, "error", err)
		return classify.Result{Category: mail.CategoryError, Source: classify.SourceRemote}, nil
	}
	return classify.Result{
		Category:   classify.Normalize(text),
		Confidence: classify.RemoteConfidence,
		Source:     classify.SourceRemote,
	}, nil
}

func (s *Service) record(m mail.Message, maxHistory int) {
	fingerprint := history.Fingerprint(m)
	if err := s.Ledger.Save(fingerprint, maxHistory); err != nil {
		s.Logger.Error("record fingerprint", "error", err)
	}
	if err := s.Ledger.SaveEntry(m); err != nil {
		s.Logger.Error("record history entry", "error", err)
	}
	if err := s.Ledger.AppendFeedback(fingerprint, string(mail.CategorySpam), string(m.Category)); err != nil {
		s.Logger.Error("append feedback", "error", err)
	}
}

func (s *Service) wait(ctx context.Context) error {
	if s.Limiter == nil {
		return nil
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit spam review: %w", err)
	}
	return nil
}
