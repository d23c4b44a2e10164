// Package classify layers rule-based auto-classification over a remote
// language-model fallback and normalizes both into the fixed category set.
package classify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/jhalloran/mailsift/internal/mail"
)

// Fixed confidence scores used downstream for rescue threshold comparison.
// The remote collaborator does not report confidence.
const (
	RuleConfidence   = 0.9
	RemoteConfidence = 0.7
)

// Source says where a classification came from.
type Source int

const (
	SourceRule Source = iota
	SourceRemote
)

// Result is a normalized classification.
type Result struct {
	Category   mail.Category
	Confidence float64
	Source     Source
}

// RuleMatcher is the rule-engine surface the orchestrator needs.
type RuleMatcher interface {
	Match(m mail.Message) (mail.Category, bool)
}

// RemoteClassifier returns the remote collaborator's free-text answer.
type RemoteClassifier interface {
	Classify(ctx context.Context, m mail.Message, personalContext []string) (string, error)
}

// Classifier tries rules first, then the remote collaborator.
type Classifier struct {
	// Rules is consulted first when non-nil; nil disables auto-classification.
	Rules  RuleMatcher
	Remote RemoteClassifier
	Logger *slog.Logger
}

// New constructs a Classifier.
func New(rules RuleMatcher, remote RemoteClassifier, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Classifier{Rules: rules, Remote: remote, Logger: logger}
}

// Classify returns a category for the message. A rule hit carries fixed high
// confidence. Otherwise the remote answer is normalized against the category
// vocabulary: a reply naming no category yields Uncategorized, a failed call
// yields Error. The two outcomes are distinct so callers can tell a confused
// model from a dead endpoint.
func (c *Classifier) Classify(ctx context.Context, m mail.Message, personalContext []string) Result {
	if c.Rules != nil {
		if category, ok := c.Rules.Match(m); ok {
			c.Logger.Debug("auto-classified", "subject", m.Subject, "category", string(category))
			return Result{Category: category, Confidence: RuleConfidence, Source: SourceRule}
		}
	}

	text, err := c.Remote.Classify(ctx, m, personalContext)
	if errors.Is(err, ErrMalformed) {
		c.Logger.Warn("unusable completion response", "subject", m.Subject)
		return Result{Category: mail.CategoryUncategorized, Confidence: RemoteConfidence, Source: SourceRemote}
	}
	if err != nil {
		c.Logger.Error("remote classification failed", "subject", m.Subject, "error", err)
		return Result{Category: mail.CategoryError, Confidence: RemoteConfidence, Source: SourceRemote}
	}

	category := Normalize(text)
	if category == mail.CategoryUncategorized {
		c.Logger.Warn("unrecognized category in response", "text", text)
	}
	return Result{Category: category, Confidence: RemoteConfidence, Source: SourceRemote}
}

// Normalize scans the response text for the first category name it contains,
// case-insensitively, in the declared vocabulary order.
func Normalize(text string) mail.Category {
	lower := strings.ToLower(text)
	for _, category := range mail.Categories() {
		if strings.Contains(lower, strings.ToLower(string(category))) {
			return category
		}
	}
	return mail.CategoryUncategorized
}
