// Package rules evaluates messages against a persisted pattern→category rule
// set and derives new rule suggestions from classification history.
package rules

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jhalloran/mailsift/internal/mail"
)

// Kind names one of the three rule mappings.
type Kind string

const (
	KindDomains  Kind = "Domains"
	KindSubjects Kind = "Subjects"
	KindKeywords Kind = "Keywords"
)

// Rule binds a pattern to a category. Within one mapping the first matching
// rule wins, so slice order is the match order.
type Rule struct {
	Pattern  string `toml:"pattern"`
	Category string `toml:"category"`
}

// Set holds the three rule mappings. Evaluation order is fixed: Domains, then
// Subjects, then Keywords. Sender identity outranks an explicit subject
// pattern, which outranks a loose body keyword.
type Set struct {
	Domains  []Rule `toml:"domains"`
	Subjects []Rule `toml:"subjects"`
	Keywords []Rule `toml:"keywords"`
}

// Len returns the total number of rules across all mappings.
func (s Set) Len() int {
	return len(s.Domains) + len(s.Subjects) + len(s.Keywords)
}

// Engine matches messages against the rule set and persists changes to it.
type Engine struct {
	Set    Set
	Path   string
	Logger *slog.Logger
}

// Load reads the rule file at path. A missing file is seeded with a small
// example rule set so users have something to edit.
func Load(path string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	e := &Engine{Path: path, Logger: logger}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("no rule file found, writing example rules", "path", path)
		e.Set = exampleRules()
		if err := e.store(); err != nil {
			return nil, fmt.Errorf("write example rules: %w", err)
		}
		return e, nil
	}
	if _, err := toml.DecodeFile(path, &e.Set); err != nil {
		return nil, fmt.Errorf("load rules %s: %w", path, err)
	}
	logger.Info("loaded auto-classification rules", "count", e.Set.Len())
	return e, nil
}

func exampleRules() Set {
	return Set{
		Domains: []Rule{
			{Pattern: "newsletter@example.com", Category: string(mail.CategoryNewsletter)},
			{Pattern: "billing@example.com", Category: string(mail.CategoryFinance)},
			{Pattern: "*@school.edu", Category: string(mail.CategorySchool)},
		},
		Subjects: []Rule{
			{Pattern: "Your order has shipped", Category: string(mail.CategoryShopping)},
			{Pattern: "Weekly newsletter", Category: string(mail.CategoryNewsletter)},
			{Pattern: "Invoice for", Category: string(mail.CategoryFinance)},
		},
		Keywords: []Rule{
			{Pattern: "meeting agenda", Category: string(mail.CategoryWork)},
			{Pattern: "family gathering", Category: string(mail.CategoryFamily)},
			{Pattern: "tracking number", Category: string(mail.CategoryShopping)},
		},
	}
}

// Match evaluates a message against the rule set and returns the category of
// the first rule that matches. Domain patterns match the raw sender string,
// with `*@domain` wildcards matching any mailbox at that domain. Subject and
// keyword patterns are case-insensitive substrings.
func (e *Engine) Match(m mail.Message) (mail.Category, bool) {
	for _, r := range e.Set.Domains {
		if strings.Contains(m.From, r.Pattern) {
			e.Logger.Debug("domain rule match", "pattern", r.Pattern, "from", m.From)
			return mail.Category(r.Category), true
		}
		if strings.HasPrefix(r.Pattern, "*@") && strings.Contains(m.From, r.Pattern[1:]) {
			e.Logger.Debug("wildcard domain rule match", "pattern", r.Pattern, "from", m.From)
			return mail.Category(r.Category), true
		}
	}
	subject := strings.ToLower(m.Subject)
	for _, r := range e.Set.Subjects {
		if strings.Contains(subject, strings.ToLower(r.Pattern)) {
			e.Logger.Debug("subject rule match", "pattern", r.Pattern, "subject", m.Subject)
			return mail.Category(r.Category), true
		}
	}
	body := strings.ToLower(m.Body)
	for _, r := range e.Set.Keywords {
		if strings.Contains(body, strings.ToLower(r.Pattern)) {
			e.Logger.Debug("keyword rule match", "pattern", r.Pattern)
			return mail.Category(r.Category), true
		}
	}
	return "", false
}

// Add appends a rule to the named mapping and persists the whole set.
func (e *Engine) Add(kind Kind, pattern string, category mail.Category) error {
	switch kind {
	case KindDomains:
		e.Set.Domains = append(e.Set.Domains, Rule{Pattern: pattern, Category: string(category)})
	case KindSubjects:
		e.Set.Subjects = append(e.Set.Subjects, Rule{Pattern: pattern, Category: string(category)})
	case KindKeywords:
		e.Set.Keywords = append(e.Set.Keywords, Rule{Pattern: pattern, Category: string(category)})
	default:
		return fmt.Errorf("invalid rule kind %q", kind)
	}
	if err := e.store(); err != nil {
		return fmt.Errorf("persist rules after add: %w", err)
	}
	e.Logger.Info("added rule", "kind", string(kind), "pattern", pattern, "category", string(category))
	return nil
}

func (e *Engine) store() error {
	if err := os.MkdirAll(filepath.Dir(e.Path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(e.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return toml.NewEncoder(f).Encode(e.Set)
}
