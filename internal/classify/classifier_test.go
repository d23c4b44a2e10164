package classify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jhalloran/mailsift/internal/mail"
)

type fakeRules struct {
	category mail.Category
	ok       bool
}

func (f fakeRules) Match(m mail.Message) (mail.Category, bool) {
	_ = m
	return f.category, f.ok
}

type fakeRemote struct {
	text  string
	err   error
	calls int
}

func (f *fakeRemote) Classify(ctx context.Context, m mail.Message, personalContext []string) (string, error) {
	_ = ctx
	_ = m
	_ = personalContext
	f.calls++
	return f.text, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifyRuleHitSkipsRemote(t *testing.T) {
	remote := &fakeRemote{text: "Shopping"}
	c := New(fakeRules{category: mail.CategoryFinance, ok: true}, remote, discardLogger())

	got := c.Classify(context.Background(), mail.Message{Subject: "invoice"}, nil)
	if got.Category != mail.CategoryFinance {
		t.Fatalf("expected Finance, got %q", got.Category)
	}
	if got.Confidence != RuleConfidence || got.Source != SourceRule {
		t.Fatalf("unexpected result: %+v", got)
	}
	if remote.calls != 0 {
		t.Fatalf("remote should not have been called")
	}
}

func TestClassifyFallsBackToRemote(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
		want mail.Category
	}{
		{name: "category embedded in prose", text: "I classify this as Work-related", want: mail.CategoryWork},
		{name: "bare category", text: "Newsletter", want: mail.CategoryNewsletter},
		{name: "case insensitive", text: "definitely FINANCE.", want: mail.CategoryFinance},
		{name: "no category in text", text: "I'm not sure", want: mail.CategoryUncategorized},
		{name: "malformed response", err: ErrMalformed, want: mail.CategoryUncategorized},
		{name: "call failure", err: errors.New("connection refused"), want: mail.CategoryError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeRemote{text: tt.text, err: tt.err}
			c := New(fakeRules{}, remote, discardLogger())
			got := c.Classify(context.Background(), mail.Message{Subject: "s"}, nil)
			if got.Category != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got.Category)
			}
			if got.Source != SourceRemote || got.Confidence != RemoteConfidence {
				t.Fatalf("unexpected result: %+v", got)
			}
		})
	}
}

func TestClassifyNilRulesDisablesAuto(t *testing.T) {
	remote := &fakeRemote{text: "Personal"}
	c := New(nil, remote, discardLogger())
	got := c.Classify(context.Background(), mail.Message{}, nil)
	if got.Category != mail.CategoryPersonal {
		t.Fatalf("expected Personal via remote, got %q", got.Category)
	}
	if remote.calls != 1 {
		t.Fatalf("remote should have been called once, got %d", remote.calls)
	}
}

func TestNormalizeFirstHitWins(t *testing.T) {
	// Both Work and Spam appear; vocabulary order puts Work first.
	if got := Normalize("could be work or spam"); got != mail.CategoryWork {
		t.Fatalf("expected Work, got %q", got)
	}
}
