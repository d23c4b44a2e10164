package imapclient

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jhalloran/mailsift/internal/mail"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtractPlainTextSimpleMessage(t *testing.T) {
	raw := "Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"hello world\r\n"
	got := extractPlainText(strings.NewReader(raw), discardLogger())
	if !strings.Contains(got, "hello world") {
		t.Fatalf("unexpected body: %q", got)
	}
}

func TestExtractPlainTextNoContentType(t *testing.T) {
	raw := "Subject: hi\r\n" +
		"\r\n" +
		"plain fallback\r\n"
	got := extractPlainText(strings.NewReader(raw), discardLogger())
	if !strings.Contains(got, "plain fallback") {
		t.Fatalf("unexpected body: %q", got)
	}
}

func TestExtractPlainTextPrefersTextPart(t *testing.T) {
	raw := "Content-Type: multipart/alternative; boundary=b\r\n" +
		"\r\n" +
		"--b\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<b>rich</b>\r\n" +
		"--b\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain text wins\r\n" +
		"--b--\r\n"
	got := extractPlainText(strings.NewReader(raw), discardLogger())
	if !strings.Contains(got, "plain text wins") {
		t.Fatalf("unexpected body: %q", got)
	}
	if strings.Contains(got, "rich") {
		t.Fatalf("html part leaked into body: %q", got)
	}
}

func TestExtractPlainTextNestedMultipart(t *testing.T) {
	raw := "Content-Type: multipart/mixed; boundary=outer\r\n" +
		"\r\n" +
		"--outer\r\n" +
		"Content-Type: multipart/alternative; boundary=inner\r\n" +
		"\r\n" +
		"--inner\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"nested body\r\n" +
		"--inner--\r\n" +
		"--outer--\r\n"
	got := extractPlainText(strings.NewReader(raw), discardLogger())
	if !strings.Contains(got, "nested body") {
		t.Fatalf("unexpected body: %q", got)
	}
}

func TestTruncateRunesKeepsRuneBoundary(t *testing.T) {
	body := strings.Repeat("é", mail.BodyLimit+5)
	got := truncateRunes(body, mail.BodyLimit)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated body is not valid utf-8")
	}
	if n := utf8.RuneCountInString(got); n != mail.BodyLimit {
		t.Fatalf("expected %d characters, got %d", mail.BodyLimit, n)
	}
}

func TestTruncateRunesShortBodyUntouched(t *testing.T) {
	if got := truncateRunes("short", mail.BodyLimit); got != "short" {
		t.Fatalf("short body must pass through: %q", got)
	}
}

func TestExtractPlainTextHTMLOnly(t *testing.T) {
	raw := "Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>only html</p>\r\n"
	if got := extractPlainText(strings.NewReader(raw), discardLogger()); got != "" {
		t.Fatalf("expected empty body for html-only message, got %q", got)
	}
}
