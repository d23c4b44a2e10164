package imapclient

import (
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
)

// extractPlainText parses a raw message and returns its first text/plain
// part. Parse failures yield an empty body; classification falls back to
// subject and sender alone.
func extractPlainText(r io.Reader, logger *slog.Logger) string {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		logger.Debug("parse message body failed", "error", err)
		return ""
	}
	if entity == nil {
		return ""
	}
	return plainTextPart(entity)
}

// truncateRunes caps s at limit characters without splitting a multi-byte
// rune.
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func plainTextPart(e *message.Entity) string {
	mr := e.MultipartReader()
	if mr == nil {
		t, _, _ := e.Header.ContentType()
		if t == "" || t == "text/plain" {
			data, err := io.ReadAll(e.Body)
			if err != nil {
				return ""
			}
			return string(data)
		}
		return ""
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return ""
		}
		if err != nil {
			return ""
		}
		t, _, _ := part.Header.ContentType()
		switch {
		case t == "text/plain":
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return ""
			}
			return string(data)
		case strings.HasPrefix(t, "multipart/"):
			if text := plainTextPart(part); text != "" {
				return text
			}
		}
	}
}
