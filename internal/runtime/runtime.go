// Package runtime wires shared process-level pieces: the default logger and
// the authenticated mailbox session the binaries share.
package runtime

import (
	"log/slog"
	"os"

	"github.com/jhalloran/mailsift/internal/config"
	"github.com/jhalloran/mailsift/internal/imapclient"
	"github.com/jhalloran/mailsift/internal/mail"
)

func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Connect opens an authenticated mailbox session. Callers own the returned
// session and must Logout when done.
func Connect(cfg config.IMAP, logger *slog.Logger) (mail.Mailbox, error) {
	return imapclient.Dial(cfg, logger)
}
