// Package mover relocates a message into a target folder on the server,
// locating it with a cascade of search strategies.
package mover

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jhalloran/mailsift/internal/mail"
)

// Mover moves messages between folders over an authenticated session.
type Mover struct {
	Box    mail.Mailbox
	Logger *slog.Logger
}

// New constructs a Mover.
func New(box mail.Mailbox, logger *slog.Logger) *Mover {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Mover{Box: box, Logger: logger}
}

// Move relocates the message into targetFolder: ensure the folder exists,
// select the source read-write, locate the message, then copy, flag deleted
// and expunge. A nil return means the copy succeeded and the source purge was
// at least attempted; flag and expunge failures are logged, not returned, so a
// message can end up duplicated rather than lost.
func (mv *Mover) Move(m mail.Message, targetFolder string) error {
	mv.ensureFolder(targetFolder)

	source := m.Folder
	if source == "" {
		source = "INBOX"
	}
	if err := mv.Box.Select(source, false); err != nil {
		return fmt.Errorf("select %s: %w", source, err)
	}

	seq, err := mv.locate(m)
	if err != nil {
		return err
	}

	if err := mv.Box.Copy(seq, targetFolder); err != nil {
		return fmt.Errorf("copy to %s: %w", targetFolder, err)
	}
	if err := mv.Box.MarkDeleted(seq); err != nil {
		mv.Logger.Warn("flag for deletion failed", "folder", source, "seq", seq, "error", err)
	}
	if err := mv.Box.Expunge(); err != nil {
		mv.Logger.Warn("expunge failed, message may be duplicated", "folder", source, "error", err)
	}
	mv.Logger.Info("moved message", "subject", m.Subject, "from", source, "to", targetFolder)
	return nil
}

// ensureFolder creates targetFolder (and the parent segment of a hierarchical
// name) when missing. Creation failures are logged; the move attempt proceeds
// and fails later at the copy if the folder really is unusable.
func (mv *Mover) ensureFolder(targetFolder string) {
	folders, err := mv.Box.Folders()
	if err != nil {
		mv.Logger.Warn("list folders failed", "error", err)
		return
	}
	existing := make(map[string]struct{}, len(folders))
	for _, f := range folders {
		existing[strings.ToLower(f)] = struct{}{}
	}
	if _, ok := existing[strings.ToLower(targetFolder)]; ok {
		return
	}
	if i := strings.Index(targetFolder, "/"); i > 0 {
		parent := targetFolder[:i]
		if _, ok := existing[strings.ToLower(parent)]; !ok {
			if err := mv.Box.CreateFolder(parent); err != nil {
				mv.Logger.Warn("create parent folder failed", "folder", parent, "error", err)
			}
		}
	}
	if err := mv.Box.CreateFolder(targetFolder); err != nil {
		mv.Logger.Warn("create folder failed", "folder", targetFolder, "error", err)
		return
	}
	mv.Logger.Info("created folder", "folder", targetFolder)
}

// locate finds the message in the selected folder, trying the captured
// sequence number, then a Message-ID header search, then a subject search.
// The first strategy that yields at least one hit wins.
func (mv *Mover) locate(m mail.Message) (uint32, error) {
	if m.SeqNum != 0 {
		seqs, err := mv.Box.SearchSeq(m.SeqNum)
		if err != nil {
			mv.Logger.Debug("sequence search failed", "seq", m.SeqNum, "error", err)
		} else if len(seqs) > 0 {
			return seqs[0], nil
		}
	}
	if m.MessageID != "" {
		id := strings.TrimSpace(strings.Trim(m.MessageID, "<>"))
		seqs, err := mv.Box.SearchHeader("Message-ID", id)
		if err != nil {
			mv.Logger.Debug("message-id search failed", "id", id, "error", err)
		} else if len(seqs) > 0 {
			return seqs[0], nil
		}
	}
	if m.Subject != "" {
		seqs, err := mv.Box.SearchSubject(m.Subject)
		if err != nil {
			mv.Logger.Debug("subject search failed", "subject", m.Subject, "error", err)
		} else if len(seqs) > 0 {
			return seqs[0], nil
		}
	}
	return 0, fmt.Errorf("message %q not found in %s", m.Subject, m.Folder)
}
