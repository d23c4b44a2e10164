// Package imapclient adapts an emersion/go-imap session to the narrow
// mail.Mailbox surface the pipeline consumes.
package imapclient

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/charset"

	"github.com/jhalloran/mailsift/internal/config"
	"github.com/jhalloran/mailsift/internal/mail"
)

func init() {
	// Decode non-UTF-8 envelope fields instead of failing the fetch.
	imap.CharsetReader = charset.Reader
}

// fetchBatchSize keeps individual FETCH commands small so large mailboxes
// don't time out mid-transfer.
const fetchBatchSize = 20

// Client wraps an authenticated IMAP session.
type Client struct {
	c      *client.Client
	logger *slog.Logger
}

var _ mail.Mailbox = (*Client)(nil)

// Dial connects and authenticates according to the configured encryption
// mode: implicit TLS, or plaintext upgraded via STARTTLS.
func Dial(cfg config.IMAP, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	addr := cfg.Addr()
	tlsConfig := &tls.Config{ServerName: cfg.Server}

	var (
		c   *client.Client
		err error
	)
	if cfg.UseSSL {
		c, err = client.DialTLS(addr, tlsConfig)
	} else {
		c, err = client.Dial(addr)
		if err == nil && cfg.UseStartTLS {
			if tlsErr := c.StartTLS(tlsConfig); tlsErr != nil {
				_ = c.Logout()
				return nil, fmt.Errorf("starttls with %s: %w", addr, tlsErr)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login as %s: %w", cfg.Username, err)
	}
	logger.Info("connected to imap server", "addr", addr, "user", cfg.Username)
	return &Client{c: c, logger: logger}, nil
}

// Folders lists all folder names in the account.
func (cl *Client) Folders() ([]string, error) {
	ch := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- cl.c.List("", "*", ch)
	}()
	var names []string
	for mb := range ch {
		names = append(names, mb.Name)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return names, nil
}

// CreateFolder creates a folder on the server.
func (cl *Client) CreateFolder(name string) error {
	if err := cl.c.Create(name); err != nil {
		return fmt.Errorf("create folder %s: %w", name, err)
	}
	return nil
}

// Select opens a folder.
func (cl *Client) Select(folder string, readOnly bool) error {
	if _, err := cl.c.Select(folder, readOnly); err != nil {
		return fmt.Errorf("select %s: %w", folder, err)
	}
	return nil
}

// SearchSeq checks whether a sequence number still names a message in the
// selected folder.
func (cl *Client) SearchSeq(seq uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	set := new(imap.SeqSet)
	set.AddNum(seq)
	criteria.SeqNum = set
	seqs, err := cl.c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search seq %d: %w", seq, err)
	}
	return seqs, nil
}

// SearchHeader finds messages whose named header contains value.
func (cl *Client) SearchHeader(name, value string) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add(name, value)
	seqs, err := cl.c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search header %s: %w", name, err)
	}
	return seqs, nil
}

// SearchSubject finds messages by subject.
func (cl *Client) SearchSubject(subject string) ([]uint32, error) {
	return cl.SearchHeader("Subject", subject)
}

// Copy copies the message into folder.
func (cl *Client) Copy(seq uint32, folder string) error {
	set := new(imap.SeqSet)
	set.AddNum(seq)
	if err := cl.c.Copy(set, folder); err != nil {
		return fmt.Errorf("copy to %s: %w", folder, err)
	}
	return nil
}

// MarkDeleted flags the message for deletion.
func (cl *Client) MarkDeleted(seq uint32) error {
	set := new(imap.SeqSet)
	set.AddNum(seq)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := cl.c.Store(set, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return fmt.Errorf("flag deleted: %w", err)
	}
	return nil
}

// Expunge purges flagged messages from the selected folder.
func (cl *Client) Expunge() error {
	if err := cl.c.Expunge(nil); err != nil {
		return fmt.Errorf("expunge: %w", err)
	}
	return nil
}

// Logout ends the session.
func (cl *Client) Logout() error {
	return cl.c.Logout()
}

// Fetch pulls up to limit messages from a folder, newest first. The search
// tries the configured criteria first and falls back to progressively broader
// ones so an odd server still yields something.
func (cl *Client) Fetch(folder string, limit int, mode mail.FetchMode) ([]mail.Message, error) {
	if _, err := cl.c.Select(folder, true); err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	seqs := cl.searchWithFallback(mode)
	if len(seqs) == 0 {
		cl.logger.Warn("no messages found", "folder", folder)
		return nil, nil
	}

	// Newest first, then cap to the batch limit.
	for i, j := 0, len(seqs)-1; i < j; i, j = i+1, j-1 {
		seqs[i], seqs[j] = seqs[j], seqs[i]
	}
	if limit > 0 && len(seqs) > limit {
		seqs = seqs[:limit]
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	var out []mail.Message
	for start := 0; start < len(seqs); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(seqs) {
			end = len(seqs)
		}
		set := new(imap.SeqSet)
		for _, s := range seqs[start:end] {
			set.AddNum(s)
		}

		ch := make(chan *imap.Message, fetchBatchSize)
		done := make(chan error, 1)
		go func() {
			done <- cl.c.Fetch(set, items, ch)
		}()
		for msg := range ch {
			out = append(out, cl.toMessage(msg, section, folder))
		}
		if err := <-done; err != nil {
			cl.logger.Error("fetch batch failed", "folder", folder, "error", err)
		}
	}
	cl.logger.Info("fetched messages", "folder", folder, "count", len(out))
	return out, nil
}

func (cl *Client) searchWithFallback(mode mail.FetchMode) []uint32 {
	for _, criteria := range criteriaCascade(mode) {
		seqs, err := cl.c.Search(criteria)
		if err != nil {
			cl.logger.Debug("search failed, trying broader criteria", "error", err)
			continue
		}
		if len(seqs) > 0 {
			return seqs
		}
	}
	return nil
}

// criteriaCascade orders the search attempts: the configured criteria, then
// ALL, then FLAGGED as a last resort.
func criteriaCascade(mode mail.FetchMode) []*imap.SearchCriteria {
	primary := imap.NewSearchCriteria()
	switch strings.ToUpper(mode.Criteria) {
	case "UNSEEN":
		primary.WithoutFlags = []string{imap.SeenFlag}
	case "SINCE_DAYS":
		days := mode.SinceDays
		if days <= 0 {
			days = 30
		}
		primary.Since = time.Now().AddDate(0, 0, -days)
	}

	flagged := imap.NewSearchCriteria()
	flagged.WithFlags = []string{imap.FlaggedFlag}

	return []*imap.SearchCriteria{primary, imap.NewSearchCriteria(), flagged}
}

func (cl *Client) toMessage(msg *imap.Message, section *imap.BodySectionName, folder string) mail.Message {
	m := mail.Message{SeqNum: msg.SeqNum, Folder: folder}
	if env := msg.Envelope; env != nil {
		m.Subject = env.Subject
		m.From = formatAddress(env.From)
		m.MessageID = strings.Trim(env.MessageId, "<>")
		if !env.Date.IsZero() {
			m.Date = env.Date.Format(time.RFC1123Z)
		}
	}
	if r := msg.GetBody(section); r != nil {
		m.Body = truncateRunes(extractPlainText(r, cl.logger), mail.BodyLimit)
	}
	return m
}

func formatAddress(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	a := addrs[0]
	address := a.Address()
	if a.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", a.PersonalName, address)
	}
	return address
}
