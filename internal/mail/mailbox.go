package mail

// FetchMode selects the primary search criteria used when pulling a batch of
// messages from a folder. The fetch layer falls back to broader criteria when
// the primary search yields nothing.
type FetchMode struct {
	// Criteria is one of "ALL", "UNSEEN" or "SINCE_DAYS".
	Criteria string
	// SinceDays is the lookback window for the SINCE_DAYS criteria.
	SinceDays int
}

// Mailbox is the narrow IMAP surface required by the pipeline. Implementations
// hold an authenticated session; all calls are blocking and sequential.
type Mailbox interface {
	// Folders lists the names of all folders in the account.
	Folders() ([]string, error)
	// CreateFolder creates a folder. Creating an existing folder is an error
	// on most servers; callers check Folders first.
	CreateFolder(name string) error
	// Select opens a folder. Mutating operations require readOnly=false.
	Select(folder string, readOnly bool) error
	// SearchSeq reports whether the given sequence number still identifies a
	// message in the selected folder.
	SearchSeq(seq uint32) ([]uint32, error)
	// SearchHeader finds messages whose named header contains the value.
	SearchHeader(name, value string) ([]uint32, error)
	// SearchSubject finds messages by subject, best-effort.
	SearchSubject(subject string) ([]uint32, error)
	// Fetch pulls up to limit messages from a folder, newest first.
	Fetch(folder string, limit int, mode FetchMode) ([]Message, error)
	// Copy copies the message with the given sequence number into folder.
	Copy(seq uint32, folder string) error
	// MarkDeleted flags the message for deletion in the selected folder.
	MarkDeleted(seq uint32) error
	// Expunge purges messages flagged for deletion.
	Expunge() error
	// Logout closes the session.
	Logout() error
}
