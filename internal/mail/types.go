package mail

// Category is one of the fixed classification buckets a message can land in.
type Category string

const (
	CategoryWork       Category = "Work"
	CategoryPersonal   Category = "Personal"
	CategoryFinance    Category = "Finance"
	CategoryShopping   Category = "Shopping"
	CategoryNewsletter Category = "Newsletter"
	CategorySpam       Category = "Spam"
	CategoryFamily     Category = "Family"
	CategorySchool     Category = "School"

	// CategoryUncategorized is the synthetic fallback when the remote
	// classifier answers with text naming none of the real categories.
	CategoryUncategorized Category = "Uncategorized"

	// CategoryError marks a failed remote classification. Messages in this
	// state still get routed (to the default folder) rather than dropped.
	CategoryError Category = "Error"
)

// Categories returns the real classification vocabulary in its declared order.
// The order matters: response normalization scans it front to back.
func Categories() []Category {
	return []Category{
		CategoryWork,
		CategoryPersonal,
		CategoryFinance,
		CategoryShopping,
		CategoryNewsletter,
		CategorySpam,
		CategoryFamily,
		CategorySchool,
	}
}

// Message is the transient record extracted from the mailbox. It is created
// per fetch, enriched in place as the pipeline progresses, and discarded after
// the run; only derived summaries persist.
type Message struct {
	// SeqNum is the protocol-native sequence number captured at fetch time.
	// Zero means unknown.
	SeqNum uint32
	// MessageID is the RFC 5322 Message-ID header value, angle brackets
	// stripped. May be empty.
	MessageID string
	Subject   string
	From      string
	Date      string
	// Body holds the first text/plain part, truncated to BodyLimit.
	Body   string
	Folder string

	Category     Category
	TargetFolder string
}

// BodyLimit caps how much body text is carried around (and sent to the
// remote classifier).
const BodyLimit = 1000

// FolderFor maps a category to its target folder via the configured lookup
// table. Unmapped categories route to the fallback folder.
func FolderFor(c Category, folders map[string]string, fallback string) string {
	if folder, ok := folders[string(c)]; ok && folder != "" {
		return folder
	}
	return fallback
}
