package rules

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jhalloran/mailsift/internal/history"
)

var domainRe = regexp.MustCompile(`@[\w.-]+`)

// Dominance thresholds for suggesting a rule: the dominant category must
// account for at least this share of a pattern's occurrences. Subject prefixes
// need a stronger signal than whole domains.
const (
	domainDominance  = 0.75
	subjectDominance = 0.8
)

// Subject prefix candidates span the first 3..5 words and must be at least 10
// characters to be worth a rule.
const (
	minPrefixWords = 3
	maxPrefixWords = 5
	minPrefixLen   = 10
)

// Suggestion is a candidate rule derived from classification history. It is
// never persisted until a caller explicitly promotes it via Engine.Add.
type Suggestion struct {
	Kind        Kind    `json:"type"`
	Pattern     string  `json:"pattern"`
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Occurrences int     `json:"occurrences"`
}

// Suggest analyzes detailed history and proposes rules for sender domains and
// subject prefixes that were categorized consistently. A pattern qualifies
// when its dominant category meets the dominance share for its kind and was
// seen at least minOccurrences times. This is a frequency threshold, not a
// statistical test; ties between categories are broken by tally iteration
// order.
func Suggest(entries []history.Entry, minOccurrences int) []Suggestion {
	domains := map[string]map[string]int{}
	prefixes := map[string]map[string]int{}

	for _, e := range entries {
		if e.From == "" || e.Category == "" {
			continue
		}
		if domain := domainRe.FindString(e.From); domain != "" {
			tally(domains, domain, e.Category)
		}
		if e.Subject == "" {
			continue
		}
		words := strings.Fields(strings.ToLower(e.Subject))
		if len(words) < minPrefixWords {
			continue
		}
		for n := minPrefixWords; n <= maxPrefixWords && n <= len(words); n++ {
			prefix := strings.Join(words[:n], " ")
			if len(prefix) >= minPrefixLen {
				tally(prefixes, prefix, e.Category)
			}
		}
	}

	var suggestions []Suggestion
	for domain, counts := range domains {
		if s, ok := qualify(counts, minOccurrences, domainDominance); ok {
			s.Kind = KindDomains
			s.Pattern = "*" + domain
			suggestions = append(suggestions, s)
		}
	}
	for prefix, counts := range prefixes {
		if s, ok := qualify(counts, minOccurrences, subjectDominance); ok {
			s.Kind = KindSubjects
			s.Pattern = prefix
			suggestions = append(suggestions, s)
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Occurrences > suggestions[j].Occurrences
	})
	return suggestions
}

func tally(m map[string]map[string]int, key, category string) {
	if m[key] == nil {
		m[key] = map[string]int{}
	}
	m[key][category]++
}

func qualify(counts map[string]int, minOccurrences int, dominance float64) (Suggestion, bool) {
	total := 0
	dominant := ""
	dominantCount := 0
	for category, count := range counts {
		total += count
		if count > dominantCount {
			dominantCount = count
			dominant = category
		}
	}
	if dominantCount < minOccurrences {
		return Suggestion{}, false
	}
	share := float64(dominantCount) / float64(total)
	if share < dominance {
		return Suggestion{}, false
	}
	return Suggestion{
		Category:    dominant,
		Confidence:  share,
		Occurrences: dominantCount,
	}, true
}
