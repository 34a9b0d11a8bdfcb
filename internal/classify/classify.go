// Package classify tags advisor responses by counting fixed keywords.
// Every function is pure and deterministic.
package classify

import (
	"regexp"
	"strings"
)

type categoryKeywords struct {
	category Category
	keywords []string
}

var categories = []categoryKeywords{
	{CategoryPurpose, []string{"mission", "purpose", "calling", "vision", "transformation", "impact", "legacy", "divine", "soul"}},
	{CategoryAlignment, []string{"energy", "flow", "alignment", "harmony", "balance", "integration", "authentic", "truth"}},
	{CategoryService, []string{"contribution", "service", "healing", "teaching", "empowerment", "guidance", "transformation"}},
	{CategoryAbundance, []string{"prosperity", "abundance", "wealth", "growth", "expansion", "manifestation", "receiving"}},
	{CategoryWisdom, []string{"insight", "clarity", "guidance", "intuition", "knowing", "understanding", "wisdom"}},
	{CategoryCommunity, []string{"connection", "relationship", "tribe", "community", "collaboration", "partnership"}},
	{CategoryInnovation, []string{"creativity", "innovation", "inspiration", "possibility", "potential", "breakthrough"}},
	{CategoryMastery, []string{"excellence", "mastery", "leadership", "embodiment", "expertise", "authority"}},
}

var (
	alignedWords = []string{
		"flow", "aligned", "inspired", "clear", "guided", "supported",
		"connected", "empowered", "authentic", "purposeful", "divine",
	}
	seekingWords = []string{
		"seeking", "confused", "uncertain", "stuck", "blocked", "resistant",
		"fearful", "doubtful", "disconnected", "misaligned",
	}
	transformingWords = []string{
		"shifting", "evolving", "growing", "expanding", "healing",
		"releasing", "transforming", "awakening", "emerging",
	}
	questionMarkers = []string{"what", "how", "could", "can", "tell me"}
)

// hits counts how many of the keywords occur in lower (already lower-cased).
func hits(lower string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			n++
		}
	}
	return n
}

// CategoryOf picks the category whose keyword set scores strictly highest.
// No hits, or a shared top score, yields DefaultCategory.
func CategoryOf(text string) Category {
	lower := strings.ToLower(text)
	best, bestCount, tied := DefaultCategory, 0, false
	for _, c := range categories {
		switch n := hits(lower, c.keywords); {
		case n > bestCount:
			best, bestCount, tied = c.category, n, false
		case n > 0 && n == bestCount:
			tied = true
		}
	}
	if tied {
		return DefaultCategory
	}
	return best
}

// SentimentOf applies the aligned/seeking/transforming decision table.
// When aligned and seeking tie above zero the seeking branch wins.
func SentimentOf(text string) Sentiment {
	lower := strings.ToLower(text)
	aligned := hits(lower, alignedWords)
	seeking := hits(lower, seekingWords)
	transforming := hits(lower, transformingWords)

	switch {
	case aligned > seeking:
		if transforming > 0 {
			return SentimentAlignedTransforming
		}
		return SentimentAligned
	case seeking > 0:
		if transforming > 0 {
			return SentimentSeekingTransforming
		}
		return SentimentSeeking
	case transforming > 0:
		return SentimentTransforming
	default:
		return SentimentNeutral
	}
}

// IsQuestion reports whether text asks something: a '?' plus one of the
// interrogative markers.
func IsQuestion(text string) bool {
	if !strings.Contains(text, "?") {
		return false
	}
	lower := strings.ToLower(text)
	for _, m := range questionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var (
	bulletRe   = regexp.MustCompile(`•\s+`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
)

// FormatResponse puts bullets on their own paragraph, collapses runs of
// blank lines and trims. FormatResponse(FormatResponse(x)) == FormatResponse(x).
//
// One pass can leave a bullet directly followed by the whitespace inserted
// before the next one, so passes repeat until the text stops changing. Each
// extra pass settles at least one bullet of such a chain.
func FormatResponse(text string) string {
	limit := 2*strings.Count(text, "•") + 4
	for range limit {
		next := formatPass(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func formatPass(text string) string {
	text = bulletRe.ReplaceAllString(text, "\n\n• ")
	text = newlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Result bundles the three tags of one response.
type Result struct {
	Category   Category  `json:"category"`
	Sentiment  Sentiment `json:"sentiment"`
	IsQuestion bool      `json:"isQuestion"`
}

func Classify(text string) Result {
	return Result{
		Category:   CategoryOf(text),
		Sentiment:  SentimentOf(text),
		IsQuestion: IsQuestion(text),
	}
}
