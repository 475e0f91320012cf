package trendsource

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const maxKeywords = 10

var urlRE = regexp.MustCompile(`https?://\S+`)

var stopWords = map[string]struct{}{}

func init() {
	words := strings.Fields(`
		a an and are as at be but by for from had has have he her his how i
		if in into is it its just me my no not of on or our out so some than
		that the their them then there these they this to too up us very was
		we were what when where which while who whom why will with would you
		your like get got can do did does been being am could should shall
		may might must need about after before between during each few more
		most other over own same still such through under until back here
		now only one two new old good bad first last long great little never
		also around another because every going know make much even well way
		many say she him all day man see look come think tell work give take
		find try let put keep thing people yeah okay right really im dont
		cant ive thats`)
	for _, w := range words {
		stopWords[w] = struct{}{}
	}
}

// ExtractKeywords lowercases the text, strips URLs and punctuation,
// drops stop words, digits, and words of two letters or fewer, then
// returns up to ten unique keywords longest-first (longer terms are
// more specific).
func ExtractKeywords(text string) []string {
	text = urlRE.ReplaceAllString(text, "")
	text = strings.ToLower(text)
	text = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, text)

	seen := map[string]struct{}{}
	var out []string
	for _, w := range strings.Fields(text) {
		if len(w) <= 2 || isDigits(w) {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}

	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	if len(out) > maxKeywords {
		out = out[:maxKeywords]
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
