package extract

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

// Rejection reasons reported in debug logs and outcomes.
const (
	ReasonName          = "invalid_name"
	ReasonPosition      = "invalid_position"
	ReasonTitle         = "invalid_title"
	ReasonLocation      = "invalid_location"
	ReasonCompany       = "company_mismatch"
	ReasonNotMentioned  = "company_not_mentioned"
	ReasonLowConfidence = "below_confidence_floor"
)

const (
	maxPositionLength    = 80
	minTitleLength       = 4
	maxTitleLength       = 100
	maxLocationLength    = 80
	maxCompanyLength     = 100
	unspecifiedLocation  = "Unspecified"
	trimmedPunctuation   = " \t,.;:!?-–|\"'()[]"
	minNameTokenCount    = 2
	maxNameTokenCount    = 4
	fullNameTokenCount   = 3
	maxSeniorityBonus    = 10
	seniorityBonusPerHit = 5
	fullNameBonus        = 5
	maxConfidence        = 98
)

// Tokens that end a captured name when a title-cased sentence runs on.
var nameStopwords = map[string]struct{}{
	"as": {}, "to": {}, "the": {}, "of": {}, "and": {}, "at": {}, "in": {},
	"for": {}, "our": {}, "is": {}, "has": {}, "was": {}, "joins": {},
	"joined": {}, "on": {}, "from": {}, "with": {},
}

// Suffixes ignored when comparing company names.
var companySuffixes = map[string]struct{}{
	"inc": {}, "inc.": {}, "llc": {}, "ltd": {}, "ltd.": {}, "corp": {},
	"corp.": {}, "corporation": {}, "co": {}, "co.": {}, "company": {},
	"group": {}, "gmbh": {}, "plc": {}, "sa": {}, "ag": {}, "the": {},
	"technologies": {}, "labs": {}, "holdings": {},
}

type validator struct {
	seniority     *regexp.Regexp
	nameDenylist  map[string]struct{}
	titleDenylist map[string]struct{}
}

func newValidator(v Vocabulary) validator {
	terms := append([]string(nil), v.Seniority...)
	sort.Slice(terms, func(i, j int) bool { return len(terms[i]) > len(terms[j]) })
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(t)))
	}
	return validator{
		seniority:     regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`),
		nameDenylist:  toSet(v.NameDenylist),
		titleDenylist: toSet(v.TitleDenylist),
	}
}

func toSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return out
}

func clean(s string) string {
	return strings.Join(strings.Fields(strings.Trim(s, trimmedPunctuation)), " ")
}

// trimName cuts a captured name at the first stopword token.
func trimName(name string) string {
	tokens := strings.Fields(name)
	for i, tok := range tokens {
		if _, stop := nameStopwords[strings.ToLower(tok)]; stop {
			return strings.Join(tokens[:i], " ")
		}
	}
	return strings.Join(tokens, " ")
}

func (v validator) validName(name string, company string) bool {
	if utf8.RuneCountInString(name) < 3 {
		return false
	}
	tokens := strings.Fields(name)
	if len(tokens) < minNameTokenCount || len(tokens) > maxNameTokenCount {
		return false
	}
	companyTokens := significantTokens(company)
	for _, tok := range tokens {
		if !validNameToken(tok) {
			return false
		}
		lower := strings.ToLower(tok)
		if _, denied := v.nameDenylist[lower]; denied {
			return false
		}
		if _, isCompany := companyTokens[lower]; isCompany {
			return false
		}
	}
	return true
}

func validNameToken(tok string) bool {
	if utf8.RuneCountInString(tok) < 2 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(tok)
	if !unicode.IsUpper(first) {
		return false
	}
	for _, r := range tok {
		if !unicode.IsLetter(r) && r != '\'' && r != '-' {
			return false
		}
	}
	return true
}

func (v validator) validPosition(position string) bool {
	n := utf8.RuneCountInString(position)
	if n < 2 || n > maxPositionLength {
		return false
	}
	return v.seniorityHits(position) > 0
}

func (v validator) validTitle(title string, company string) bool {
	n := utf8.RuneCountInString(title)
	if n < minTitleLength || n > maxTitleLength {
		return false
	}
	lower := strings.ToLower(title)
	if _, denied := v.titleDenylist[lower]; denied {
		return false
	}
	if signals.NormalizeKeyPart(title) == signals.NormalizeKeyPart(company) {
		return false
	}
	return strings.IndexFunc(title, unicode.IsLetter) >= 0
}

func validLocation(location string) bool {
	n := utf8.RuneCountInString(location)
	return n > 0 && n <= maxLocationLength
}

// seniorityHits counts distinct seniority keywords in s.
func (v validator) seniorityHits(s string) int {
	seen := make(map[string]struct{})
	for _, m := range v.seniority.FindAllString(s, -1) {
		seen[strings.ToLower(m)] = struct{}{}
	}
	return len(seen)
}

func significantTokens(company string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(signals.NormalizeKeyPart(company)) {
		tok = strings.Trim(tok, trimmedPunctuation)
		if _, suffix := companySuffixes[tok]; suffix || len(tok) < 3 {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

// companyMatches reports whether a captured company refers to the scanned one.
func companyMatches(captured, company string) bool {
	a := signals.NormalizeKeyPart(captured)
	b := signals.NormalizeKeyPart(company)
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	want := significantTokens(company)
	for tok := range significantTokens(captured) {
		if _, ok := want[tok]; ok {
			return true
		}
	}
	return false
}

// mentionsCompany reports whether text names the company.
func mentionsCompany(text, company string) bool {
	normalized := " " + signals.NormalizeKeyPart(text) + " "
	if strings.Contains(normalized, signals.NormalizeKeyPart(company)) {
		return true
	}
	for tok := range significantTokens(company) {
		if strings.Contains(normalized, " "+tok+" ") || strings.Contains(normalized, " "+tok+"'") ||
			strings.Contains(normalized, " "+tok+",") || strings.Contains(normalized, " "+tok+".") {
			return true
		}
	}
	return false
}
