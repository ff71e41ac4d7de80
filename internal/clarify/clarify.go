// Package clarify scores how ambiguous a question is before any SQL is
// generated and proposes follow-up questions a user could answer.
package clarify

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

type Kind string

const (
	KindAmbiguousTerm         Kind = "ambiguous_term"
	KindVagueQuantifier       Kind = "vague_quantifier"
	KindMissingTimeRange      Kind = "missing_time_range"
	KindMissingSortOrder      Kind = "missing_sort_order"
	KindMissingAggregateField Kind = "missing_aggregation_field"
	KindUnclearReference      Kind = "unclear_reference"
	KindMultipleReadings      Kind = "multiple_interpretations"
)

const (
	// AmbiguousScore is the score above which a question is ambiguous.
	AmbiguousScore = 0.3
	// ClarifyScore is the score above which a question needs a
	// clarification before its SQL can be trusted.
	ClarifyScore      = 0.5
	MaxClarifications = 3
)

type Clarification struct {
	Kind     Kind   `json:"kind"`
	Question string `json:"question"`
}

// Analysis is the result of scoring one question. Normalized is empty when
// no default could be substituted.
type Analysis struct {
	Score              float64         `json:"score"`
	Ambiguous          bool            `json:"ambiguous"`
	NeedsClarification bool            `json:"needs_clarification"`
	CanProceed         bool            `json:"can_proceed"`
	Kinds              []Kind          `json:"kinds"`
	Clarifications     []Clarification `json:"clarifications"`
	Normalized         string          `json:"normalized_question,omitempty"`
}

// Question returns the text generation should use.
func (a Analysis) Question(original string) string {
	if a.CanProceed && a.Normalized != "" {
		return a.Normalized
	}
	return original
}

type term struct {
	words   []string
	options []string
}

var ambiguousTerms = []term{
	{words: []string{"recent", "recently", "latest", "lately"}, options: []string{"the last 7 days", "the last 30 days", "the last year"}},
	{words: []string{"popular"}, options: []string{"most units sold", "most revenue", "most purchases"}},
	{words: []string{"best"}, options: []string{"highest revenue", "most units sold", "lowest price"}},
	{words: []string{"expensive"}, options: []string{"price above 10", "price above the average", "the top 10% by price"}},
	{words: []string{"cheap"}, options: []string{"price below 1", "price below the average", "the bottom 10% by price"}},
	{words: []string{"high", "higher"}, options: []string{"above the average", "above 10", "above 100"}},
	{words: []string{"low", "lower"}, options: []string{"below the average", "below 10", "below 1"}},
}

var (
	vagueQuantifiers = wordSet("some", "few", "several", "many", "lots", "plenty", "numerous")
	timeUnits        = wordSet("day", "days", "week", "weeks", "month", "months", "year", "years", "hour", "hours", "today", "yesterday")
	sortWords        = wordSet("by", "highest", "lowest", "most", "least", "newest", "oldest", "largest", "smallest", "longest", "shortest", "order", "ordered", "sorted", "best", "worst", "top-selling")
	aggregateWords   = wordSet("total", "average", "avg", "sum", "mean", "statistics", "stats")
	aggregateFields  = wordSet("count", "number", "amount", "price", "prices", "sales", "revenue", "spent", "spending", "duration", "length", "quantity", "milliseconds", "bytes", "invoices", "tracks", "albums", "customers")
	pronouns         = wordSet("it", "they", "them")
	demonstratives   = wordSet("this", "that", "these", "those")
	topN             = regexp.MustCompile(`(?i)\b(?:top|first)\s*\d+`)
	howMany          = regexp.MustCompile(`(?i)(\b(?:how|as)\s+)?\bmany\b`)
	aFew             = regexp.MustCompile(`(?i)\ba few\b`)
	lotsOf           = regexp.MustCompile(`(?i)\b(?:a lot of|lots of|plenty of)\b`)
)

type reading struct {
	match   func(text string, words map[string]struct{}) bool
	options [2]string
}

var readings = []reading{
	{
		match: func(text string, _ map[string]struct{}) bool {
			return strings.Contains(text, "customer orders") || strings.Contains(text, "customer invoices")
		},
		options: [2]string{"list every invoice of each customer", "list the customer behind each invoice"},
	},
	{
		match: func(text string, _ map[string]struct{}) bool {
			return strings.Contains(text, "track prices") || strings.Contains(text, "product prices")
		},
		options: [2]string{"list the price of every track", "compute the average track price"},
	},
	{
		match: func(_ string, words map[string]struct{}) bool {
			return hasAny(words, "sales", "revenue") && hasAny(words, "customer", "customers") && !hasAny(words, "each", "per", "every", "top", "highest", "most")
		},
		options: [2]string{"the sales of each customer", "the customers with the highest sales"},
	},
}

type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Analyze scores question. It is a pure function of its input.
func (d *Detector) Analyze(question string) Analysis {
	text := strings.ToLower(strings.TrimSpace(question))
	tokens := words(text)
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}

	var (
		score          float64
		kinds          []Kind
		clarifications []Clarification
	)
	add := func(kind Kind, question string) {
		kinds = append(kinds, kind)
		clarifications = append(clarifications, Clarification{Kind: kind, Question: question})
	}

	termFound := false
	for _, t := range ambiguousTerms {
		if word, ok := firstOf(set, t.words); ok {
			termFound = true
			add(KindAmbiguousTerm, "'"+word+"' can mean "+strings.Join(t.options, ", ")+"; which one do you mean?")
		}
	}
	if termFound {
		score += 0.3
	}

	if hasVagueQuantifier(text, tokens) {
		add(KindVagueQuantifier, "How many exactly? For example more than 10, or the top 20.")
		score += 0.25
	}

	missing := 0
	if hasAny(set, "recent", "recently", "latest", "lately") && !hasAnyOf(set, timeUnits) {
		add(KindMissingTimeRange, "Which time range should be used, for example the last 7 days or the last month?")
		missing++
	}
	if topN.MatchString(text) && !hasAnyOf(set, sortWords) {
		add(KindMissingSortOrder, "What should the results be ranked by, for example price from high to low or date from newest to oldest?")
		missing++
	}
	if hasAnyOf(set, aggregateWords) && !hasAnyOf(set, aggregateFields) {
		add(KindMissingAggregateField, "Which value should be aggregated, for example the number of rows, the amount or the price?")
		missing++
	}
	score += 0.2 * float64(missing)

	if unclearReference(text, tokens) {
		add(KindUnclearReference, "What does the pronoun refer to? Please name the table or item.")
		score += 0.15
	}

	var options []string
	for _, r := range readings {
		if r.match(text, set) {
			options = append(options, r.options[:]...)
		}
	}
	if len(options) > 2 {
		options = options[:2]
	}
	if len(options) > 1 {
		add(KindMultipleReadings, "Did you mean: "+strings.Join(options, " or ")+"?")
		score += 0.25
	}

	score = math.Min(math.Round(score*100)/100, 1)
	analysis := Analysis{
		Score:              score,
		Ambiguous:          score > AmbiguousScore,
		NeedsClarification: score > ClarifyScore,
		Kinds:              kinds,
		Clarifications:     clarifications,
	}
	if analysis.Kinds == nil {
		analysis.Kinds = []Kind{}
	}
	if analysis.Clarifications == nil {
		analysis.Clarifications = []Clarification{}
	}
	if len(analysis.Clarifications) > MaxClarifications {
		analysis.Clarifications = analysis.Clarifications[:MaxClarifications]
	}
	if normalized := normalize(strings.TrimSpace(question), set); normalized != strings.TrimSpace(question) {
		analysis.Normalized = normalized
	}
	analysis.CanProceed = !analysis.NeedsClarification || analysis.Normalized != ""
	return analysis
}

// normalize substitutes conservative defaults for vague time references
// and quantifiers. Questions that already carry a number are left alone.
func normalize(question string, set map[string]struct{}) string {
	if strings.IndexFunc(question, unicode.IsDigit) >= 0 {
		return question
	}
	out := question
	if hasAny(set, "recent", "recently", "latest", "lately") && !hasAnyOf(set, timeUnits) {
		out = strings.TrimRight(out, "?.! ") + " in the last 30 days"
	}
	out = lotsOf.ReplaceAllString(out, "more than 1000")
	out = aFew.ReplaceAllString(out, "fewer than 10")
	out = howMany.ReplaceAllStringFunc(out, func(match string) string {
		if strings.EqualFold(match, "many") {
			return "more than 100"
		}
		return match
	})
	return out
}

func hasVagueQuantifier(text string, tokens []string) bool {
	for i, token := range tokens {
		if _, ok := vagueQuantifiers[token]; !ok {
			continue
		}
		if token == "many" && i > 0 && (tokens[i-1] == "how" || tokens[i-1] == "as") {
			continue
		}
		return true
	}
	return aFew.MatchString(text)
}

// unclearReference reports a pronoun with no earlier clause to refer to.
func unclearReference(text string, tokens []string) bool {
	if strings.ContainsAny(text, ",;") {
		return false
	}
	for i, token := range tokens {
		if _, ok := pronouns[token]; ok {
			return true
		}
		if _, ok := demonstratives[token]; ok && i == len(tokens)-1 {
			return true
		}
	}
	return false
}

func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}

func firstOf(set map[string]struct{}, words []string) (string, bool) {
	for _, word := range words {
		if _, ok := set[word]; ok {
			return word, true
		}
	}
	return "", false
}

func hasAny(set map[string]struct{}, words ...string) bool {
	_, ok := firstOf(set, words)
	return ok
}

func hasAnyOf(set, candidates map[string]struct{}) bool {
	for word := range candidates {
		if _, ok := set[word]; ok {
			return true
		}
	}
	return false
}
