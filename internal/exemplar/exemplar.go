package exemplar

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Pair is one worked (question, sql) example shown to the model.
type Pair struct {
	Question string   `yaml:"question"`
	SQL      string   `yaml:"sql"`
	Tags     []string `yaml:"tags,omitempty"`
}

type Source interface {
	Select(ctx context.Context, question string, n int) ([]Pair, error)
}

var defaultPairs = []Pair{
	{
		Question: "List all customers",
		SQL:      "SELECT * FROM Customer LIMIT 100;",
	},
	{
		Question: "How many customers are there in each country?",
		SQL:      "SELECT Country, COUNT(*) AS CustomerCount FROM Customer GROUP BY Country ORDER BY CustomerCount DESC LIMIT 100;",
	},
	{
		Question: "Who are the top 10 customers by total sales?",
		SQL:      "SELECT c.FirstName, c.LastName, SUM(i.Total) AS TotalSales FROM Customer c JOIN Invoice i ON c.CustomerId = i.CustomerId GROUP BY c.CustomerId, c.FirstName, c.LastName ORDER BY TotalSales DESC LIMIT 10;",
	},
	{
		Question: "How many tracks are there in each genre?",
		SQL:      "SELECT g.Name, COUNT(*) AS TrackCount FROM Track t JOIN Genre g ON t.GenreId = g.GenreId GROUP BY g.GenreId, g.Name ORDER BY TrackCount DESC LIMIT 100;",
	},
	{
		Question: "Which tracks cost between 0.99 and 1.99?",
		SQL:      "SELECT Name, UnitPrice FROM Track WHERE UnitPrice BETWEEN 0.99 AND 1.99 LIMIT 100;",
	},
}

// Static always returns the leading pairs of a fixed set.
type Static struct {
	pairs []Pair
}

func Default() *Static {
	return NewStatic(defaultPairs)
}

func NewStatic(pairs []Pair) *Static {
	return &Static{pairs: append([]Pair(nil), pairs...)}
}

func (s *Static) Select(_ context.Context, _ string, n int) ([]Pair, error) {
	if n <= 0 || n > len(s.pairs) {
		n = len(s.pairs)
	}
	return append([]Pair(nil), s.pairs[:n]...), nil
}

// Corpus ranks a curated example file by token overlap with the question.
// Ties keep file order, so selection is deterministic.
type Corpus struct {
	pairs  []Pair
	tokens []map[string]struct{}
}

func LoadFile(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exemplar file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

func Parse(r io.Reader) (*Corpus, error) {
	var pairs []Pair
	if err := yaml.NewDecoder(r).Decode(&pairs); err != nil {
		return nil, fmt.Errorf("decode exemplars: %w", err)
	}
	return NewCorpus(pairs)
}

func NewCorpus(pairs []Pair) (*Corpus, error) {
	corpus := &Corpus{}
	for i, pair := range pairs {
		pair.Question = strings.TrimSpace(pair.Question)
		pair.SQL = strings.TrimSpace(pair.SQL)
		if pair.Question == "" || pair.SQL == "" {
			return nil, fmt.Errorf("exemplar %d: question and sql are required", i+1)
		}
		corpus.pairs = append(corpus.pairs, pair)
		corpus.tokens = append(corpus.tokens, tokenSet(pair.Question+" "+strings.Join(pair.Tags, " ")))
	}
	if len(corpus.pairs) == 0 {
		return nil, fmt.Errorf("exemplar corpus is empty")
	}
	return corpus, nil
}

func (c *Corpus) Len() int {
	return len(c.pairs)
}

func (c *Corpus) Select(_ context.Context, question string, n int) ([]Pair, error) {
	if n <= 0 || n > len(c.pairs) {
		n = len(c.pairs)
	}
	query := tokenSet(question)
	order := make([]int, len(c.pairs))
	scores := make([]int, len(c.pairs))
	for i := range c.pairs {
		order[i] = i
		for token := range query {
			if _, ok := c.tokens[i][token]; ok {
				scores[i]++
			}
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	out := make([]Pair, 0, n)
	for _, i := range order[:n] {
		out = append(out, c.pairs[i])
	}
	return out, nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "in": {}, "on": {}, "for": {}, "to": {}, "by": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "there": {}, "what": {}, "which": {}, "who": {},
	"how": {}, "many": {}, "much": {}, "me": {}, "show": {}, "list": {}, "all": {}, "each": {},
	"and": {}, "or": {}, "with": {}, "do": {}, "does": {},
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if _, skip := stopwords[field]; skip {
			continue
		}
		set[strings.TrimSuffix(field, "s")] = struct{}{}
	}
	return set
}
