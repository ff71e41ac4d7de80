package exemplar

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

type JoinType string

const (
	JoinInner JoinType = "inner"
	JoinLeft  JoinType = "left"
	JoinSelf  JoinType = "self"
)

// MinJoinScore is the score a template must exceed to be suggested.
const MinJoinScore = 0.3

// JoinTemplate is a worked multi-table query with the question shapes it
// answers. Pattern is a case-insensitive regular expression.
type JoinTemplate struct {
	ID         string     `yaml:"id" json:"id"`
	Name       string     `yaml:"name" json:"name"`
	Pattern    string     `yaml:"pattern" json:"-"`
	Tables     []string   `yaml:"tables" json:"tables"`
	Complexity Complexity `yaml:"complexity" json:"complexity"`
	Question   string     `yaml:"question" json:"question"`
	SQL        string     `yaml:"sql" json:"sql"`

	re *regexp.Regexp
}

// Score rates how well the template fits question, from 0 to 1. A pattern
// hit counts most; naming most of the template's tables counts too.
func (t *JoinTemplate) Score(question string) float64 {
	lower := strings.ToLower(question)
	matched := 0
	for _, table := range t.Tables {
		if strings.Contains(lower, strings.ToLower(table)) {
			matched++
		}
	}
	tableScore := 0.0
	if len(t.Tables) > 0 {
		tableScore = float64(matched) / float64(len(t.Tables))
	}
	patternHit := t.re != nil && t.re.MatchString(question)
	switch {
	case patternHit && tableScore > 0.5:
		return 0.8 + tableScore*0.2
	case patternHit:
		return 0.6
	case tableScore > 0.5:
		return 0.5 + tableScore*0.3
	default:
		return 0
	}
}

type JoinMatch struct {
	Template *JoinTemplate `json:"template"`
	Score    float64       `json:"score"`
}

// JoinAnalysis summarizes the joins a question probably needs.
type JoinAnalysis struct {
	Complexity Complexity  `json:"complexity"`
	TableCount int         `json:"table_count"`
	JoinType   JoinType    `json:"join_type"`
	Matches    []JoinMatch `json:"matches"`
}

// Best returns the highest scoring template, if any matched.
func (a JoinAnalysis) Best() (*JoinTemplate, bool) {
	if len(a.Matches) == 0 {
		return nil, false
	}
	return a.Matches[0].Template, true
}

// JoinTemplates is a Source that only offers templates matching the
// question, best first.
type JoinTemplates struct {
	templates []*JoinTemplate
}

func NewJoinTemplates(templates []JoinTemplate) (*JoinTemplates, error) {
	out := &JoinTemplates{}
	seen := map[string]struct{}{}
	for i := range templates {
		template := templates[i]
		template.ID = strings.TrimSpace(template.ID)
		template.SQL = strings.TrimSpace(template.SQL)
		template.Question = strings.TrimSpace(template.Question)
		if template.ID == "" || template.SQL == "" || template.Question == "" {
			return nil, fmt.Errorf("join template %d: id, question and sql are required", i+1)
		}
		if _, dup := seen[template.ID]; dup {
			return nil, fmt.Errorf("join template %q is defined twice", template.ID)
		}
		seen[template.ID] = struct{}{}
		if template.Pattern != "" {
			re, err := regexp.Compile("(?i)" + template.Pattern)
			if err != nil {
				return nil, fmt.Errorf("join template %q: compile pattern: %w", template.ID, err)
			}
			template.re = re
		}
		switch template.Complexity {
		case ComplexitySimple, ComplexityMedium, ComplexityComplex:
		case "":
			template.Complexity = complexityFor(len(template.Tables))
		default:
			return nil, fmt.Errorf("join template %q: invalid complexity %q", template.ID, template.Complexity)
		}
		out.templates = append(out.templates, &template)
	}
	if len(out.templates) == 0 {
		return nil, fmt.Errorf("join template library is empty")
	}
	return out, nil
}

func LoadJoinTemplates(path string) (*JoinTemplates, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open join template file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseJoinTemplates(f)
}

func ParseJoinTemplates(r io.Reader) (*JoinTemplates, error) {
	var templates []JoinTemplate
	if err := yaml.NewDecoder(r).Decode(&templates); err != nil {
		return nil, fmt.Errorf("decode join templates: %w", err)
	}
	return NewJoinTemplates(templates)
}

// DefaultJoinTemplates covers the common join paths of the Chinook sample
// database.
func DefaultJoinTemplates() *JoinTemplates {
	templates, err := NewJoinTemplates(defaultJoinTemplates)
	if err != nil {
		panic(err)
	}
	return templates
}

func (j *JoinTemplates) Len() int {
	return len(j.templates)
}

func (j *JoinTemplates) Templates() []JoinTemplate {
	out := make([]JoinTemplate, 0, len(j.templates))
	for _, template := range j.templates {
		out = append(out, *template)
	}
	return out
}

// Match returns up to n templates scoring above MinJoinScore, best first.
// Ties keep library order.
func (j *JoinTemplates) Match(question string, n int) []JoinMatch {
	matches := make([]JoinMatch, 0, len(j.templates))
	for _, template := range j.templates {
		if score := template.Score(question); score > MinJoinScore {
			matches = append(matches, JoinMatch{Template: template, Score: score})
		}
	}
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	if n > 0 && len(matches) > n {
		matches = matches[:n]
	}
	return matches
}

func (j *JoinTemplates) Select(_ context.Context, question string, n int) ([]Pair, error) {
	matches := j.Match(question, n)
	pairs := make([]Pair, 0, len(matches))
	for _, match := range matches {
		pairs = append(pairs, Pair{Question: match.Template.Question, SQL: match.Template.SQL, Tags: match.Template.Tables})
	}
	return pairs, nil
}

// Analyze estimates join complexity from the best matching template, or
// from the table names the question mentions when nothing matches.
func (j *JoinTemplates) Analyze(question string) JoinAnalysis {
	matches := j.Match(question, 3)
	if len(matches) == 0 {
		count := mentionedTables(question)
		return JoinAnalysis{
			Complexity: complexityFor(count),
			TableCount: count,
			JoinType:   JoinInner,
			Matches:    []JoinMatch{},
		}
	}
	best := matches[0].Template
	return JoinAnalysis{
		Complexity: best.Complexity,
		TableCount: len(best.Tables),
		JoinType:   joinTypeFor(question),
		Matches:    matches,
	}
}

var tableWords = []string{"customer", "invoice", "track", "album", "artist", "genre", "playlist", "employee"}

func mentionedTables(question string) int {
	lower := strings.ToLower(question)
	count := 0
	for _, word := range tableWords {
		if strings.Contains(lower, word) {
			count++
		}
	}
	return max(count, 1)
}

func complexityFor(tables int) Complexity {
	switch {
	case tables <= 2:
		return ComplexitySimple
	case tables == 3:
		return ComplexityMedium
	default:
		return ComplexityComplex
	}
}

var (
	leftJoinHint = regexp.MustCompile(`(?i)\b(all|every|including|include|even)\b`)
	selfJoinHint = regexp.MustCompile(`(?i)\b(manager|managers|reports to|supervisor|hierarchy)\b`)
)

func joinTypeFor(question string) JoinType {
	switch {
	case leftJoinHint.MatchString(question):
		return JoinLeft
	case selfJoinHint.MatchString(question):
		return JoinSelf
	default:
		return JoinInner
	}
}

// Chain selects from each source in order until n distinct pairs are
// collected. A failing source fails the whole selection.
type Chain []Source

func (c Chain) Select(ctx context.Context, question string, n int) ([]Pair, error) {
	var out []Pair
	seen := map[string]struct{}{}
	for _, source := range c {
		if n > 0 && len(out) >= n {
			break
		}
		pairs, err := source.Select(ctx, question, n)
		if err != nil {
			return nil, err
		}
		for _, pair := range pairs {
			if n > 0 && len(out) >= n {
				break
			}
			key := strings.Join(strings.Fields(pair.SQL), " ")
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, pair)
		}
	}
	return out, nil
}

var defaultJoinTemplates = []JoinTemplate{
	{
		ID:         "customer_invoice",
		Name:       "Customer invoices",
		Pattern:    `customer.*(invoice|order|purchase|spen[dt]|bought)|(invoice|order).*customer`,
		Tables:     []string{"Customer", "Invoice"},
		Complexity: ComplexitySimple,
		Question:   "What is the total invoice amount for each customer?",
		SQL: `SELECT c.FirstName, c.LastName, SUM(i.Total) AS TotalAmount
FROM Customer c
JOIN Invoice i ON c.CustomerId = i.CustomerId
GROUP BY c.CustomerId, c.FirstName, c.LastName
ORDER BY TotalAmount DESC;`,
	},
	{
		ID:         "album_artist",
		Name:       "Albums with artists",
		Pattern:    `album.*artist|artist.*album`,
		Tables:     []string{"Album", "Artist"},
		Complexity: ComplexitySimple,
		Question:   "List all albums with their artists",
		SQL: `SELECT al.Title, ar.Name AS ArtistName
FROM Album al
JOIN Artist ar ON al.ArtistId = ar.ArtistId
ORDER BY ar.Name, al.Title;`,
	},
	{
		ID:         "track_album_artist",
		Name:       "Tracks to albums to artists",
		Pattern:    `(track|song).*artist|artist.*(track|song)`,
		Tables:     []string{"Track", "Album", "Artist"},
		Complexity: ComplexityMedium,
		Question:   "List all tracks with their artists",
		SQL: `SELECT t.Name AS TrackName, ar.Name AS ArtistName, t.Milliseconds
FROM Track t
JOIN Album al ON t.AlbumId = al.AlbumId
JOIN Artist ar ON al.ArtistId = ar.ArtistId
ORDER BY ar.Name, t.Name;`,
	},
	{
		ID:         "track_genre_stats",
		Name:       "Tracks per genre",
		Pattern:    `genre.*(track|song|count|number)|(track|song).*genre`,
		Tables:     []string{"Track", "Genre"},
		Complexity: ComplexitySimple,
		Question:   "How many tracks are in each genre?",
		SQL: `SELECT g.Name AS GenreName, COUNT(*) AS TrackCount
FROM Track t
JOIN Genre g ON t.GenreId = g.GenreId
GROUP BY g.GenreId, g.Name
ORDER BY TrackCount DESC;`,
	},
	{
		ID:         "invoice_track_sales",
		Name:       "Track sales",
		Pattern:    `(best[- ]selling|top[- ]selling|most sold|sales of|sold).*(track|song)|(track|song).*(sales|sold|revenue)`,
		Tables:     []string{"InvoiceLine", "Track"},
		Complexity: ComplexityComplex,
		Question:   "Which tracks sell the most?",
		SQL: `SELECT t.Name, COUNT(*) AS SalesCount, SUM(il.UnitPrice * il.Quantity) AS Revenue
FROM InvoiceLine il
JOIN Track t ON il.TrackId = t.TrackId
GROUP BY t.TrackId, t.Name
ORDER BY SalesCount DESC
LIMIT 10;`,
	},
	{
		ID:         "customer_purchase_history",
		Name:       "Customer purchase history",
		Pattern:    `customer.*(bought|purchased|buy).*(track|song|music)|(bought|purchased).*(track|song).*customer`,
		Tables:     []string{"Customer", "Invoice", "InvoiceLine", "Track"},
		Complexity: ComplexityComplex,
		Question:   "Which tracks has each customer purchased?",
		SQL: `SELECT c.FirstName, c.LastName, t.Name AS TrackName, i.InvoiceDate
FROM Customer c
JOIN Invoice i ON c.CustomerId = i.CustomerId
JOIN InvoiceLine il ON i.InvoiceId = il.InvoiceId
JOIN Track t ON il.TrackId = t.TrackId
ORDER BY c.LastName, i.InvoiceDate;`,
	},
	{
		ID:         "playlist_tracks",
		Name:       "Playlist tracks",
		Pattern:    `playlist.*(track|song)|(track|song).*playlist`,
		Tables:     []string{"Playlist", "PlaylistTrack", "Track"},
		Complexity: ComplexityMedium,
		Question:   "How many tracks does each playlist contain?",
		SQL: `SELECT p.Name AS PlaylistName, COUNT(*) AS TrackCount
FROM Playlist p
JOIN PlaylistTrack pt ON p.PlaylistId = pt.PlaylistId
GROUP BY p.PlaylistId, p.Name
ORDER BY TrackCount DESC;`,
	},
	{
		ID:         "employee_hierarchy",
		Name:       "Employee managers",
		Pattern:    `employee.*(manager|reports? to|supervisor|boss|hierarchy)|(manager|supervisor).*employee`,
		Tables:     []string{"Employee"},
		Complexity: ComplexityMedium,
		Question:   "List each employee with their manager",
		SQL: `SELECT e.FirstName || ' ' || e.LastName AS EmployeeName,
       m.FirstName || ' ' || m.LastName AS ManagerName
FROM Employee e
LEFT JOIN Employee m ON e.ReportsTo = m.EmployeeId
ORDER BY e.LastName;`,
	},
	{
		ID:         "country_sales_stats",
		Name:       "Sales by country",
		Pattern:    `countr(y|ies).*(sales|revenue|customer|invoice)|(sales|revenue).*countr(y|ies)`,
		Tables:     []string{"Customer", "Invoice"},
		Complexity: ComplexityMedium,
		Question:   "How many customers and how much revenue does each country have?",
		SQL: `SELECT c.Country, COUNT(DISTINCT c.CustomerId) AS CustomerCount,
       COALESCE(SUM(i.Total), 0) AS TotalRevenue
FROM Customer c
LEFT JOIN Invoice i ON c.CustomerId = i.CustomerId
GROUP BY c.Country
ORDER BY TotalRevenue DESC;`,
	},
	{
		ID:         "customer_genre_preference",
		Name:       "Customer genre preference",
		Pattern:    `customer.*(genre|favou?rite|prefer)`,
		Tables:     []string{"Customer", "Invoice", "InvoiceLine", "Track", "Genre"},
		Complexity: ComplexityComplex,
		Question:   "What is each customer's favourite genre?",
		SQL: `SELECT c.FirstName, c.LastName, g.Name AS GenreName, COUNT(*) AS PurchaseCount
FROM Customer c
JOIN Invoice i ON c.CustomerId = i.CustomerId
JOIN InvoiceLine il ON i.InvoiceId = il.InvoiceId
JOIN Track t ON il.TrackId = t.TrackId
JOIN Genre g ON t.GenreId = g.GenreId
GROUP BY c.CustomerId, c.FirstName, c.LastName, g.GenreId, g.Name
ORDER BY c.CustomerId, PurchaseCount DESC;`,
	},
}
