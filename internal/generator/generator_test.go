package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/completion"
	"github.com/askdb/askdb/internal/exemplar"
	"github.com/askdb/askdb/internal/schema/schematest"
	"github.com/askdb/askdb/internal/validator"
)

func TestExtractPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{
			name:   "sql fence",
			raw:    "Here you go:\n```sql\nSELECT COUNT(*) FROM Album;\n```\nDone.",
			want:   "SELECT COUNT(*) FROM Album",
			wantOK: true,
		},
		{
			name:   "sql fence wins over earlier generic fence",
			raw:    "```\nnot this\n```\n```SQL\nSELECT 1\n```",
			want:   "SELECT 1",
			wantOK: true,
		},
		{
			name:   "first generic fence",
			raw:    "```\nSELECT Title FROM Album\n```\n```\nSELECT 2\n```",
			want:   "SELECT Title FROM Album",
			wantOK: true,
		},
		{
			name:   "inline fence",
			raw:    "```SELECT Name FROM Artist```",
			want:   "SELECT Name FROM Artist",
			wantOK: true,
		},
		{
			name:   "bare statement",
			raw:    "  select Name from Artist;;\n",
			want:   "select Name from Artist",
			wantOK: true,
		},
		{
			name:   "bare with statement",
			raw:    "WITH a AS (SELECT 1) SELECT * FROM a",
			want:   "WITH a AS (SELECT 1) SELECT * FROM a",
			wantOK: true,
		},
		{
			name:   "one-line sql fence",
			raw:    "```sql SELECT Name FROM Artist```",
			want:   "SELECT Name FROM Artist",
			wantOK: true,
		},
		{
			name:   "empty sql fence falls through to generic fence",
			raw:    "```sql\n```\nthen\n```\nSELECT 2\n```",
			want:   "SELECT 2",
			wantOK: true,
		},
		{
			name:   "empty sql fence falls through to later sql fence",
			raw:    "```sql\n;\n```\n```\nSELECT 2\n```\n```sql\nSELECT 3\n```",
			want:   "SELECT 3",
			wantOK: true,
		},
		{
			name:   "statement keyword on the opening line is not a label",
			raw:    "```SELECT\n  Name FROM Artist\n```",
			want:   "SELECT\n  Name FROM Artist",
			wantOK: true,
		},
		{
			name:   "other language label",
			raw:    "```postgresql\nSELECT 4\n```",
			want:   "SELECT 4",
			wantOK: true,
		},
		{
			name:   "prose only",
			raw:    "I cannot answer that question.",
			wantOK: false,
		},
		{
			name:   "empty fence",
			raw:    "```sql\n;\n```",
			wantOK: false,
		},
		{
			name:   "keyword prefix is not a statement",
			raw:    "Selection of albums is not possible",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		got, ok := Extract(tt.raw)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("%s: Extract() = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRenderPromptSectionOrder(t *testing.T) {
	pairs, err := exemplar.Default().Select(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	req := Request{
		Question:  " How many albums are there? ",
		Schema:    schematest.Descriptor(t),
		Exemplars: pairs,
	}
	prompt := RenderPrompt(req)

	order := []string{"### Schema", "Table: Album", "### Examples", "### Question", "How many albums are there?"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(prompt, marker)
		if idx < 0 {
			t.Fatalf("prompt missing %q:\n%s", marker, prompt)
		}
		if idx < last {
			t.Fatalf("marker %q out of order:\n%s", marker, prompt)
		}
		last = idx
	}
	if strings.Contains(prompt, "### Previous attempt") {
		t.Fatalf("first attempt prompt should not carry repair section:\n%s", prompt)
	}
	if RenderPrompt(req) != prompt {
		t.Fatal("RenderPrompt() is not deterministic")
	}
}

func TestRenderPromptRepairMode(t *testing.T) {
	prompt := RenderPrompt(Request{
		Question: "How many albums are there?",
		Schema:   schematest.Descriptor(t),
		PriorAttempt: &PriorAttempt{
			SQL: "SELECT AlbumName FROM Album",
			Violations: []validator.Violation{
				{Kind: validator.KindUnknownColumn, Detail: `column "AlbumName" does not exist on table "Album"`},
			},
		},
	})
	for _, want := range []string{
		"### Previous attempt",
		"SELECT AlbumName FROM Album",
		`- [unknown_column] column "AlbumName" does not exist on table "Album"`,
		"Write a corrected statement",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("repair prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Index(prompt, "### Question") > strings.Index(prompt, "### Previous attempt") {
		t.Fatalf("previous attempt must follow the question:\n%s", prompt)
	}
}

func TestGenerateSendsDeterministicRequest(t *testing.T) {
	var got completion.Request
	completer := completion.CompleterFunc(func(_ context.Context, req completion.Request) (string, error) {
		got = req
		return "```sql\nSELECT COUNT(*) FROM Album\n```", nil
	})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	gen := New(completer, Options{MaxTokens: 512, Now: func() time.Time { return fixed }})

	candidate, err := gen.Generate(context.Background(), Request{Question: "How many albums?", Schema: schematest.Descriptor(t)})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got.Temperature != 0 || got.MaxTokens != 512 {
		t.Fatalf("completion request = %+v", got)
	}
	if !strings.Contains(got.Prompt, "How many albums?") {
		t.Fatalf("prompt missing question:\n%s", got.Prompt)
	}
	if !candidate.Extracted || candidate.SQL != "SELECT COUNT(*) FROM Album" {
		t.Fatalf("candidate = %+v", candidate)
	}
	if !candidate.GeneratedAt.Equal(fixed) || candidate.GeneratedAt.Location() != time.UTC {
		t.Fatalf("GeneratedAt = %v", candidate.GeneratedAt)
	}
}

func TestGenerateWithoutSQLIsNotAnError(t *testing.T) {
	completer := completion.CompleterFunc(func(context.Context, completion.Request) (string, error) {
		return "Sorry, I do not know.", nil
	})
	candidate, err := New(completer, Options{}).Generate(context.Background(), Request{Question: "q", Schema: schematest.Descriptor(t)})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if candidate.Extracted || candidate.SQL != "" || candidate.RawText != "Sorry, I do not know." {
		t.Fatalf("candidate = %+v", candidate)
	}
}

func TestGenerateWrapsCompletionFailure(t *testing.T) {
	cause := completion.Wrap("fake", completion.KindQuota, errors.New("429 too many requests"))
	completer := completion.CompleterFunc(func(context.Context, completion.Request) (string, error) {
		return "", cause
	})
	_, err := New(completer, Options{}).Generate(context.Background(), Request{Question: "q", Schema: schematest.Descriptor(t)})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Generate() error = %v, want GenerationError", err)
	}
	if genErr.Kind() != completion.KindQuota {
		t.Fatalf("Kind() = %q, want quota", genErr.Kind())
	}
}

func TestGenerateAppliesCallTimeout(t *testing.T) {
	completer := completion.CompleterFunc(func(ctx context.Context, _ completion.Request) (string, error) {
		<-ctx.Done()
		return "", completion.Wrap("fake", "", ctx.Err())
	})
	gen := New(completer, Options{Timeout: 20 * time.Millisecond})
	_, err := gen.Generate(context.Background(), Request{Question: "q", Schema: schematest.Descriptor(t)})
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Kind() != completion.KindTimeout {
		t.Fatalf("Generate() error = %v, want timeout GenerationError", err)
	}
}

func TestGenerateWithoutCompleter(t *testing.T) {
	_, err := New(nil, Options{}).Generate(context.Background(), Request{Question: "q"})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Generate() error = %v, want GenerationError", err)
	}
}
