package sqltext

import (
	"reflect"
	"testing"
)

func mustTokenize(t *testing.T, sqlText string) []Token {
	t.Helper()
	tokens, err := Tokenize(sqlText)
	if err != nil {
		t.Fatalf("Tokenize(%q) error = %v", sqlText, err)
	}
	return tokens
}

func TestLeadingKeywordSkipsCommentsAndParens(t *testing.T) {
	cases := map[string]string{
		"select 1":                             "SELECT",
		"  -- note\n/* block */ SELECT 1":      "SELECT",
		"((SELECT 1) UNION (SELECT 2))":        "SELECT",
		"WITH x AS (SELECT 1) SELECT * FROM x": "WITH",
		"DROP TABLE Album":                     "DROP",
		"":                                     "",
		"'SELECT'":                             "",
	}
	for in, want := range cases {
		if got := LeadingKeyword(mustTokenize(t, in)); got != want {
			t.Fatalf("LeadingKeyword(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindKeywordsIgnoresLiteralsAndIdentifiers(t *testing.T) {
	tokens := mustTokenize(t, `SELECT 'drop table x; delete', "update" FROM t -- insert
WHERE note = 'it''s; DROP' /* alter */`)
	if found := FindKeywords(tokens, []string{"DROP", "DELETE", "UPDATE", "INSERT", "ALTER"}); len(found) != 0 {
		t.Fatalf("FindKeywords() = %v, want none", found)
	}

	tokens = mustTokenize(t, "SELECT * FROM (DELETE FROM t RETURNING *) x; drop table t")
	found := FindKeywords(tokens, []string{"drop", "DELETE"})
	if !reflect.DeepEqual(found, []string{"DELETE", "DROP"}) {
		t.Fatalf("FindKeywords() = %v", found)
	}
}

func TestFindKeywordsMatchesWholeWordsOnly(t *testing.T) {
	tokens := mustTokenize(t, "SELECT created_at, updated_by, dropped FROM t")
	if found := FindKeywords(tokens, []string{"CREATE", "UPDATE", "DROP"}); len(found) != 0 {
		t.Fatalf("FindKeywords() = %v, want none", found)
	}
}

func TestStatementsSplitsOutsideLiterals(t *testing.T) {
	cases := map[string]int{
		"SELECT 1":                 1,
		"SELECT 1;":                1,
		"SELECT 1;;  ; ":           1,
		"SELECT ';'":               1,
		"SELECT 1; DROP TABLE t":   2,
		"SELECT 1 -- ; DROP\n":     1,
		"SELECT \"a;b\" FROM t; x": 2,
	}
	for in, want := range cases {
		if got := len(Statements(mustTokenize(t, in))); got != want {
			t.Fatalf("len(Statements(%q)) = %d, want %d", in, got, want)
		}
	}
}

func TestTokenizeRejectsUnterminated(t *testing.T) {
	for _, in := range []string{"SELECT 'abc", `SELECT "abc`, "SELECT 1 /* open", "SELECT [abc"} {
		if _, err := Tokenize(in); err == nil {
			t.Fatalf("Tokenize(%q) expected error", in)
		}
	}
}

func TestTokenizeBackslashIsNotAnEscape(t *testing.T) {
	tokens := mustTokenize(t, `SELECT 'abc\'; DROP TABLE t; --'`)
	if found := FindKeywords(tokens, []string{"DROP"}); len(found) != 1 {
		t.Fatalf("FindKeywords() = %v, want DROP", found)
	}
}
