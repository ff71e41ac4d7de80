package generator

import (
	"regexp"
	"strings"
)

var (
	fencePattern     = regexp.MustCompile("(?s)```(.*?)```")
	labelPattern     = regexp.MustCompile(`^[A-Za-z0-9_+-]+$`)
	statementPattern = regexp.MustCompile(`(?i)^(SELECT|INSERT|UPDATE|DELETE|WITH)\b`)
)

type fence struct {
	label string
	body  string
}

// Extract pulls one SQL statement out of a model response. Precedence:
// the first non-empty ```sql block, then the first non-empty fenced block
// of any language, then the whole response when it starts with a
// statement keyword.
func Extract(raw string) (string, bool) {
	var fences []fence
	for _, match := range fencePattern.FindAllStringSubmatch(raw, -1) {
		fences = append(fences, parseFence(match[1]))
	}
	for _, f := range fences {
		if strings.EqualFold(f.label, "sql") {
			if sqlText, ok := cleanStatement(f.body); ok {
				return sqlText, true
			}
		}
	}
	for _, f := range fences {
		if sqlText, ok := cleanStatement(f.body); ok {
			return sqlText, true
		}
	}

	trimmed := strings.TrimSpace(raw)
	if statementPattern.MatchString(trimmed) {
		return cleanStatement(trimmed)
	}
	return "", false
}

// parseFence splits the info string off a fenced block. A lone word on
// the opening line is a label unless it starts a statement; a one-line
// block may carry the sql label before the statement itself.
func parseFence(content string) fence {
	firstLine, rest, multiline := strings.Cut(content, "\n")
	label := strings.TrimSpace(firstLine)
	if multiline && (label == "" || (labelPattern.MatchString(label) && !statementPattern.MatchString(label))) {
		return fence{label: label, body: rest}
	}
	if word, body, ok := strings.Cut(strings.TrimLeft(content, " \t"), " "); ok && strings.EqualFold(word, "sql") {
		return fence{label: word, body: body}
	}
	return fence{body: content}
}

func cleanStatement(sqlText string) (string, bool) {
	cleaned := stripTrailingSemicolons(sqlText)
	if cleaned == "" {
		return "", false
	}
	return cleaned, true
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
