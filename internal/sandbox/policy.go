package sandbox

import (
	"fmt"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/sqltext"
)

const (
	DefaultMaxRows = 1000
	DefaultTimeout = 30 * time.Second
)

type Policy struct {
	AllowList         []string      `json:"allow_list"`
	ForbiddenKeywords []string      `json:"forbidden_keywords"`
	MaxRows           int           `json:"max_rows"`
	Timeout           time.Duration `json:"timeout"`
}

func DefaultPolicy() Policy {
	return Policy{
		AllowList:         []string{"SELECT"},
		ForbiddenKeywords: append([]string(nil), config.DefaultForbiddenKeywords...),
		MaxRows:           DefaultMaxRows,
		Timeout:           DefaultTimeout,
	}
}

func PolicyFromConfig(cfg config.SandboxConfig) Policy {
	return Policy{
		AllowList:         append([]string(nil), cfg.AllowList...),
		ForbiddenKeywords: append([]string(nil), cfg.ForbiddenKeywords...),
		MaxRows:           cfg.MaxRows,
		Timeout:           cfg.Timeout,
	}
}

func (p Policy) withDefaults() Policy {
	if len(p.AllowList) == 0 {
		p.AllowList = []string{"SELECT"}
	}
	if p.MaxRows <= 0 {
		p.MaxRows = DefaultMaxRows
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

// Check applies the static statement rules without touching a database.
// It returns the statement's leading keyword when the statement passes.
func (p Policy) Check(sqlText string) (string, error) {
	p = p.withDefaults()
	tokens, err := sqltext.Tokenize(sqlText)
	if err != nil {
		return "", policyError("cannot tokenize statement: %v", err)
	}
	switch statements := sqltext.Statements(tokens); {
	case len(statements) == 0:
		return "", policyError("empty statement")
	case len(statements) > 1:
		return "", policyError("multiple statements are not allowed (found %d)", len(statements))
	}

	leading := sqltext.LeadingKeyword(tokens)
	if !p.allows(leading) {
		if leading == "" {
			return "", policyError("statement has no leading keyword")
		}
		return "", policyError("statement kind %s is not allowed (allowed: %s)", leading, strings.Join(p.AllowList, ", "))
	}
	if found := sqltext.FindKeywords(tokens, p.ForbiddenKeywords); len(found) > 0 {
		return "", policyError("forbidden keyword %s", strings.Join(found, ", "))
	}
	return leading, nil
}

func (p Policy) allows(keyword string) bool {
	if keyword == "" {
		return false
	}
	for _, allowed := range p.AllowList {
		if strings.EqualFold(strings.TrimSpace(allowed), keyword) {
			return true
		}
	}
	return false
}

func policyError(format string, args ...any) *Error {
	return &Error{Kind: KindPolicyViolation, Message: fmt.Sprintf(format, args...)}
}
