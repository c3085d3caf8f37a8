package models

import (
	"strings"
	"unicode/utf8"

	"quill/internal/errs"
)

// MaxExplainQueryLen is the longest term accepted by /v1/explain. Hover
// lookups are short identifiers; anything longer is a misfire.
const MaxExplainQueryLen = 120

// ExplainRequest is the body of /v1/explain.
type ExplainRequest struct {
	Query      string `json:"query"`
	LanguageID string `json:"languageId"`
}

// Validate rejects empty or over-length queries before any network call.
func (r *ExplainRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return errs.InvalidInput("query is required")
	}
	if utf8.RuneCountInString(r.Query) > MaxExplainQueryLen {
		return errs.InvalidInput("query exceeds %d characters", MaxExplainQueryLen)
	}
	return nil
}

// ExplainResponse is the explain reply: a one-line summary for the hover
// popup and the full Markdown detail for the panel.
type ExplainResponse struct {
	OK      bool   `json:"ok"`
	Summary string `json:"summary"`
	Detail  string `json:"detail"`
}
