package models

import "time"

// ValidationIssue is a field-addressable finding.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Suggestion describes a possible correction. When AutoFixAvailable is set,
// Field/Value carry the deterministic fix applied by AutoFix.
type Suggestion struct {
	Code             string `json:"code"`
	Field            string `json:"field"`
	Message          string `json:"message"`
	AutoFixAvailable bool   `json:"autoFixAvailable"`
	Value            string `json:"value,omitempty"`
}

// ValidationMetadata records which checks ran.
type ValidationMetadata struct {
	ChecksRun    int       `json:"checksRun"`
	ChecksPassed int       `json:"checksPassed"`
	Checks       []string  `json:"checks"`
	Verified     []string  `json:"verifiedIdentifiers,omitempty"`
	ValidatedAt  time.Time `json:"validatedAt"`
}

// ValidationResult is the outcome of a compliance run.
type ValidationResult struct {
	IsValid     bool               `json:"isValid"`
	Score       float64            `json:"score"`
	Errors      []ValidationIssue  `json:"errors"`
	Warnings    []ValidationIssue  `json:"warnings"`
	Suggestions []Suggestion       `json:"suggestions"`
	Metadata    ValidationMetadata `json:"metadata"`
}
