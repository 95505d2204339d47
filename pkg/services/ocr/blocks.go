package ocr

import (
	"context"
	"errors"
	"fmt"
)

// BlockType is the kind of structure a recognition engine reports.
type BlockType string

const (
	BlockWord      BlockType = "WORD"
	BlockLine      BlockType = "LINE"
	BlockKeyValue  BlockType = "KEY_VALUE_SET"
	BlockTable     BlockType = "TABLE"
	BlockCell      BlockType = "CELL"
	BlockSelection BlockType = "SELECTION_ELEMENT"
)

const (
	EntityKey   = "KEY"
	EntityValue = "VALUE"

	RelationChild = "CHILD"
	RelationValue = "VALUE"

	SelectionSelected = "SELECTED"
)

// BoundingBox is the position of a block on its page.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Relationship links a block to other blocks by ID.
type Relationship struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

// Block is one unit of recognition output. Tables, key/value pairs and
// selection marks are rebuilt from the relationships between blocks.
type Block struct {
	ID              string         `json:"id"`
	BlockType       BlockType      `json:"blockType"`
	Text            string         `json:"text,omitempty"`
	EntityTypes     []string       `json:"entityTypes,omitempty"`
	Relationships   []Relationship `json:"relationships,omitempty"`
	RowIndex        int            `json:"rowIndex,omitempty"`
	ColumnIndex     int            `json:"columnIndex,omitempty"`
	SelectionStatus string         `json:"selectionStatus,omitempty"`
	Confidence      float64        `json:"confidence,omitempty"`
	Page            int            `json:"page,omitempty"`
	Geometry        *BoundingBox   `json:"geometry,omitempty"`
}

// HasEntityType reports whether the block is tagged with t.
func (b Block) HasEntityType(t string) bool {
	for _, et := range b.EntityTypes {
		if et == t {
			return true
		}
	}
	return false
}

// Related returns the IDs of every relationship of the given type.
func (b Block) Related(relType string) []string {
	var ids []string
	for _, r := range b.Relationships {
		if r.Type == relType {
			ids = append(ids, r.IDs...)
		}
	}
	return ids
}

// Document is the block output of one recognition call.
type Document struct {
	Provider string  `json:"provider"`
	Blocks   []Block `json:"blocks"`
}

// Recognizer turns raw document bytes into blocks.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, doc []byte, fileName string) (*Document, error)
}

var (
	// ErrEmptyDocument is returned for zero-length uploads.
	ErrEmptyDocument = errors.New("empty document")
	// ErrUnsupportedDocument is returned when no recognizer accepts the input.
	ErrUnsupportedDocument = errors.New("unsupported document")
)

// ErrorCategory groups recognition failures for the caller's retry policy.
type ErrorCategory string

const (
	ErrorUnavailable ErrorCategory = "unavailable"
	ErrorBadInput    ErrorCategory = "bad_input"
	ErrorInternal    ErrorCategory = "internal"
)

// RecognitionError wraps a failure of the recognition engine.
type RecognitionError struct {
	Category ErrorCategory
	Provider string
	Message  string
	Err      error
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recognizer %s [%s]: %s: %v", e.Provider, e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("recognizer %s [%s]: %s", e.Provider, e.Category, e.Message)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same document later.
func (e *RecognitionError) Retryable() bool {
	return e.Category == ErrorUnavailable
}

// IsRetryable reports whether err is a retryable recognition failure.
func IsRetryable(err error) bool {
	var re *RecognitionError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}
