package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

const blockProvider = "blocks"

// BlockRecognizer accepts documents that were already recognized upstream and
// stored as a JSON block dump, either `{"blocks": [...]}` or a bare array.
type BlockRecognizer struct{}

func (BlockRecognizer) Name() string { return blockProvider }

func (BlockRecognizer) Recognize(_ context.Context, doc []byte, fileName string) (*Document, error) {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 {
		return nil, ErrEmptyDocument
	}
	var blocks []Block
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &blocks); err != nil {
			return nil, &RecognitionError{Category: ErrorBadInput, Provider: blockProvider, Message: "decode " + fileName, Err: err}
		}
	} else {
		var payload Document
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, &RecognitionError{Category: ErrorBadInput, Provider: blockProvider, Message: "decode " + fileName, Err: err}
		}
		blocks = payload.Blocks
	}
	return &Document{Provider: blockProvider, Blocks: blocks}, nil
}

// Router sends block dumps to the BlockRecognizer and everything else to the
// configured image recognizer.
type Router struct {
	blocks BlockRecognizer
	image  Recognizer
}

// NewRouter builds a Router. image may be nil when no OCR engine is configured.
func NewRouter(image Recognizer) *Router {
	return &Router{image: image}
}

func (r *Router) Name() string {
	if r.image != nil {
		return r.image.Name()
	}
	return blockProvider
}

func (r *Router) Recognize(ctx context.Context, doc []byte, fileName string) (*Document, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, ErrEmptyDocument
	}
	if isBlockDump(doc, fileName) {
		return r.blocks.Recognize(ctx, doc, fileName)
	}
	if r.image == nil {
		return nil, fmt.Errorf("%w: %s: no image recognizer configured", ErrUnsupportedDocument, fileName)
	}
	return r.image.Recognize(ctx, doc, fileName)
}

func isBlockDump(doc []byte, fileName string) bool {
	if strings.EqualFold(filepath.Ext(fileName), ".json") {
		return true
	}
	trimmed := bytes.TrimSpace(doc)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
