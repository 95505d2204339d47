package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const azureProvider = "azure-computervision"

// printedTextClient is the slice of the Computer Vision client we call.
type printedTextClient interface {
	RecognizePrintedTextInStream(ctx context.Context, detectOrientation bool, imageParameter io.ReadCloser, language computervision.OcrLanguages) (computervision.OcrResult, error)
}

// AzureRecognizer handles OCR through Azure Computer Vision
type AzureRecognizer struct {
	client  printedTextClient
	enhance bool
	logger  *zap.Logger
}

// AzureOption configures an AzureRecognizer.
type AzureOption func(*AzureRecognizer)

// WithEnhancement toggles image pre-processing before recognition.
func WithEnhancement(enabled bool) AzureOption {
	return func(r *AzureRecognizer) { r.enhance = enabled }
}

// WithLogger sets the recognizer logger.
func WithLogger(logger *zap.Logger) AzureOption {
	return func(r *AzureRecognizer) { r.logger = logger }
}

// NewAzureRecognizer creates a recognizer backed by the Computer Vision API.
func NewAzureRecognizer(endpoint, apiKey string, opts ...AzureOption) *AzureRecognizer {
	client := computervision.New(endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(apiKey)
	return newAzureRecognizer(client, opts...)
}

func newAzureRecognizer(client printedTextClient, opts ...AzureOption) *AzureRecognizer {
	r := &AzureRecognizer{client: client, enhance: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *AzureRecognizer) Name() string { return azureProvider }

// Recognize runs printed-text OCR and returns LINE and WORD blocks.
func (r *AzureRecognizer) Recognize(ctx context.Context, doc []byte, fileName string) (*Document, error) {
	if len(doc) == 0 {
		return nil, ErrEmptyDocument
	}
	payload := doc
	if r.enhance {
		enhanced, err := Enhance(doc)
		if err != nil {
			return nil, &RecognitionError{Category: ErrorBadInput, Provider: azureProvider, Message: "decode image " + fileName, Err: err}
		}
		payload = enhanced
	}

	result, err := r.client.RecognizePrintedTextInStream(
		ctx,
		true,
		io.NopCloser(bytes.NewReader(payload)),
		computervision.OcrLanguages(computervision.En),
	)
	if err != nil {
		return nil, &RecognitionError{Category: ErrorUnavailable, Provider: azureProvider, Message: "failed to extract text", Err: err}
	}

	blocks := blocksFromOCRResult(result)
	r.logger.Debug("azure ocr complete", zap.String("file_name", fileName), zap.Int("blocks", len(blocks)))
	return &Document{Provider: azureProvider, Blocks: blocks}, nil
}

// Enhance prepares a scanned image for OCR: grayscale, contrast, sharpen,
// brightness and gamma, re-encoded as JPEG.
func Enhance(doc []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(doc), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 30)
	img = imaging.Sharpen(img, 1.5)
	img = imaging.AdjustBrightness(img, 10)
	img = imaging.AdjustGamma(img, 1.2)

	// the vision API rejects images larger than 4200px on either side
	b := img.Bounds()
	if b.Dx() > 4200 || b.Dy() > 4200 {
		img = imaging.Fit(img, 4200, 4200, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode processed image: %w", err)
	}
	return buf.Bytes(), nil
}

// blocksFromOCRResult flattens regions/lines/words into LINE blocks with
// CHILD links to their WORD blocks.
func blocksFromOCRResult(result computervision.OcrResult) []Block {
	var blocks []Block
	if result.Regions == nil {
		return blocks
	}
	for ri, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for li, line := range *region.Lines {
			lineID := fmt.Sprintf("line-%d-%d", ri, li)
			var text strings.Builder
			var wordIDs []string
			var words []Block

			if line.Words != nil {
				for wi, word := range *line.Words {
					if word.Text == nil {
						continue
					}
					id := fmt.Sprintf("word-%d-%d-%d", ri, li, wi)
					wordIDs = append(wordIDs, id)
					words = append(words, Block{
						ID:        id,
						BlockType: BlockWord,
						Text:      *word.Text,
						Page:      1,
						Geometry:  parseBoundingBox(word.BoundingBox),
					})
					text.WriteString(*word.Text)
					text.WriteString(" ")
				}
			}

			lineBlock := Block{
				ID:        lineID,
				BlockType: BlockLine,
				Text:      strings.TrimSpace(text.String()),
				Page:      1,
				Geometry:  parseBoundingBox(line.BoundingBox),
			}
			if len(wordIDs) > 0 {
				lineBlock.Relationships = []Relationship{{Type: RelationChild, IDs: wordIDs}}
			}
			blocks = append(blocks, lineBlock)
			blocks = append(blocks, words...)
		}
	}
	return blocks
}

// parseBoundingBox reads Azure's "left,top,width,height" pixel string.
func parseBoundingBox(raw *string) *BoundingBox {
	if raw == nil {
		return nil
	}
	parts := strings.Split(*raw, ",")
	if len(parts) < 4 {
		return nil
	}
	vals := make([]float64, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return nil
		}
		vals[i] = float64(v)
	}
	return &BoundingBox{Left: vals[0], Top: vals[1], Width: vals[2], Height: vals[3]}
}
