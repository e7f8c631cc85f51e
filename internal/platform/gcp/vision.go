package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

const visionCallTimeout = 60 * time.Second

// Vision runs dense-text OCR on single images. Used for image files and for PDF pages that
// carry no text layer.
type Vision interface {
	OCRImageBytes(ctx context.Context, img []byte, mimeType string, languageHints []string) (*VisionOCRResult, error)
	Close() error
}

type VisionOCRResult struct {
	MimeType    string          `json:"mime_type,omitempty"`
	PrimaryText string          `json:"primary_text"`
	Pages       []VisionOCRPage `json:"pages,omitempty"`
}

type VisionOCRPage struct {
	PageNumber int     `json:"page_number"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type visionOCR struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewVision(ctx context.Context, log *logger.Logger) (Vision, error) {
	if log == nil {
		return nil, errors.New("vision: logger required")
	}
	c, err := vision.NewImageAnnotatorClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &visionOCR{log: log.With("service", "gcp.Vision"), client: c}, nil
}

func (v *visionOCR) Close() error {
	if v == nil || v.client == nil {
		return nil
	}
	return v.client.Close()
}

func (v *visionOCR) OCRImageBytes(ctx context.Context, img []byte, mimeType string, languageHints []string) (*VisionOCRResult, error) {
	empty := &VisionOCRResult{MimeType: mimeType}
	if len(img) == 0 {
		return empty, nil
	}
	ctx, cancel := context.WithTimeout(ctx, visionCallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := v.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{annotateRequest(img, languageHints)},
	})
	if err != nil {
		return nil, fmt.Errorf("vision annotate: %w", err)
	}
	first := firstResponse(resp)
	if first == nil {
		return empty, nil
	}
	if msg := first.GetError().GetMessage(); msg != "" {
		return nil, fmt.Errorf("vision annotate: %s", msg)
	}
	out := buildVisionResult(first.GetFullTextAnnotation(), mimeType)
	v.log.Debug("vision ocr", "bytes", len(img), "pages", len(out.Pages), "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

func annotateRequest(img []byte, hints []string) *visionpb.AnnotateImageRequest {
	req := &visionpb.AnnotateImageRequest{
		Image:    &visionpb.Image{Content: img},
		Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
	}
	if len(hints) > 0 {
		req.ImageContext = &visionpb.ImageContext{LanguageHints: hints}
	}
	return req
}

func firstResponse(resp *visionpb.BatchAnnotateImagesResponse) *visionpb.AnnotateImageResponse {
	if rs := resp.GetResponses(); len(rs) > 0 {
		return rs[0]
	}
	return nil
}

// buildVisionResult splits the annotation into pages. A single page with no symbol text
// takes the full annotation text.
func buildVisionResult(fta *visionpb.TextAnnotation, mimeType string) *VisionOCRResult {
	out := &VisionOCRResult{MimeType: mimeType, PrimaryText: strings.TrimSpace(fta.GetText())}
	if out.PrimaryText == "" {
		return out
	}
	pages := fta.GetPages()
	if len(pages) == 0 {
		out.Pages = []VisionOCRPage{{PageNumber: 1, Text: out.PrimaryText}}
		return out
	}
	for i, pg := range pages {
		if pg == nil {
			continue
		}
		p := VisionOCRPage{PageNumber: i + 1, Text: pageText(pg), Confidence: meanConfidence(pg.GetBlocks())}
		if p.Text == "" && len(pages) == 1 {
			p.Text = out.PrimaryText
		}
		out.Pages = append(out.Pages, p)
	}
	return out
}

func breakSuffix(t visionpb.TextAnnotation_DetectedBreak_BreakType) string {
	switch t {
	case visionpb.TextAnnotation_DetectedBreak_SPACE, visionpb.TextAnnotation_DetectedBreak_SURE_SPACE:
		return " "
	case visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE, visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
		return "\n"
	}
	return ""
}

// pageText rebuilds page text from symbols using the detected breaks. Paragraphs end with a
// newline.
func pageText(pg *visionpb.Page) string {
	var b strings.Builder
	for _, block := range pg.GetBlocks() {
		for _, para := range block.GetParagraphs() {
			for _, word := range para.GetWords() {
				for _, sym := range word.GetSymbols() {
					b.WriteString(sym.GetText())
					b.WriteString(breakSuffix(sym.GetProperty().GetDetectedBreak().GetType()))
				}
			}
			b.WriteByte('\n')
		}
	}
	return strings.TrimSpace(b.String())
}

func meanConfidence(blocks []*visionpb.Block) float64 {
	var sum float64
	var n int
	for _, b := range blocks {
		if c := b.GetConfidence(); c > 0 {
			sum += float64(c)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
