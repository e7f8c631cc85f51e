package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/platform/envutil"
	"github.com/yungbote/docingest-backend/internal/platform/gcp"
	"github.com/yungbote/docingest-backend/internal/platform/localmedia"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

// ErrEmptyText is returned when every stage of the chain produced no usable text.
var ErrEmptyText = errors.New("extractor: no text extracted")

// ErrUnsupported is returned for formats no stage of the chain can read.
var ErrUnsupported = errors.New("extractor: unsupported format")

type Request struct {
	Data      []byte
	Name      string
	Extension string
	MimeType  string
	// Languages are ISO 639-2 codes (eng, hun, ...).
	Languages []string
}

type Result struct {
	Text      string
	Elements  []contentstore.Element
	PageCount int
	Extractor string
	Languages []string
}

// Extractor turns raw document bytes into normalized text and structured elements.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}

type Service struct {
	Log    *logger.Logger
	Media  localmedia.Tools
	DocAI  gcp.Document
	Vision gcp.Vision

	// MinCharsPerPage is the fast-path threshold below which a PDF is treated as scanned.
	MinCharsPerPage int
	MaxOCRPages     int
	RenderDPI       int
}

func New(log *logger.Logger, media localmedia.Tools, docai gcp.Document, vision gcp.Vision) *Service {
	return &Service{
		Log:             log.With("component", "Extractor"),
		Media:           media,
		DocAI:           docai,
		Vision:          vision,
		MinCharsPerPage: envutil.Int("PDF_MIN_CHARS_PER_PAGE", 200),
		MaxOCRPages:     envutil.Int("OCR_MAX_PAGES", 200),
		RenderDPI:       envutil.Int("OCR_RENDER_DPI", 200),
	}
}

func (s *Service) Extract(ctx context.Context, req Request) (*Result, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrEmptyText)
	}
	ext := strings.ToLower(req.Extension)
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(req.Name))
	}

	var (
		res *Result
		err error
	)
	switch kind := ClassifyKind(ext, req.MimeType, req.Data); kind {
	case KindText:
		res, err = s.extractText(req, ext)
	case KindPDF:
		res, err = s.extractPDF(ctx, req.Data, req.Languages)
	case KindEPUB:
		res, err = extractEPUB(req.Data)
	case KindOffice:
		res, err = s.extractOffice(ctx, req.Data, ext, req.Languages)
	case KindImage:
		res, err = s.extractImage(ctx, req.Data, req.MimeType, req.Languages)
	default:
		return nil, fmt.Errorf("%w: ext=%q mime=%q", ErrUnsupported, ext, req.MimeType)
	}
	if err != nil {
		return nil, err
	}
	return finalize(res, req.Languages)
}

func (s *Service) extractText(req Request, ext string) (*Result, error) {
	txt, err := ExtractTextStrict(ext, req.MimeType, req.Data)
	if err != nil {
		return nil, err
	}
	return &Result{Elements: paragraphElements(txt, 0), PageCount: 1, Extractor: "native"}, nil
}

// finalize normalizes element text, drops empty elements and builds the joined text.
func finalize(res *Result, langs []string) (*Result, error) {
	elems := res.Elements[:0]
	for _, el := range res.Elements {
		el.Text = NormalizeText(el.Text)
		if el.Text == "" {
			continue
		}
		elems = append(elems, el)
	}
	res.Elements = elems
	res.Text = JoinElements(elems)
	if strings.TrimSpace(res.Text) == "" {
		return nil, ErrEmptyText
	}
	if res.Languages == nil {
		res.Languages = langs
	}
	return res, nil
}
