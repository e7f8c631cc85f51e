package extractor

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
	"github.com/yungbote/docingest-backend/internal/platform/gcp"
)

// extractPDF tries the embedded text layer first and falls back to OCR when it averages fewer
// than MinCharsPerPage characters per page. A sparse text layer is still used when no OCR stage
// is configured or OCR fails.
func (s *Service) extractPDF(ctx context.Context, data []byte, langs []string) (*Result, error) {
	fast, fastErr := s.pdfTextLayer(ctx, data)
	if fastErr != nil {
		s.Log.Warn("pdftotext failed; falling back to OCR", "error", fastErr)
	}
	if fast != nil && charCount(fast.Elements) >= s.MinCharsPerPage*maxInt(1, fast.PageCount) {
		return fast, nil
	}

	ocr, ocrErr := s.ocrPDF(ctx, data, langs)
	if ocrErr == nil && charCount(ocr.Elements) > 0 {
		if fast != nil && ocr.PageCount == 0 {
			ocr.PageCount = fast.PageCount
		}
		return ocr, nil
	}
	if fast != nil && charCount(fast.Elements) > 0 {
		if ocrErr != nil {
			s.Log.Warn("OCR fallback failed; keeping sparse text layer", "error", ocrErr)
		}
		return fast, nil
	}
	switch {
	case ocrErr != nil:
		return nil, ocrErr
	case fastErr != nil:
		return nil, fastErr
	}
	return nil, ErrEmptyText
}

func (s *Service) pdfTextLayer(ctx context.Context, data []byte) (*Result, error) {
	if s.Media == nil {
		return nil, fmt.Errorf("pdf text layer: media tools unavailable")
	}
	path, cleanup, err := s.Media.WriteTempFile(data, ".pdf")
	if err != nil {
		return nil, err
	}
	defer cleanup()
	pages, err := s.Media.PDFToText(ctx, path)
	if err != nil {
		return nil, err
	}
	res := &Result{PageCount: len(pages), Extractor: "pdftotext"}
	for i, p := range pages {
		res.Elements = append(res.Elements, paragraphElements(p, i+1)...)
	}
	return res, nil
}

func (s *Service) ocrPDF(ctx context.Context, data []byte, langs []string) (*Result, error) {
	if s.DocAI != nil {
		docRes, err := s.DocAI.ProcessBytes(ctx, gcp.DocAIProcessBytesRequest{
			MimeType:      "application/pdf",
			Data:          data,
			LanguageHints: BCP47(langs),
		})
		if err == nil {
			return fromDocAI(docRes), nil
		}
		if s.Vision == nil {
			return nil, fmt.Errorf("documentai: %w", err)
		}
		s.Log.Warn("Document AI failed; trying Vision OCR", "error", err)
	}
	if s.Vision == nil {
		return nil, fmt.Errorf("no OCR stage configured")
	}
	return s.ocrPDFPages(ctx, data, langs)
}

// ocrPDFPages renders pages to PNG and OCRs them one at a time with Vision.
func (s *Service) ocrPDFPages(ctx context.Context, data []byte, langs []string) (*Result, error) {
	if s.Media == nil {
		return nil, fmt.Errorf("pdf render: media tools unavailable")
	}
	path, cleanup, err := s.Media.WriteTempFile(data, ".pdf")
	if err != nil {
		return nil, err
	}
	defer cleanup()
	dir, rmDir, err := s.Media.TempDir("ocr")
	if err != nil {
		return nil, err
	}
	defer rmDir()

	images, err := s.Media.RenderPDFToImages(ctx, path, dir, s.RenderDPI)
	if err != nil {
		return nil, err
	}
	res := &Result{PageCount: len(images), Extractor: "vision"}
	hints := BCP47(langs)
	for i, img := range images {
		if s.MaxOCRPages > 0 && i >= s.MaxOCRPages {
			s.Log.Warn("OCR page cap reached", "pages", len(images), "cap", s.MaxOCRPages)
			break
		}
		b, err := os.ReadFile(img)
		if err != nil {
			return nil, fmt.Errorf("read rendered page: %w", err)
		}
		vres, err := s.Vision.OCRImageBytes(ctx, b, "image/png", hints)
		if err != nil {
			return nil, fmt.Errorf("vision page %d: %w", i+1, err)
		}
		res.Elements = append(res.Elements, paragraphElements(vres.PrimaryText, i+1)...)
	}
	return res, nil
}

func fromDocAI(r *gcp.DocAIResult) *Result {
	res := &Result{PageCount: r.PageCount, Extractor: "documentai"}
	for _, seg := range r.Segments {
		res.Elements = append(res.Elements, contentstore.Element{Type: seg.Kind, Text: seg.Text, Page: seg.Page})
	}
	if len(res.Elements) == 0 && r.PrimaryText != "" {
		res.Elements = paragraphElements(r.PrimaryText, 0)
	}
	return res
}

func charCount(elems []contentstore.Element) int {
	n := 0
	for _, el := range elems {
		n += len([]rune(el.Text))
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
