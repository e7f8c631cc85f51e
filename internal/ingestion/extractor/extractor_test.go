package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/docingest-backend/internal/platform/gcp"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

type fakeMedia struct {
	t         *testing.T
	pages     []string
	textErr   error
	rendered  int
	converted bool
}

func (f *fakeMedia) Available(string) bool { return true }

func (f *fakeMedia) PDFToText(ctx context.Context, pdfPath string) ([]string, error) {
	return f.pages, f.textErr
}

func (f *fakeMedia) CountPDFPages(ctx context.Context, pdfPath string) (int, error) {
	return len(f.pages), nil
}

func (f *fakeMedia) RenderPDFToImages(ctx context.Context, pdfPath, outDir string, dpi int) ([]string, error) {
	var out []string
	for i := 0; i < f.rendered; i++ {
		p := filepath.Join(outDir, "page-"+string(rune('1'+i))+".png")
		if err := os.WriteFile(p, []byte("png"), 0o644); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeMedia) ConvertOfficeToPDF(ctx context.Context, inputPath, outDir string) (string, error) {
	f.converted = true
	p := filepath.Join(outDir, "out.pdf")
	return p, os.WriteFile(p, []byte("%PDF-1.4"), 0o644)
}

func (f *fakeMedia) WriteTempFile(data []byte, suffix string) (string, func(), error) {
	p := filepath.Join(f.t.TempDir(), "in"+suffix)
	return p, func() {}, os.WriteFile(p, data, 0o644)
}

func (f *fakeMedia) TempDir(prefix string) (string, func(), error) {
	return f.t.TempDir(), func() {}, nil
}

type fakeDocAI struct {
	res   *gcp.DocAIResult
	err   error
	hints []string
}

func (f *fakeDocAI) ProcessBytes(ctx context.Context, req gcp.DocAIProcessBytesRequest) (*gcp.DocAIResult, error) {
	f.hints = req.LanguageHints
	return f.res, f.err
}

func (f *fakeDocAI) Close() error { return nil }

type fakeVision struct {
	text  string
	calls int
}

func (f *fakeVision) OCRImageBytes(ctx context.Context, img []byte, mime string, hints []string) (*gcp.VisionOCRResult, error) {
	f.calls++
	return &gcp.VisionOCRResult{PrimaryText: f.text, Pages: []gcp.VisionOCRPage{{PageNumber: 1, Text: f.text}}}, nil
}

func (f *fakeVision) Close() error { return nil }

func newService(media *fakeMedia, docai gcp.Document, vision gcp.Vision) *Service {
	return &Service{
		Log:             logger.Nop(),
		Media:           media,
		DocAI:           docai,
		Vision:          vision,
		MinCharsPerPage: 200,
		MaxOCRPages:     10,
	}
}

var pdfBytes = []byte("%PDF-1.7 fake")

func TestExtractPlainText(t *testing.T) {
	s := newService(&fakeMedia{t: t}, nil, nil)
	res, err := s.Extract(context.Background(), Request{
		Data: []byte("First   paragraph.\r\n\r\n\r\n\r\nSecond\tparagraph."),
		Name: "notes.txt",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "First paragraph.\n\nSecond paragraph." {
		t.Fatalf("text: %q", res.Text)
	}
	if len(res.Elements) != 2 || res.Extractor != "native" {
		t.Fatalf("elements: %+v", res)
	}
}

func TestExtractPDFFastPath(t *testing.T) {
	long := strings.Repeat("word ", 60)
	docai := &fakeDocAI{}
	s := newService(&fakeMedia{t: t, pages: []string{long, long}}, docai, nil)
	res, err := s.Extract(context.Background(), Request{Data: pdfBytes, Name: "a.pdf"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Extractor != "pdftotext" || res.PageCount != 2 {
		t.Fatalf("expected fast path, got %+v", res)
	}
	if docai.hints != nil {
		t.Fatalf("docai should not be called")
	}
}

func TestExtractPDFFallsBackToDocAI(t *testing.T) {
	docai := &fakeDocAI{res: &gcp.DocAIResult{
		PageCount: 1,
		Segments:  []gcp.DocSegment{{Kind: "NarrativeText", Text: "scanned body text", Page: 1}},
	}}
	s := newService(&fakeMedia{t: t, pages: []string{"", ""}}, docai, nil)
	res, err := s.Extract(context.Background(), Request{Data: pdfBytes, Name: "scan_hun.pdf", Languages: []string{"hun"}})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Extractor != "documentai" || res.Text != "scanned body text" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(docai.hints) != 1 || docai.hints[0] != "hu" {
		t.Fatalf("hints: %v", docai.hints)
	}
}

func TestExtractPDFVisionFallback(t *testing.T) {
	vision := &fakeVision{text: "page text"}
	s := newService(&fakeMedia{t: t, pages: []string{""}, rendered: 3}, nil, vision)
	res, err := s.Extract(context.Background(), Request{Data: pdfBytes, Name: "scan.pdf"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if vision.calls != 3 || res.PageCount != 3 || len(res.Elements) != 3 {
		t.Fatalf("calls=%d result=%+v", vision.calls, res)
	}
}

func TestExtractPDFKeepsSparseTextWhenOCRFails(t *testing.T) {
	docai := &fakeDocAI{err: errors.New("quota")}
	s := newService(&fakeMedia{t: t, pages: []string{"short"}}, docai, nil)
	res, err := s.Extract(context.Background(), Request{Data: pdfBytes, Name: "a.pdf"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "short" {
		t.Fatalf("text: %q", res.Text)
	}
}

func TestExtractEmptyTextFails(t *testing.T) {
	cases := []struct {
		name string
		s    *Service
		req  Request
	}{
		{"whitespace text", newService(&fakeMedia{t: t}, nil, nil), Request{Data: []byte(" \n\t "), Name: "a.txt"}},
		{"blank pdf no ocr", newService(&fakeMedia{t: t, pages: []string{""}}, nil, nil), Request{Data: pdfBytes, Name: "a.pdf"}},
		{"empty input", newService(&fakeMedia{t: t}, nil, nil), Request{Name: "a.txt"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.s.Extract(context.Background(), tc.req); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	_, err := newService(&fakeMedia{t: t}, nil, nil).Extract(context.Background(), Request{Data: []byte("  "), Name: "a.txt"})
	if !errors.Is(err, ErrEmptyText) {
		t.Fatalf("want ErrEmptyText, got %v", err)
	}
}

func TestExtractOfficeConvertsToPDF(t *testing.T) {
	media := &fakeMedia{t: t, pages: []string{strings.Repeat("x", 300)}}
	s := newService(media, nil, nil)
	res, err := s.Extract(context.Background(), Request{Data: []byte("PK\x03\x04"), Name: "deck.pptx"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !media.converted || res.Extractor != "soffice+pdftotext" {
		t.Fatalf("converted=%v result=%+v", media.converted, res)
	}
}

func TestExtractEPUB(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"mimetype":          "application/epub+zip",
		"OEBPS/ch01.xhtml":  "<html><body><h1>Title</h1><p>First chapter.</p></body></html>",
		"OEBPS/ch02.xhtml":  "<html><body><p>Second chapter.</p></body></html>",
		"OEBPS/style/a.css": "p{}",
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip: %v", err)
		}
		_, _ = w.Write([]byte(body))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	s := newService(&fakeMedia{t: t}, nil, nil)
	res, err := s.Extract(context.Background(), Request{Data: buf.Bytes(), Name: "book.epub"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text != "Title\n\nFirst chapter.\n\nSecond chapter." {
		t.Fatalf("text: %q", res.Text)
	}
}

func TestExtractImageRequiresVision(t *testing.T) {
	s := newService(&fakeMedia{t: t}, nil, nil)
	if _, err := s.Extract(context.Background(), Request{Data: []byte{0x89, 'P'}, Name: "a.png"}); err == nil {
		t.Fatalf("expected error without vision")
	}
	s.Vision = &fakeVision{text: "sign text"}
	res, err := s.Extract(context.Background(), Request{Data: []byte{0x89, 'P'}, Name: "a.png", MimeType: "image/png"})
	if err != nil || res.Text != "sign text" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestExtractUnsupported(t *testing.T) {
	s := newService(&fakeMedia{t: t}, nil, nil)
	_, err := s.Extract(context.Background(), Request{Data: []byte{0, 1, 2, 3, 0, 0, 0}, Name: "blob.bin"})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("want ErrUnsupported, got %v", err)
	}
}
