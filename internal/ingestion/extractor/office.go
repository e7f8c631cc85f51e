package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
)

// extractOffice converts Word/PowerPoint/Excel documents to PDF and runs the PDF chain.
func (s *Service) extractOffice(ctx context.Context, data []byte, ext string, langs []string) (*Result, error) {
	if s.Media == nil {
		return nil, fmt.Errorf("office convert: media tools unavailable")
	}
	in, cleanup, err := s.Media.WriteTempFile(data, ext)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	dir, rmDir, err := s.Media.TempDir("office")
	if err != nil {
		return nil, err
	}
	defer rmDir()

	pdfPath, err := s.Media.ConvertOfficeToPDF(ctx, in, dir)
	if err != nil {
		return nil, err
	}
	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("read converted pdf: %w", err)
	}
	res, err := s.extractPDF(ctx, pdf, langs)
	if err != nil {
		return nil, err
	}
	res.Extractor = "soffice+" + res.Extractor
	return res, nil
}

// extractEPUB reads the XHTML spine documents in archive order.
func extractEPUB(data []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	var files []*zip.File
	for _, f := range zr.File {
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".xhtml", ".html", ".htm":
			files = append(files, f)
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	res := &Result{Extractor: "epub"}
	for i, f := range files {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(io.LimitReader(rc, 32<<20))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		html := strings.NewReplacer("</p>", "\n\n", "<br/>", "\n", "<br>", "\n", "</h1>", "\n\n", "</h2>", "\n\n", "</div>", "\n\n").Replace(string(b))
		res.Elements = append(res.Elements, paragraphElements(stripTags(sanitizeUTF8(html)), i+1)...)
	}
	res.PageCount = len(files)
	return res, nil
}
