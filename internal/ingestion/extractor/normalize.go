package extractor

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/docingest-backend/internal/ingestion/contentstore"
)

const (
	KindText    = "text"
	KindPDF     = "pdf"
	KindOffice  = "office"
	KindEPUB    = "epub"
	KindImage   = "image"
	KindUnknown = "unknown"
)

var officeExts = map[string]bool{
	".doc": true, ".docx": true, ".odt": true, ".rtf": true,
	".ppt": true, ".pptx": true, ".odp": true,
	".xls": true, ".xlsx": true, ".ods": true,
}

var textExts = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".log": true, ".json": true,
	".yaml": true, ".yml": true, ".xml": true, ".html": true, ".htm": true,
}

func ClassifyKind(ext, mime string, head []byte) string {
	m := strings.ToLower(strings.TrimSpace(mime))
	switch {
	case m == "application/pdf" || ext == ".pdf" || isPDFHeader(head):
		return KindPDF
	case ext == ".epub" || m == "application/epub+zip":
		return KindEPUB
	case officeExts[ext] || strings.Contains(m, "officedocument") || m == "application/msword":
		return KindOffice
	case strings.HasPrefix(m, "image/") || ext == ".png" || ext == ".jpg" || ext == ".jpeg" || ext == ".tif" || ext == ".tiff" || ext == ".webp":
		return KindImage
	case strings.HasPrefix(m, "text/") || textExts[ext]:
		return KindText
	}
	return KindUnknown
}

func isPDFHeader(b []byte) bool {
	return len(b) >= 5 && bytes.Equal(b[:5], []byte("%PDF-"))
}

var tagRe = regexp.MustCompile(`(?s)<[^>]*>`)

// ExtractTextStrict decodes text-like formats. HTML tags are stripped.
func ExtractTextStrict(ext, mime string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no data")
	}
	m := strings.ToLower(strings.TrimSpace(mime))
	if !strings.HasPrefix(m, "text/") && !textExts[ext] && !looksLikeText(data) {
		return "", fmt.Errorf("%w: strict extraction for mime=%q ext=%q", ErrUnsupported, mime, ext)
	}
	s := sanitizeUTF8(string(data))
	if m == "text/html" || ext == ".html" || ext == ".htm" {
		s = stripTags(s)
	}
	return s, nil
}

func stripTags(s string) string {
	return tagRe.ReplaceAllString(s, " ")
}

func looksLikeText(data []byte) bool {
	printable, total := 0, 0
	for _, r := range string(data) {
		total++
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127 && r != utf8.RuneError) {
			printable++
		}
	}
	return total > 0 && float64(printable)/float64(total) > 0.90
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, " ")
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// NormalizeText keeps paragraph breaks but trims line noise.
func NormalizeText(s string) string {
	s = sanitizeUTF8(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ReplaceAll(s, "\x00", "")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	s = strings.Join(lines, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// paragraphElements splits text on blank lines. page 0 means unknown.
func paragraphElements(text string, page int) []contentstore.Element {
	var out []contentstore.Element
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, contentstore.Element{Type: "NarrativeText", Text: p, Page: page})
	}
	return out
}

func JoinElements(elems []contentstore.Element) string {
	var b strings.Builder
	for _, el := range elems {
		if el.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(el.Text)
	}
	return b.String()
}
