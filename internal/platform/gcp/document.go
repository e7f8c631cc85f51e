package gcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/yungbote/docingest-backend/internal/platform/envutil"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

// Document runs layout OCR on raw document bytes.
type Document interface {
	ProcessBytes(ctx context.Context, req DocAIProcessBytesRequest) (*DocAIResult, error)
	Close() error
}

type DocAIProcessBytesRequest struct {
	MimeType      string
	Data          []byte
	LanguageHints []string
}

// DocSegment is one unit of extracted text: a page body, a table rendered as markdown, or a
// form field line.
type DocSegment struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
	Page int    `json:"page,omitempty"`
}

type DocAIResult struct {
	Processor   string       `json:"processor"`
	MimeType    string       `json:"mime_type"`
	PrimaryText string       `json:"primary_text"`
	PageCount   int          `json:"page_count"`
	Segments    []DocSegment `json:"segments,omitempty"`
}

type DocumentConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
}

func DocumentConfigFromEnv() DocumentConfig {
	return DocumentConfig{
		ProjectID:        envutil.String("DOCUMENTAI_PROJECT_ID", envutil.String("GOOGLE_CLOUD_PROJECT", "")),
		Location:         envutil.String("DOCUMENTAI_LOCATION", "us"),
		ProcessorID:      envutil.String("DOCUMENTAI_PROCESSOR_ID", ""),
		ProcessorVersion: envutil.String("DOCUMENTAI_PROCESSOR_VERSION", ""),
	}
}

// Enabled reports whether enough is configured to address a processor.
func (c DocumentConfig) Enabled() bool {
	return processorName(c.ProjectID, c.Location, c.ProcessorID, c.ProcessorVersion) != ""
}

type documentService struct {
	log       *logger.Logger
	cfg       DocumentConfig
	name      string
	docClient *documentai.DocumentProcessorClient
}

func NewDocument(ctx context.Context, log *logger.Logger, cfg DocumentConfig) (Document, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	if !cfg.Enabled() {
		return nil, errors.New("documentai: DOCUMENTAI_PROJECT_ID and DOCUMENTAI_PROCESSOR_ID are required")
	}
	slog := log.With("service", "gcp.Document")

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}
	name := processorName(cfg.ProjectID, cfg.Location, cfg.ProcessorID, cfg.ProcessorVersion)
	slog.Info("Document AI initialized", "endpoint", endpoint, "processor", name)
	return &documentService{log: slog, cfg: cfg, name: name, docClient: c}, nil
}

func (s *documentService) Close() error {
	if s == nil || s.docClient == nil {
		return nil
	}
	return s.docClient.Close()
}

func (s *documentService) ProcessBytes(ctx context.Context, req DocAIProcessBytesRequest) (*DocAIResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if req.MimeType == "" {
		req.MimeType = "application/pdf"
	}
	if len(req.Data) == 0 {
		return &DocAIResult{Processor: s.name, MimeType: req.MimeType}, nil
	}

	r := &documentaipb.ProcessRequest{
		Name: s.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  req.Data,
				MimeType: req.MimeType,
			},
		},
	}
	if len(req.LanguageHints) > 0 {
		r.ProcessOptions = &documentaipb.ProcessOptions{
			OcrConfig: &documentaipb.OcrConfig{
				Hints: &documentaipb.OcrConfig_Hints{LanguageHints: req.LanguageHints},
			},
		}
	}

	resp, err := s.docClient.ProcessDocument(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return &DocAIResult{Processor: s.name, MimeType: req.MimeType}, nil
	}
	return buildDocAIResult(resp.Document, s.name, req.MimeType), nil
}

// buildDocAIResult flattens a processed document into page text, markdown tables and
// "name: value" form lines, in page order.
func buildDocAIResult(doc *documentaipb.Document, processor string, mimeType string) *DocAIResult {
	out := &DocAIResult{Processor: processor, MimeType: mimeType}
	if doc == nil {
		return out
	}
	out.PrimaryText = strings.TrimSpace(doc.Text)
	out.PageCount = len(doc.Pages)
	anchor := func(l *documentaipb.Document_Page_Layout) string {
		if l == nil {
			return ""
		}
		return strings.TrimSpace(anchorText(doc.Text, l.TextAnchor))
	}
	add := func(kind, text string, page int) {
		if text != "" {
			out.Segments = append(out.Segments, DocSegment{Kind: kind, Text: text, Page: page})
		}
	}

	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		page := int(p.PageNumber)
		var paras []string
		for _, para := range p.Paragraphs {
			if t := anchor(para.GetLayout()); t != "" {
				paras = append(paras, t)
			}
		}
		add("NarrativeText", strings.Join(paras, "\n"), page)

		for _, t := range p.Tables {
			var rows [][]string
			for _, r := range append(append([]*documentaipb.Document_Page_Table_TableRow{}, t.GetHeaderRows()...), t.GetBodyRows()...) {
				var cells []string
				for _, c := range r.GetCells() {
					cells = append(cells, anchor(c.GetLayout()))
				}
				rows = append(rows, cells)
			}
			add("Table", markdownTable(rows), page)
		}

		for _, ff := range p.FormFields {
			k, v := anchor(ff.GetFieldName()), anchor(ff.GetFieldValue())
			if k != "" || v != "" {
				add("FormField", collapseWhitespace(k+": "+v), page)
			}
		}
	}

	// Some processors fill doc.Text without page paragraphs.
	if len(out.Segments) == 0 {
		add("NarrativeText", out.PrimaryText, 0)
	}
	return out
}

func anchorText(full string, a *documentaipb.Document_TextAnchor) string {
	var b strings.Builder
	for _, seg := range a.GetTextSegments() {
		start, end := max(int(seg.GetStartIndex()), 0), min(int(seg.GetEndIndex()), len(full))
		if start < end {
			b.WriteString(full[start:end])
		}
	}
	return b.String()
}

// markdownTable renders rows with the first row as header; short rows are padded.
func markdownTable(rows [][]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	if width == 0 {
		return ""
	}
	var b strings.Builder
	line := func(cells []string) {
		b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(cells[i], "|", "\\|")
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}
	line(rows[0])
	line(slicesRepeat("---", width))
	for _, r := range rows[1:] {
		line(r)
	}
	return strings.TrimSpace(b.String())
}

func slicesRepeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func processorName(project, location, processorID, version string) string {
	project, location, processorID = strings.TrimSpace(project), strings.TrimSpace(location), strings.TrimSpace(processorID)
	if project == "" || location == "" || processorID == "" {
		return ""
	}
	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if v := strings.TrimSpace(version); v != "" {
		name += "/processorVersions/" + v
	}
	return name
}
