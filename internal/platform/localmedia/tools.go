package localmedia

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/docingest-backend/internal/platform/envutil"
	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

// Tools wraps the poppler and LibreOffice binaries used on the extraction fast path:
// pdftotext, pdfinfo and pdftoppm from poppler-utils, and soffice for legacy Office formats.
type Tools interface {
	Available(name string) bool

	PDFToText(ctx context.Context, pdfPath string) ([]string, error)
	CountPDFPages(ctx context.Context, pdfPath string) (int, error)
	RenderPDFToImages(ctx context.Context, pdfPath string, outDir string, dpi int) ([]string, error)
	ConvertOfficeToPDF(ctx context.Context, inputPath string, outDir string) (string, error)

	WriteTempFile(data []byte, suffix string) (string, func(), error)
	TempDir(prefix string) (string, func(), error)
}

const (
	binPDFToText = "pdftotext"
	binPDFInfo   = "pdfinfo"
	binPDFToPPM  = "pdftoppm"
	binSoffice   = "soffice"

	defaultRenderDPI = 200
	pdfInfoTimeout   = 30 * time.Second
	maxToolOutput    = 512
)

var (
	renderedPage = regexp.MustCompile(`^page-\d+\.png$`)
	pdfFile      = regexp.MustCompile(`\.pdf$`)
)

// ToolError carries the tail of a failed tool's combined output.
type ToolError struct {
	Tool   string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Output)
}

func (e *ToolError) Unwrap() error { return e.Err }

type tools struct {
	log      *logger.Logger
	bins     map[string]string
	workRoot string
	timeout  time.Duration
}

func New(log *logger.Logger) Tools {
	return &tools{
		log: log.With("service", "MediaTools"),
		bins: map[string]string{
			binSoffice:   envutil.String("SOFFICE_PATH", binSoffice),
			binPDFToText: envutil.String("PDFTOTEXT_PATH", binPDFToText),
			binPDFInfo:   envutil.String("PDFINFO_PATH", binPDFInfo),
			binPDFToPPM:  envutil.String("PDFTOPPM_PATH", binPDFToPPM),
		},
		workRoot: envutil.String("MEDIA_WORK_DIR", filepath.Join(os.TempDir(), "docingest-media")),
		timeout:  envutil.Duration("MEDIA_TOOL_TIMEOUT_SECONDS", 10*time.Minute, time.Second),
	}
}

func (m *tools) bin(name string) string {
	if p, ok := m.bins[name]; ok {
		return p
	}
	return name
}

func (m *tools) Available(name string) bool {
	_, err := exec.LookPath(m.bin(name))
	return err == nil
}

// run executes a tool with a timeout. When stdoutOnly is set stderr is kept out of the
// returned bytes but still reported on failure.
func (m *tools) run(ctx context.Context, timeout time.Duration, stdoutOnly bool, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.bin(name), args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout
	if stdoutOnly {
		cmd.Stderr = &stderr
	}
	if err := cmd.Run(); err != nil {
		diag := stderr.String()
		if !stdoutOnly {
			diag = stdout.String()
		}
		return nil, &ToolError{Tool: name, Output: tail(diag, maxToolOutput), Err: err}
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

func (m *tools) ensureWorkRoot() error {
	if err := os.MkdirAll(m.workRoot, 0o755); err != nil {
		return fmt.Errorf("media work dir: %w", err)
	}
	return nil
}

// WriteTempFile stores data under the work root. The name starts with a content hash prefix
// so leftover files can be traced back to their source.
func (m *tools) WriteTempFile(data []byte, suffix string) (string, func(), error) {
	noop := func() {}
	if err := m.ensureWorkRoot(); err != nil {
		return "", noop, err
	}
	if suffix != "" && suffix[0] != '.' {
		suffix = "." + suffix
	}
	sum := sha256.Sum256(data)
	f, err := os.CreateTemp(m.workRoot, hex.EncodeToString(sum[:8])+"-*"+suffix)
	if err != nil {
		return "", noop, fmt.Errorf("temp file: %w", err)
	}
	path := f.Name()
	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return "", noop, fmt.Errorf("temp file %s: %w", filepath.Base(path), werr)
	}
	return path, func() { _ = os.Remove(path) }, nil
}

func (m *tools) TempDir(prefix string) (string, func(), error) {
	if err := m.ensureWorkRoot(); err != nil {
		return "", func() {}, err
	}
	dir, err := os.MkdirTemp(m.workRoot, prefix+"-*")
	if err != nil {
		return "", func() {}, fmt.Errorf("temp dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// PDFToText returns the text layer of each page. Scanned pages come back empty.
func (m *tools) PDFToText(ctx context.Context, pdfPath string) ([]string, error) {
	if pdfPath == "" {
		return nil, errors.New("pdftotext: empty path")
	}
	out, err := m.run(ctx, m.timeout, true, binPDFToText, "-layout", "-enc", "UTF-8", pdfPath, "-")
	if err != nil {
		return nil, err
	}
	return splitPages(string(out)), nil
}

// splitPages splits pdftotext output on form feeds. The trailing feed after the last page is
// dropped.
func splitPages(out string) []string {
	pages := strings.Split(out, "\f")
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	for i, p := range pages {
		pages[i] = strings.TrimSpace(p)
	}
	return pages
}

func (m *tools) CountPDFPages(ctx context.Context, pdfPath string) (int, error) {
	if pdfPath == "" {
		return 0, errors.New("pdfinfo: empty path")
	}
	out, err := m.run(ctx, pdfInfoTimeout, false, binPDFInfo, pdfPath)
	if err != nil {
		return 0, err
	}
	return parsePDFInfoPages(string(out))
}

func parsePDFInfoPages(out string) (int, error) {
	for _, line := range strings.Split(out, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Pages:")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, errors.New("pdfinfo: no Pages line in output")
}

// RenderPDFToImages writes one PNG per page into outDir and returns them in page order.
func (m *tools) RenderPDFToImages(ctx context.Context, pdfPath string, outDir string, dpi int) ([]string, error) {
	if pdfPath == "" || outDir == "" {
		return nil, errors.New("pdftoppm: input and output paths required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("pdftoppm out dir: %w", err)
	}
	if dpi <= 0 {
		dpi = defaultRenderDPI
	}
	if _, err := m.run(ctx, m.timeout, false, binPDFToPPM, "-r", strconv.Itoa(dpi), "-png", pdfPath, filepath.Join(outDir, "page")); err != nil {
		return nil, err
	}
	paths, err := globSorted(outDir, renderedPage)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("pdftoppm: no pages rendered from %s", filepath.Base(pdfPath))
	}
	return paths, nil
}

// ConvertOfficeToPDF converts DOC/PPT/XLS and friends with headless LibreOffice. Each call
// gets its own profile dir so conversions can run concurrently.
func (m *tools) ConvertOfficeToPDF(ctx context.Context, inputPath string, outDir string) (string, error) {
	if inputPath == "" || outDir == "" {
		return "", errors.New("soffice: input and output paths required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("soffice out dir: %w", err)
	}
	args := []string{
		"-env:UserInstallation=file://" + filepath.Join(outDir, ".lo-profile"),
		"--headless", "--nologo", "--nolockcheck", "--nodefault", "--norestore",
		"--convert-to", "pdf",
		"--outdir", outDir,
		inputPath,
	}
	if _, err := m.run(ctx, m.timeout, false, binSoffice, args...); err != nil {
		return "", err
	}

	want := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))+".pdf")
	pdfPath, err := existingOrLatest(want, outDir)
	if err != nil {
		return "", err
	}
	m.log.Debug("office converted", "input", filepath.Base(inputPath), "pdf", filepath.Base(pdfPath))
	return pdfPath, nil
}

// existingOrLatest returns want when it exists, otherwise the last PDF in dir. soffice
// sometimes renames output for inputs with unusual names.
func existingOrLatest(want, dir string) (string, error) {
	if _, err := os.Stat(want); err == nil {
		return want, nil
	}
	paths, err := globSorted(dir, pdfFile)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("soffice: no pdf written to %s", dir)
	}
	return paths[len(paths)-1], nil
}

func globSorted(dir string, re *regexp.Regexp) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && re.MatchString(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}
