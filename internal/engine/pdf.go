package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/otiai10/gosseract/v2"
	rpdf "rsc.io/pdf"

	"github.com/david/grant-scraper/internal/models"
	"github.com/david/grant-scraper/internal/textutil"
)

const (
	// OCR kicks in when native extraction produced too little text or the
	// text looks like decoding garbage.
	ocrMinTextLen        = 100
	ocrMaxNonAlnumRatio  = 0.30
	ocrComparableFactor  = 0.8
	pdfTextSeparator     = "\n--- OCR ---\n"
	maxPDFDownloadSize   = 100 * 1024 * 1024
	pdfRasterDPI         = "200"
	maxRasterizedOCRPage = 20
)

// PDFEngine downloads a PDF, extracts text and metadata, splits sections
// and tables heuristically, and falls back to OCR when native extraction is
// unusable.
type PDFEngine struct {
	limiter *SourceLimiter

	// OCRLanguage is a tesseract language code, default "eng".
	OCRLanguage string
	// DisableOCR skips the raster+OCR fallback (for hosts without
	// tesseract installed).
	DisableOCR bool
}

func NewPDFEngine(limiter *SourceLimiter, ocrLanguage string) *PDFEngine {
	if ocrLanguage == "" {
		ocrLanguage = "eng"
	}
	return &PDFEngine{limiter: limiter, OCRLanguage: ocrLanguage}
}

func (e *PDFEngine) Kind() models.EngineKind { return models.EnginePDF }

func (e *PDFEngine) Fetch(ctx context.Context, src models.Source) ([]models.RawGrant, error) {
	if err := e.limiter.Wait(ctx, src); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	content, err := e.download(ctx, src)
	e.limiter.AfterRequest(ctx, src)
	if err != nil {
		return nil, err
	}

	text, meta, err := extractPDFText(content)
	if err != nil {
		log.Printf("[pdf] %s: native extraction failed: %v", src.ID, err)
	}

	ocrText := ""
	ocrConfidence := 0.0
	if e.needsOCR(text) && !e.DisableOCR {
		ocrText, ocrConfidence, err = e.runOCR(ctx, content)
		if err != nil {
			// Partial OCR failure is non-fatal; keep whatever text we have.
			log.Printf("[pdf] %s: ocr failed: %v", src.ID, err)
		}
	}
	final := chooseText(text, ocrText)
	if strings.TrimSpace(final) == "" {
		return nil, models.NewScrapeError(models.ErrParsing, "pdf yielded no text", nil)
	}

	sections := splitSections(final)
	tables := extractTables(final)

	raw := models.RawGrant{
		SourceURL: src.URL,
		ScrapedAt: time.Now().UTC(),
		RawContent: map[string]interface{}{
			"pdf_metadata":   meta,
			"sections":       sectionTitles(sections),
			"tables":         tables,
			"ocr_used":       ocrText != "",
			"ocr_confidence": ocrConfidence,
			"text_quality":   textutil.TextQuality(final),
		},
	}

	raw.Title = pickTitle(sections, meta, final)
	raw.Description = pickDescription(sections, final)
	raw.Deadline = firstSectionMatching(sections, "deadline", "due date", "timeline", "dates")
	raw.FundingAmount = firstSectionMatching(sections, "funding", "award", "amount", "budget")
	raw.Eligibility = firstSectionMatching(sections, "eligibility", "who can apply", "eligible")

	// Section headings miss a lot of notices; fall back to the pattern
	// library over the whole document.
	if raw.Deadline == "" {
		if m := textutil.BestMatch(textutil.ExtractDeadlines(final)); m != nil {
			raw.Deadline = m.Value
		}
	}
	if raw.FundingAmount == "" {
		if m := textutil.BestMatch(textutil.ExtractFundingAmounts(final)); m != nil {
			raw.FundingAmount = m.Value
		}
	}
	if raw.Eligibility == "" {
		if m := textutil.BestMatch(textutil.ExtractEligibility(final)); m != nil {
			raw.Eligibility = m.Value
		}
	}
	if m := textutil.BestMatch(textutil.ExtractURLs(final)); m != nil {
		raw.ApplicationURL = m.Value
	}

	log.Printf("[pdf] %s: extracted 1 grant from %d sections (%d tables, ocr=%v)",
		src.ID, len(sections), len(tables), ocrText != "")
	return []models.RawGrant{raw}, nil
}

func (e *PDFEngine) download(ctx context.Context, src models.Source) ([]byte, error) {
	client := NewHTTPClient(src.Timeout(), src.FollowRedirects())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", RandomUserAgent())
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}
	if src.Auth != nil && src.Auth.Type != models.AuthOAuth2 {
		if err := ApplyAuth(req, src.Auth); err != nil {
			return nil, err
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrNetwork, "pdf download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(src.ID, resp.StatusCode, fmt.Errorf("pdf download %s", src.URL))
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFDownloadSize))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrNetwork, "pdf read failed", err)
	}
	return content, nil
}

// pdfMetadata is the subset of document info the processor cares about.
type pdfMetadata struct {
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	Subject  string `json:"subject,omitempty"`
	NumPages int    `json:"num_pages"`
}

// extractPDFText pulls text and metadata from a PDF. The parser panics on
// malformed files, so recover and surface that as an error.
func extractPDFText(content []byte) (text string, meta pdfMetadata, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", meta, err
	}
	meta.NumPages = reader.NumPage()

	info := reader.Trailer().Key("Info")
	if !info.IsNull() {
		meta.Title = info.Key("Title").Text()
		meta.Author = info.Key("Author").Text()
		meta.Subject = info.Key("Subject").Text()
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		var prevY float64
		for _, fragment := range page.Content().Text {
			if prevY != 0 && fragment.Y != prevY {
				builder.WriteString("\n")
			} else if builder.Len() > 0 {
				builder.WriteString(" ")
			}
			builder.WriteString(fragment.S)
			prevY = fragment.Y
		}
		builder.WriteString("\n")
	}
	return builder.String(), meta, nil
}

// needsOCR flags text that is too short or too garbled to trust.
func (e *PDFEngine) needsOCR(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < ocrMinTextLen {
		return true
	}
	nonAlnum := 0
	total := 0
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			nonAlnum++
		}
	}
	return total > 0 && float64(nonAlnum)/float64(total) > ocrMaxNonAlnumRatio
}

// runOCR rasterizes pages with pdftoppm and feeds them through tesseract.
func (e *PDFEngine) runOCR(ctx context.Context, content []byte) (string, float64, error) {
	dir, err := os.MkdirTemp("", "pdfocr-*")
	if err != nil {
		return "", 0, fmt.Errorf("ocr tempdir: %w", err)
	}
	defer os.RemoveAll(dir)

	pdfPath := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(pdfPath, content, 0o600); err != nil {
		return "", 0, fmt.Errorf("ocr write pdf: %w", err)
	}

	cmd := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", pdfRasterDPI, pdfPath, filepath.Join(dir, "page"))
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", 0, fmt.Errorf("pdftoppm: %w: %s", err, out)
	}

	pages, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil || len(pages) == 0 {
		return "", 0, fmt.Errorf("no rasterized pages")
	}
	if len(pages) > maxRasterizedOCRPage {
		pages = pages[:maxRasterizedOCRPage]
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(e.OCRLanguage); err != nil {
		return "", 0, fmt.Errorf("ocr language %q: %w", e.OCRLanguage, err)
	}

	var builder strings.Builder
	var confSum float64
	var confPages int
	for _, page := range pages {
		if ctx.Err() != nil {
			return builder.String(), avg(confSum, confPages), ctx.Err()
		}
		if err := client.SetImage(page); err != nil {
			log.Printf("[pdf] ocr skipping page %s: %v", filepath.Base(page), err)
			continue
		}
		pageText, err := client.Text()
		if err != nil {
			log.Printf("[pdf] ocr failed on page %s: %v", filepath.Base(page), err)
			continue
		}
		builder.WriteString(pageText)
		builder.WriteString("\n")
		confSum += textConfidence(pageText)
		confPages++
	}
	return builder.String(), avg(confSum, confPages), nil
}

func avg(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// textConfidence is a cheap proxy for OCR quality: the share of
// alphanumeric-plus-space runes.
func textConfidence(text string) float64 {
	if text == "" {
		return 0
	}
	good := 0
	total := 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || strings.ContainsRune(".,;:-$%()", r) {
			good++
		}
	}
	return float64(good) / float64(total)
}

// chooseText prefers the longer of native and OCR text; when they are
// comparable in length, both are kept with a separator.
func chooseText(native, ocr string) string {
	native = strings.TrimSpace(native)
	ocr = strings.TrimSpace(ocr)
	switch {
	case ocr == "":
		return native
	case native == "":
		return ocr
	case float64(len(native)) >= ocrComparableFactor*float64(len(ocr)) &&
		float64(len(ocr)) >= ocrComparableFactor*float64(len(native)):
		return native + pdfTextSeparator + ocr
	case len(native) > len(ocr):
		return native
	default:
		return ocr
	}
}

// section is one heading-delimited chunk of the document.
type section struct {
	Title string
	Body  string
}

var headerRe = regexp.MustCompile(`^\s*(?:[0-9]+[.)]\s+)?[A-Z][A-Za-z0-9 ,&/-]{2,60}:?\s*$`)

// splitSections breaks text into heading-delimited chunks. A line counts as
// a heading when it is short, starts capitalized, and carries no sentence
// punctuation.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")
	var sections []section
	current := section{Title: ""}
	flush := func() {
		current.Body = strings.TrimSpace(current.Body)
		if current.Title != "" || current.Body != "" {
			sections = append(sections, current)
		}
	}
	for _, line := range lines {
		if headerRe.MatchString(line) && !strings.HasSuffix(strings.TrimSpace(line), ".") {
			flush()
			current = section{Title: strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ":"))}
			continue
		}
		current.Body += line + "\n"
	}
	flush()
	return sections
}

func sectionTitles(sections []section) []string {
	titles := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.Title != "" {
			titles = append(titles, s.Title)
		}
	}
	return titles
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// extractTables finds runs of lines that split into the same column count
// on multi-whitespace boundaries.
func extractTables(text string) [][][]string {
	var tables [][][]string
	var current [][]string
	cols := 0
	flush := func() {
		if len(current) >= 2 {
			tables = append(tables, current)
		}
		current = nil
		cols = 0
	}
	for _, line := range strings.Split(text, "\n") {
		cells := multiSpaceRe.Split(strings.TrimSpace(line), -1)
		if len(cells) >= 2 {
			if cols == 0 || len(cells) == cols {
				cols = len(cells)
				current = append(current, cells)
				continue
			}
		}
		flush()
	}
	flush()
	return tables
}

func pickTitle(sections []section, meta pdfMetadata, text string) string {
	if meta.Title != "" {
		return meta.Title
	}
	for _, s := range sections {
		if s.Title != "" {
			return s.Title
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); len(l) >= 10 {
			return l
		}
	}
	return ""
}

func pickDescription(sections []section, text string) string {
	for _, s := range sections {
		for _, hint := range []string{"overview", "description", "summary", "about", "purpose"} {
			if strings.Contains(strings.ToLower(s.Title), hint) && s.Body != "" {
				return s.Body
			}
		}
	}
	// Fall back to the longest section body.
	longest := ""
	for _, s := range sections {
		if len(s.Body) > len(longest) {
			longest = s.Body
		}
	}
	if longest != "" {
		return longest
	}
	return strings.TrimSpace(text)
}

func firstSectionMatching(sections []section, hints ...string) string {
	for _, s := range sections {
		title := strings.ToLower(s.Title)
		for _, hint := range hints {
			if strings.Contains(title, hint) {
				return strings.TrimSpace(s.Body)
			}
		}
	}
	return ""
}
