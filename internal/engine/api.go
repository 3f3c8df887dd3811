package engine

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"github.com/david/grant-scraper/internal/models"
)

// maxConsecutivePageErrors aborts the scrape once this many pages fail in a
// row. Isolated page failures are recorded and skipped.
const maxConsecutivePageErrors = 3

const defaultPageSize = 50

// APIEngine walks JSON, XML, or CSV endpoints with offset, cursor, or page
// pagination. Selector map entries are interpreted per format: dotted paths
// for JSON, XPath for XML, column names for CSV; ItemsPath locates the item
// collection.
type APIEngine struct {
	limiter *SourceLimiter

	// Client overrides the default SSRF-safe client when set. Tests point
	// it at local fixtures.
	Client *http.Client
}

func NewAPIEngine(limiter *SourceLimiter) *APIEngine {
	return &APIEngine{limiter: limiter}
}

func (e *APIEngine) Kind() models.EngineKind { return models.EngineAPI }

func (e *APIEngine) Fetch(ctx context.Context, src models.Source) ([]models.RawGrant, error) {
	client, err := e.clientFor(ctx, src)
	if err != nil {
		return nil, err
	}

	pag := src.Pagination
	pageSize := defaultPageSize
	maxPages := 1
	scheme := models.PaginateOffset
	if pag != nil {
		if pag.PageSize > 0 {
			pageSize = pag.PageSize
		}
		if pag.MaxPages > 0 {
			maxPages = pag.MaxPages
		}
		if pag.Scheme != "" {
			scheme = pag.Scheme
		}
	}

	var all []models.RawGrant
	var pageErrs models.PageErrors
	cursor := ""
	consecutiveErrs := 0
	for page := 0; page < maxPages; page++ {
		if err := e.limiter.Wait(ctx, src); err != nil {
			return all, fmt.Errorf("rate limit wait: %w", err)
		}

		pageURL, err := e.pageURL(src, scheme, page, pageSize, cursor)
		if err != nil {
			return all, err
		}

		items, nextCursor, err := e.fetchPage(ctx, client, src, pageURL)
		e.limiter.AfterRequest(ctx, src)
		if err != nil {
			if isFatalScrapeError(err) {
				return all, err
			}
			consecutiveErrs++
			log.Printf("[api] %s: page %d failed (%d consecutive): %v", src.ID, page, consecutiveErrs, err)
			if consecutiveErrs >= maxConsecutivePageErrors {
				return all, models.NewScrapeError(models.ErrNetwork,
					fmt.Sprintf("aborted after %d consecutive page errors", consecutiveErrs), err)
			}
			pageErrs = append(pageErrs, tagPageError(src.ID, page, err))
			continue
		}
		consecutiveErrs = 0
		all = append(all, items...)

		if len(items) < pageSize {
			break
		}
		if scheme == models.PaginateCursor {
			if nextCursor == "" {
				break
			}
			cursor = nextCursor
		}
	}

	log.Printf("[api] %s: collected %d grants (%d pages skipped)", src.ID, len(all), len(pageErrs))
	if len(pageErrs) > 0 {
		return all, pageErrs
	}
	return all, nil
}

// tagPageError keeps an already-tagged page failure as-is and classifies
// anything else, stamping the page number into the message.
func tagPageError(sourceID string, page int, err error) *models.ScrapeError {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return &models.ScrapeError{
		Type:     models.ClassifyError(err),
		SourceID: sourceID,
		Message:  fmt.Sprintf("page %d failed", page),
		Err:      err,
	}
}

// isFatalScrapeError reports whether err must abort the whole scrape rather
// than count as a transient page failure.
func isFatalScrapeError(err error) bool {
	t := models.ClassifyError(err)
	return t == models.ErrAuthentication || t == models.ErrCaptcha
}

func (e *APIEngine) clientFor(ctx context.Context, src models.Source) (*http.Client, error) {
	base := e.Client
	if base == nil {
		base = NewHTTPClient(src.Timeout(), src.FollowRedirects())
	}
	if src.Auth != nil && src.Auth.Type == models.AuthOAuth2 {
		return OAuth2Client(ctx, src.Auth, base)
	}
	return base, nil
}

func (e *APIEngine) pageURL(src models.Source, scheme models.PaginationScheme, page, pageSize int, cursor string) (string, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return "", models.NewScrapeError(models.ErrParsing, "invalid source url", err)
	}
	if src.Pagination == nil {
		return u.String(), nil
	}

	q := u.Query()
	pag := src.Pagination
	sizeParam := pag.SizeParam
	if sizeParam == "" {
		sizeParam = "limit"
	}
	q.Set(sizeParam, strconv.Itoa(pageSize))

	switch scheme {
	case models.PaginateOffset:
		param := pag.PageParam
		if param == "" {
			param = "offset"
		}
		q.Set(param, strconv.Itoa(page*pageSize))
	case models.PaginatePage:
		param := pag.PageParam
		if param == "" {
			param = "page"
		}
		q.Set(param, strconv.Itoa(page+1))
	case models.PaginateCursor:
		if cursor != "" {
			param := pag.CursorParam
			if param == "" {
				param = "cursor"
			}
			q.Set(param, cursor)
		}
	default:
		return "", models.NewScrapeError(models.ErrParsing,
			fmt.Sprintf("unknown pagination scheme %q", scheme), nil)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// fetchPage requests one page and dispatches on content type. It returns
// the page's grants and, for cursor pagination, the next cursor.
func (e *APIEngine) fetchPage(ctx context.Context, client *http.Client, src models.Source, pageURL string) ([]models.RawGrant, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", RandomUserAgent())
	req.Header.Set("Accept", "application/json, application/xml, text/csv;q=0.9, */*;q=0.8")
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}
	if src.Auth != nil && src.Auth.Type != models.AuthOAuth2 {
		if err := ApplyAuth(req, src.Auth); err != nil {
			return nil, "", err
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", classifyHTTPError(src.ID, resp.StatusCode, fmt.Errorf("page fetch %s", pageURL))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 50*1024*1024))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	switch {
	case strings.Contains(contentType, "json"):
		return e.parseJSON(body, src)
	case strings.Contains(contentType, "xml"):
		grants, err := e.parseXML(body, src)
		return grants, "", err
	case strings.Contains(contentType, "csv"):
		grants, err := e.parseCSV(body, src)
		return grants, "", err
	default:
		// Sniff: JSON bodies start with { or [.
		trimmed := strings.TrimSpace(string(body))
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			return e.parseJSON(body, src)
		}
		if strings.HasPrefix(trimmed, "<") {
			grants, err := e.parseXML(body, src)
			return grants, "", err
		}
		grants, err := e.parseCSV(body, src)
		return grants, "", err
	}
}

func (e *APIEngine) parseJSON(body []byte, src models.Source) ([]models.RawGrant, string, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, "", models.NewScrapeError(models.ErrParsing, "json unmarshal failed", err)
	}

	itemsPath := ""
	cursorPath := ""
	if src.Pagination != nil {
		itemsPath = src.Pagination.ItemsPath
		cursorPath = src.Pagination.CursorPath
	}

	itemsVal := doc
	if itemsPath != "" {
		itemsVal = lookupPath(doc, itemsPath)
	}
	items, ok := itemsVal.([]interface{})
	if !ok {
		return nil, "", models.NewScrapeError(models.ErrParsing,
			fmt.Sprintf("items path %q did not resolve to an array", itemsPath), nil)
	}

	now := time.Now().UTC()
	sel := src.Selectors
	var grants []models.RawGrant
	for _, item := range items {
		raw := models.RawGrant{
			SourceURL:  src.URL,
			ScrapedAt:  now,
			RawContent: map[string]interface{}{"item": item},
		}
		raw.Title = stringAt(item, sel.Title)
		raw.Description = stringAt(item, sel.Description)
		raw.Deadline = stringAt(item, sel.Deadline)
		raw.FundingAmount = stringAt(item, sel.Amount)
		raw.Eligibility = stringAt(item, sel.Eligibility)
		raw.ApplicationURL = stringAt(item, sel.ApplicationURL)
		raw.FunderName = stringAt(item, sel.FunderInfo)
		grants = append(grants, raw)
	}

	nextCursor := ""
	if cursorPath != "" {
		if v := lookupPath(doc, cursorPath); v != nil {
			nextCursor = toString(v)
		}
	}
	return grants, nextCursor, nil
}

func (e *APIEngine) parseXML(body []byte, src models.Source) ([]models.RawGrant, error) {
	doc, err := xmlquery.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrParsing, "xml parse failed", err)
	}

	itemsXPath := "//item"
	if src.Pagination != nil && src.Pagination.ItemsPath != "" {
		itemsXPath = src.Pagination.ItemsPath
	}
	nodes, err := xmlquery.QueryAll(doc, itemsXPath)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrParsing,
			fmt.Sprintf("bad items xpath %q", itemsXPath), err)
	}

	now := time.Now().UTC()
	sel := src.Selectors
	var grants []models.RawGrant
	for _, node := range nodes {
		raw := models.RawGrant{
			SourceURL:  src.URL,
			ScrapedAt:  now,
			RawContent: map[string]interface{}{"xml": node.OutputXML(true)},
		}
		raw.Title = xpathText(node, sel.Title)
		raw.Description = xpathText(node, sel.Description)
		raw.Deadline = xpathText(node, sel.Deadline)
		raw.FundingAmount = xpathText(node, sel.Amount)
		raw.Eligibility = xpathText(node, sel.Eligibility)
		raw.ApplicationURL = xpathText(node, sel.ApplicationURL)
		raw.FunderName = xpathText(node, sel.FunderInfo)
		grants = append(grants, raw)
	}
	return grants, nil
}

func (e *APIEngine) parseCSV(body []byte, src models.Source) ([]models.RawGrant, error) {
	reader := csv.NewReader(strings.NewReader(string(body)))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrParsing, "csv parse failed", err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	field := func(row []string, name string) string {
		if name == "" {
			return ""
		}
		idx, ok := cols[strings.ToLower(name)]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	now := time.Now().UTC()
	sel := src.Selectors
	var grants []models.RawGrant
	for _, row := range records[1:] {
		raw := models.RawGrant{
			SourceURL:  src.URL,
			ScrapedAt:  now,
			RawContent: map[string]interface{}{"row": row},
		}
		raw.Title = field(row, sel.Title)
		raw.Description = field(row, sel.Description)
		raw.Deadline = field(row, sel.Deadline)
		raw.FundingAmount = field(row, sel.Amount)
		raw.Eligibility = field(row, sel.Eligibility)
		raw.ApplicationURL = field(row, sel.ApplicationURL)
		raw.FunderName = field(row, sel.FunderInfo)
		grants = append(grants, raw)
	}
	return grants, nil
}

// lookupPath walks a dotted path through nested JSON maps and array
// indexes.
func lookupPath(doc interface{}, path string) interface{} {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]interface{}:
			cur = v[part]
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			cur = v[idx]
		default:
			return nil
		}
	}
	return cur
}

func stringAt(item interface{}, path string) string {
	if path == "" {
		return ""
	}
	return toString(lookupPath(item, path))
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func xpathText(node *xmlquery.Node, expr string) string {
	if expr == "" {
		return ""
	}
	found, err := xmlquery.Query(node, expr)
	if err != nil || found == nil {
		return ""
	}
	return strings.TrimSpace(found.InnerText())
}
