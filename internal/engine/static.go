package engine

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/david/grant-scraper/internal/models"
)

// StaticEngine scrapes server-rendered HTML pages with colly and runs the
// shared selector extraction over the response body.
type StaticEngine struct {
	limiter *SourceLimiter
	robots  *RobotsChecker
}

func NewStaticEngine(limiter *SourceLimiter, robots *RobotsChecker) *StaticEngine {
	return &StaticEngine{limiter: limiter, robots: robots}
}

func (e *StaticEngine) Kind() models.EngineKind { return models.EngineStatic }

func (e *StaticEngine) Fetch(ctx context.Context, src models.Source) ([]models.RawGrant, error) {
	ua := RandomUserAgent()

	if src.RateLimit.RespectRobots && e.robots != nil {
		if !e.robots.Allowed(ctx, ua, src.URL) {
			return nil, models.NewScrapeError(models.ErrNetwork, "robots.txt disallows "+src.URL, nil)
		}
	}
	if err := e.limiter.Wait(ctx, src); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	parsed, err := url.Parse(src.URL)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrParsing, "invalid source url", err)
	}

	opts := []colly.CollectorOption{
		colly.UserAgent(ua),
		colly.MaxBodySize(10 * 1024 * 1024),
		colly.AllowURLRevisit(),
		colly.AllowedDomains(parsed.Host),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	}
	if !src.RateLimit.RespectRobots {
		opts = append(opts, colly.IgnoreRobotsTxt())
	}
	c := colly.NewCollector(opts...)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       time.Duration(src.RateLimit.MinDelayMS) * time.Millisecond,
	})
	c.SetRequestTimeout(src.Timeout())
	c.WithTransport(NewHTTPClient(src.Timeout(), src.FollowRedirects()).Transport)
	if !src.FollowRedirects() {
		c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		})
	}

	c.OnRequest(func(r *colly.Request) {
		for k, v := range src.Headers {
			r.Headers.Set(k, v)
		}
	})

	var body string
	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = classifyHTTPError(src.ID, status, err)
	})

	if err := c.Visit(src.URL); err != nil {
		return nil, classifyHTTPError(src.ID, 0, err)
	}
	c.Wait()

	e.limiter.AfterRequest(ctx, src)

	if fetchErr != nil {
		return nil, fetchErr
	}
	if body == "" {
		return nil, models.NewScrapeError(models.ErrNetwork, "empty response body", nil)
	}

	grants, err := ExtractFromHTML(body, src)
	if err != nil {
		return nil, err
	}
	log.Printf("[static] %s: extracted %d grants", src.ID, len(grants))
	return grants, nil
}

// classifyHTTPError maps an HTTP failure onto the error taxonomy.
func classifyHTTPError(sourceID string, status int, err error) error {
	se := &models.ScrapeError{SourceID: sourceID, Err: err}
	switch {
	case status == 401 || status == 403:
		se.Type = models.ErrAuthentication
		se.Message = fmt.Sprintf("status %d", status)
	case status == 429:
		se.Type = models.ErrRateLimit
		se.Message = "status 429"
	case status >= 400:
		se.Type = models.ErrNetwork
		se.Message = fmt.Sprintf("status %d", status)
	default:
		se.Type = models.ClassifyError(err)
		se.Message = "request failed"
	}
	return se
}
