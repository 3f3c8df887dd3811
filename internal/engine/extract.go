package engine

import (
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/david/grant-scraper/internal/models"
)

// ExtractFromHTML applies the source's selector map to an HTML document and
// returns one RawGrant per container hit. Individual container failures are
// logged and skipped; zero containers is a content-changed error because it
// usually means the page structure moved under the selectors.
func ExtractFromHTML(html string, src models.Source) ([]models.RawGrant, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrParsing, "html parse failed", err)
	}

	sel := src.Selectors
	if sel.Container == "" {
		return nil, models.NewScrapeError(models.ErrParsing, "source has no container selector", nil)
	}

	var grants []models.RawGrant
	doc.Find(sel.Container).Each(func(i int, s *goquery.Selection) {
		raw := models.RawGrant{
			SourceURL:  src.URL,
			ScrapedAt:  time.Now().UTC(),
			RawContent: map[string]interface{}{},
		}

		raw.Title = childText(s, sel.Title)
		raw.Description = childText(s, sel.Description)
		raw.Deadline = childText(s, sel.Deadline)
		raw.FundingAmount = childText(s, sel.Amount)
		raw.Eligibility = childText(s, sel.Eligibility)
		raw.FunderName = childText(s, sel.FunderInfo)
		raw.ApplicationURL = childLink(s, sel.ApplicationURL, src.URL)

		if raw.Title == "" && raw.Description == "" {
			log.Printf("[extract] %s: container %d yielded no title or description, skipping", src.ID, i)
			return
		}
		if outer, err := goquery.OuterHtml(s); err == nil {
			raw.RawContent["html"] = outer
		}
		grants = append(grants, raw)
	})

	if len(grants) == 0 {
		return nil, models.NewScrapeError(models.ErrContentChanged,
			"no containers matched selector "+sel.Container, nil)
	}
	return grants, nil
}

func childText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(s.Find(selector).First().Text())
}

// childLink pulls an href (or the node text as a fallback) and resolves it
// against the page URL.
func childLink(s *goquery.Selection, selector, pageURL string) string {
	if selector == "" {
		return ""
	}
	node := s.Find(selector).First()
	link, ok := node.Attr("href")
	if !ok {
		link = strings.TrimSpace(node.Text())
	}
	if link == "" {
		return ""
	}
	return resolveURL(pageURL, link)
}

func resolveURL(base, ref string) string {
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
