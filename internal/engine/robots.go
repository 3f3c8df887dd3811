package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsChecker fetches and caches robots.txt per host. Unreachable or
// unparsable robots files allow crawling, matching crawler convention.
type RobotsChecker struct {
	client *http.Client
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]robotsEntry
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

func NewRobotsChecker() *RobotsChecker {
	return &RobotsChecker{
		client: NewHTTPClient(10*time.Second, true),
		ttl:    time.Hour,
		cache:  make(map[string]robotsEntry),
	}
}

// Allowed reports whether userAgent may fetch target according to the
// host's robots.txt.
func (r *RobotsChecker) Allowed(ctx context.Context, userAgent, target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return true
	}

	data := r.dataFor(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.Path, userAgent)
}

func (r *RobotsChecker) dataFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host

	r.mu.Lock()
	entry, ok := r.cache[key]
	r.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < r.ttl {
		return entry.data
	}

	data := r.fetch(ctx, key)
	r.mu.Lock()
	r.cache[key] = robotsEntry{data: data, fetchedAt: time.Now()}
	r.mu.Unlock()
	return data
}

func (r *RobotsChecker) fetch(ctx context.Context, base string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/robots.txt", base), nil)
	if err != nil {
		return nil
	}
	resp, err := r.client.Do(req)
	if err != nil {
		log.Printf("[robots] fetch failed for %s: %v", base, err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		log.Printf("[robots] parse failed for %s: %v", base, err)
		return nil
	}
	return data
}
