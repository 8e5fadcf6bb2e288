package main

import (
	"context"
	"fmt"
	"github.com/cpacia/matwatch/bracket"
	"github.com/gocolly/colly"
	"time"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/115.0.0.0 Safari/537.36"

// Fetcher returns the raw markup of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type collyFetcher struct {
	timeout time.Duration
}

func newCollyFetcher(timeout time.Duration) *collyFetcher {
	return &collyFetcher{timeout: timeout}
}

// Fetch does a single blocking GET. Transport errors, timeouts and non-2xx
// responses are all reported as errors.
func (f *collyFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := colly.NewCollector(colly.UserAgent(userAgent))
	c.SetRequestTimeout(f.timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Cache-Control", "no-cache")
	})

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	if err := c.Visit(url); err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	c.Wait()

	if len(body) == 0 {
		return "", fmt.Errorf("fetch %s: empty response", url)
	}
	return string(body), nil
}

// scrapeSource runs fetch, extract and project for one page.
func scrapeSource(ctx context.Context, f Fetcher, url string) ([]bracket.MatchRecord, []bracket.CompetitorRow, error) {
	html, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrNoDocument, err)
	}
	records, err := bracket.Extract(html)
	if err != nil {
		return nil, nil, err
	}
	return records, bracket.Project(records), nil
}
