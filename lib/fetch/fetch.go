// Package fetch acquires page content for a URL and runs the extraction
// engine over it. Two implementations exist: a single static request and a
// scripted browser session; callers pick between them through Client rather
// than branching themselves.
package fetch

import (
	"context"
	"fmt"

	"webharvest-backend/lib/extract"
	"webharvest-backend/lib/template"
)

// Stage names the phases a fetch moves through. The job runner maps these
// onto its progress ledger.
type Stage string

const (
	StageLaunch       Stage = "launch"
	StageGoto         Stage = "goto"
	StageWaitSelector Stage = "waitSelector"
	StageExtract      Stage = "extract"
)

// Progress is invoked as a fetch enters each phase. It may be nil.
type Progress func(stage Stage)

func (p Progress) report(stage Stage) {
	if p != nil {
		p(stage)
	}
}

// Fetcher acquires the page at url and extracts records according to cfg.
type Fetcher interface {
	Fetch(ctx context.Context, url string, cfg template.Config, progress Progress) ([]extract.Record, error)
}

// Client dispatches between the static and browser fetchers based on the
// template's fetch options.
type Client struct {
	Static  Fetcher
	Browser Fetcher
}

// NewClient builds a client with the default static and browser fetchers.
func NewClient() *Client {
	return &Client{
		Static:  NewStatic(),
		Browser: NewBrowser(),
	}
}

func (c *Client) Fetch(ctx context.Context, url string, cfg template.Config, progress Progress) ([]extract.Record, error) {
	if cfg.Fetch.Dynamic {
		return c.Browser.Fetch(ctx, url, cfg, progress)
	}
	return c.Static.Fetch(ctx, url, cfg, progress)
}

// StatusError reports a non-success response from a static fetch.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("fetch failed with status %d", e.Code)
}

// baselineHeaders is the fixed header set every acquisition starts from;
// template fetch headers are merged over it.
func baselineHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "vi-VN,vi;q=0.9,en-US;q=0.8,en;q=0.7",
	}
}

// requestHeaders merges template overrides over the baseline set.
func requestHeaders(overrides map[string]string) map[string]string {
	headers := baselineHeaders()
	for k, v := range overrides {
		headers[k] = v
	}
	return headers
}
