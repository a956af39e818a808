package fetch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"webharvest-backend/lib/extract"
	"webharvest-backend/lib/telemetry"
	"webharvest-backend/lib/template"
)

// DefaultStaticTimeout bounds a static request when the template does not
// configure one.
const DefaultStaticTimeout = 20 * time.Second

const fileScheme = "file://"

// Static issues one content request for the URL and parses the captured
// markup. Local file URIs are read directly, bypassing the network.
type Static struct {
	http *resty.Client
}

// NewStatic builds the static fetcher with the shared outbound client:
// cloudflare-friendly transport, a small rate limit, and otel
// instrumentation.
func NewStatic() *Static {
	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	// 4 requests max per second across every template
	limiter := rate.NewLimiter(4, 4)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "lib/fetch/static")

	return &Static{http: client}
}

func (s *Static) Fetch(ctx context.Context, url string, cfg template.Config, progress Progress) ([]extract.Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	progress.report(StageGoto)
	html, err := s.fetchHTML(ctx, url, cfg.Fetch)
	if err != nil {
		return nil, err
	}

	progress.report(StageExtract)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(err, "parse document")
	}
	return extract.Extract(doc, cfg)
}

func (s *Static) fetchHTML(ctx context.Context, url string, f template.Fetch) (string, error) {
	if strings.HasPrefix(url, fileScheme) {
		path, err := filepath.Abs(strings.TrimPrefix(url, fileScheme))
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", errors.Wrap(err, "read local document")
		}
		return string(data), nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout(DefaultStaticTimeout))
	defer cancel()

	res, err := s.http.R().
		SetContext(ctx).
		SetHeaders(requestHeaders(f.Headers)).
		Get(url)
	if err != nil {
		return "", errors.Wrap(err, "fetch")
	}
	if res.IsError() {
		return "", StatusError{Code: res.StatusCode()}
	}
	return res.String(), nil
}
