// Package runner executes one acquisition + extraction + persistence cycle
// per job. Jobs start asynchronously and report progress through an
// in-process ledger; a synchronous variant backs the recurring task path.
package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"webharvest-backend/lib/fetch"
	"webharvest-backend/lib/template"
)

var tracer = otel.Tracer("services/runner")

// DefaultRetainLimit is used when a request carries a negative retain limit.
// Zero is meaningful and keeps no result files at all.
const DefaultRetainLimit = 5

// DefaultRunTimeout bounds navigation for asynchronously started jobs that
// do not configure their own timeout.
const DefaultRunTimeout = 60 * time.Second

// Stage names for the ledger; acquisition stages come from the fetch layer.
const (
	StageInit  = "init"
	StageWrite = "write"
	StageDone  = "done"
	StageError = "error"
)

// ErrNoTemplate is returned when a request carries neither a stored
// template id nor an inline config.
var ErrNoTemplate = errors.New("no template reference provided")

// TemplateSource resolves stored template ids. The templates service
// implements it.
type TemplateSource interface {
	Get(ctx context.Context, id int64) (template.Template, error)
}

// StartRequest describes one extraction job. Exactly one of TemplateID and
// Template should be set; resolution happens when the job executes, not
// when it is submitted.
type StartRequest struct {
	URL         string
	TemplateID  int64
	Template    *template.Config
	RetainLimit int // negative means DefaultRetainLimit
	OutputKey   string
}

// Status is one ledger entry. Entries are replaced wholesale on every stage
// transition and terminal entries are never overwritten afterwards.
type Status struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
	Stage    string `json:"stage"`
	Done     bool   `json:"done"`
	OK       bool   `json:"ok,omitempty"`
	Error    string `json:"error,omitempty"`
	Count    int    `json:"count,omitempty"`
	File     string `json:"file,omitempty"`
}

// RunReport is the outcome of a synchronous run.
type RunReport struct {
	OK    bool   `json:"ok"`
	Count int    `json:"count"`
	File  string `json:"file"`
}

type Service struct {
	dataDir   string
	fetcher   fetch.Fetcher
	templates TemplateSource

	mu   sync.Mutex
	jobs map[string]Status
}

func NewService(dataDir string, fetcher fetch.Fetcher, templates TemplateSource) *Service {
	return &Service{
		dataDir:   dataDir,
		fetcher:   fetcher,
		templates: templates,
		jobs:      map[string]Status{},
	}
}

// Start submits a job and returns its identifier immediately. It never
// fails; every error surfaces through the status ledger.
func (s *Service) Start(ctx context.Context, req StartRequest) string {
	id := uuid.NewString()
	s.putStatus(Status{ID: id, Progress: 0, Stage: StageInit})

	slog.InfoContext(ctx, "starting extraction job", "job_id", id, "url", req.URL)
	go s.run(context.WithoutCancel(ctx), id, req)

	return id
}

// Status returns the latest ledger entry for the job. The ledger lives only
// for the process lifetime, so ids from before a restart report not found.
func (s *Service) Status(jobID string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.jobs[jobID]
	return status, ok
}

// RunOnce performs the same cycle as Start but blocks until completion.
// When a static fetch extracts nothing, it makes one rendered retry before
// giving up.
func (s *Service) RunOnce(ctx context.Context, req StartRequest) (RunReport, error) {
	ctx, span := tracer.Start(ctx, "RunOnce")
	defer span.End()
	span.SetAttributes(attribute.String("url", req.URL))

	cfg, key, err := s.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunReport{}, err
	}

	startedAt := time.Now()
	items, err := s.fetcher.Fetch(ctx, taggedURL(req.URL), cfg, nil)
	if err == nil && len(items) == 0 && !cfg.Fetch.Dynamic {
		slog.InfoContext(ctx, "static fetch extracted nothing, retrying rendered", "url", req.URL)
		dyn := cfg
		dyn.Fetch.Dynamic = true
		if dyn.Fetch.WaitSelector == "" {
			dyn.Fetch.WaitSelector = cfg.Select.List
		}
		items, err = s.fetcher.Fetch(ctx, taggedURL(req.URL), dyn, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunReport{}, err
	}

	file, err := s.writeResult(key, req.URL, items, startedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunReport{}, err
	}
	s.enforceRetention(ctx, key, retainLimit(req))

	return RunReport{OK: true, Count: len(items), File: file}, nil
}

func (s *Service) run(ctx context.Context, id string, req StartRequest) {
	ctx, span := tracer.Start(ctx, "run")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", id),
		attribute.String("url", req.URL),
	)

	cfg, key, err := s.resolve(ctx, req)
	if err != nil {
		s.fail(ctx, span, id, err)
		return
	}

	// asynchronously started jobs always render: the pages worth polling
	// for are the ones that only fill in after script execution
	cfg.Fetch.Dynamic = true
	if cfg.Fetch.WaitSelector == "" {
		cfg.Fetch.WaitSelector = cfg.Select.List
	}
	if cfg.Fetch.TimeoutMs <= 0 {
		cfg.Fetch.TimeoutMs = int(DefaultRunTimeout / time.Millisecond)
	}

	startedAt := time.Now()
	items, err := s.fetcher.Fetch(ctx, taggedURL(req.URL), cfg, func(stage fetch.Stage) {
		s.putStatus(Status{ID: id, Progress: stageProgress(stage), Stage: string(stage)})
	})
	if err != nil {
		s.fail(ctx, span, id, err)
		return
	}

	s.putStatus(Status{ID: id, Progress: 80, Stage: StageWrite})
	file, err := s.writeResult(key, req.URL, items, startedAt)
	if err != nil {
		s.fail(ctx, span, id, err)
		return
	}
	s.enforceRetention(ctx, key, retainLimit(req))

	s.putStatus(Status{
		ID:       id,
		Progress: 100,
		Stage:    StageDone,
		Done:     true,
		OK:       true,
		Count:    len(items),
		File:     file,
	})
	slog.InfoContext(ctx, "extraction job finished", "job_id", id, "count", len(items), "file", file)
}

func (s *Service) fail(ctx context.Context, span trace.Span, id string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.ErrorContext(ctx, "extraction job failed", "job_id", id, "err", err.Error())

	s.putStatus(Status{
		ID:       id,
		Progress: 100,
		Stage:    StageError,
		Done:     true,
		Error:    err.Error(),
	})
}

func (s *Service) putStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.jobs[status.ID]; ok && prev.Done {
		return
	}
	s.jobs[status.ID] = status
}

// resolve turns a request into the config to run and the storage key the
// results land under. Stored ids win over inline configs.
func (s *Service) resolve(ctx context.Context, req StartRequest) (template.Config, string, error) {
	var cfg template.Config
	var key string

	switch {
	case req.TemplateID != 0:
		tpl, err := s.templates.Get(ctx, req.TemplateID)
		if err != nil {
			return template.Config{}, "", err
		}
		cfg = tpl.Config
		key = fmt.Sprintf("tpl-%d", req.TemplateID)
	case req.Template != nil:
		cfg = *req.Template
		key = "custom-" + configDigest(cfg)
	default:
		return template.Config{}, "", ErrNoTemplate
	}

	if req.OutputKey != "" {
		key = req.OutputKey
	}
	if err := cfg.Validate(); err != nil {
		return template.Config{}, "", err
	}
	return cfg, key, nil
}

func configDigest(cfg template.Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "invalid"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:8]
}

func retainLimit(req StartRequest) int {
	if req.RetainLimit < 0 {
		return DefaultRetainLimit
	}
	return req.RetainLimit
}

func stageProgress(stage fetch.Stage) int {
	switch stage {
	case fetch.StageLaunch:
		return 10
	case fetch.StageGoto:
		return 30
	case fetch.StageWaitSelector:
		return 45
	case fetch.StageExtract:
		return 60
	}
	return 0
}

// taggedURL appends a fragment marker so repeated navigations to the same
// address are never served from an intermediary cache of a prior render.
// Local file URIs are read as paths and stay untouched.
func taggedURL(url string) string {
	if strings.HasPrefix(url, "file://") || strings.HasSuffix(url, "#") {
		return url
	}
	return url + "#"
}
