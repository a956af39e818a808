// Package scheduler owns a store of named, cron-bound job definitions and
// the live triggers behind the active ones. Two instances run in the
// daemon, one per definition store; they differ only in their store file,
// output key prefix, and whether firing blocks on the run.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"webharvest-backend/lib/fsutil"
	"webharvest-backend/lib/template"
	"webharvest-backend/services/runner"
)

var tracer = otel.Tracer("services/scheduler")

// ErrNotFound is returned when no definition exists under the given id.
var ErrNotFound = errors.New("definition not found")

// Definition is one stored job. Exactly one of TemplateID and Template is
// populated; upserting with a template id clears any inline config.
type Definition struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	URL         string           `json:"url"`
	TemplateID  int64            `json:"templateId,omitempty"`
	Template    *template.Config `json:"template,omitempty"`
	Cron        string           `json:"cron,omitempty"`
	RetainLimit *int             `json:"retainLimit,omitempty"`
	IsActive    bool             `json:"isActive"`
}

// FireMode selects what a trigger does when it fires.
type FireMode int

const (
	// FireSync blocks the trigger goroutine on the full run. Used by the
	// task store, whose runs want the rendered retry on empty extractions.
	FireSync FireMode = iota
	// FireAsync submits the run as a background job and moves on.
	FireAsync
)

// JobRunner is the slice of the runner service the scheduler needs.
type JobRunner interface {
	Start(ctx context.Context, req runner.StartRequest) string
	RunOnce(ctx context.Context, req runner.StartRequest) (runner.RunReport, error)
}

type Options struct {
	StoreFile string
	KeyPrefix string
	Mode      FireMode
	Runner    JobRunner
}

// RunOutcome is the result of a manual trigger. JobID is set in async mode,
// Report in sync mode.
type RunOutcome struct {
	JobID  string            `json:"jobId,omitempty"`
	Report *runner.RunReport `json:"report,omitempty"`
}

type Service struct {
	opts Options
	cron *cron.Cron

	mu      sync.Mutex
	defs    []Definition
	entries map[int64]cron.EntryID
}

// NewService loads the store file, binds a trigger for every active
// definition, and starts the cron engine. A missing store file starts an
// empty store.
func NewService(opts Options) (*Service, error) {
	s := &Service{
		opts:    opts,
		cron:    cron.New(),
		entries: map[int64]cron.EntryID{},
	}

	err := fsutil.ReadJSON(opts.StoreFile, &s.defs)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load definition store")
	}

	for _, def := range s.defs {
		if err := s.rebind(def); err != nil {
			slog.Warn("skipping trigger for stored definition",
				"definition_id", def.ID, "cron", def.Cron, "err", err.Error())
		}
	}
	s.cron.Start()
	return s, nil
}

// Stop halts the cron engine. Runs already in flight finish on their own.
func (s *Service) Stop() {
	s.cron.Stop()
}

// Upsert creates or replaces a definition and rebinds its trigger. The old
// trigger is always removed first, so a mutation can never leave two timers
// live for one id.
func (s *Service) Upsert(ctx context.Context, def Definition) (Definition, error) {
	_, span := tracer.Start(ctx, "Upsert")
	defer span.End()

	if def.URL == "" {
		return Definition{}, errors.New("definition needs a url")
	}
	if def.TemplateID != 0 {
		def.Template = nil
	} else if def.Template == nil {
		return Definition{}, errors.New("definition needs a template id or an inline config")
	}
	if def.RetainLimit != nil && *def.RetainLimit < 0 {
		return Definition{}, errors.New("retain limit must not be negative")
	}
	if def.Cron != "" {
		if _, err := cron.ParseStandard(def.Cron); err != nil {
			return Definition{}, errors.Wrapf(err, "cron expression %q", def.Cron)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if def.ID == 0 {
		def.ID = time.Now().UnixMilli()
		for s.hasID(def.ID) {
			def.ID++
		}
	}
	span.SetAttributes(attribute.Int64("definition_id", def.ID))

	replaced := false
	for i := range s.defs {
		if s.defs[i].ID == def.ID {
			s.defs[i] = def
			replaced = true
			break
		}
	}
	if !replaced {
		s.defs = append(s.defs, def)
	}

	if err := s.persist(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Definition{}, err
	}
	if err := s.rebind(def); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Definition{}, err
	}
	return def, nil
}

func (s *Service) Get(ctx context.Context, id int64) (Definition, error) {
	_, span := tracer.Start(ctx, "Get")
	defer span.End()
	span.SetAttributes(attribute.Int64("definition_id", id))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, def := range s.defs {
		if def.ID == id {
			return def, nil
		}
	}
	return Definition{}, ErrNotFound
}

func (s *Service) List(ctx context.Context) []Definition {
	_, span := tracer.Start(ctx, "List")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Definition, len(s.defs))
	copy(out, s.defs)
	return out
}

// Toggle flips a definition's active flag; deactivating tears the trigger
// down so no further automatic run happens until reactivation.
func (s *Service) Toggle(ctx context.Context, id int64, active bool) (Definition, error) {
	_, span := tracer.Start(ctx, "Toggle")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("definition_id", id),
		attribute.Bool("active", active),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.defs {
		if s.defs[i].ID != id {
			continue
		}
		s.defs[i].IsActive = active
		if err := s.persist(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Definition{}, err
		}
		if err := s.rebind(s.defs[i]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Definition{}, err
		}
		return s.defs[i], nil
	}
	return Definition{}, ErrNotFound
}

// Delete removes a definition and its trigger, reporting whether it existed.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	_, span := tracer.Start(ctx, "Delete")
	defer span.End()
	span.SetAttributes(attribute.Int64("definition_id", id))

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.defs {
		if s.defs[i].ID != id {
			continue
		}
		s.unbind(id)
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		if err := s.persist(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// RunNow fires a definition immediately, active or not.
func (s *Service) RunNow(ctx context.Context, id int64) (RunOutcome, error) {
	ctx, span := tracer.Start(ctx, "RunNow")
	defer span.End()
	span.SetAttributes(attribute.Int64("definition_id", id))

	def, err := s.Get(ctx, id)
	if err != nil {
		return RunOutcome{}, err
	}
	return s.fire(ctx, def)
}

// NextRun predicts the next automatic run. Inactive or cron-less
// definitions report null timing; so do expressions outside the shapes
// NextTime interprets.
func (s *Service) NextRun(ctx context.Context, id int64) (NextRunInfo, error) {
	return s.nextRunAt(ctx, id, time.Now())
}

func (s *Service) nextRunAt(ctx context.Context, id int64, now time.Time) (NextRunInfo, error) {
	_, span := tracer.Start(ctx, "NextRun")
	defer span.End()
	span.SetAttributes(attribute.Int64("definition_id", id))

	def, err := s.Get(ctx, id)
	if err != nil {
		return NextRunInfo{}, err
	}

	info := NextRunInfo{IsActive: def.IsActive, Cron: def.Cron}
	if !def.IsActive || def.Cron == "" {
		return info, nil
	}
	next, ok := NextTime(def.Cron, now)
	if !ok {
		return info, nil
	}
	remaining := int64(next.Sub(now) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	info.NextAt = &next
	info.RemainingSeconds = &remaining
	return info, nil
}

func (s *Service) fire(ctx context.Context, def Definition) (RunOutcome, error) {
	req := runner.StartRequest{
		URL:         def.URL,
		TemplateID:  def.TemplateID,
		Template:    def.Template,
		RetainLimit: retainLimit(def),
		OutputKey:   s.opts.KeyPrefix + strconv.FormatInt(def.ID, 10),
	}

	if s.opts.Mode == FireAsync {
		jobID := s.opts.Runner.Start(ctx, req)
		slog.InfoContext(ctx, "submitted scheduled run",
			"definition_id", def.ID, "name", def.Name, "job_id", jobID)
		return RunOutcome{JobID: jobID}, nil
	}

	report, err := s.opts.Runner.RunOnce(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "scheduled run failed",
			"definition_id", def.ID, "name", def.Name, "err", err.Error())
		return RunOutcome{}, err
	}
	slog.InfoContext(ctx, "scheduled run finished",
		"definition_id", def.ID, "name", def.Name, "count", report.Count, "file", report.File)
	return RunOutcome{Report: &report}, nil
}

// rebind replaces the live trigger for a definition. Callers must hold the
// mutex or be in single-threaded startup.
func (s *Service) rebind(def Definition) error {
	s.unbind(def.ID)
	if !def.IsActive || def.Cron == "" {
		return nil
	}

	entryID, err := s.cron.AddFunc(def.Cron, func() {
		ctx, span := tracer.Start(context.Background(), "trigger")
		defer span.End()
		span.SetAttributes(attribute.Int64("definition_id", def.ID))
		if _, err := s.fire(ctx, def); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	})
	if err != nil {
		return errors.Wrapf(err, "bind trigger for definition %d", def.ID)
	}
	s.entries[def.ID] = entryID
	return nil
}

// hasID reports whether a definition already uses the id. Callers must hold
// the mutex.
func (s *Service) hasID(id int64) bool {
	for _, def := range s.defs {
		if def.ID == id {
			return true
		}
	}
	return false
}

func (s *Service) unbind(id int64) {
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

func (s *Service) persist() error {
	return fsutil.WriteJSON(s.opts.StoreFile, s.defs)
}

func retainLimit(def Definition) int {
	if def.RetainLimit == nil {
		return -1
	}
	return *def.RetainLimit
}

