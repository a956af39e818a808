package runner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"webharvest-backend/lib/extract"
	"webharvest-backend/lib/fsutil"
)

// ErrResultNotFound is returned for unknown result file names, including
// names that try to escape the results directory.
var ErrResultNotFound = errors.New("result not found")

// Meta travels with every result file.
type Meta struct {
	Count       int    `json:"count"`
	URL         string `json:"url"`
	TemplateKey string `json:"templateKey"`
	StartedAt   int64  `json:"startedAt,omitempty"` // unix milliseconds
	FinishedAt  string `json:"finishedAt"`          // RFC 3339, UTC
}

// Result is the on-disk shape of one run.
type Result struct {
	Items []extract.Record `json:"items"`
	Meta  Meta             `json:"meta"`
}

// Entry lists one stored result. Meta is nil when the file on disk cannot
// be parsed; the listing still names it so it can be deleted.
type Entry struct {
	Name string `json:"name"`
	Meta *Meta  `json:"meta"`
}

func (s *Service) resultsDir(key string) string {
	return filepath.Join(s.dataDir, "run-results", key)
}

func (s *Service) writeResult(key, url string, items []extract.Record, startedAt time.Time) (string, error) {
	if items == nil {
		items = []extract.Record{}
	}
	now := time.Now()

	file := filepath.Join(s.resultsDir(key), resultName(now))
	res := Result{
		Items: items,
		Meta: Meta{
			Count:       len(items),
			URL:         url,
			TemplateKey: key,
			StartedAt:   startedAt.UnixMilli(),
			FinishedAt:  now.UTC().Format(time.RFC3339),
		},
	}
	if err := fsutil.WriteJSON(file, res); err != nil {
		return "", errors.Wrap(err, "write run result")
	}
	return file, nil
}

// resultName derives the file name from the completion instant so a plain
// lexicographic sort of the directory is also a chronological sort.
func resultName(t time.Time) string {
	stamp := t.UTC().Format("2006-01-02T15:04:05.000")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return stamp + "Z.json"
}

// ListResults returns stored results newest first. A limit of zero or less
// means no limit. A key that never produced results lists empty.
func (s *Service) ListResults(ctx context.Context, key string, limit int) ([]Entry, error) {
	_, span := tracer.Start(ctx, "ListResults")
	defer span.End()
	span.SetAttributes(attribute.String("template_key", key))

	names, err := s.resultNames(key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		var res Result
		if err := fsutil.ReadJSON(filepath.Join(s.resultsDir(key), name), &res); err != nil {
			entries = append(entries, Entry{Name: name})
			continue
		}
		meta := res.Meta
		entries = append(entries, Entry{Name: name, Meta: &meta})
	}
	return entries, nil
}

// ReadResult loads one stored result by file name.
func (s *Service) ReadResult(ctx context.Context, key, name string) (Result, error) {
	_, span := tracer.Start(ctx, "ReadResult")
	defer span.End()
	span.SetAttributes(
		attribute.String("template_key", key),
		attribute.String("name", name),
	)

	if !validResultName(name) {
		return Result{}, ErrResultNotFound
	}

	var res Result
	err := fsutil.ReadJSON(filepath.Join(s.resultsDir(key), name), &res)
	if os.IsNotExist(err) {
		return Result{}, ErrResultNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	return res, nil
}

// DeleteResult removes one stored result and reports whether it existed.
func (s *Service) DeleteResult(ctx context.Context, key, name string) (bool, error) {
	_, span := tracer.Start(ctx, "DeleteResult")
	defer span.End()
	span.SetAttributes(
		attribute.String("template_key", key),
		attribute.String("name", name),
	)

	if !validResultName(name) {
		return false, nil
	}

	err := os.Remove(filepath.Join(s.resultsDir(key), name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	return true, nil
}

// enforceRetention deletes the oldest results beyond the retain limit.
// Retention failures never fail the run that triggered them.
func (s *Service) enforceRetention(ctx context.Context, key string, retain int) {
	if retain < 0 {
		retain = 0
	}

	names, err := s.resultNames(key)
	if err != nil {
		slog.WarnContext(ctx, "listing results for retention failed", "template_key", key, "err", err.Error())
		return
	}
	for _, name := range names[min(retain, len(names)):] {
		if err := os.Remove(filepath.Join(s.resultsDir(key), name)); err != nil {
			slog.WarnContext(ctx, "pruning old result failed", "file", name, "err", err.Error())
		}
	}
}

// resultNames lists the result files for a key, newest first.
func (s *Service) resultNames(key string) ([]string, error) {
	dirEntries, err := os.ReadDir(s.resultsDir(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read results dir")
	}

	var names []string
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func validResultName(name string) bool {
	return name != "" && filepath.Base(name) == name && strings.HasSuffix(name, ".json")
}
