// Package templates stores the reusable extraction templates as a JSON
// array file, loaded at startup and rewritten wholesale on every mutation.
package templates

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"webharvest-backend/lib/fsutil"
	"webharvest-backend/lib/template"
)

var tracer = otel.Tracer("services/templates")

// ErrNotFound is returned when no template exists under the given id,
// including when a job definition still references a deleted template.
var ErrNotFound = errors.New("template not found")

type Service struct {
	file string

	mu        sync.Mutex
	templates []template.Template
}

// NewService loads the store file; a missing file starts an empty store.
func NewService(file string) (*Service, error) {
	s := &Service{file: file}

	err := fsutil.ReadJSON(file, &s.templates)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load template store")
	}
	return s, nil
}

// Upsert creates the template when its id is zero, otherwise replaces the
// stored one.
func (s *Service) Upsert(ctx context.Context, tpl template.Template) (template.Template, error) {
	ctx, span := tracer.Start(ctx, "Upsert")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if tpl.ID == 0 {
		tpl.ID = time.Now().UnixMilli()
		for s.hasID(tpl.ID) {
			tpl.ID++
		}
		tpl.CreatedAt = time.Now()
	}
	span.SetAttributes(attribute.Int64("template_id", tpl.ID))

	replaced := false
	for i := range s.templates {
		if s.templates[i].ID == tpl.ID {
			s.templates[i] = tpl
			replaced = true
			break
		}
	}
	if !replaced {
		s.templates = append(s.templates, tpl)
	}

	if err := s.persist(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return template.Template{}, err
	}
	return tpl, nil
}

func (s *Service) Get(ctx context.Context, id int64) (template.Template, error) {
	_, span := tracer.Start(ctx, "Get")
	defer span.End()
	span.SetAttributes(attribute.Int64("template_id", id))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tpl := range s.templates {
		if tpl.ID == id {
			return tpl, nil
		}
	}
	return template.Template{}, ErrNotFound
}

func (s *Service) List(ctx context.Context) []template.Template {
	_, span := tracer.Start(ctx, "List")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]template.Template, len(s.templates))
	copy(out, s.templates)
	return out
}

// Delete removes the template outright and reports whether it existed.
// Job definitions referencing the id are left dangling on purpose; they
// resolve to ErrNotFound at their next run.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	_, span := tracer.Start(ctx, "Delete")
	defer span.End()
	span.SetAttributes(attribute.Int64("template_id", id))

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.templates {
		if s.templates[i].ID == id {
			s.templates = append(s.templates[:i], s.templates[i+1:]...)
			if err := s.persist(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) hasID(id int64) bool {
	for _, tpl := range s.templates {
		if tpl.ID == id {
			return true
		}
	}
	return false
}

func (s *Service) persist() error {
	return fsutil.WriteJSON(s.file, s.templates)
}
