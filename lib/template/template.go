// Package template holds the declarative extraction description: how to
// acquire a page, which elements form the rows, how each output field is
// pulled out of a row, and how the final records are reshaped.
package template

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNoListSelector is returned when a config is missing the row-scope
// selector; no extraction can run without one.
var ErrNoListSelector = errors.New("template config has no select.list row selector")

// Template is a stored, reusable extraction description.
type Template struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Config      Config    `json:"config"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Config is the extraction description itself. It can live inside a stored
// Template or inline inside a job definition.
type Config struct {
	Fetch     Fetch     `json:"fetch,omitempty"`
	Select    Select    `json:"select"`
	Transform Transform `json:"transform,omitempty"`
	Output    Output    `json:"output,omitempty"`
}

// Validate checks the invariants a config must satisfy before it can drive
// an extraction.
func (c Config) Validate() error {
	if c.Select.List == "" {
		return ErrNoListSelector
	}
	return nil
}

// Fetch holds acquisition options.
type Fetch struct {
	// Dynamic selects the rendered browser session over a single static
	// request.
	Dynamic bool `json:"dynamic,omitempty"`
	// WaitSelector is the condition a dynamic session waits for after
	// navigation. Empty means the row selector is used.
	WaitSelector string `json:"waitSelector,omitempty"`
	// TimeoutMs bounds navigation and the selector wait. Zero means the
	// acquisition layer's default.
	TimeoutMs int `json:"timeoutMs,omitempty"`
	// Headers are merged over the baseline header set.
	Headers map[string]string `json:"headers,omitempty"`
}

// Timeout returns the configured timeout, or fallback when unset.
func (f Fetch) Timeout(fallback time.Duration) time.Duration {
	if f.TimeoutMs <= 0 {
		return fallback
	}
	return time.Duration(f.TimeoutMs) * time.Millisecond
}

// Select names the row scope and the per-field extraction rules.
type Select struct {
	List   string               `json:"list"`
	Fields map[string]FieldRule `json:"fields,omitempty"`
}

// Transform is the fixed set of post-extraction rewrites, applied in the
// order the fields are declared here.
type Transform struct {
	KenhTv *SplitTransform   `json:"kenhTv,omitempty"`
	Gio    *ReplaceTransform `json:"gio,omitempty"`
	KetQua *DefaultTransform `json:"ketQua,omitempty"`
}

// SplitTransform splits the raw channel string into a list.
type SplitTransform struct {
	// Split is a separator regular expression. Empty means ",|;|/|\|".
	Split string `json:"split,omitempty"`
}

// ReplaceTransform applies literal substring replacement pairs, left to
// right, to the time text.
type ReplaceTransform struct {
	Replace [][]string `json:"replace,omitempty"`
}

// DefaultTransform substitutes a default when the result text is blank.
type DefaultTransform struct {
	DefaultIfEmpty string `json:"defaultIfEmpty,omitempty"`
}

// Output optionally pins the final row shape.
type Output struct {
	// Schema lists the output field names in order. Empty keeps every
	// extracted field.
	Schema []string `json:"schema,omitempty"`
}

// RuleKind discriminates the closed set of field-rule variants.
type RuleKind int

const (
	// KindText extracts trimmed text content, optionally narrowed by a
	// regular expression.
	KindText RuleKind = iota
	// KindHtml extracts trimmed inner markup.
	KindHtml
	// KindAttr extracts a named attribute value.
	KindAttr
	// KindExists reports sub-element presence as a boolean.
	KindExists
	// KindClosestFind searches within the nearest enclosing ancestor.
	KindClosestFind
	// KindPrevOfClosest scans the preceding siblings of the nearest
	// enclosing ancestor.
	KindPrevOfClosest
	// KindCardHeader is the fixed card-container header lookup.
	KindCardHeader
)

// FieldRule describes how one output field is extracted from a row scope.
// Only the fields relevant to Kind are meaningful.
type FieldRule struct {
	Kind     RuleKind
	Selector string
	// Match narrows a KindText value to the first captured group (or the
	// whole match when no group captures).
	Match string
	// Name is the attribute name for KindAttr. Empty means "src".
	Name string
	// Closest is the ancestor selector for KindClosestFind and
	// KindPrevOfClosest.
	Closest string
	// Html switches KindClosestFind to inner markup instead of text.
	Html bool
}

// AttrName returns the attribute a KindAttr rule reads.
func (r FieldRule) AttrName() string {
	if r.Name == "" {
		return "src"
	}
	return r.Name
}

// cardHeaderSelector is the magic selector value that denotes the fixed
// card-header lookup in the persisted vocabulary.
const cardHeaderSelector = "closestCardHeader"

// wireRule is the persisted JSON shape of a field rule.
type wireRule struct {
	Selector string `json:"selector,omitempty"`
	Type     string `json:"type,omitempty"`
	Match    string `json:"match,omitempty"`
	Name     string `json:"name,omitempty"`
	Closest  string `json:"closest,omitempty"`
	Html     bool   `json:"html,omitempty"`
}

func (r *FieldRule) UnmarshalJSON(data []byte) error {
	var w wireRule
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "decode field rule")
	}

	rule := FieldRule{
		Selector: w.Selector,
		Match:    w.Match,
		Name:     w.Name,
		Closest:  w.Closest,
		Html:     w.Html,
	}
	if w.Selector == cardHeaderSelector {
		rule.Kind = KindCardHeader
	} else {
		switch w.Type {
		case "html":
			rule.Kind = KindHtml
		case "attr":
			rule.Kind = KindAttr
		case "exists":
			rule.Kind = KindExists
		case "closestFind":
			rule.Kind = KindClosestFind
		case "prevOfClosest":
			rule.Kind = KindPrevOfClosest
		default:
			// unrecognized rule types degrade to plain text extraction
			// rather than rejecting the whole config
			rule.Kind = KindText
		}
	}

	*r = rule
	return nil
}

func (r FieldRule) MarshalJSON() ([]byte, error) {
	w := wireRule{
		Selector: r.Selector,
		Match:    r.Match,
		Name:     r.Name,
		Closest:  r.Closest,
		Html:     r.Html,
	}
	switch r.Kind {
	case KindText:
		w.Type = "text"
	case KindHtml:
		w.Type = "html"
	case KindAttr:
		w.Type = "attr"
	case KindExists:
		w.Type = "exists"
	case KindClosestFind:
		w.Type = "closestFind"
	case KindPrevOfClosest:
		w.Type = "prevOfClosest"
	case KindCardHeader:
		w.Type = ""
		w.Selector = cardHeaderSelector
	}
	return json.Marshal(w)
}
