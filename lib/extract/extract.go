// Package extract evaluates a template config against a parsed document and
// produces the ordered, shaped records the rest of the system persists.
//
// The engine is pure: identical (document, config) inputs yield identical
// output, and fields are evaluated independently of each other. The only
// cross-field effects happen in the transform step, which runs after every
// field has been extracted.
package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"webharvest-backend/lib/template"
)

// Extract runs the row-scope selector over doc and builds one record per
// matching element.
func Extract(doc *goquery.Document, cfg template.Config) ([]Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var items []Record
	doc.Find(cfg.Select.List).Each(func(_ int, scope *goquery.Selection) {
		items = append(items, Finish(extractRow(scope, cfg.Select.Fields), cfg))
	})
	return items, nil
}

// Finish applies the transforms and the optional output schema to an
// extracted row. The dynamic acquisition path reuses it for rows that were
// pulled out of a live browser session.
func Finish(rec Record, cfg template.Config) Record {
	ApplyTransforms(&rec, cfg.Transform)
	if len(cfg.Output.Schema) > 0 {
		return Shape(rec, cfg.Output.Schema)
	}
	return rec
}

// Shape returns a record with exactly the schema's keys in schema order.
// Fields the source record is missing become null values.
func Shape(rec Record, schema []string) Record {
	shaped := NewRecord()
	for _, k := range schema {
		v, _ := rec.Get(k)
		shaped.Set(k, v)
	}
	return shaped
}

// extractRow evaluates every field rule against one row scope. Field names
// are visited in sorted order so records without an output schema still have
// a deterministic field order.
func extractRow(scope *goquery.Selection, fields map[string]template.FieldRule) Record {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	rec := NewRecord()
	for _, name := range names {
		rec.Set(name, extractField(scope, fields[name]))
	}
	return rec
}

func extractField(scope *goquery.Selection, rule template.FieldRule) any {
	switch rule.Kind {
	case template.KindCardHeader:
		return strings.TrimSpace(scope.Closest(".card").Find(".card-header").First().Text())

	case template.KindClosestFind:
		anc := scope
		if rule.Closest != "" {
			if c := scope.Closest(rule.Closest); c.Length() > 0 {
				anc = c
			}
		}
		el := anc.Find(rule.Selector).First()
		if el.Length() == 0 {
			return ""
		}
		if rule.Html {
			return innerHTML(el)
		}
		return strings.TrimSpace(el.Text())

	case template.KindPrevOfClosest:
		anc := scope
		if rule.Closest != "" {
			anc = scope.Closest(rule.Closest)
			if anc.Length() == 0 {
				return ""
			}
		}
		// PrevAll yields siblings nearest-first, matching an outward scan
		prev := anc.PrevAllFiltered(rule.Selector).First()
		if prev.Length() == 0 {
			return ""
		}
		return strings.TrimSpace(prev.Text())

	case template.KindExists:
		return scope.Find(rule.Selector).Length() > 0
	}

	el := scope.Find(rule.Selector).First()
	if el.Length() == 0 {
		return ""
	}
	switch rule.Kind {
	case template.KindHtml:
		return innerHTML(el)
	case template.KindAttr:
		return strings.TrimSpace(el.AttrOr(rule.AttrName(), ""))
	default:
		return matchText(strings.TrimSpace(el.Text()), rule.Match)
	}
}

// matchText narrows v to the first captured group of pattern, the whole
// match when no group captures, or leaves v unchanged when the pattern does
// not match or fails to compile.
func matchText(v, pattern string) string {
	if pattern == "" {
		return v
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return v
	}
	m := re.FindStringSubmatch(v)
	if m == nil {
		return v
	}
	if len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return m[0]
}

func innerHTML(sel *goquery.Selection) string {
	h, err := sel.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(h)
}
