package extract

import (
	"regexp"
	"strings"

	"webharvest-backend/lib/template"
)

// DefaultChannelSplit is the separator pattern used when a split transform
// does not configure its own.
const DefaultChannelSplit = `,|;|/|\|`

// channelSourceField is split into the channelListField list.
const (
	channelSourceField = "kenhTvRaw"
	channelListField   = "kenhTv"
	timeField          = "gio"
	resultField        = "ketQua"
)

// ApplyTransforms rewrites rec in place. Transforms run in a fixed order and
// each one only fires when its source field has the expected shape.
func ApplyTransforms(rec *Record, t template.Transform) {
	if t.KenhTv != nil {
		if raw, ok := rec.Get(channelSourceField); ok {
			if s, ok := raw.(string); ok {
				if parts, ok := splitChannels(s, t.KenhTv.Split); ok {
					rec.Set(channelListField, parts)
				}
			}
		}
	}

	if t.Gio != nil {
		if v, ok := rec.Get(timeField); ok {
			if s, ok := v.(string); ok {
				for _, pair := range t.Gio.Replace {
					if len(pair) < 2 {
						continue
					}
					s = strings.ReplaceAll(s, pair[0], pair[1])
				}
				rec.Set(timeField, s)
			}
		}
	}

	if t.KetQua != nil && t.KetQua.DefaultIfEmpty != "" {
		v := strings.TrimSpace(rec.String(resultField))
		if v == "" {
			v = t.KetQua.DefaultIfEmpty
		}
		rec.Set(resultField, v)
	}
}

func splitChannels(raw, pattern string) ([]string, bool) {
	if pattern == "" {
		pattern = DefaultChannelSplit
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false
	}

	var parts []string
	for _, p := range re.Split(raw, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts, true
}
