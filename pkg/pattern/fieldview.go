// Package pattern evaluates weighted detection rules against threat records
// and applies their configured actions.
package pattern

import (
	"strconv"

	"threatmesh/pkg/threat"
)

// FieldView is a flattened, multi-valued view of a record keyed by dotted
// path. Rule evaluation runs against this view instead of reflecting over
// the struct; a path the view does not contain simply has no values.
type FieldView map[string][]string

// Flatten builds the evaluation view for one record. Array-backed paths
// (tags, techniques, indicator columns) carry every element.
func Flatten(rec *threat.ThreatRecord) FieldView {
	v := FieldView{
		"id":                  {rec.ID},
		"external_id":         {rec.ExternalID},
		"type":                {string(rec.Type)},
		"severity":            {string(rec.Severity)},
		"confidence":          {strconv.Itoa(rec.Confidence)},
		"status":              {string(rec.Status)},
		"category":            {rec.Category},
		"target.type":         {rec.Target.Type},
		"target.value":        {rec.Target.Value},
		"target.network":      {rec.Target.Network},
		"context.title":       {rec.Context.Title},
		"context.description": {rec.Context.Description},
		"source.id":           {rec.Source.ID},
		"source.type":         {rec.Source.Type},
	}
	if len(rec.Context.Tags) > 0 {
		v["context.tags"] = rec.Context.Tags
	}
	if rec.Attribution != nil {
		v["attribution.actor"] = []string{rec.Attribution.Actor}
		v["attribution.campaign"] = []string{rec.Attribution.Campaign}
		v["attribution.malware_family"] = []string{rec.Attribution.MalwareFamily}
		if len(rec.Attribution.Techniques) > 0 {
			v["attribution.techniques"] = rec.Attribution.Techniques
		}
	}
	if len(rec.Indicators) > 0 {
		types := make([]string, 0, len(rec.Indicators))
		values := make([]string, 0, len(rec.Indicators))
		keys := make([]string, 0, len(rec.Indicators))
		for _, ind := range rec.Indicators {
			types = append(types, ind.Type)
			values = append(values, ind.Value)
			keys = append(keys, ind.Key())
		}
		v["indicators.type"] = types
		v["indicators.value"] = values
		v["indicators"] = keys
	}
	return v
}

// Lookup returns the values at a dotted path, dropping empties. A missing
// path yields nil, never an error.
func (v FieldView) Lookup(path string) []string {
	raw, ok := v[path]
	if !ok {
		return nil
	}
	var out []string
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
