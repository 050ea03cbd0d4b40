package docmodel

import "strconv"

// RawDocFromMap lifts known fields out of a loosely-typed decoded-JSON object
// into a RawDoc, tolerating extra/unknown keys and synonym content keys. Used
// by both the provider text extractor and the compliance reviewer's
// corrected-doc parsing, so both share one field-mapping rule.
func RawDocFromMap(m map[string]interface{}) *RawDoc {
	raw := &RawDoc{}
	if s, ok := m["kind"].(string); ok {
		raw.Kind = s
	}
	if s, ok := m["type"].(string); ok {
		raw.Type = s
	}
	if s, ok := m["title"].(string); ok {
		raw.Title = s
	}
	if s, ok := m["category"].(string); ok {
		raw.Category = s
	}
	if s, ok := m["vibe"].(string); ok {
		raw.Vibe = s
	}
	if bg, ok := m["background"].(map[string]interface{}); ok {
		raw.Background = bg
	}
	if s, ok := m["css"].(string); ok {
		raw.CSS = s
	}
	if s, ok := m["html"].(string); ok {
		raw.HTML = s
	}
	if s, ok := m["js"].(string); ok {
		raw.JS = s
	}
	for _, key := range []string{"content", "body", "markup", "page", "app"} {
		if s, ok := m[key].(string); ok && raw.Content == "" {
			raw.Content = s
		}
	}
	if comps, ok := m["components"].([]interface{}); ok {
		raw.Components = rawComponentsFromAny(comps)
	} else if comp, ok := m["components"].(map[string]interface{}); ok {
		raw.Components = rawComponentsFromAny([]interface{}{comp})
	}
	return raw
}

func rawComponentsFromAny(items []interface{}) []RawComponent {
	var out []RawComponent
	for idx, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rc := RawComponent{Props: map[string]interface{}{}}
		if id, ok := m["id"].(string); ok {
			rc.ID = id
		} else {
			rc.ID = "custom-" + strconv.Itoa(idx+1)
		}
		if typ, ok := m["type"].(string); ok {
			rc.Type = typ
		}
		if html, ok := m["html"].(string); ok {
			rc.HTML = html
		}
		if props, ok := m["props"].(map[string]interface{}); ok {
			rc.Props = props
		}
		out = append(out, rc)
	}
	return out
}
