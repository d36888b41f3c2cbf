package llm

import (
	"fmt"
	"strings"
)

// NormalizeSuggestionMap rewrites a decoded model response in place so it
// lines up with the suggestion schema:
// - renames known synonyms (suggested_title -> title, content_keywords -> keywords, ...)
// - drops nulls
// - trims strings
// - turns a comma-separated suggested_tags string into a list and a keyword list into a string
// - drops non-string tag entries and duplicate tags (case-insensitive, first wins)
//
// It returns notes describing what was dropped or renamed.
func NormalizeSuggestionMap(m map[string]any) []string {
	notes := make([]string, 0, 4)
	renamed := func(from, to string) {
		if v, ok := m[from]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[to]; !exists {
				m[to] = v
			}
			delete(m, from)
			notes = append(notes, from+"->"+to)
		}
	}

	// 1) rename synonyms to the schema
	renamed("suggested_title", "title")
	renamed("content_keywords", "keywords")
	renamed("suggested_tag", "suggested_tags")
	renamed("tags", "suggested_tags")
	renamed("date", "document_date")
	renamed("type", "document_type")

	// 2) drop nulls, trim strings
	for k, v := range m {
		switch t := v.(type) {
		case nil:
			delete(m, k)
			notes = append(notes, k+"(null)")
		case string:
			m[k] = strings.TrimSpace(t)
		}
	}

	// 3) tags: string -> list, filter entries
	if v, ok := m["suggested_tags"]; ok {
		switch t := v.(type) {
		case string:
			m["suggested_tags"] = dedupeTags(strings.Split(t, ","))
		case []any:
			names := make([]string, 0, len(t))
			for _, e := range t {
				s, ok := e.(string)
				if !ok {
					notes = append(notes, fmt.Sprintf("suggested_tags[%v](type)", e))
					continue
				}
				names = append(names, s)
			}
			m["suggested_tags"] = dedupeTags(names)
		}
	}

	// 4) keywords: list -> comma-separated string
	if v, ok := m["keywords"].([]any); ok {
		parts := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		m["keywords"] = strings.Join(parts, ", ")
	}
	return notes
}

// dedupeTags trims names, drops blanks and case-insensitive duplicates, keeping order.
func dedupeTags(in []string) []any {
	seen := map[string]bool{}
	out := make([]any, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
