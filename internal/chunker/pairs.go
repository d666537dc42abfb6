package chunker

import "github.com/dgallion1/specgest/internal/doctree"

// MatchPairs joins body and annotation chunks that share a section number.
// When a (section, role) slot is occupied twice, the later chunk wins.
// Pairs come out in first-seen section order.
func MatchPairs(chunks []doctree.Chunk) []doctree.ExplanationPair {
	type slot struct {
		body, annotation *doctree.Chunk
	}

	var order []string
	bySection := make(map[string]*slot)

	for i := range chunks {
		c := &chunks[i]
		s, ok := bySection[c.Section]
		if !ok {
			s = &slot{}
			bySection[c.Section] = s
			order = append(order, c.Section)
		}
		if c.TextRole == doctree.RoleAnnotation {
			s.annotation = c
		} else {
			s.body = c
		}
	}

	pairs := make([]doctree.ExplanationPair, 0, len(order))
	for _, section := range order {
		s := bySection[section]
		p := doctree.ExplanationPair{Section: section}
		if s.annotation != nil {
			p.Title = s.annotation.Title
			p.Annotation = s.annotation.Content
		}
		if s.body != nil {
			p.Title = s.body.Title
			p.Body = s.body.Content
		}
		if p.Body == "" && p.Annotation == "" {
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs
}

// DuplicateSections returns the sections that occur more than once for the
// same role, in first-seen order. MatchPairs keeps only the last of these.
func DuplicateSections(chunks []doctree.Chunk) []string {
	type key struct {
		section string
		role    doctree.Role
	}
	seen := make(map[key]int)
	var dups []string
	for _, c := range chunks {
		k := key{c.Section, c.TextRole}
		seen[k]++
		if seen[k] == 2 {
			dups = append(dups, c.Section)
		}
	}
	return dups
}
