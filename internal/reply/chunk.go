package reply

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Part is one size-bounded fragment of a reply. Sep is the text that
// followed the fragment in the original reply and Lead the whitespace that
// preceded the first fragment; neither is sent.
type Part struct {
	Index int
	Total int
	Lead  string
	Text  string
	Sep   string
}

// Boundaries from coarsest to finest. When a pattern has a capture group,
// only the group is the separator; the rest of the match stays with the
// preceding text (sentence punctuation).
var boundaries = []*regexp.Regexp{
	regexp.MustCompile(`[ \t]*\n[ \t]*\n\s*`),
	regexp.MustCompile(`\s*\n\s*`),
	regexp.MustCompile(`[.!?…]+["'”’)\]]*(\s+)`),
	regexp.MustCompile(`\s+`),
}

type unit struct {
	text string
	sep  string
}

// Chunk splits text into ordered parts of at most max characters each,
// preferring paragraph breaks, then line breaks, then sentence ends, then
// words, and cutting hard only when a single word is longer than max.
// No part has blank Text, so whitespace-only input yields no parts. For any
// other input Join(Chunk(text, max)) == text. A max below 1 disables
// splitting.
func Chunk(text string, max int) []Part {
	body := strings.TrimLeftFunc(text, unicode.IsSpace)
	if strings.TrimSpace(body) == "" {
		return nil
	}
	lead := text[:len(text)-len(body)]
	if max < 1 {
		return []Part{{Index: 1, Total: 1, Lead: lead, Text: body}}
	}

	units := refine(unit{text: body}, 0, max)
	parts := pack(units, lead, max)
	for i := range parts {
		parts[i].Index = i + 1
		parts[i].Total = len(parts)
	}
	return parts
}

// Join reassembles parts with their original separators.
func Join(parts []Part) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Lead)
		b.WriteString(p.Text)
		b.WriteString(p.Sep)
	}
	return b.String()
}

func refine(u unit, level, max int) []unit {
	if utf8.RuneCountInString(u.text) <= max {
		return []unit{u}
	}
	if level >= len(boundaries) {
		return hardCut(u, max)
	}

	pieces := split(u.text, boundaries[level])
	pieces[len(pieces)-1].sep += u.sep
	if len(pieces) == 1 {
		return refine(pieces[0], level+1, max)
	}

	out := make([]unit, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, refine(p, level+1, max)...)
	}
	return out
}

func split(text string, re *regexp.Regexp) []unit {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	out := make([]unit, 0, len(matches)+1)
	prev := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if len(m) >= 4 && m[2] >= 0 {
			start, end = m[2], m[3]
		}
		out = append(out, unit{text: text[prev:start], sep: text[start:end]})
		prev = end
	}
	return append(out, unit{text: text[prev:]})
}

func hardCut(u unit, max int) []unit {
	var out []unit
	rest := u.text
	for utf8.RuneCountInString(rest) > max {
		cut := byteOffset(rest, max)
		out = append(out, unit{text: rest[:cut]})
		rest = rest[cut:]
	}
	return append(out, unit{text: rest, sep: u.sep})
}

func byteOffset(s string, runes int) int {
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}

// pack merges consecutive units greedily while the merged text, including
// the separators between them, stays within max. Blank units never start a
// part; their text joins the surrounding separator.
func pack(units []unit, lead string, max int) []Part {
	var (
		parts      []Part
		cur        strings.Builder
		curLen     int
		pendingSep string
		started    bool
	)
	for _, u := range units {
		if strings.TrimSpace(u.text) == "" {
			if started {
				pendingSep += u.text + u.sep
			} else {
				lead += u.text + u.sep
			}
			continue
		}
		n := utf8.RuneCountInString(u.text)
		if started {
			sepLen := utf8.RuneCountInString(pendingSep)
			if curLen+sepLen+n <= max {
				cur.WriteString(pendingSep)
				cur.WriteString(u.text)
				curLen += sepLen + n
				pendingSep = u.sep
				continue
			}
			parts = append(parts, Part{Text: cur.String(), Sep: pendingSep})
			cur.Reset()
		}
		cur.WriteString(u.text)
		curLen = n
		pendingSep = u.sep
		started = true
	}
	if started {
		parts = append(parts, Part{Text: cur.String(), Sep: pendingSep})
	}
	if len(parts) > 0 {
		parts[0].Lead = lead
	}
	return parts
}
