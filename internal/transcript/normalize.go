package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"
	"unicode"
)

// Batch is the result of normalizing one fetch.
type Batch struct {
	// Records holds actionable records in source order (newest first).
	Records []Record
	// Dropped lists the raw records that could not be parsed.
	Dropped []*ParseError
	// ContentFree counts well-formed records without text after cleaning.
	ContentFree int
	// OldestID and NewestID span every well-formed record, content-free included.
	OldestID int64
	NewestID int64
}

// Parsed reports how many records carried a valid id.
func (b Batch) Parsed() int {
	return len(b.Records) + b.ContentFree
}

type wireRecord struct {
	ID        json.RawMessage `json:"id"`
	Text      json.RawMessage `json:"text"`
	IsFromMe  json.RawMessage `json:"is_from_me"`
	Sender    json.RawMessage `json:"sender"`
	CreatedAt json.RawMessage `json:"created_at"`
}

// Normalize parses raw transcript lines. A bad line never affects its siblings.
func Normalize(raw []RawRecord) Batch {
	var b Batch
	for i, line := range raw {
		rec, err := parseRecord(line)
		if err != nil {
			var pe *ParseError
			if !errors.As(err, &pe) {
				pe = &ParseError{Reason: "invalid record", Err: err}
			}
			pe.Line = i + 1
			b.Dropped = append(b.Dropped, pe)
			continue
		}

		if b.OldestID == 0 || rec.ID < b.OldestID {
			b.OldestID = rec.ID
		}
		if rec.ID > b.NewestID {
			b.NewestID = rec.ID
		}

		if rec.Text == "" {
			b.ContentFree++
			continue
		}
		b.Records = append(b.Records, rec)
	}
	return b
}

func parseRecord(line RawRecord) (Record, error) {
	cleaned := stripControlBytes(bytes.TrimSpace(line))
	if len(cleaned) == 0 || cleaned[0] != '{' || cleaned[len(cleaned)-1] != '}' {
		return Record{}, &ParseError{Reason: "not a json object"}
	}

	var w wireRecord
	if err := json.Unmarshal(cleaned, &w); err != nil {
		return Record{}, &ParseError{Reason: "invalid json", Err: err}
	}

	id, ok := parseID(w.ID)
	if !ok {
		return Record{}, &ParseError{Reason: "missing or invalid id"}
	}
	text, ok := parseOptionalString(w.Text)
	if !ok {
		return Record{}, &ParseError{Reason: "text is not a string"}
	}
	fromMe, ok := parseFlag(w.IsFromMe)
	if !ok {
		return Record{}, &ParseError{Reason: "missing or invalid is_from_me"}
	}

	rec := Record{
		ID:     id,
		Text:   CleanText(text),
		FromMe: fromMe,
	}
	if sender, ok := parseOptionalString(w.Sender); ok {
		rec.Sender = strings.TrimSpace(sender)
	}
	if created, ok := parseOptionalString(w.CreatedAt); ok && created != "" {
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.SentAt = ts.UTC()
		}
	}
	return rec, nil
}

// CleanText removes control characters and attachment placeholders and trims
// surrounding whitespace. Line breaks and tabs become single spaces.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r == '\ufffc':
			continue
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// stripControlBytes drops raw ASCII control bytes, which are never valid
// inside a JSON string and only appear when the source emits unescaped text.
func stripControlBytes(line []byte) []byte {
	clean := true
	for _, c := range line {
		if c < 0x20 || c == 0x7f {
			clean = false
			break
		}
	}
	if clean {
		return line
	}
	out := make([]byte, 0, len(line))
	for _, c := range line {
		if c < 0x20 || c == 0x7f {
			continue
		}
		out = append(out, c)
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func parseID(raw json.RawMessage) (int64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if id, err := n.Int64(); err == nil {
		return id, id > 0
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f <= 0 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func parseOptionalString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// parseFlag accepts JSON booleans and the 0/1 integers sqlite-backed tools emit.
func parseFlag(raw json.RawMessage) (bool, bool) {
	if isNull(raw) {
		return false, false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, true
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil && (n == 0 || n == 1) {
		return n == 1, true
	}
	return false, false
}
