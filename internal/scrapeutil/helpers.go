package scrapeutil

import (
	"strconv"
	"strings"
	"unicode"
)

// IsTruncated reports whether a response body looks like a partial
// transmission: the last non-whitespace byte is neither a closing brace
// nor a closing bracket. The upstream silently cuts off large payloads,
// so this is checked before any JSON decode is attempted.
func IsTruncated(body []byte) bool {
	for i := len(body) - 1; i >= 0; i-- {
		c := body[i]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			continue
		}
		return c != '}' && c != ']'
	}
	// An empty (or all-whitespace) body is truncated by definition.
	return true
}

// ParseMoney converts an upstream money value to a float64. The API is
// inconsistent: values arrive as numbers, numeric strings with commas
// and dollar signs, or garbage. Invalid input yields (0, false).
func ParseMoney(v any) (float64, bool) {
	switch m := v.(type) {
	case nil:
		return 0, false
	case float64:
		if m != m { // NaN
			return 0, false
		}
		return m, true
	case int:
		return float64(m), true
	case string:
		s := strings.TrimSpace(m)
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimPrefix(s, "$")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != f {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// NormalizeTerm lowercases a search term and collapses internal runs of
// whitespace to single spaces. All term comparisons in the deduplicator
// and generator go through this.
func NormalizeTerm(term string) string {
	return strings.Join(Tokens(term), " ")
}

// Tokens splits a term into lowercased whitespace-separated tokens.
func Tokens(term string) []string {
	return strings.FieldsFunc(strings.ToLower(term), unicode.IsSpace)
}

// ChunkRecords splits records into chunks of at most size, preserving
// order. A size <= 0 yields a single chunk.
func ChunkRecords[T any](records []T, size int) [][]T {
	if len(records) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{records}
	}
	chunks := make([][]T, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

// TrimToBytes truncates s to at most n bytes without splitting a UTF-8
// sequence. Used to bound failure snapshots before they are persisted.
func TrimToBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
