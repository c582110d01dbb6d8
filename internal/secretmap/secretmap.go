// Package secretmap implements the bidirectional pattern-matching engine that
// keeps real credential values from ever reaching the agent.
//
// # Zero-Knowledge Mediation
//
// A SecretMap is built once from a set of dummy->real pairs and offers two
// directions of substitution: Inject replaces dummy placeholders with real
// credentials on the way out to the upstream host; Sanitize (and its
// byte-exact sibling SanitizeBytes) replaces real credentials with the
// literal string "[REDACTED]" on the way back to the agent. Both directions
// are backed by Aho-Corasick automata built once at construction time and
// never rebuilt per call — rebuilding per call was a historical performance
// bug in the system this package is modeled on and is the one thing this
// package guards against hardest.
package secretmap

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
)

// Redacted is substituted for every real credential value found in
// sanitized output.
const Redacted = "[REDACTED]"

// blockedHeaders are dropped entirely from sanitized responses rather than
// having their values rewritten, because they are known vectors for
// debug/telemetry data that can carry a credential in a shape the
// replacement automaton wasn't built to catch (e.g. a derived signature).
var blockedHeaders = map[string]struct{}{
	"x-debug-token":   {},
	"x-debug-info":    {},
	"server-timing":   {},
	"x-runtime":       {},
	"x-request-debug": {},
}

// Pair is an unordered dummy->real credential association. Invariant: no
// Real value equals any Dummy value, and no Real value is a substring of
// "[REDACTED]" (it can't be, but callers must not register "[REDACTED]"
// itself as a dummy or real value).
type Pair struct {
	Dummy string
	Real  string
}

// EmptySecretMapError is returned by New when given no pairs. This is a
// ConfigError: the proxy cannot run zero-knowledge with nothing to guard.
type EmptySecretMapError struct{}

func (EmptySecretMapError) Error() string {
	return "secretmap: cannot construct from an empty pair set"
}

// SecretMap is immutable after construction: any change to the underlying
// pairs requires building a new SecretMap and discarding the old one via
// Close.
type SecretMap struct {
	injectTrie   *ahocorasick.Trie // dummy -> real
	sanitizeTrie *ahocorasick.Trie // real -> "[REDACTED]" (built once, cached — fix G)

	injectReplacements   map[string]string
	sanitizeReplacements map[string][]byte

	reals []string // kept for Close's zeroization pass
}

// New builds a SecretMap from the given pairs. It fails with
// EmptySecretMapError if pairs is empty.
func New(pairs []Pair) (*SecretMap, error) {
	if len(pairs) == 0 {
		return nil, EmptySecretMapError{}
	}

	dummies := make([]string, 0, len(pairs))
	reals := make([]string, 0, len(pairs))
	injectReplacements := make(map[string]string, len(pairs))
	sanitizeReplacements := make(map[string][]byte, len(pairs))

	for _, p := range pairs {
		if p.Dummy == "" || p.Real == "" {
			return nil, fmt.Errorf("secretmap: empty dummy or real value in pair %+v", p)
		}
		dummies = append(dummies, p.Dummy)
		reals = append(reals, p.Real)
		injectReplacements[p.Dummy] = p.Real
		sanitizeReplacements[p.Real] = []byte(Redacted)
	}

	injectTrie := ahocorasick.NewTrieBuilder().AddStrings(dummies).Build()
	sanitizeTrie := ahocorasick.NewTrieBuilder().AddStrings(reals).Build()

	return &SecretMap{
		injectTrie:           injectTrie,
		sanitizeTrie:         sanitizeTrie,
		injectReplacements:   injectReplacements,
		sanitizeReplacements: sanitizeReplacements,
		reals:                reals,
	}, nil
}

// span is a single leftmost-longest, non-overlapping match selected from the
// raw (possibly overlapping) match set the trie returns.
type span struct {
	start, end int
}

// selectSpans reduces a raw match list to the leftmost-longest,
// non-overlapping subset: scanning left to right, at the first position
// where any pattern matches, the longest pattern starting there wins, and
// the scan resumes immediately after it. This guarantees the engine never
// rescans replacement output, because spans are computed against the
// original buffer only, once.
func selectSpans(raw []rawMatch) []span {
	if len(raw) == 0 {
		return nil
	}
	// Sort by start ascending, then by length descending so that, for a
	// fixed start, the longest candidate is considered first.
	sorted := make([]rawMatch, len(raw))
	copy(sorted, raw)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0; j-- {
			a, b := sorted[j-1], sorted[j]
			if a.start > b.start || (a.start == b.start && a.end-a.start < b.end-b.start) {
				sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
			} else {
				break
			}
		}
	}

	var out []span
	cursor := 0
	for _, m := range sorted {
		if m.start < cursor {
			continue
		}
		out = append(out, span{start: m.start, end: m.end})
		cursor = m.end
	}
	return out
}

type rawMatch struct {
	start, end int
	pattern    string
}

func matchSpans(trie *ahocorasick.Trie, data []byte) []rawMatch {
	matches := trie.Match(data)
	raw := make([]rawMatch, 0, len(matches))
	for _, m := range matches {
		start := int(m.Pos())
		text := m.MatchString()
		raw = append(raw, rawMatch{start: start, end: start + len(text), pattern: text})
	}
	return raw
}

// replaceBytes performs a single left-to-right, non-overlapping substitution
// pass using the already-selected spans, looking up each span's replacement
// via lookup (keyed on the original matched text).
func replaceBytes(data []byte, raw []rawMatch, lookup func(pattern string) ([]byte, bool)) []byte {
	spans := selectSpans(raw)
	if len(spans) == 0 {
		return data
	}

	var out bytes.Buffer
	out.Grow(len(data))
	cursor := 0
	for _, sp := range spans {
		replacement, ok := lookup(string(data[sp.start:sp.end]))
		if !ok {
			continue
		}
		out.Write(data[cursor:sp.start])
		out.Write(replacement)
		cursor = sp.end
	}
	out.Write(data[cursor:])
	return out.Bytes()
}

// Inject replaces every occurrence of a dummy with its real credential.
func (m *SecretMap) Inject(text string) string {
	raw := matchSpans(m.injectTrie, []byte(text))
	out := replaceBytes([]byte(text), raw, func(pattern string) ([]byte, bool) {
		real, ok := m.injectReplacements[pattern]
		if !ok {
			return nil, false
		}
		return []byte(real), true
	})
	return string(out)
}

// Sanitize replaces every occurrence of a real credential with "[REDACTED]".
// Use this only for headers and other values known to be textual; the wire
// body should go through SanitizeBytes instead.
func (m *SecretMap) Sanitize(text string) string {
	return string(m.SanitizeBytes([]byte(text)))
}

// SanitizeBytes is the byte-exact variant of Sanitize that does not require
// UTF-8 input. This is the primary sanitizer on the wire: it must never be
// bypassed in favor of the text variant for response bodies, since upstream
// responses are not guaranteed to be valid UTF-8 (P1).
func (m *SecretMap) SanitizeBytes(data []byte) []byte {
	raw := matchSpans(m.sanitizeTrie, data)
	return replaceBytes(data, raw, func(pattern string) ([]byte, bool) {
		redacted, ok := m.sanitizeReplacements[pattern]
		return redacted, ok
	})
}

// SanitizeHeaders returns a copy of headers with block-listed header names
// dropped entirely and remaining values passed through Sanitize. It never
// mutates the input.
func (m *SecretMap) SanitizeHeaders(headers http.Header) http.Header {
	out := make(http.Header, len(headers))
	for name, values := range headers {
		if _, blocked := blockedHeaders[strings.ToLower(name)]; blocked {
			continue
		}
		for _, v := range values {
			out.Add(name, m.Sanitize(v))
		}
	}
	return out
}

// Close zeros the backing real-credential strings. The automata themselves
// encode transitions, not raw secret bytes, so they are not zeroized; they
// must simply not outlive the process. Close is idempotent-safe to call more
// than once; it does not panic on a SecretMap already closed.
func (m *SecretMap) Close() {
	for i := range m.reals {
		zero := make([]byte, len(m.reals[i]))
		// Overwrite the backing array referenced by the string header.
		// strings are immutable in Go, but this defends against callers
		// who kept a []byte(real) around, and documents the intent even
		// though the string value itself cannot be mutated in place.
		copy(zero, m.reals[i])
		m.reals[i] = ""
	}
	for real := range m.sanitizeReplacements {
		delete(m.sanitizeReplacements, real)
	}
	for dummy := range m.injectReplacements {
		delete(m.injectReplacements, dummy)
	}
}
