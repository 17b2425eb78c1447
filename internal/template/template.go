// Package template collapses log messages into normalized templates and
// computes their 64-bit fingerprints. The template is the cross-process
// deduplication key for patterns, so every pass here must be deterministic.
package template

import (
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/tinytelemetry/logbook/internal/model"
)

// Pass is a single textual substitution applied to a message.
type Pass struct {
	Name        string
	Regex       *regexp.Regexp
	Placeholder string
}

// DefaultPasses returns the built-in passes in application order, after the
// metadata pass: timestamps, GUIDs, absolute paths, numbers.
func DefaultPasses() []Pass {
	return []Pass{
		{
			Name:        "timestamp",
			Regex:       regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(?::\d{2}(?:[.,]\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?`),
			Placeholder: "{timestamp}",
		},
		{
			Name:        "guid",
			Regex:       regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`),
			Placeholder: "{guid}",
		},
		{
			// An absolute path starts the string or follows whitespace, '=', ':',
			// a quote or '('. URLs are left alone because "//" never matches a
			// path segment.
			Name:        "path",
			Regex:       regexp.MustCompile(`(^|[\s=:"'(])/(?:[\w.\-]+/)*[\w.\-]+/?`),
			Placeholder: "${1}{path}",
		},
		{
			Name:        "number",
			Regex:       regexp.MustCompile(`\b\d+(?:\.\d+)?\b`),
			Placeholder: "{number}",
		},
	}
}

// Engine normalizes messages into templates. An Engine holds only compiled,
// read-only state and is safe for concurrent use.
type Engine struct {
	passes []Pass
}

// New creates an Engine with the default passes.
func New() *Engine {
	return &Engine{passes: DefaultPasses()}
}

// Normalize returns the template for message and its fingerprint.
func (e *Engine) Normalize(message string, metadata model.Metadata) (string, uint64) {
	tmpl := e.Template(message, metadata)
	return tmpl, Fingerprint(tmpl)
}

// Template applies the metadata pass followed by the regex passes.
func (e *Engine) Template(message string, metadata model.Metadata) string {
	tmpl := message
	for _, key := range metadata.Keys() {
		value, ok := metadata.StringValue(key)
		if !ok || value == "" {
			continue
		}
		tmpl = strings.ReplaceAll(tmpl, value, "{"+key+"}")
	}
	for _, p := range e.passes {
		tmpl = p.Regex.ReplaceAllString(tmpl, p.Placeholder)
	}
	return tmpl
}

// Fingerprint hashes the UTF-8 bytes of a template. Equal templates always
// hash equal, across processes and restarts.
func Fingerprint(template string) uint64 {
	return xxh3.HashString(template)
}
