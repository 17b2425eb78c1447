package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/tinytelemetry/logbook/internal/logparse"
	"github.com/tinytelemetry/logbook/internal/model"
)

// Field aliases, first match wins.
var (
	timestampKeys   = []string{"timestamp", "time", "ts", "@timestamp"}
	serviceKeys     = []string{"service", "serviceName", "service_name"}
	levelKeys       = []string{"level", "severity", "lvl"}
	messageKeys     = []string{"message", "msg"}
	metadataKeys    = []string{"metadata", "attributes"}
	traceKeys       = []string{"traceId", "trace_id"}
	spanKeys        = []string{"spanId", "span_id"}
	hostnameKeys    = []string{"hostname", "host"}
	environmentKeys = []string{"environment", "env"}
)

var knownKeys = func() map[string]struct{} {
	m := make(map[string]struct{})
	for _, set := range [][]string{
		timestampKeys, serviceKeys, levelKeys, messageKeys, metadataKeys,
		traceKeys, spanKeys, hostnameKeys, environmentKeys,
	} {
		for _, k := range set {
			m[k] = struct{}{}
		}
	}
	return m
}()

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05,999",
}

// Extractor turns raw lines into log entries. It reuses a JSON parser and
// is not safe for concurrent use.
type Extractor struct {
	parser fastjson.Parser
	now    func() time.Time
}

// NewExtractor creates an Extractor that stamps entries without a
// timestamp with the current time.
func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

var parserPool fastjson.ParserPool

// ParseLine converts one line using a pooled parser. See Extractor.ParseLine.
func ParseLine(line string) (model.LogEntry, bool) {
	p := parserPool.Get()
	defer parserPool.Put(p)
	return parseLine(p, line, time.Now)
}

// ParseLine converts one NDJSON line to an entry. Lines that are not a JSON
// object become plain-text entries. Blank lines report false.
func (x *Extractor) ParseLine(line string) (model.LogEntry, bool) {
	return parseLine(&x.parser, line, x.now)
}

func parseLine(p *fastjson.Parser, line string, now func() time.Time) (model.LogEntry, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return model.LogEntry{}, false
	}
	if trimmed[0] == '{' {
		if v, err := p.Parse(trimmed); err == nil && v.Type() == fastjson.TypeObject {
			return fromJSON(v, trimmed, now), true
		}
	}
	return PlainTextEntry(trimmed, now()), true
}

func fromJSON(v *fastjson.Value, raw string, now func() time.Time) model.LogEntry {
	e := model.LogEntry{
		ServiceName: stringField(v, serviceKeys...),
		Message:     stringField(v, messageKeys...),
		TraceID:     stringField(v, traceKeys...),
		SpanID:      stringField(v, spanKeys...),
		Hostname:    stringField(v, hostnameKeys...),
		Environment: stringField(v, environmentKeys...),
		Level:       levelField(v),
	}
	if e.Message == "" {
		e.Message = raw
	}
	e.Message = sanitizeMessage(e.Message)

	if ts, ok := timestampField(v); ok {
		e.Timestamp = ts
	} else {
		e.Timestamp = now().UTC()
	}

	e.Metadata = metadataField(v)
	return e
}

// PlainTextEntry wraps a non-JSON line. A leading level word such as
// "ERROR:" or "[warn]" sets the level; otherwise it is Info.
func PlainTextEntry(line string, at time.Time) model.LogEntry {
	return model.LogEntry{
		Timestamp: at.UTC(),
		Level:     textLevel(line),
		Message:   sanitizeMessage(line),
	}
}

// textLevel looks for a level keyword among the first few words.
func textLevel(line string) model.Level {
	words := strings.Fields(line)
	if len(words) > 4 {
		words = words[:4]
	}
	for _, w := range words {
		w = strings.Trim(w, "[]():|<>")
		if lvl, ok := logparse.LookupLevel(w); ok {
			return lvl
		}
	}
	return model.LevelInfo
}

func lookup(v *fastjson.Value, keys ...string) *fastjson.Value {
	for _, k := range keys {
		if f := v.Get(k); f != nil && f.Type() != fastjson.TypeNull {
			return f
		}
	}
	return nil
}

// stringField returns the first non-empty scalar among keys as text.
func stringField(v *fastjson.Value, keys ...string) string {
	for _, k := range keys {
		f := v.Get(k)
		if f == nil {
			continue
		}
		if s := scalarText(f); s != "" {
			return s
		}
	}
	return ""
}

func scalarText(f *fastjson.Value) string {
	switch f.Type() {
	case fastjson.TypeString:
		return string(f.GetStringBytes())
	case fastjson.TypeNumber, fastjson.TypeTrue, fastjson.TypeFalse:
		return f.String()
	}
	return ""
}

func levelField(v *fastjson.Value) model.Level {
	f := lookup(v, levelKeys...)
	if f == nil {
		return model.LevelInfo
	}
	switch f.Type() {
	case fastjson.TypeNumber:
		return logparse.LevelFromNumber(f.GetInt())
	case fastjson.TypeString:
		return logparse.NormalizeLevel(string(f.GetStringBytes()))
	}
	return model.LevelInfo
}

func timestampField(v *fastjson.Value) (time.Time, bool) {
	f := lookup(v, timestampKeys...)
	if f == nil {
		return time.Time{}, false
	}
	switch f.Type() {
	case fastjson.TypeNumber:
		return fromEpoch(f.GetFloat64())
	case fastjson.TypeString:
		return ParseTimestamp(string(f.GetStringBytes()))
	}
	return time.Time{}, false
}

// ParseTimestamp accepts RFC 3339 and common variants, plus numeric epoch
// strings. Times without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(n)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// fromEpoch interprets n as seconds, milliseconds, microseconds or
// nanoseconds since the epoch depending on its magnitude.
func fromEpoch(n float64) (time.Time, bool) {
	if n <= 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}, false
	}
	switch {
	case n < 1e11:
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case n < 1e14:
		return time.UnixMilli(int64(n)).UTC(), true
	case n < 1e17:
		return time.UnixMicro(int64(n)).UTC(), true
	default:
		return time.Unix(0, int64(n)).UTC(), true
	}
}

// metadataField collects the metadata object followed by every top-level
// field that is not one of the recognized aliases.
func metadataField(v *fastjson.Value) model.Metadata {
	var md model.Metadata
	if f := lookup(v, metadataKeys...); f != nil && f.Type() == fastjson.TypeObject {
		if parsed, err := model.MetadataFromValue(f); err == nil {
			md = parsed
		}
	}

	obj, err := v.Object()
	if err != nil {
		return md
	}
	obj.Visit(func(key []byte, val *fastjson.Value) {
		k := string(key)
		if _, known := knownKeys[k]; known {
			return
		}
		if _, dup := md.Get(k); dup {
			return
		}
		md.SetRaw(k, val.MarshalTo(nil))
	})
	return md
}

func sanitizeMessage(message string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(message)
}
