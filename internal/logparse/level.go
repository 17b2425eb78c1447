package logparse

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/tinytelemetry/logbook/internal/model"
)

// exactLevels maps known spellings (lower case) to canonical levels.
var exactLevels = map[string]model.Level{
	"trace":         model.LevelTrace,
	"trc":           model.LevelTrace,
	"trac":          model.LevelTrace,
	"verbose":       model.LevelTrace,
	"vrb":           model.LevelTrace,
	"debug":         model.LevelDebug,
	"dbg":           model.LevelDebug,
	"debu":          model.LevelDebug,
	"info":          model.LevelInfo,
	"inf":           model.LevelInfo,
	"information":   model.LevelInfo,
	"informational": model.LevelInfo,
	"notice":        model.LevelInfo,
	"warn":          model.LevelWarn,
	"wrn":           model.LevelWarn,
	"warning":       model.LevelWarn,
	"err":           model.LevelError,
	"erro":          model.LevelError,
	"error":         model.LevelError,
	"fail":          model.LevelError,
	"failure":       model.LevelError,
	"critical":      model.LevelFatal,
	"crit":          model.LevelFatal,
	"fatal":         model.LevelFatal,
	"ftl":           model.LevelFatal,
	"panic":         model.LevelFatal,
	"emergency":     model.LevelFatal,
	"emerg":         model.LevelFatal,
	"alert":         model.LevelFatal,
}

type levelMatcher struct {
	re    *regexp.Regexp
	level model.Level
}

// fallbackMatchers are tried in order; the first match wins.
var fallbackMatchers = []levelMatcher{
	{regexp.MustCompile(`(?i)inf(o|ormation)?`), model.LevelInfo},
	{regexp.MustCompile(`(?i)warn|wrn`), model.LevelWarn},
	{regexp.MustCompile(`(?i)err|fail`), model.LevelError},
	{regexp.MustCompile(`(?i)crit|fatal|panic|emerg`), model.LevelFatal},
	{regexp.MustCompile(`(?i)debug|dbg`), model.LevelDebug},
	{regexp.MustCompile(`(?i)trace|verbose`), model.LevelTrace},
}

// classify maps raw to a level without consulting any cache.
func classify(raw string) model.Level {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return model.LevelInfo
	}
	if lvl, ok := exactLevels[s]; ok {
		return lvl
	}
	for _, m := range fallbackMatchers {
		if m.re.MatchString(s) {
			return m.level
		}
	}
	return model.LevelInfo
}

// LookupLevel reports the level of a known spelling. Unlike
// NormalizeLevel it does not fall back to substring matching.
func LookupLevel(word string) (model.Level, bool) {
	lvl, ok := exactLevels[strings.ToLower(strings.TrimSpace(word))]
	return lvl, ok
}

// Normalizer canonicalizes level strings and memoizes the results.
// Lookups of known keys never block; a new key is classified at most once
// even under concurrent first use.
type Normalizer struct {
	cache levelCache
	group singleflight.Group
}

type levelCache interface {
	Get(key string) (model.Level, bool)
	Add(key string, lvl model.Level)
	Len() int
}

// NewNormalizer creates a normalizer. size <= 0 gives an unbounded cache,
// which grows with the cardinality of distinct raw inputs; a positive size
// bounds it with LRU eviction.
func NewNormalizer(size int) *Normalizer {
	if size <= 0 {
		return &Normalizer{cache: &syncMapCache{}}
	}
	c, err := lru.New[string, model.Level](size)
	if err != nil {
		// Only reachable with a non-positive size, excluded above.
		panic(err)
	}
	return &Normalizer{cache: lruCache{c}}
}

// Normalize returns the canonical level for raw. It never fails: empty and
// unrecognized input yield Info.
func (n *Normalizer) Normalize(raw string) model.Level {
	if lvl, ok := n.cache.Get(raw); ok {
		return lvl
	}
	v, _, _ := n.group.Do(raw, func() (any, error) {
		if lvl, ok := n.cache.Get(raw); ok {
			return lvl, nil
		}
		lvl := classify(raw)
		n.cache.Add(raw, lvl)
		return lvl, nil
	})
	return v.(model.Level)
}

// CacheLen reports the number of memoized inputs.
func (n *Normalizer) CacheLen() int { return n.cache.Len() }

type syncMapCache struct {
	m     sync.Map
	mu    sync.Mutex
	count int
}

func (c *syncMapCache) Get(key string) (model.Level, bool) {
	v, ok := c.m.Load(key)
	if !ok {
		return "", false
	}
	return v.(model.Level), true
}

func (c *syncMapCache) Add(key string, lvl model.Level) {
	if _, loaded := c.m.LoadOrStore(key, lvl); !loaded {
		c.mu.Lock()
		c.count++
		c.mu.Unlock()
	}
}

func (c *syncMapCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

type lruCache struct {
	c *lru.Cache[string, model.Level]
}

func (l lruCache) Get(key string) (model.Level, bool) { return l.c.Get(key) }
func (l lruCache) Add(key string, lvl model.Level)    { l.c.Add(key, lvl) }
func (l lruCache) Len() int                           { return l.c.Len() }

var defaultNormalizer atomic.Pointer[Normalizer]

func init() {
	defaultNormalizer.Store(NewNormalizer(0))
}

// SetDefault replaces the process-wide normalizer used by NormalizeLevel.
func SetDefault(n *Normalizer) {
	if n != nil {
		defaultNormalizer.Store(n)
	}
}

// NormalizeLevel canonicalizes raw using the process-wide normalizer.
func NormalizeLevel(raw string) model.Level {
	return defaultNormalizer.Load().Normalize(raw)
}

// LevelFromNumber converts pino/bunyan numeric levels.
func LevelFromNumber(level int) model.Level {
	switch {
	case level < 20:
		return model.LevelTrace
	case level < 30:
		return model.LevelDebug
	case level < 40:
		return model.LevelInfo
	case level < 50:
		return model.LevelWarn
	case level < 60:
		return model.LevelError
	default:
		return model.LevelFatal
	}
}
