// Package journal is a durable append-only log of entries accepted for
// ingestion but not yet confirmed stored.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/logbook/internal/logger"
	"github.com/tinytelemetry/logbook/internal/model"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

type record struct {
	Seq   uint64         `json:"seq"`
	Entry model.LogEntry `json:"entry"`
}

// Journal stores one JSON record per line and tracks the stored watermark
// in a sidecar file. Sequence numbers are dense: a failed append does not
// consume one.
type Journal struct {
	mu         sync.Mutex
	path       string
	commitPath string
	file       *os.File
	nextSeq    uint64
	committed  uint64
	acked      map[uint64]uint64 // first seq -> last seq of ranges above the watermark
	log        zerolog.Logger
}

// Open creates or opens a journal at path. On startup it compacts committed
// records and ignores a partially written trailing line.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}

	commitPath := path + ".commit"
	committed, err := readCommitted(commitPath)
	if err != nil {
		return nil, err
	}

	maxSeq, err := compactCommitted(path, committed)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	j := &Journal{
		path:       path,
		commitPath: commitPath,
		file:       f,
		nextSeq:    max(maxSeq, committed) + 1,
		committed:  committed,
		acked:      make(map[uint64]uint64),
		log:        logger.Component("journal"),
	}
	j.log.Debug().Str("path", path).Uint64("committed", committed).Uint64("next_seq", j.nextSeq).Msg("journal opened")
	return j, nil
}

// Append persists one entry and returns its sequence number.
func (j *Journal) Append(entry model.LogEntry) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return 0, errors.New("journal: closed")
	}

	seq := j.nextSeq
	line, err := json.Marshal(record{Seq: seq, Entry: entry})
	if err != nil {
		return 0, fmt.Errorf("journal: marshal record: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.file.Write(line); err != nil {
		return 0, fmt.Errorf("journal: write record: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return 0, fmt.Errorf("journal: sync record: %w", err)
	}
	j.nextSeq++
	return seq, nil
}

// Commit marks records first..last as stored. The persisted watermark
// advances only across a contiguous run of committed ranges, so a range
// that never commits is replayed on the next Open.
func (j *Journal) Commit(first, last uint64) error {
	if first == 0 || last < first {
		return fmt.Errorf("journal: invalid commit range %d..%d", first, last)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if last <= j.committed {
		return nil
	}
	j.acked[max(first, j.committed+1)] = last

	advanced := false
	for {
		end, ok := j.acked[j.committed+1]
		if !ok {
			break
		}
		delete(j.acked, j.committed+1)
		j.committed = end
		advanced = true
	}
	if !advanced {
		return nil
	}
	return writeCommitted(j.commitPath, j.committed)
}

// Committed returns the highest sequence number below which every record
// is stored.
func (j *Journal) Committed() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.committed
}

// Replay calls fn for each uncommitted record in sequence order.
func (j *Journal) Replay(fn func(seq uint64, entry model.LogEntry) error) error {
	if fn == nil {
		return errors.New("journal: replay callback is nil")
	}

	j.mu.Lock()
	path := j.path
	committed := j.committed
	j.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("journal: open for replay: %w", err)
	}
	defer f.Close()

	return scanRecords(f, func(line []byte, r record) (bool, error) {
		if r.Seq <= committed {
			return true, nil
		}
		return true, fn(r.Seq, r.Entry)
	})
}

// Close closes the underlying journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// scanRecords decodes complete lines until EOF, a torn trailing line, or
// the first malformed record.
func scanRecords(r io.Reader, fn func(line []byte, rec record) (bool, error)) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("journal: read: %w", err)
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			return nil
		}

		var rec record
		if uerr := json.Unmarshal(line, &rec); uerr != nil {
			return nil
		}
		more, ferr := fn(line, rec)
		if ferr != nil {
			return ferr
		}
		if !more || errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func readCommitted(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("journal: read commit file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal: parse commit seq: %w", err)
	}
	return seq, nil
}

func writeCommitted(path string, seq uint64) error {
	tmp := path + ".tmp"
	payload := []byte(strconv.FormatUint(seq, 10) + "\n")
	if err := os.WriteFile(tmp, payload, defaultFileMode); err != nil {
		return fmt.Errorf("journal: write commit tmp: %w", err)
	}

	f, err := os.OpenFile(tmp, os.O_RDWR, defaultFileMode)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: open commit tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: sync commit tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: close commit tmp: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("journal: rename commit file: %w", err)
	}
	return nil
}

// compactCommitted rewrites path keeping only records above committed and
// returns the highest sequence number seen.
func compactCommitted(path string, committed uint64) (uint64, error) {
	src, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("journal: open source for compact: %w", err)
	}
	defer src.Close()

	tmpPath := path + ".compact"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("journal: open compact tmp: %w", err)
	}
	fail := func(err error) (uint64, error) {
		_ = dst.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}

	var maxSeq uint64
	err = scanRecords(src, func(line []byte, rec record) (bool, error) {
		maxSeq = max(maxSeq, rec.Seq)
		if rec.Seq > committed {
			if _, werr := dst.Write(line); werr != nil {
				return false, fmt.Errorf("journal: compact write: %w", werr)
			}
		}
		return true, nil
	})
	if err != nil {
		return fail(err)
	}

	if err := dst.Sync(); err != nil {
		return fail(fmt.Errorf("journal: compact sync: %w", err))
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("journal: compact close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("journal: compact rename: %w", err)
	}
	return maxSeq, nil
}
