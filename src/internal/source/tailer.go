package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"logmux/src/internal/core"

	"github.com/lixenwraith/log"
)

// RecordSink receives parsed records from a tailer. Offer must not
// block; queueing policy belongs to the subscription layer.
type RecordSink interface {
	Offer(rec core.LogRecord)
}

// Tails one append-only JSONL file. A single goroutine polls the file
// and hands records synchronously, in file order, to every attached
// sink. Sinks never touch tailer state.
type Tailer struct {
	source       string // base name, becomes the record Source
	path         string
	pollInterval time.Duration
	maxLineBytes int64
	logger       *log.Logger

	// Tail state, owned by the poll goroutine
	partial    bytes.Buffer // bytes read but not yet newline terminated
	discarding bool         // inside an oversized line, skip to next newline
	inode      uint64
	readBuf    []byte

	readOffset   atomic.Int64 // bytes consumed from the file
	lastSeenSize atomic.Int64
	available    atomic.Bool

	mu    sync.RWMutex
	sinks []RecordSink

	cancel context.CancelFunc
	done   chan struct{}

	// Statistics
	recordsRead   atomic.Uint64
	parseFailures atomic.Uint64
	oversized     atomic.Uint64
	rotations     atomic.Uint64
	lastRecordAt  atomic.Int64 // unix nano, 0 until first record
}

func newTailer(source, path string, pollInterval time.Duration, maxLineBytes int64, logger *log.Logger) *Tailer {
	return &Tailer{
		source:       source,
		path:         path,
		pollInterval: pollInterval,
		maxLineBytes: maxLineBytes,
		logger:       logger,
		readBuf:      make([]byte, 64*1024),
		done:         make(chan struct{}),
	}
}

// start snapshots the current end of file and begins polling. Only
// records appended after this point are ever delivered.
func (t *Tailer) start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	if info, err := os.Stat(t.path); err == nil {
		t.readOffset.Store(info.Size())
		t.lastSeenSize.Store(info.Size())
		t.inode = inodeOf(info)
		t.available.Store(true)
	}

	go t.run(ctx)
}

func (t *Tailer) stop() {
	t.cancel()
	<-t.done
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll()
		}
	}
}

func (t *Tailer) poll() {
	info, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			if t.available.Swap(false) {
				// Anything present when the file comes back is new content
				t.logger.Debug("msg", "Source file disappeared, waiting for it to return",
					"component", "tailer",
					"source", t.source)
				t.resetToStart()
				t.inode = 0
			}
			return
		}
		t.logger.Warn("msg", "Failed to stat source file",
			"component", "tailer",
			"source", t.source,
			"error", err)
		return
	}

	if !t.available.Swap(true) {
		t.logger.Debug("msg", "Source file appeared",
			"component", "tailer",
			"source", t.source,
			"size", info.Size())
	}

	size := info.Size()
	offset := t.readOffset.Load()
	currentInode := inodeOf(info)

	rotated := false
	reason := ""
	switch {
	case size < t.lastSeenSize.Load():
		rotated = true
		reason = "size decrease"
	case offset > size:
		rotated = true
		reason = "offset beyond file size"
	case t.inode != 0 && currentInode != 0 && currentInode != t.inode:
		if size < offset || size == 0 {
			rotated = true
			reason = "inode change"
		} else {
			// Atomic save: same or larger content under a new inode,
			// keep the offset
			t.inode = currentInode
		}
	}

	if rotated {
		t.rotations.Add(1)
		t.logger.Info("msg", "Source file truncated or rotated, restarting from beginning",
			"component", "tailer",
			"source", t.source,
			"reason", reason,
			"size", size)
		t.resetToStart()
		t.inode = currentInode
		offset = 0
	}
	if t.inode == 0 {
		t.inode = currentInode
	}
	t.lastSeenSize.Store(size)

	if size <= offset {
		return
	}
	if err := t.consume(); err != nil {
		t.logger.Warn("msg", "Failed to read source file",
			"component", "tailer",
			"source", t.source,
			"error", err)
	}
}

func (t *Tailer) resetToStart() {
	t.readOffset.Store(0)
	t.lastSeenSize.Store(0)
	t.partial.Reset()
	t.discarding = false
}

func (t *Tailer) consume() error {
	file, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Seek(t.readOffset.Load(), io.SeekStart); err != nil {
		return err
	}

	for {
		n, err := file.Read(t.readBuf)
		if n > 0 {
			t.readOffset.Add(int64(n))
			t.scan(t.readBuf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// scan splits a chunk into lines, carrying the unterminated tail in the
// partial buffer across polls.
func (t *Tailer) scan(chunk []byte) {
	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			if t.discarding {
				return
			}
			t.partial.Write(chunk)
			if int64(t.partial.Len()) > t.maxLineBytes {
				t.dropOversized(int64(t.partial.Len()))
				t.partial.Reset()
				t.discarding = true
			}
			return
		}

		line := chunk[:idx]
		chunk = chunk[idx+1:]

		if t.discarding {
			t.discarding = false
			continue
		}
		if t.partial.Len() > 0 {
			t.partial.Write(line)
			t.emit(t.partial.Bytes())
			t.partial.Reset()
			continue
		}
		t.emit(line)
	}
}

func (t *Tailer) emit(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if int64(len(line)) > t.maxLineBytes {
		t.dropOversized(int64(len(line)))
		return
	}

	rec, err := core.ParseRecord(t.source, line)
	if err != nil {
		t.parseFailures.Add(1)
		t.logger.Debug("msg", "Skipping malformed line",
			"component", "tailer",
			"source", t.source,
			"error", err)
		return
	}

	t.recordsRead.Add(1)
	t.lastRecordAt.Store(time.Now().UnixNano())

	t.mu.RLock()
	for _, s := range t.sinks {
		s.Offer(rec)
	}
	t.mu.RUnlock()
}

func (t *Tailer) dropOversized(length int64) {
	t.oversized.Add(1)
	t.logger.Warn("msg", "Oversized line discarded",
		"component", "tailer",
		"source", t.source,
		"length", length,
		"limit", t.maxLineBytes)
}

// Attach registers a sink for future records
func (t *Tailer) Attach(s RecordSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = append(t.sinks, s)
}

// Detach removes a previously attached sink
func (t *Tailer) Detach(s RecordSink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.sinks {
		if cur == s {
			t.sinks = append(t.sinks[:i], t.sinks[i+1:]...)
			return
		}
	}
}

type TailerStats struct {
	Source        string    `json:"source"`
	Available     bool      `json:"available"`
	ReadOffset    int64     `json:"read_offset"`
	LastSeenSize  int64     `json:"last_seen_size"`
	Subscribers   int       `json:"subscribers"`
	RecordsRead   uint64    `json:"records_read"`
	ParseFailures uint64    `json:"parse_failures"`
	Oversized     uint64    `json:"oversized"`
	Rotations     uint64    `json:"rotations"`
	LastRecordAt  time.Time `json:"last_record_at,omitzero"`
}

func (t *Tailer) GetStats() TailerStats {
	t.mu.RLock()
	subscribers := len(t.sinks)
	t.mu.RUnlock()

	var last time.Time
	if ns := t.lastRecordAt.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}

	return TailerStats{
		Source:        t.source,
		Available:     t.available.Load(),
		ReadOffset:    t.readOffset.Load(),
		LastSeenSize:  t.lastSeenSize.Load(),
		Subscribers:   subscribers,
		RecordsRead:   t.recordsRead.Load(),
		ParseFailures: t.parseFailures.Load(),
		Oversized:     t.oversized.Load(),
		Rotations:     t.rotations.Load(),
		LastRecordAt:  last,
	}
}

func inodeOf(info os.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}
