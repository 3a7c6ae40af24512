// Package history implements the size-bounded on-disk tier of the stats
// store: an append-only log of consolidated entries split across segment
// files. The active segment receives writes; sealed segments are immutable.
// When the directory's total size exceeds its byte budget, whole sealed
// segments are deleted oldest-first. Partial entries are never evicted and
// the active segment is never deleted while being written.
package history

import (
	"encoding/binary"
	goerrors "errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nvalkyr/vigil/internal/errors"
	"github.com/nvalkyr/vigil/internal/logging"
	"github.com/nvalkyr/vigil/internal/stats"
)

var log = logging.Component("history")

// Options configures the history log.
type Options struct {
	// MaxTotalBytes is the byte budget for the whole directory.
	MaxTotalBytes int64

	// MaxSegmentBytes is the rotation size for the active segment.
	MaxSegmentBytes int64
}

// DefaultOptions returns default log options.
func DefaultOptions() Options {
	return Options{
		MaxTotalBytes:   32 * 1024 * 1024, // 32MB
		MaxSegmentBytes: 1024 * 1024,      // 1MB
	}
}

// Log is the append-only segment log. It is safe for concurrent use; reads
// operate on sealed segments plus the active segment's committed length
// captured at iterator creation.
type Log struct {
	mu sync.Mutex

	dir  string
	opts Options

	active     *os.File
	activePath string
	activeSize int64
	segmentSeq int64

	sealed []segmentInfo

	closed bool

	stats LogStats
}

// LogStats holds history log statistics.
type LogStats struct {
	Segments        int   `json:"segments"`
	TotalBytes      int64 `json:"totalBytes"`
	RecordsWritten  int64 `json:"recordsWritten"`
	SegmentsCreated int64 `json:"segmentsCreated"`
	SegmentsEvicted int64 `json:"segmentsEvicted"`
	BytesEvicted    int64 `json:"bytesEvicted"`
	CorruptRecords  int64 `json:"corruptRecords"`
}

// segmentInfo indexes one sealed segment file.
type segmentInfo struct {
	path string
	seq  int64
	size int64
}

// Open opens (or creates) a history log in dir. Existing segments are
// indexed as sealed and the sequence continues after the highest one, so a
// restart never overwrites prior history.
func Open(dir string, opts Options) (*Log, error) {
	if opts.MaxTotalBytes <= 0 {
		opts.MaxTotalBytes = DefaultOptions().MaxTotalBytes
	}
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = DefaultOptions().MaxSegmentBytes
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, wrapPersistence(err, "create history dir")
	}

	l := &Log{
		dir:  dir,
		opts: opts,
	}

	sealed, err := listSegments(dir)
	if err != nil {
		return nil, wrapPersistence(err, "list segments")
	}
	l.sealed = sealed
	if len(sealed) > 0 {
		l.segmentSeq = sealed[len(sealed)-1].seq + 1
	}

	if err := l.rotateLocked(); err != nil {
		return nil, err
	}

	// The directory may already be over budget, e.g. after the operator
	// lowered the cap; reclaim at startup rather than on the first append.
	l.enforceBudgetLocked()

	return l, nil
}

// Append serializes the entry and writes it to the active segment, rotating
// first if the record would push the segment past its rotation size. The
// eviction pass runs before Append returns, so the byte-cap invariant is
// never observably violated by a completed append.
func (l *Log) Append(entry stats.ConsolidatedEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.ErrHistoryClosed
	}

	payload, err := encodeEntry(entry)
	if err != nil {
		return wrapPersistence(err, "append")
	}

	recordSize := int64(recordHeaderSize + len(payload))
	if l.activeSize > headerSize && l.activeSize+recordSize > l.opts.MaxSegmentBytes {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	if err := l.writeRecordLocked(payload); err != nil {
		return err
	}
	l.stats.RecordsWritten++

	l.enforceBudgetLocked()
	return nil
}

func (l *Log) writeRecordLocked(payload []byte) error {
	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))

	if _, err := l.active.Write(header[:]); err != nil {
		return wrapPersistence(err, "write record header")
	}
	if _, err := l.active.Write(payload); err != nil {
		return wrapPersistence(err, "write record payload")
	}

	l.activeSize += int64(recordHeaderSize + len(payload))
	return nil
}

// rotateLocked seals the active segment (if any) and starts a new one.
func (l *Log) rotateLocked() error {
	if l.active != nil {
		if err := l.active.Close(); err != nil {
			log.Warn("close segment", "path", l.activePath, "error", err)
		}
		l.sealed = append(l.sealed, segmentInfo{
			path: l.activePath,
			seq:  l.segmentSeq - 1,
			size: l.activeSize,
		})
		log.Debug("segment sealed", "path", l.activePath, "bytes", l.activeSize)
	}

	name := fmt.Sprintf("%016d.seg", l.segmentSeq)
	path := filepath.Join(l.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return wrapPersistence(err, "create segment")
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], segMagic)
	binary.LittleEndian.PutUint32(header[8:12], segVersion)

	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(path)
		return wrapPersistence(err, "write segment header")
	}

	l.active = f
	l.activePath = path
	l.activeSize = headerSize
	l.segmentSeq++
	l.stats.SegmentsCreated++

	return nil
}

// enforceBudgetLocked deletes whole sealed segments oldest-first until the
// directory is under budget or only the active segment remains.
func (l *Log) enforceBudgetLocked() {
	total := l.activeSize
	for _, s := range l.sealed {
		total += s.size
	}

	for total > l.opts.MaxTotalBytes && len(l.sealed) > 0 {
		oldest := l.sealed[0]
		if err := os.Remove(oldest.path); err != nil {
			log.Error("evict segment", "path", oldest.path, "error", err)
			return
		}
		l.sealed = l.sealed[1:]
		total -= oldest.size
		l.stats.SegmentsEvicted++
		l.stats.BytesEvicted += oldest.size
		log.Debug("segment evicted", "path", oldest.path, "bytes", oldest.size)
	}
}

// ReadAll returns an iterator over every persisted entry in chronological
// order: sealed segments first, then the active segment's committed bytes.
func (l *Log) ReadAll() (*Iterator, error) {
	return l.ReadRange(time.Time{}, time.Time{})
}

// ReadRange returns an iterator over entries whose timestamp falls within
// [from, to]. A zero bound is unbounded on that side.
func (l *Log) ReadRange(from, to time.Time) (*Iterator, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, errors.ErrHistoryClosed
	}

	sources := make([]segmentSource, 0, len(l.sealed)+1)
	for _, s := range l.sealed {
		sources = append(sources, segmentSource{path: s.path, limit: s.size})
	}
	// The active segment is read only up to its committed length; bytes
	// written after this point are invisible to the returned iterator.
	sources = append(sources, segmentSource{path: l.activePath, limit: l.activeSize})

	return &Iterator{
		log:     l,
		sources: sources,
		from:    from,
		to:      to,
	}, nil
}

// Entries reads the requested range eagerly. Convenience for callers that
// want a slice rather than an iterator.
func (l *Log) Entries(from, to time.Time) ([]stats.ConsolidatedEntry, error) {
	it, err := l.ReadRange(from, to)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []stats.ConsolidatedEntry
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}

// Stats returns log statistics.
func (l *Log) Stats() LogStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stats
	s.Segments = len(l.sealed) + 1
	s.TotalBytes = l.activeSize
	for _, seg := range l.sealed {
		s.TotalBytes += seg.size
	}
	return s
}

// TotalBytes returns the current on-disk footprint.
func (l *Log) TotalBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.activeSize
	for _, s := range l.sealed {
		total += s.size
	}
	return total
}

// Dir returns the log directory.
func (l *Log) Dir() string {
	return l.dir
}

// Close closes the active segment. Further appends fail with
// ErrHistoryClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.active != nil {
		return l.active.Close()
	}
	return nil
}

// countCorrupt records a skipped corrupt record for Stats.
func (l *Log) countCorrupt() {
	l.mu.Lock()
	l.stats.CorruptRecords++
	l.mu.Unlock()
}

// listSegments returns all segment files in dir in sequence order.
func listSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []segmentInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if len(name) != 20 || name[16:] != ".seg" {
			continue
		}

		var seq int64
		if _, err := fmt.Sscanf(name, "%016d.seg", &seq); err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		segments = append(segments, segmentInfo{
			path: filepath.Join(dir, name),
			seq:  seq,
			size: info.Size(),
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].seq < segments[j].seq
	})

	return segments, nil
}

func wrapPersistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, goerrors.Join(errors.ErrPersistence, err))
}
