package history

import (
	"encoding/binary"
	goerrors "errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/nvalkyr/vigil/internal/errors"
	"github.com/nvalkyr/vigil/internal/stats"
)

// segmentSource names one segment file and the committed byte length to
// read. For sealed segments the limit is the file size; for the active
// segment it is the committed length at iterator creation.
type segmentSource struct {
	path  string
	limit int64
}

// segmentReader reads records from a single segment file up to a byte limit.
type segmentReader struct {
	f      *os.File
	path   string
	offset int64
	limit  int64
}

func openSegment(src segmentSource) (*segmentReader, error) {
	f, err := os.Open(src.path)
	if err != nil {
		return nil, wrapPersistence(err, "open segment")
	}

	if src.limit < headerSize {
		f.Close()
		return nil, corruptf("%s: truncated header", src.path)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, corruptf("%s: read header: %v", src.path, err)
	}

	if magic := binary.LittleEndian.Uint64(header[0:8]); magic != segMagic {
		f.Close()
		return nil, corruptf("%s: bad magic %#x", src.path, magic)
	}
	if version := binary.LittleEndian.Uint32(header[8:12]); version != segVersion {
		f.Close()
		return nil, corruptf("%s: unsupported version %d", src.path, version)
	}

	return &segmentReader{
		f:      f,
		path:   src.path,
		offset: headerSize,
		limit:  src.limit,
	}, nil
}

// next reads the next record. io.EOF means the segment's committed bytes are
// exhausted cleanly; ErrCorruptRecord means the remainder of the segment is
// unreadable (truncated tail or damaged record).
func (sr *segmentReader) next() (stats.ConsolidatedEntry, error) {
	if sr.offset >= sr.limit {
		return stats.ConsolidatedEntry{}, io.EOF
	}

	if sr.limit-sr.offset < recordHeaderSize {
		return stats.ConsolidatedEntry{}, corruptf("%s: truncated record header at offset %d", sr.path, sr.offset)
	}

	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(sr.f, header[:]); err != nil {
		return stats.ConsolidatedEntry{}, corruptf("%s: read record header at offset %d: %v", sr.path, sr.offset, err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	checksum := binary.LittleEndian.Uint32(header[4:8])

	if length == 0 || length > maxRecordSize {
		return stats.ConsolidatedEntry{}, corruptf("%s: bad record length %d at offset %d", sr.path, length, sr.offset)
	}
	if sr.limit-sr.offset-recordHeaderSize < int64(length) {
		return stats.ConsolidatedEntry{}, corruptf("%s: truncated record payload at offset %d", sr.path, sr.offset)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(sr.f, payload); err != nil {
		return stats.ConsolidatedEntry{}, corruptf("%s: read record payload at offset %d: %v", sr.path, sr.offset, err)
	}

	if crc := crc32.ChecksumIEEE(payload); crc != checksum {
		return stats.ConsolidatedEntry{}, corruptf("%s: crc mismatch at offset %d", sr.path, sr.offset)
	}

	entry, err := decodeEntry(payload)
	if err != nil {
		return stats.ConsolidatedEntry{}, corruptf("%s: %v", sr.path, err)
	}

	sr.offset += int64(recordHeaderSize + len(payload))
	return entry, nil
}

func (sr *segmentReader) close() error {
	return sr.f.Close()
}

// Iterator walks persisted entries across segments in chronological order.
// A corrupt record ends its own segment only; iteration continues with the
// next segment. Usage:
//
//	for it.Next() {
//	    entry := it.Entry()
//	}
//	err := it.Err()
type Iterator struct {
	log     *Log
	sources []segmentSource
	from    time.Time
	to      time.Time

	current *segmentReader
	entry   stats.ConsolidatedEntry
	err     error
	closed  bool
}

// Next advances to the next entry in range. It returns false when iteration
// is exhausted or a non-recoverable error occurred; check Err afterwards.
func (it *Iterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}

	for {
		if it.current == nil {
			if len(it.sources) == 0 {
				return false
			}
			src := it.sources[0]
			it.sources = it.sources[1:]

			sr, err := openSegment(src)
			if err != nil {
				// Eviction may delete a sealed segment between iterator
				// creation and open; its entries are gone, the rest of the
				// scan is not.
				if goerrors.Is(err, os.ErrNotExist) {
					log.Debug("segment evicted during read", "path", src.path)
					continue
				}
				if errors.Is(err, errors.ErrCorruptRecord) {
					log.Warn("skipping unreadable segment", "path", src.path, "error", err)
					it.log.countCorrupt()
					continue
				}
				it.err = err
				return false
			}
			it.current = sr
		}

		entry, err := it.current.next()
		if err != nil {
			it.current.close()
			it.current = nil

			if goerrors.Is(err, io.EOF) {
				continue
			}
			if errors.Is(err, errors.ErrCorruptRecord) {
				// Everything after a damaged record in this segment is
				// unreliable; move on to the next segment.
				log.Warn("corrupt record, skipping segment remainder", "error", err)
				it.log.countCorrupt()
				continue
			}
			it.err = err
			return false
		}

		if !it.from.IsZero() && entry.Timestamp.Before(it.from) {
			continue
		}
		if !it.to.IsZero() && entry.Timestamp.After(it.to) {
			continue
		}

		it.entry = entry
		return true
	}
}

// Entry returns the entry positioned by the last successful Next.
func (it *Iterator) Entry() stats.ConsolidatedEntry {
	return it.entry
}

// Err returns the first non-recoverable error encountered, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator's open file handle. Safe to call twice.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true

	if it.current != nil {
		err := it.current.close()
		it.current = nil
		return err
	}
	return nil
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errors.ErrCorruptRecord, fmt.Sprintf(format, args...))
}
