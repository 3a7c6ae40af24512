package history

import (
	"encoding/json"
	"fmt"

	"github.com/nvalkyr/vigil/internal/stats"
)

// Segment file format (binary, little-endian):
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][JSON payload]
//
// Records are self-delimiting so a truncated tail (process crashed
// mid-write) can be detected and skipped on read.

const (
	segMagic         = 0x56474C48495354_01 // "VGLHIST" + version 1
	segVersion       = 1
	headerSize       = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc

	// maxRecordSize bounds a single record; anything larger is corrupt.
	maxRecordSize = 16 * 1024 * 1024
)

// encodeEntry encodes a consolidated entry as a record payload.
func encodeEntry(entry stats.ConsolidatedEntry) ([]byte, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return payload, nil
}

// decodeEntry decodes a record payload into a consolidated entry.
func decodeEntry(payload []byte) (stats.ConsolidatedEntry, error) {
	var entry stats.ConsolidatedEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return stats.ConsolidatedEntry{}, fmt.Errorf("decode entry: %w", err)
	}
	return entry, nil
}
