package badger

import (
	"encoding/binary"

	"github.com/poiesic/groundwork/core"
)

// Key prefixes for different data types
const (
	chunkPrefix     = "chunk:"
	chunkFilePrefix = "chunkf:"
	jobPrefix       = "job:"
)

// makeChunkKey generates a key for a chunk by ID.
// Format: prefix + big endian ID
func makeChunkKey(id core.ID) []byte {
	buf := make([]byte, len(chunkPrefix)+8)
	offset := copy(buf, chunkPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makePartialFileKey generates the prefix shared by all index keys of a file.
// Format: prefix:fileID\x00
func makePartialFileKey(fileID string) []byte {
	buf := make([]byte, 0, len(chunkFilePrefix)+len(fileID)+1)
	buf = append(buf, chunkFilePrefix...)
	buf = append(buf, fileID...)
	return append(buf, 0)
}

// makeFileKey generates a composite key for the file index.
// Format: prefix:fileID\x00 + big endian ordinal + big endian chunk ID
func makeFileKey(fileID string, ordinal int, id core.ID) []byte {
	partial := makePartialFileKey(fileID)
	buf := make([]byte, len(partial)+16)
	offset := copy(buf, partial)
	// BigEndian so lexicographic order follows chunk order within the file
	binary.BigEndian.PutUint64(buf[offset:], uint64(ordinal))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// chunkIDFromFileKey extracts the chunk ID from a file index key.
func chunkIDFromFileKey(key []byte) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// makeJobKey generates a key for a search job by ID.
func makeJobKey(id string) []byte {
	return []byte(jobPrefix + id)
}
