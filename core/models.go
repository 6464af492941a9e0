package core

import (
	"encoding/binary"
	"slices"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for stored chunks.
// It is derived from content so re-ingesting a file produces the same IDs.
type ID uint64

// String returns the decimal form of the ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID returns the identity of the ordinal-th chunk of a file.
func ChunkID(fileID string, ordinal int) ID {
	return IDFromContent(fileID + "\x00" + strconv.Itoa(ordinal))
}

// ChunkMetadata describes where a chunk came from.
type ChunkMetadata struct {
	FileName   string
	FileType   string
	Page       int
	UploadedAt time.Time
}

// Chunk is a retrievable unit of document text.
// Every chunk belongs to exactly one file; ConversationID is empty for
// chunks shared by all conversations.
type Chunk struct {
	Id             ID
	FileID         string
	ConversationID string
	Ordinal        int
	Content        string
	Vector         []float32 // Embedding vector (populated by the ingestion pipeline)
	Metadata       ChunkMetadata
	InsertedAt     time.Time
}

// ScoredChunk is a chunk returned from nearest-neighbour search.
type ScoredChunk struct {
	Chunk *Chunk
	Score float32
}

// Scope restricts the chunks a query may see.
type Scope struct {
	// ConversationID admits chunks attached to this conversation in addition
	// to shared chunks. Empty admits shared chunks only.
	ConversationID string
	// FileIDs, when non-empty, admits only chunks of the listed files.
	FileIDs []string
}

// Allows reports whether a chunk is visible within the scope.
func (s Scope) Allows(c *Chunk) bool {
	if c == nil {
		return false
	}
	if c.ConversationID != "" && c.ConversationID != s.ConversationID {
		return false
	}
	if len(s.FileIDs) > 0 && !slices.Contains(s.FileIDs, c.FileID) {
		return false
	}
	return true
}

// RetrievalMethod tags which sub-index produced a hit.
type RetrievalMethod string

const (
	RetrievalDense   RetrievalMethod = "dense"
	RetrievalKeyword RetrievalMethod = "keyword"
	RetrievalBoth    RetrievalMethod = "both"
)

// RetrievalHit is one entry of a merged retrieval result.
type RetrievalHit struct {
	Chunk  *Chunk
	Score  float64 // normalized to [0, 1]
	Method RetrievalMethod
	Rank   int // 1-based position in the merged list

	// Positions in the per-source lists, 0 when absent.
	DenseRank   int
	KeywordRank int
}

// ConversationTurn is the remembered part of one exchange.
// Nothing besides the query and the answer is ever carried forward.
type ConversationTurn struct {
	Query  string
	Answer string
}

// AutoSelection records which mode the auto meta-mode chose.
type AutoSelection struct {
	Mode      SearchMode
	Rationale string
}

// AnswerResult is the output of one orchestration run.
// Fields a mode does not produce are left empty.
type AnswerResult struct {
	Mode                 SearchMode
	Answer               string
	ExtractedInfo        string
	OnlineSearchResponse string
	Hits                 []RetrievalHit
	TotalResults         int
	ProcessingTime       time.Duration
	UseCase              UseCase
	AutoSelection        *AutoSelection

	// Partial is set when a multi-step run failed after producing some output.
	Partial    bool
	FailedStep string
	Error      string
}
