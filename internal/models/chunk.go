package models

import (
	"fmt"
	"strconv"
)

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content    string
	Source     string
	PageNumber int
	ChunkID    int
}

// ID is stable across runs so a rebuild of the same files yields the same ids.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s#p%d-c%d", c.Source, c.PageNumber, c.ChunkID)
}

// Metadata is what gets stored next to the vector.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		MetaID:      c.ID(),
		MetaSource:  c.Source,
		MetaPage:    strconv.Itoa(c.PageNumber),
		MetaChunkID: strconv.Itoa(c.ChunkID),
	}
}

type PromptResponse struct {
	Query   string
	Source  string
	Content string
}
