package models

import "fmt"

// Metadata keys attached to every ingested document.
const (
	MetaSource  = "source"
	MetaChapter = "chapter"
	MetaVerse   = "verse"
	MetaVerseID = "verse_id"
	MetaType    = "type"
)

// Document types.
const (
	TypeVerse       = "verse"
	TypeChapterInfo = "chapter_info"
)

// Document is one retrievable passage with its citation metadata.
type Document struct {
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CitationID returns the verse identifier used to cite the document, falling
// back to "Source <n>" where n is the 1-based position among the retrieved
// documents.
func (d Document) CitationID(position int) string {
	if id := d.Metadata[MetaVerseID]; id != "" {
		return id
	}
	return fmt.Sprintf("Source %d", position+1)
}

// ScoredDocument is a search hit. Higher Score means more similar.
type ScoredDocument struct {
	Document
	Score float32 `json:"score"`
}
