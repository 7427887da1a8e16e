// Package processor turns raw Gita record files into indexable documents.
package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/internal/types"
)

const unknown = "Unknown"

// Shape is the top-level layout of a record file.
type Shape int

const (
	ShapeInvalid Shape = iota
	// VerseList is a JSON array where each element is one verse record.
	VerseList
	// ChapterWithVerses is an object carrying a "verses" array.
	ChapterWithVerses
	// SingleChapterSummary is any other object.
	SingleChapterSummary
)

func (s Shape) String() string {
	switch s {
	case VerseList:
		return "verse_list"
	case ChapterWithVerses:
		return "chapter_with_verses"
	case SingleChapterSummary:
		return "single_chapter_summary"
	default:
		return "invalid"
	}
}

// Classify decides the shape of a record file before any field is read.
func Classify(raw []byte) (Shape, error) {
	if !gjson.ValidBytes(raw) {
		return ShapeInvalid, fmt.Errorf("invalid JSON")
	}

	root := gjson.ParseBytes(raw)
	switch {
	case root.IsArray():
		return VerseList, nil
	case root.IsObject():
		if root.Get("verses").Exists() {
			return ChapterWithVerses, nil
		}
		return SingleChapterSummary, nil
	default:
		return ShapeInvalid, fmt.Errorf("expected array or object, got %s", root.Type)
	}
}

// Result is the outcome of normalizing one record. Exactly one of Document
// and Err is meaningful; a record that yields no content has neither.
type Result struct {
	Index    int
	Document models.Document
	Err      error
	Empty    bool
}

func (r Result) OK() bool {
	return r.Err == nil && !r.Empty
}

type ProcessorConfig struct {
	CitationPrefix string
	Logger         *zap.Logger
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.CitationPrefix == "" {
		config.CitationPrefix = "BG"
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return Processor{
		config: config,
	}
}

// Normalize converts one record file into per-record results. Malformed
// records become error results and never stop the remaining records.
func (p *Processor) Normalize(raw []byte, filename string) []Result {
	shape, err := Classify(raw)
	if err != nil {
		return []Result{{Err: recordError(filename, 0, err)}}
	}

	root := gjson.ParseBytes(raw)

	switch shape {
	case VerseList:
		var results []Result
		for i, item := range root.Array() {
			results = append(results, p.verseResult(i, item, "", filename))
		}
		return results

	case ChapterWithVerses:
		verses := root.Get("verses")
		if !verses.IsArray() {
			return []Result{{Err: recordError(filename, 0, fmt.Errorf("verses is not an array"))}}
		}
		chapter := extractChapterFromFilename(filename)
		var results []Result
		for i, item := range verses.Array() {
			results = append(results, p.verseResult(i, item, chapter, filename))
		}
		return results

	default:
		return []Result{p.chapterResult(root, filename)}
	}
}

// LoadDir normalizes every *.json file under dir in lexical order. Skipped
// records and unreadable files are reported in skipped; err is set only when
// the directory itself cannot be listed.
func (p *Processor) LoadDir(dir string) (docs []models.Document, skipped []error, err error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%s is not a directory", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list data directory: %w", err)
	}

	log := p.config.Logger
	for _, path := range files {
		name := filepath.Base(path)

		raw, err := os.ReadFile(path)
		if err != nil {
			rerr := recordError(name, 0, err)
			log.Warn("skipping file", zap.String("source", name), zap.Error(err))
			skipped = append(skipped, rerr)
			continue
		}

		for _, r := range p.Normalize(raw, name) {
			switch {
			case r.Err != nil:
				log.Warn("skipping record",
					zap.String("source", name),
					zap.Int("record", r.Index),
					zap.Error(r.Err))
				skipped = append(skipped, r.Err)
			case r.Empty:
				log.Debug("dropping empty record", zap.String("source", name), zap.Int("record", r.Index))
			default:
				docs = append(docs, r.Document)
			}
		}
	}

	log.Info("normalized records",
		zap.Int("files", len(files)),
		zap.Int("documents", len(docs)),
		zap.Int("skipped", len(skipped)))

	return docs, skipped, nil
}

// Documents keeps the successful results.
func Documents(results []Result) []models.Document {
	var docs []models.Document
	for _, r := range results {
		if r.OK() {
			docs = append(docs, r.Document)
		}
	}
	return docs
}

func (p *Processor) verseResult(index int, item gjson.Result, injectedChapter, filename string) Result {
	if !item.IsObject() {
		return Result{Index: index, Err: recordError(filename, index, fmt.Errorf("expected object, got %s", item.Type))}
	}

	chapter := injectedChapter
	if chapter == "" || chapter == unknown {
		chapter = firstValue(item, "chapter_number", "chapter")
	}
	if chapter == "" {
		chapter = extractChapterFromFilename(filename)
	}

	verse := firstValue(item, "verse_number", "verse", "id", "text_number")
	if verse == "" {
		verse = unknown
	}

	content, err := assemble(item, []field{
		{"text", "Sanskrit"},
		{"translation", "Translation"},
		{"purport", "Purport"},
		{"word_meanings", "Word Meanings"},
	})
	if err != nil {
		return Result{Index: index, Err: recordError(filename, index, err)}
	}
	if content == "" {
		return Result{Index: index, Empty: true}
	}

	return Result{
		Index: index,
		Document: models.Document{
			ID:      fmt.Sprintf("%s#%d", filename, index),
			Content: content,
			Metadata: map[string]string{
				models.MetaSource:  filename,
				models.MetaChapter: chapter,
				models.MetaVerse:   verse,
				models.MetaVerseID: fmt.Sprintf("%s %s.%s", p.config.CitationPrefix, chapter, verse),
				models.MetaType:    models.TypeVerse,
			},
		},
	}
}

func (p *Processor) chapterResult(item gjson.Result, filename string) Result {
	chapter := firstValue(item, "chapter_number", "chapter")
	if chapter == "" {
		chapter = extractChapterFromFilename(filename)
	}

	content, err := assemble(item, []field{
		{"name", "Name"},
		{"summary", "Summary"},
	})
	if err != nil {
		return Result{Err: recordError(filename, 0, err)}
	}
	if content == "" {
		return Result{Empty: true}
	}
	if chapter != unknown {
		content = "Chapter " + chapter + "\n\n" + content
	}

	return Result{
		Document: models.Document{
			ID:      fmt.Sprintf("%s#0", filename),
			Content: content,
			Metadata: map[string]string{
				models.MetaSource:  filename,
				models.MetaChapter: chapter,
				models.MetaType:    models.TypeChapterInfo,
			},
		},
	}
}

type field struct {
	key   string
	label string
}

func assemble(item gjson.Result, fields []field) (string, error) {
	var parts []string
	for _, f := range fields {
		v := item.Get(f.key)
		if v.IsObject() || v.IsArray() {
			return "", fmt.Errorf("field %s: expected scalar value", f.key)
		}
		s := strings.TrimSpace(sanitizeUTF8(scalar(v)))
		if s == "" {
			continue
		}
		parts = append(parts, f.label+": "+s)
	}
	return strings.Join(parts, "\n\n"), nil
}

// firstValue returns the first non-empty scalar among keys.
func firstValue(item gjson.Result, keys ...string) string {
	for _, k := range keys {
		v := item.Get(k)
		if v.IsObject() || v.IsArray() {
			continue
		}
		if s := strings.TrimSpace(scalar(v)); s != "" {
			return s
		}
	}
	return ""
}

func scalar(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		if v.Num == float64(int64(v.Num)) {
			return strconv.FormatInt(int64(v.Num), 10)
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	default:
		return ""
	}
}

// extractChapterFromFilename reads N from names like "chapter-N.json".
func extractChapterFromFilename(filename string) string {
	_, rest, found := strings.Cut(filepath.Base(filename), "chapter-")
	if !found {
		return unknown
	}
	n, _, _ := strings.Cut(rest, ".")
	if n == "" {
		return unknown
	}
	return n
}

func recordError(filename string, index int, err error) error {
	return types.NewError(types.KindIngestionRecord, "normalize "+filename, fmt.Errorf("record %d: %w", index, err))
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
