package rag

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// LoadedDocument is a source document with extracted text, ready for
// chunking.
type LoadedDocument struct {
	DocID      string
	Title      string
	Category   string
	Content    string
	SourcePath string
	PageCount  int

	// pageOffsets holds the start offset of each page within Content, for
	// PDF sources only.
	pageOffsets []int
}

// pageAt returns the 1-based page containing the given content offset, or 0
// when the document has no page information.
func (d *LoadedDocument) pageAt(offset int) int {
	if len(d.pageOffsets) == 0 {
		return 0
	}
	i := sort.Search(len(d.pageOffsets), func(i int) bool { return d.pageOffsets[i] > offset })
	return i
}

// DocumentLoaderConfig holds limits for document loading.
type DocumentLoaderConfig struct {
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"` // bytes
}

// DocumentLoader reads policy documents from disk by file type. Plain text
// and markdown are read directly; PDFs go through native text extraction.
type DocumentLoader struct {
	config *DocumentLoaderConfig
	logger *slog.Logger
}

// NewDocumentLoader creates a loader, applying defaults for zero values.
func NewDocumentLoader(config *DocumentLoaderConfig, logger *slog.Logger) *DocumentLoader {
	if config == nil {
		config = &DocumentLoaderConfig{}
	}
	if config.MaxFileSize == 0 {
		config.MaxFileSize = 25 * 1024 * 1024
	}
	return &DocumentLoader{
		config: config,
		logger: logger.With("component", "document-loader"),
	}
}

// Load reads the file at path. name is the document's original filename,
// which may differ from the path when the file was spooled to a temp
// location by an upload handler; it becomes the document id.
func (dl *DocumentLoader) Load(path, name string) (*LoadedDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if info.Size() > dl.config.MaxFileSize {
		return nil, fmt.Errorf("%s exceeds maximum file size (%d bytes)", name, dl.config.MaxFileSize)
	}

	doc := &LoadedDocument{
		DocID:      name,
		Title:      name,
		Category:   categoryFromFilename(name),
		SourcePath: path,
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		if err := dl.loadPDF(path, doc); err != nil {
			return nil, err
		}
	case ".txt", ".md", "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		doc.Content = string(data)
	default:
		return nil, fmt.Errorf("unsupported file type %q for %s", filepath.Ext(name), name)
	}

	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("no text extracted from %s", name)
	}

	dl.logger.Debug("Loaded document",
		"doc_id", doc.DocID,
		"category", doc.Category,
		"content_length", len(doc.Content),
		"pages", doc.PageCount,
	)
	return doc, nil
}

// loadPDF extracts plain text page by page, recording page start offsets so
// chunks can carry page numbers.
func (dl *DocumentLoader) loadPDF(path string, doc *LoadedDocument) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open PDF %s: %w", doc.DocID, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat PDF %s: %w", doc.DocID, err)
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return fmt.Errorf("failed to parse PDF %s: %w", doc.DocID, err)
	}

	var builder strings.Builder
	pageCount := reader.NumPage()
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			dl.logger.Warn("Failed to extract page text", "doc_id", doc.DocID, "page", i, "error", err)
			continue
		}
		doc.pageOffsets = append(doc.pageOffsets, builder.Len())
		builder.WriteString(text)
		builder.WriteString("\n")
	}

	doc.Content = builder.String()
	doc.PageCount = pageCount
	return nil
}

// categoryFromFilename derives a human-readable category from a policy
// filename: "leave_policy.txt" becomes "Leave".
func categoryFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.TrimSuffix(base, "_policy")
	base = strings.ReplaceAll(base, "_", " ")

	words := strings.Fields(base)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
