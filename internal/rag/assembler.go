package rag

import (
	"fmt"
	"strings"

	"github.com/inkwellhq/inkwell/internal/document"
	"github.com/inkwellhq/inkwell/internal/domain"
)

// chunkSeparator joins chunk texts in the assembled context.
const chunkSeparator = "\n\n---\n\n"

// Context is assembled retrieval output ready for prompting: the
// concatenated chunk texts plus a deduplicated source-reference list.
type Context struct {
	Text    string
	Sources []domain.SourceRef
}

// Empty reports whether no context survived assembly.
func (c Context) Empty() bool { return c.Text == "" }

// AssembleContext concatenates ranked chunks into prompt context. Each
// chunk is prefixed with a human-readable "title (page N)" header, and
// identical document+page pairs collapse to one source reference while
// preserving rank order.
func AssembleContext(results []document.SearchResult) Context {
	if len(results) == 0 {
		return Context{}
	}

	type pageKey struct {
		doc  string
		page int
	}

	var (
		parts   = make([]string, 0, len(results))
		sources []domain.SourceRef
		seen    = map[pageKey]bool{}
	)
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("%s\n%s", header(r), r.Chunk.Content))

		key := pageKey{doc: r.Chunk.DocumentID.String(), page: r.Chunk.Page}
		if !seen[key] {
			seen[key] = true
			sources = append(sources, domain.SourceRef{
				DocumentID: r.Chunk.DocumentID,
				Title:      r.Title,
				Page:       r.Chunk.Page,
			})
		}
	}

	return Context{
		Text:    strings.Join(parts, chunkSeparator),
		Sources: sources,
	}
}

func header(r document.SearchResult) string {
	if r.Chunk.Page > 0 {
		return fmt.Sprintf("%s (page %d)", r.Title, r.Chunk.Page)
	}
	return r.Title
}
