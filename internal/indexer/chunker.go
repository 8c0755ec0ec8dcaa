package indexer

import (
	"strings"
	"unicode"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
)

// Chunking methods.
const (
	MethodFixedSize          = "fixed_size"
	MethodSentenceAware      = "sentence_aware"
	MethodParagraphAware     = "paragraph_aware"
	MethodRecursiveCharacter = "recursive_character"
)

var methods = []models.ChunkingMethodInfo{
	{ID: MethodFixedSize, Name: "Fixed Size Chunks", Description: "Split text into fixed size chunks with optional overlap"},
	{ID: MethodSentenceAware, Name: "Sentence Aware Chunks", Description: "Split text at sentence boundaries for more coherent chunks"},
	{ID: MethodParagraphAware, Name: "Paragraph Aware Chunks", Description: "Split text at paragraph boundaries"},
	{ID: MethodRecursiveCharacter, Name: "Recursive Character Text Splitter", Description: "Recursively split text using different separators"},
}

// recursiveSeparators are tried in order; "" means single characters.
var recursiveSeparators = []string{"\n\n", "\n", " ", ""}

// Methods lists the supported chunking methods.
func Methods() []models.ChunkingMethodInfo {
	return append([]models.ChunkingMethodInfo(nil), methods...)
}

// Chunker cuts page text into chunks. Sizes and offsets count characters
// (runes), and every chunk's StartIndex is its offset within its page.
type Chunker struct {
	method  string
	size    int
	overlap int
}

// span is a half-open rune range within one page.
type span struct{ start, end int }

func (s span) len() int { return s.end - s.start }

// NewChunker validates the method and sizes. Overlap must be smaller than size.
func NewChunker(method string, size, overlap int) (*Chunker, error) {
	known := false
	for _, m := range methods {
		if m.ID == method {
			known = true
			break
		}
	}
	if !known {
		return nil, errs.Invalid("unknown chunking method %q", method)
	}
	if size <= 0 {
		return nil, errs.Invalid("chunk_size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, errs.Invalid("chunk_overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{method: method, size: size, overlap: overlap}, nil
}

// Method returns the chunking method name.
func (c *Chunker) Method() string {
	return c.method
}

// Chunk splits every page and returns the chunks in page order.
func (c *Chunker) Chunk(pages []models.Page) []models.ChunkInput {
	var out []models.ChunkInput
	for _, p := range pages {
		r := []rune(p.Text)
		var spans []span
		switch c.method {
		case MethodFixedSize:
			spans = c.windows(span{0, len(r)}, c.overlap)
		case MethodSentenceAware:
			spans = c.sentences(r)
		case MethodParagraphAware:
			spans = c.paragraphs(r)
		case MethodRecursiveCharacter:
			spans = c.recursive(r, span{0, len(r)}, recursiveSeparators)
		}
		for _, s := range spans {
			if c.method != MethodFixedSize {
				s = trimSpan(r, s)
			}
			text := string(r[s.start:s.end])
			if strings.TrimSpace(text) == "" {
				continue
			}
			out = append(out, models.ChunkInput{Text: text, Page: p.Number, StartIndex: s.start})
		}
	}
	return out
}

// windows cuts s into consecutive windows of c.size stepping by size-overlap.
// The last window ends at s.end.
func (c *Chunker) windows(s span, overlap int) []span {
	step := c.size - overlap
	var out []span
	for i := s.start; i < s.end; i += step {
		end := min(i+c.size, s.end)
		out = append(out, span{i, end})
		if end >= s.end {
			break
		}
	}
	return out
}

// sentences groups whole sentences into chunks of at most c.size runes.
// A sentence longer than c.size is cut into windows.
func (c *Chunker) sentences(r []rune) []span {
	var out []span
	cur := span{-1, -1}
	for _, s := range sentenceSpans(r) {
		if s.len() > c.size {
			if cur.start >= 0 {
				out = append(out, cur)
				cur = span{-1, -1}
			}
			out = append(out, c.windows(s, c.overlap)...)
			continue
		}
		if cur.start >= 0 && s.end-cur.start > c.size {
			out = append(out, cur)
			cur = span{-1, -1}
		}
		if cur.start < 0 {
			cur = s
		} else {
			cur.end = s.end
		}
	}
	if cur.start >= 0 {
		out = append(out, cur)
	}
	return out
}

// sentenceSpans ends a sentence after '.', '?' or '!' followed by whitespace.
func sentenceSpans(r []rune) []span {
	var out []span
	start := skipSpace(r, 0)
	for i := start; i < len(r); i++ {
		switch r[i] {
		case '.', '?', '!':
			if i+1 == len(r) || unicode.IsSpace(r[i+1]) {
				out = append(out, span{start, i + 1})
				start = skipSpace(r, i+1)
				i = start - 1
			}
		}
	}
	if start < len(r) {
		out = append(out, span{start, len(r)})
	}
	return out
}

// paragraphs emits each blank-line separated paragraph, cutting long ones
// into windows without overlap.
func (c *Chunker) paragraphs(r []rune) []span {
	var out []span
	for _, p := range paragraphSpans(r) {
		p = trimSpan(r, p)
		if p.len() == 0 {
			continue
		}
		if p.len() > c.size {
			out = append(out, c.windows(p, 0)...)
			continue
		}
		out = append(out, p)
	}
	return out
}

func paragraphSpans(r []rune) []span {
	var out []span
	start := 0
	for i := 0; i < len(r); i++ {
		if r[i] != '\n' {
			continue
		}
		j := i + 1
		for j < len(r) && (r[j] == ' ' || r[j] == '\t' || r[j] == '\r') {
			j++
		}
		if j < len(r) && r[j] == '\n' {
			out = append(out, span{start, i})
			start = skipSpace(r, j+1)
			i = start - 1
		}
	}
	out = append(out, span{start, len(r)})
	return out
}

// recursive splits s on the first separator that occurs in it, merges the
// pieces back into chunks of at most c.size with c.overlap carried between
// neighbours, and recurses into pieces that are still too long.
func (c *Chunker) recursive(r []rune, s span, seps []string) []span {
	if s.len() <= c.size {
		return []span{s}
	}
	text := string(r[s.start:s.end])
	var sep []rune
	var rest []string
	for i, cand := range seps {
		if cand == "" {
			return c.windows(s, c.overlap)
		}
		if strings.Contains(text, cand) {
			sep, rest = []rune(cand), seps[i+1:]
			break
		}
	}
	if sep == nil {
		return c.windows(s, c.overlap)
	}

	var out, window []span
	flush := func() {
		if len(window) > 0 {
			out = append(out, span{window[0].start, window[len(window)-1].end})
		}
	}
	for _, p := range splitSpan(r, s, sep) {
		if p.len() > c.size {
			flush()
			window = nil
			out = append(out, c.recursive(r, p, rest)...)
			continue
		}
		if len(window) > 0 && p.end-window[0].start > c.size {
			flush()
			for len(window) > 0 && (window[len(window)-1].end-window[0].start > c.overlap || p.end-window[0].start > c.size) {
				window = window[1:]
			}
		}
		window = append(window, p)
	}
	flush()
	return out
}

// splitSpan returns the non-empty pieces of s between occurrences of sep.
func splitSpan(r []rune, s span, sep []rune) []span {
	var out []span
	start := s.start
	for i := s.start; i+len(sep) <= s.end; {
		if runesAt(r, i, sep) {
			if i > start {
				out = append(out, span{start, i})
			}
			i += len(sep)
			start = i
			continue
		}
		i++
	}
	if start < s.end {
		out = append(out, span{start, s.end})
	}
	return out
}

func runesAt(r []rune, i int, sep []rune) bool {
	for j, c := range sep {
		if r[i+j] != c {
			return false
		}
	}
	return true
}

func skipSpace(r []rune, i int) int {
	for i < len(r) && unicode.IsSpace(r[i]) {
		i++
	}
	return i
}

func trimSpan(r []rune, s span) span {
	for s.start < s.end && unicode.IsSpace(r[s.start]) {
		s.start++
	}
	for s.end > s.start && unicode.IsSpace(r[s.end-1]) {
		s.end--
	}
	return s
}
