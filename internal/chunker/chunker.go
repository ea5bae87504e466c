// Package chunker splits uploaded documents into retrieval-sized chunks.
// Markdown-structured text is split at H1/H2 boundaries with the header
// hierarchy kept as context; unstructured text falls back to sentence
// groups with overlap.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// Chunk is one retrieval unit of a document.
type Chunk struct {
	Index      int    // position within the document
	HeaderPath string // "# Title > ## Section", empty for unstructured text
	Text       string // chunk text, header path prepended when present
}

// Chunker splits documents. The zero-value config is usable via New.
type Chunker struct {
	parser            goldmark.Markdown
	sentencesPerChunk int
	overlapSentences  int
	sentenceSplitter  *regexp.Regexp
}

const (
	defaultSentencesPerChunk = 8
	defaultOverlapSentences  = 1
)

// New creates a chunker with default sentence grouping for unstructured
// text.
func New() *Chunker {
	return &Chunker{
		parser: goldmark.New(
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		sentencesPerChunk: defaultSentencesPerChunk,
		overlapSentences:  defaultOverlapSentences,
		sentenceSplitter:  regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}
}

// Split chunks a document. Empty or whitespace-only input yields no chunks.
func (c *Chunker) Split(source []byte) ([]Chunk, error) {
	if strings.TrimSpace(string(source)) == "" {
		return nil, nil
	}

	doc := c.parser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect document structure: %w", err)
	}

	if len(tree.Items) == 0 {
		return c.sentenceChunks(string(source), ""), nil
	}

	sections := collectSections(doc, source)
	var chunks []Chunk
	for _, sec := range sections {
		body := strings.TrimSpace(sec.body)
		if body == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			HeaderPath: sec.headerPath,
			Text:       sec.headerPath + "\n\n" + body,
		})
	}
	if len(chunks) == 0 {
		return c.sentenceChunks(string(source), ""), nil
	}
	return chunks, nil
}

type section struct {
	headerPath string
	body       string
}

type boundary struct {
	level int
	title string
	start int
}

// collectSections walks H1/H2 headings in document order and slices the
// source between successive boundaries. The current H1 title is carried
// into each H2's header path.
func collectSections(doc ast.Node, source []byte) []section {
	var bounds []boundary
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindHeading {
			return ast.WalkContinue, nil
		}
		h := n.(*ast.Heading)
		if h.Level > 2 || h.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}
		bounds = append(bounds, boundary{
			level: h.Level,
			title: string(h.Text(source)),
			start: h.Lines().At(0).Start,
		})
		return ast.WalkContinue, nil
	})

	var sections []section
	var currentH1 string
	for i, b := range bounds {
		end := len(source)
		if i+1 < len(bounds) {
			end = bounds[i+1].start
		}

		if b.level == 1 {
			currentH1 = b.title
		}
		sections = append(sections, section{
			headerPath: headerPath(currentH1, b),
			body:       string(source[b.start:end]),
		})
	}
	return sections
}

func headerPath(currentH1 string, b boundary) string {
	if b.level == 1 || currentH1 == "" {
		return strings.Repeat("#", b.level) + " " + b.title
	}
	return "# " + currentH1 + " > ## " + b.title
}

// sentenceChunks groups sentences with overlap, for text without headings.
func (c *Chunker) sentenceChunks(content, headerPath string) []Chunk {
	sentences := c.sentenceSplitter.FindAllString(content, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(content)}
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}

	var chunks []Chunk
	i := 0
	for i < len(sentences) {
		end := min(i+c.sentencesPerChunk, len(sentences))
		txt := strings.Join(sentences[i:end], " ")
		if headerPath != "" {
			txt = headerPath + "\n\n" + txt
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			HeaderPath: headerPath,
			Text:       txt,
		})
		if end == len(sentences) {
			break
		}
		i = end - c.overlapSentences
	}
	return chunks
}
