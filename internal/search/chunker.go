package search

import (
	"regexp"
	"strings"
)

// DefaultChunkTokens is the target chunk size in approximate tokens.
const DefaultChunkTokens = 400

var (
	headingPattern  = regexp.MustCompile(`^#{1,3}\s+(.+?)\s*#*\s*$`)
	fencePattern    = regexp.MustCompile("^\\s*(```|~~~)")
	sentencePattern = regexp.MustCompile(`[.!?]+\s+`)
)

// piece is one chunk of a file before it is indexed.
type piece struct {
	title     string
	text      string
	startLine int
	endLine   int
}

// chunker splits documents into pieces of roughly targetSize tokens.
// Markdown is split at headings first; other text at blank lines. A
// paragraph larger than the target is split by sentences, or by lines when
// lines carry the structure (configuration files).
type chunker struct {
	targetSize int
}

func newChunker(targetSize int) *chunker {
	if targetSize <= 0 {
		targetSize = DefaultChunkTokens
	}
	return &chunker{targetSize: targetSize}
}

// section is a run of lines under one heading.
type section struct {
	title     string
	startLine int
	lines     []string
}

// paragraph is a blank-line separated block, or a whole fenced code block.
type paragraph struct {
	text      string
	startLine int
	endLine   int
}

func (c *chunker) markdown(content string) []piece {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	var out []piece
	for _, sec := range splitByHeadings(strings.Split(content, "\n")) {
		out = append(out, c.group(sec.title, extractParagraphs(sec.lines, sec.startLine), false)...)
	}
	return out
}

func (c *chunker) text(content string) []piece {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return c.group("", extractParagraphs(strings.Split(content, "\n"), 1), false)
}

// config chunks by blank-line blocks and splits oversized blocks by lines,
// never mid-line.
func (c *chunker) config(content string) []piece {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return c.group("", extractParagraphs(strings.Split(content, "\n"), 1), true)
}

// splitByHeadings starts a section at every ATX heading outside a fence.
func splitByHeadings(lines []string) []section {
	var sections []section
	cur := section{startLine: 1}
	inFence := false
	for i, line := range lines {
		if fencePattern.MatchString(line) {
			inFence = !inFence
		}
		if m := headingPattern.FindStringSubmatch(line); m != nil && !inFence {
			if len(cur.lines) > 0 {
				sections = append(sections, cur)
			}
			cur = section{title: m[1], startLine: i + 1}
		}
		cur.lines = append(cur.lines, line)
	}
	if len(cur.lines) > 0 {
		sections = append(sections, cur)
	}
	return sections
}

// extractParagraphs keeps fenced code blocks whole.
func extractParagraphs(lines []string, startLine int) []paragraph {
	var (
		out     []paragraph
		cur     []string
		curFrom = startLine
		inFence bool
	)
	flush := func(end int) {
		if text := strings.TrimSpace(strings.Join(cur, "\n")); text != "" {
			out = append(out, paragraph{text: text, startLine: curFrom, endLine: end})
		}
		cur = nil
	}
	for i, line := range lines {
		lineNum := startLine + i
		switch {
		case fencePattern.MatchString(line) && !inFence:
			flush(lineNum - 1)
			inFence = true
			curFrom = lineNum
			cur = append(cur, line)
		case fencePattern.MatchString(line):
			cur = append(cur, line)
			flush(lineNum)
			inFence = false
			curFrom = lineNum + 1
		case inFence:
			cur = append(cur, line)
		case strings.TrimSpace(line) == "":
			flush(lineNum - 1)
			curFrom = lineNum + 1
		default:
			if len(cur) == 0 {
				curFrom = lineNum
			}
			cur = append(cur, line)
		}
	}
	flush(startLine + len(lines) - 1)
	return out
}

// group packs paragraphs into pieces no larger than the target, except for
// a single paragraph that cannot be split further.
func (c *chunker) group(title string, paras []paragraph, byLines bool) []piece {
	var (
		out  []piece
		cur  []paragraph
		size int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		texts := make([]string, len(cur))
		for i, p := range cur {
			texts[i] = p.text
		}
		out = append(out, piece{
			title:     title,
			text:      strings.Join(texts, "\n\n"),
			startLine: cur[0].startLine,
			endLine:   cur[len(cur)-1].endLine,
		})
		cur, size = nil, 0
	}
	for _, p := range paras {
		n := estimateTokens(p.text)
		if size > 0 && size+n > c.targetSize {
			flush()
		}
		if n > c.targetSize {
			if byLines {
				out = append(out, c.splitLines(title, p)...)
			} else {
				out = append(out, c.splitSentences(title, p)...)
			}
			continue
		}
		cur = append(cur, p)
		size += n
	}
	flush()
	return out
}

func (c *chunker) splitSentences(title string, p paragraph) []piece {
	var (
		out  []piece
		cur  []string
		size int
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, piece{title: title, text: strings.Join(cur, " "), startLine: p.startLine, endLine: p.endLine})
		}
		cur, size = nil, 0
	}
	for _, s := range sentencePattern.Split(p.text, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n := estimateTokens(s)
		if size > 0 && size+n > c.targetSize {
			flush()
		}
		cur = append(cur, s)
		size += n
	}
	flush()
	return out
}

// splitLines keeps exact line numbers since each line maps to one source line.
func (c *chunker) splitLines(title string, p paragraph) []piece {
	var (
		out   []piece
		cur   []string
		size  int
		start = p.startLine
	)
	lines := strings.Split(p.text, "\n")
	for i, l := range lines {
		n := estimateTokens(l) + 1
		if size > 0 && size+n > c.targetSize {
			out = append(out, piece{title: title, text: strings.Join(cur, "\n"), startLine: start, endLine: p.startLine + i - 1})
			cur, size, start = nil, 0, p.startLine+i
		}
		cur = append(cur, l)
		size += n
	}
	if len(cur) > 0 {
		out = append(out, piece{title: title, text: strings.Join(cur, "\n"), startLine: start, endLine: p.endLine})
	}
	return out
}

// estimateTokens approximates one token per four bytes.
func estimateTokens(text string) int {
	return len(text) / 4
}
