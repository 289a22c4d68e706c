package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for chunker:
// - Markdown splits at headings and carries the heading as the title
// - Headings inside fenced code are not section breaks and fences stay whole
// - Small paragraphs are grouped; an oversized paragraph splits by sentences
// - Oversized configuration blocks split by lines with exact line ranges
// - Blank input yields nothing

func TestChunker_MarkdownSections(t *testing.T) {
	t.Parallel()
	src := "Intro line.\n\n# Install\n\nRun the installer.\n\n```sh\n# not a heading\nmake\n```\n\n## Usage\n\nCall it.\n"
	got := newChunker(0).markdown(src)
	require.Len(t, got, 3)

	assert.Equal(t, "", got[0].title)
	assert.Equal(t, "Intro line.", got[0].text)
	assert.Equal(t, 1, got[0].startLine)

	assert.Equal(t, "Install", got[1].title)
	assert.Contains(t, got[1].text, "Run the installer.")
	assert.Contains(t, got[1].text, "```sh\n# not a heading\nmake\n```")
	assert.Equal(t, 3, got[1].startLine)
	assert.Equal(t, 10, got[1].endLine)

	assert.Equal(t, "Usage", got[2].title)
	assert.Equal(t, 12, got[2].startLine)
}

func TestChunker_GroupsAndSplits(t *testing.T) {
	t.Parallel()
	c := newChunker(10)

	small := c.text("one two\n\nthree four\n")
	require.Len(t, small, 1)
	assert.Equal(t, "one two\n\nthree four", small[0].text)
	assert.Equal(t, 1, small[0].startLine)
	assert.Equal(t, 3, small[0].endLine)

	long := strings.Repeat("This sentence is about twenty-eight. ", 4)
	parts := c.text(long)
	assert.Len(t, parts, 4)
	for _, p := range parts {
		assert.True(t, strings.HasPrefix(p.text, "This sentence"))
	}
}

func TestChunker_ConfigByLines(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	for range 6 {
		b.WriteString("key_name_here: value_here\n")
	}
	got := newChunker(14).config(b.String())
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].startLine)
	assert.Equal(t, 2, got[0].endLine)
	assert.Equal(t, 3, got[1].startLine)
	assert.Equal(t, 6, got[2].endLine)
	for _, p := range got {
		assert.Equal(t, 2, strings.Count(p.text, "\n")+1)
	}
}

func TestChunker_Empty(t *testing.T) {
	t.Parallel()
	c := newChunker(0)
	assert.Nil(t, c.markdown(" \n\n"))
	assert.Nil(t, c.text(""))
	assert.Nil(t, c.config("\n"))
}
