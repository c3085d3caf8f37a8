// Package markdown renders model output into display-safe markup for the
// editor panel. Raw text is never interpreted as active markup: fenced code
// blocks are rendered by this package with copy/insert affordances, and
// everything else goes through goldmark with raw HTML suppressed.
package markdown

import (
	"bytes"
	"html"
	"log"
	"strings"

	"github.com/yuin/goldmark"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// BlockKind tags a tokenized block.
type BlockKind int

const (
	// BlockText - prose, rendered through goldmark
	BlockText BlockKind = iota

	// BlockCode - fenced code block with optional language tag
	BlockCode
)

// Block is one typed node produced by Tokenize.
type Block struct {
	Kind BlockKind
	Lang string // language tag for BlockCode, may be empty
	Body string // code body for BlockCode
	Text string // raw markdown for BlockText
}

// Tokenize splits markdown into an ordered sequence of typed blocks. Only
// well-formed fences (opener line, body, closing line) become code blocks;
// an unterminated or malformed fence degrades to plain text so rendering can
// never fail on it.
func Tokenize(src string) []Block {
	lines := strings.Split(src, "\n")

	var blocks []Block
	var text []string

	flushText := func() {
		if len(text) > 0 {
			blocks = append(blocks, Block{Kind: BlockText, Text: strings.Join(text, "\n")})
			text = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		lang, isFence := fenceOpener(lines[i])
		if !isFence {
			text = append(text, lines[i])
			continue
		}

		closing := -1
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "```" {
				closing = j
				break
			}
		}
		if closing < 0 {
			// Unterminated fence: degrade to plain text.
			text = append(text, lines[i])
			continue
		}

		flushText()
		blocks = append(blocks, Block{
			Kind: BlockCode,
			Lang: lang,
			Body: strings.Join(lines[i+1:closing], "\n"),
		})
		i = closing
	}
	flushText()

	return blocks
}

// fenceOpener reports whether line opens a fenced code block and returns its
// language tag. A tag containing characters outside the usual identifier set
// is treated as no tag rather than rejected.
func fenceOpener(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "```") {
		return "", false
	}

	info := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	if info == "" {
		return "", true
	}
	if strings.Contains(info, "`") {
		// ```code``` style inline usage, not a fence opener
		return "", false
	}

	lang := strings.Fields(info)[0]
	if !validLangTag(lang) {
		lang = ""
	}
	return lang, true
}

func validLangTag(tag string) bool {
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '+', r == '#', r == '.':
		default:
			return false
		}
	}
	return true
}

// Renderer converts markdown to display-safe markup.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer builds the renderer. Raw HTML stays suppressed (goldmark's
// default); hard wraps keep single line breaks visible in chat output.
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithRendererOptions(
				goldmarkhtml.WithHardWraps(),
			),
		),
	}
}

// Render tokenizes src and renders each block. It never fails: a block that
// cannot be converted degrades to an escaped paragraph.
func (r *Renderer) Render(src string) string {
	var out strings.Builder

	for _, block := range Tokenize(src) {
		switch block.Kind {
		case BlockCode:
			out.WriteString(renderCodeBlock(block))
		default:
			if strings.TrimSpace(block.Text) == "" {
				continue
			}
			var buf bytes.Buffer
			if err := r.md.Convert([]byte(block.Text), &buf); err != nil {
				log.Printf("⚠️  [MARKDOWN] Falling back to escaped text: %v", err)
				out.WriteString("<p>" + html.EscapeString(block.Text) + "</p>\n")
				continue
			}
			out.Write(buf.Bytes())
		}
	}

	return out.String()
}

// renderCodeBlock emits a fenced block with copy/insert affordances. The
// language tag and body survive verbatim, escaped.
func renderCodeBlock(block Block) string {
	var out strings.Builder

	out.WriteString(`<div class="code-block"`)
	if block.Lang != "" {
		out.WriteString(` data-lang="` + html.EscapeString(block.Lang) + `"`)
	}
	out.WriteString(">")
	out.WriteString(`<div class="code-actions">`)
	out.WriteString(`<button class="code-action" data-action="copy">Copy</button>`)
	out.WriteString(`<button class="code-action" data-action="insert">Insert</button>`)
	out.WriteString(`</div>`)
	out.WriteString("<pre><code")
	if block.Lang != "" {
		out.WriteString(` class="language-` + html.EscapeString(block.Lang) + `"`)
	}
	out.WriteString(">")
	out.WriteString(html.EscapeString(block.Body))
	out.WriteString("</code></pre></div>\n")

	return out.String()
}
