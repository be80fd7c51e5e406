package brainstorm

import (
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"sage/pkg/types"
)

// llmUnavailableBanner opens fallback reports built without a model.
const llmUnavailableBanner = "> **Note:** LLM unavailable; this report was assembled from retrieved context only."

var markdown = goldmark.New()

// ParseSections splits a markdown report into its level-2 sections. Text
// before the first section heading is ignored.
func ParseSections(content string) map[string]string {
	src := []byte(content)
	doc := markdown.Parser().Parse(text.NewReader(src))

	type heading struct {
		title string
		start int // first byte after the heading text
		line  int // byte offset of the "##" itself
	}
	var headings []heading
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 2 || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		headings = append(headings, heading{
			title: strings.TrimSpace(string(src[seg.Start:seg.Stop])),
			start: seg.Stop,
			// The heading segment begins after the "## " marker.
			line: seg.Start - (h.Level + 1),
		})
	}

	sections := make(map[string]string, len(headings))
	for i, h := range headings {
		end := len(src)
		if i+1 < len(headings) {
			end = headings[i+1].line
		}
		if h.line < 0 {
			continue
		}
		sections[h.title] = strings.TrimSpace(string(src[h.start:end]))
	}
	return sections
}

// RenderReport assembles the canonical report markdown: a title header,
// version metadata, then every section in the fixed order.
func RenderReport(task *types.Task, b *types.Brainstorm, llmAvailable bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Brainstorm: %s\n\n", task.Title)
	fmt.Fprintf(&sb, "- Task: %s\n", task.ID)
	fmt.Fprintf(&sb, "- Type: %s\n", b.Type)
	fmt.Fprintf(&sb, "- Version: %d\n", b.Version)
	fmt.Fprintf(&sb, "- Generated: %s\n", b.GeneratedAt.UTC().Format(time.RFC3339))

	if !llmAvailable {
		sb.WriteString("\n" + llmUnavailableBanner + "\n")
	}

	for _, title := range types.BrainstormSectionOrder {
		body := strings.TrimSpace(b.Sections[title])
		if body == "" {
			body = defaultSectionBody(title, b)
		}
		fmt.Fprintf(&sb, "\n## %s\n\n%s\n", title, body)
	}
	return sb.String()
}

// defaultSectionBody fills sections the model did not produce. The retrieval
// sections are always rendered from the engine's own data.
func defaultSectionBody(title string, b *types.Brainstorm) string {
	switch title {
	case "RAG Context Used":
		if len(b.RAGContext) == 0 {
			return "_No retrieved context._"
		}
		var sb strings.Builder
		for i, c := range b.RAGContext {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, firstLine(c))
		}
		return strings.TrimRight(sb.String(), "\n")
	case "Sources":
		if len(b.Sources) == 0 {
			return "_None._"
		}
		var sb strings.Builder
		for _, s := range b.Sources {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
		return strings.TrimRight(sb.String(), "\n")
	default:
		return "_Not generated._"
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 160
	if len(s) > max {
		s = s[:max] + "…"
	}
	return s
}
