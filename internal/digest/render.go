package digest

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/curator/internal/database"
)

// RenderMarkdown formats a digest as the delivery body.
func RenderMarkdown(d *Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Your digest for %s\n\n", database.FormatDateDisplay(d.Date))
	if !d.Personalized {
		b.WriteString("_Top stories from our most trusted sources. Subscribe to companies or industries to personalize this digest._\n\n")
	}

	if len(d.Entries) == 0 {
		b.WriteString("No new items for this period.\n")
		return b.String()
	}

	b.WriteString("**TL;DR:**\n")
	for _, e := range d.Entries {
		b.WriteString("- " + headline(e.Item) + "\n")
	}

	var sections []string
	for i, e := range d.Entries {
		section := fmt.Sprintf("## %d. [%s](%s)\n\n%s", i+1, e.Item.Title, e.Item.URL, body(e.Item))
		var meta []string
		if e.Item.Source != nil && *e.Item.Source != "" {
			meta = append(meta, *e.Item.Source)
		}
		if tags := tagLine(e.Item.Tags); tags != "" {
			meta = append(meta, tags)
		}
		meta = append(meta, fmt.Sprintf("score %.1f", e.Score.Total))
		section += "\n\n*" + strings.Join(meta, " | ") + "*"
		sections = append(sections, section)
	}

	b.WriteString("\n")
	b.WriteString(strings.Join(sections, "\n\n---\n\n"))
	b.WriteString("\n")
	return b.String()
}

func headline(it database.Item) string {
	if it.Micro != nil && *it.Micro != "" {
		return *it.Micro
	}
	return it.Title
}

func body(it database.Item) string {
	if it.Standard != nil && *it.Standard != "" {
		return *it.Standard
	}
	return it.Summary()
}

func tagLine(t database.Tags) string {
	var all []string
	all = append(all, t.Companies...)
	all = append(all, t.Industries...)
	return strings.Join(all, ", ")
}
