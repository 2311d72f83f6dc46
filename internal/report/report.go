// Package report renders store statistics for people.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/smartbin/smartbin/internal/bin"
)

var rule = strings.Repeat("=", 50)

// Text writes the console statistics report.
func Text(w io.Writer, s *bin.Stats) error {
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s\nCLASSIFICATION STATISTICS\n%s\n", rule, rule)
	fmt.Fprintf(&b, "Learned items: %d\n", s.TotalRecords)
	for _, c := range bin.Colors {
		st := s.PerBin[c]
		fmt.Fprintf(&b, "  %-8s bin: %3d items (%4d uses)\n", c, st.Count, st.Usage)
	}

	if len(s.Top) > 0 {
		fmt.Fprintf(&b, "\nTop %d most sorted items:\n", len(s.Top))
		for i, item := range s.Top {
			fmt.Fprintf(&b, "  %d. %-20s -> %-6s (%d times)\n", i+1, item.Label, item.Color, item.UsageCount)
		}
	}
	b.WriteString(rule + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// Markdown renders the statistics as a Markdown document.
func Markdown(s *bin.Stats) string {
	var b strings.Builder

	b.WriteString("# Classification statistics\n\n")
	fmt.Fprintf(&b, "**%d** learned items, **%d** sorted in total.\n\n", s.TotalRecords, s.TotalUsage())

	b.WriteString("| Bin | Meaning | Items | Uses |\n")
	b.WriteString("|---|---|---:|---:|\n")
	for _, c := range bin.Colors {
		st := s.PerBin[c]
		fmt.Fprintf(&b, "| %s | %s | %d | %d |\n", c, c.Meaning(), st.Count, st.Usage)
	}

	if len(s.Top) > 0 {
		b.WriteString("\n## Most sorted\n\n")
		b.WriteString("| # | Item | Bin | Times |\n")
		b.WriteString("|---:|---|---|---:|\n")
		for i, item := range s.Top {
			fmt.Fprintf(&b, "| %d | %s | %s | %d |\n", i+1, escapeCell(item.Label), item.Color, item.UsageCount)
		}
	}

	return b.String()
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// HTML renders the Markdown report to an HTML fragment.
// Raw HTML in item labels is not passed through.
func HTML(s *bin.Stats) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(s)), &buf); err != nil {
		return "", fmt.Errorf("render stats: %w", err)
	}
	return buf.String(), nil
}

func escapeCell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}
