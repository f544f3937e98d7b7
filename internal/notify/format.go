package notify

import (
	"fmt"
	"strings"

	"chatcurator/internal/curation"
)

const (
	excerptRunes = 120
	bodyRunes    = 3000
)

// formatRecord renders one curated record as a human-readable digest.
func formatRecord(r curation.Record) string {
	var b strings.Builder

	b.WriteString("Curated: ")
	b.WriteString(truncateRunes(r.Content.Text, excerptRunes))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Source: %s\n", displayName(r.Meta.SourceName, r.Meta.SourceID))
	if r.Sender.Name != "" {
		fmt.Fprintf(&b, "From: %s\n", r.Sender.Name)
	}
	fmt.Fprintf(&b, "Relevance: %.0f%%", r.Curation.Relevance*100)
	if r.Curation.Category != "" {
		fmt.Fprintf(&b, " (%s)", r.Curation.Category)
	}
	b.WriteString("\n")
	if r.Curation.Reason != "" {
		fmt.Fprintf(&b, "Why: %s\n", r.Curation.Reason)
	}

	b.WriteString("\n")
	b.WriteString(truncateRunes(r.Content.Text, bodyRunes))
	return b.String()
}

func displayName(name, id string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return id
}

// truncateRunes caps s at n runes, appending an ellipsis when it cuts.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}
