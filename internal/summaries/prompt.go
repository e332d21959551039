package summaries

import (
	"fmt"
	"strings"

	"github.com/spitit-app/backend/internal/entries"
)

// BuildPrompt renders the reflection prompt sent to the text-generation model.
// The batch is listed in the order it was fetched so the newest spit comes
// first, mirroring what the user sees in their feed.
func BuildPrompt(stats BatchStats, batch []entries.Entry) string {
	var b strings.Builder

	b.WriteString("You are a personal reflection assistant that helps people look back on their recent experiences.\n\n")
	b.WriteString("Based on the following recent journal entries, write a thoughtful and positive summary.\n\n")

	b.WriteString("Period data:\n")
	fmt.Fprintf(&b, "- Total entries: %d\n", len(batch))
	fmt.Fprintf(&b, "- Period: %s\n", stats.DateRangeLabel)
	b.WriteString("- Mood distribution: ")
	for i, stat := range stats.MoodStats {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %d (%d%%)", stat.Mood, stat.Count, stat.Percentage)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- Entries with a location: %d\n", stats.LocationCount)
	fmt.Fprintf(&b, "- Attached files: %d\n\n", stats.AttachmentCount)

	b.WriteString("Recent entries:\n")
	for i, entry := range batch {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, entry.Mood, entry.Content)
		if entry.Location != nil {
			b.WriteString(" (with location)")
		}
		if len(entry.Attachments) > 0 {
			b.WriteString(" (with attachments)")
		}
		b.WriteString("\n")
	}

	b.WriteString("\nWrite a summary that:\n")
	b.WriteString("1. Reflects the mood patterns of the period\n")
	b.WriteString("2. Identifies recurring themes or concerns\n")
	b.WriteString("3. Highlights positive or inspiring moments\n")
	b.WriteString("4. Offers a reflective perspective on the experiences\n")
	b.WriteString("5. Stays encouraging and constructive\n")
	b.WriteString("6. Is between 150 and 250 words\n")
	b.WriteString("7. Uses a warm, personal tone\n")
	b.WriteString("8. Mentions the period of time covered\n\n")
	b.WriteString("Summary:")

	return b.String()
}
