package dispatch

import (
	"fmt"
	"strings"

	"opsbot/internal/domain/chat"
)

// DefaultMaxItems is the per-send item cap of the strictest platform.
const DefaultMaxItems = 5

// Plan lays out text and artifacts as outbound items within maxItems. When
// everything fits, text goes first followed by each artifact. Otherwise the
// first maxItems-1 artifacts are sent as rich items and a single trailing
// text item carries the text plus a listing of the remaining artifacts.
func Plan(text string, artifacts []chat.Artifact, maxItems int) []chat.OutboundItem {
	if maxItems < 2 {
		maxItems = 2
	}
	text = strings.TrimSpace(text)

	total := len(artifacts)
	if text != "" {
		total++
	}
	items := make([]chat.OutboundItem, 0, min(total, maxItems))

	if total <= maxItems {
		if text != "" {
			items = append(items, chat.OutboundItem{Kind: chat.OutboundText, Text: text})
		}
		for _, a := range artifacts {
			items = append(items, richItem(a))
		}
		return items
	}

	rich := artifacts[:maxItems-1]
	remaining := artifacts[maxItems-1:]
	for _, a := range rich {
		items = append(items, richItem(a))
	}
	return append(items, chat.OutboundItem{Kind: chat.OutboundText, Text: overflowText(text, remaining)})
}

func richItem(a chat.Artifact) chat.OutboundItem {
	kind := chat.OutboundFile
	if a.Kind == chat.ArtifactImage {
		kind = chat.OutboundImage
	}
	return chat.OutboundItem{Kind: kind, Artifact: a}
}

func overflowText(text string, remaining []chat.Artifact) string {
	var b strings.Builder
	if text != "" {
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "%d more attachment(s):", len(remaining))
	for _, a := range remaining {
		b.WriteString("\n- ")
		b.WriteString(a.DisplayName())
		if loc := a.Location(); loc != "" && loc != a.DisplayName() {
			b.WriteString(": ")
			b.WriteString(loc)
		}
	}
	return b.String()
}
