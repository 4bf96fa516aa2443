package crdt

import (
	"encoding/json"
	"strings"
)

// block is one element of the {blocks: [...]} document format (§4.7).
type block struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type blocksDocument struct {
	Blocks []block `json:"blocks"`
}

const maxSummaryLength = 500

// Materialize turns checkpointBytes into the fields a Revision/Page need.
// checkpointBytes is normally the validated {type:"content_update",
// content:...} envelope the checkpointer wrote; Materialize unwraps that
// envelope if present and otherwise treats the bytes as the document
// itself, so the true-CRDT-delta feature flag path (§9) still materializes
// something sensible.
func Materialize(checkpointBytes []byte) (title, summary, body, bodyFormat string) {
	documentBytes := checkpointBytes

	var envelope fullStateRecord
	if err := json.Unmarshal(checkpointBytes, &envelope); err == nil && envelope.Type == "content_update" && len(envelope.Content) > 0 {
		documentBytes = envelope.Content
	}

	var doc blocksDocument
	if err := json.Unmarshal(documentBytes, &doc); err != nil || len(doc.Blocks) == 0 {
		return "", "", string(checkpointBytes), ""
	}

	var bodyBuilder strings.Builder
	for i, b := range doc.Blocks {
		if i > 0 {
			bodyBuilder.WriteString("\n\n")
		}
		switch b.Type {
		case "heading":
			if title == "" {
				title = b.Text
			}
			bodyBuilder.WriteString("## ")
			bodyBuilder.WriteString(b.Text)
		case "paragraph":
			if summary == "" && b.Text != "" {
				summary = truncate(b.Text, maxSummaryLength)
			}
			bodyBuilder.WriteString(b.Text)
		case "code":
			bodyBuilder.WriteString("```\n")
			bodyBuilder.WriteString(b.Text)
			bodyBuilder.WriteString("\n```")
		default:
			bodyBuilder.WriteString(b.Text)
		}
	}

	return title, summary, bodyBuilder.String(), "markdown"
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
