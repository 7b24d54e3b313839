package summary

import (
	"fmt"
	"strings"
)

const promptPreamble = `You are the lead analyst maintaining the master summary of a legal case. You receive structured metadata records for case documents and fold them into one coherent case summary.

Write the summary in markdown with these sections: Overview, Parties, Key Documents, Timeline, Legal Issues, Current Posture. Keep every fact already present in the current summary unless a new document contradicts it; when documents conflict, note the conflict rather than silently dropping one side. Respond with only the markdown summary and nothing else.`

// buildBatchPrompt embeds the running summary (empty on the first batch)
// plus this batch's metadata artifacts verbatim.
func buildBatchPrompt(caseTitle, cumulative string, batch []metadataRecord) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	fmt.Fprintf(&b, "\n\nCase: %s\n", caseTitle)

	if cumulative == "" {
		b.WriteString("\nThere is no summary yet. Build the first version from the documents below.\n")
	} else {
		b.WriteString("\nCurrent case summary:\n\n")
		b.WriteString(cumulative)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nNew document metadata (%d records):\n", len(batch))
	for i, rec := range batch {
		fmt.Fprintf(&b, "\n--- Document %d: %s ---\n", i+1, rec.doc.Filename)
		b.Write(rec.raw)
	}
	return b.String()
}

// partition splits records into consecutive batches of at most size.
func partition(records []metadataRecord, size int) [][]metadataRecord {
	batches := make([][]metadataRecord, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		batches = append(batches, records[start:min(start+size, len(records))])
	}
	return batches
}
