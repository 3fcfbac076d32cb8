package scanning

import (
	"strings"
)

// transcribePrompt is the shared prompt used by the LLM providers
const transcribePrompt = `You are reading a photo of a grocery store receipt. Transcribe every printed line exactly as it appears, top to bottom.

Rules:
- Output one receipt line per line of output.
- Keep the item description and its price on the same line, in the order printed (e.g. "Organic Bananas $4.50").
- Keep the dollar sign and both decimal places on every amount.
- Include the store name, subtotal, total, date and receipt number lines.
- Do not summarize, translate, correct spelling or add any commentary.
- Do not use markdown or code blocks.
- If the image contains no readable text, output exactly: NO_TEXT`

// noTextMarker is what the LLM providers answer for unreadable images
const noTextMarker = "NO_TEXT"

// cleanTranscript strips the wrapping that LLMs add around a transcription
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```plaintext")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == noTextMarker {
		return ""
	}

	return normalizeLines(text)
}

// normalizeLines collapses runs of spaces inside each line and drops blank lines
func normalizeLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
