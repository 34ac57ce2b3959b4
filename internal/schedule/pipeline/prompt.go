package pipeline

import "strings"

const promptTemplate = `You read transcripts of phone calls and extract the one appointment or meeting that was arranged.

Reply in exactly this format and nothing else:

TITLE: <a short title for the appointment>
SCHEDULE: {"date": "<date as spoken>", "time": "<time as spoken>", "place": "<place>"}

Rules:
- Copy the date and time the way the caller said them, for example "next monday", "tomorrow", "June 20", "3pm", "half past nine". Do not convert them.
- Use an empty string for any value that was not mentioned.
- The SCHEDULE value must be a single JSON object with exactly the keys date, time and place.

Transcript:
"""
{{transcript}}
"""`

// BuildPrompt embeds the transcript in the fixed extraction instructions.
func BuildPrompt(transcript string) string {
	return strings.Replace(promptTemplate, "{{transcript}}", strings.TrimSpace(transcript), 1)
}
