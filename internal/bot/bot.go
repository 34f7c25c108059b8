// Package bot is the scripted autoresponder behind the AI Bot contact.
package bot

import (
	"strings"

	"golang.org/x/text/cases"
)

// Fallback is the reply to anything not in the table.
const Fallback = "Hmm, not sure what to say to that!"

var replies = map[string]string{
	"hello":           "Hi there!",
	"how are you":     "I’m doing great, thanks for asking!",
	"what’s up":       "Not much, just here to chat!",
	"bye":             "See you later!",
	"thanks":          "You’re welcome!",
	"who are you":     "I’m your friendly AI assistant!",
	"what can you do": "I can chat with you and help with simple questions!",
	"lol":             "Glad you’re laughing!",
	"tell me a joke":  "Why don’t skeletons fight each other? They don’t have the guts!",
	"good night":      "Sleep well!",
}

// Reply returns the canned answer for text. Matching ignores case and
// surrounding whitespace, nothing else.
func Reply(text string) string {
	key := strings.TrimSpace(cases.Fold().String(text))
	if r, ok := replies[key]; ok {
		return r
	}
	return Fallback
}
