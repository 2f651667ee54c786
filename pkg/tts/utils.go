package tts

import (
	"regexp"
	"strings"
)

var (
	speakerLabelRegex = regexp.MustCompile(`(?m)^[A-Za-z]+(\s*\([^)]+\))?:\s*`)
	markdownRegex     = regexp.MustCompile(`[*_#` + "`" + `]+`)
	stageRegex        = regexp.MustCompile(`\[[^\]]*\]`)
)

// StripSpeakerLabels removes speaker labels like "Guardian:" or "Coach (calm):" from scripts.
func StripSpeakerLabels(script string) string {
	return speakerLabelRegex.ReplaceAllString(script, "")
}

// CleanScript prepares LLM output for speech: no labels, no markdown, no [stage directions].
func CleanScript(script string) string {
	s := StripSpeakerLabels(script)
	s = stageRegex.ReplaceAllString(s, "")
	s = markdownRegex.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
