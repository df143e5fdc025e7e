// Package answer shapes raw model output for display: a heading derived
// from the question and a plain-text body with markdown syntax removed.
package answer

import (
	"regexp"
	"strings"
)

var (
	codeFenceRe  = regexp.MustCompile("```[\\s\\S]*?```")
	imageRe      = regexp.MustCompile(`!\[([^\]]*)\]\([^\)]*\)`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\([^\)]+\)`)
	bulletRe     = regexp.MustCompile(`^\s*([\-\*•●◦⁃])\s+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Heading derives a display heading from the question: the text before the
// first question mark, or "Answer" when that leaves nothing.
func Heading(question string) string {
	head, _, _ := strings.Cut(question, "?")
	if head = strings.TrimSpace(head); head != "" {
		return head
	}
	return "Answer"
}

// StripMarkdown flattens markdown-formatted model output to plain text:
// code fences are dropped, images and links keep their text, emphasis
// markers and list bullets are removed, and runs of blank lines collapse.
func StripMarkdown(md string) string {
	if md == "" {
		return ""
	}
	text := codeFenceRe.ReplaceAllString(md, "")
	text = imageRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1")

	replacer := strings.NewReplacer("**", "", "__", "", "`", "", "*", "", "_", "")
	text = replacer.Replace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = bulletRe.ReplaceAllString(line, "")
	}
	text = strings.Join(lines, "\n")

	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
