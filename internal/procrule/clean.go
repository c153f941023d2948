package procrule

import (
	"regexp"
	"strings"
)

var (
	specialTokenOpen  = regexp.MustCompile(`<\|`)
	specialTokenClose = regexp.MustCompile(`\|>`)
	controlChars      = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]")
	extraNewlines     = regexp.MustCompile(`\n{3,}`)
	extraSpaces       = regexp.MustCompile("[\t\f\r    -   　]{2,}")
	urlAndEmail       = regexp.MustCompile(`([a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+)|(https?://[a-zA-Z0-9_.:/?#@!$&'*+,;=%~-]+)`)
)

// CleanExtraText strips extraction artifacts from raw extractor output:
// prompt-injection style special-token markers, control characters and
// stray byte-order noise. Applied once during the parse stage, before any
// rule-driven cleaning.
func CleanExtraText(text string) string {
	text = specialTokenOpen.ReplaceAllString(text, "<")
	text = specialTokenClose.ReplaceAllString(text, ">")
	text = controlChars.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "￾", "")
	text = strings.ReplaceAll(text, "￿", "")
	return text
}

// CleanText applies the rule's enabled pre-process toggles to text.
func CleanText(text string, rule Rule) string {
	for _, pre := range rule.PreProcessRules {
		if !pre.Enabled {
			continue
		}
		switch pre.ID {
		case PreProcessRemoveExtraSpace:
			text = extraNewlines.ReplaceAllString(text, "\n\n")
			text = extraSpaces.ReplaceAllString(text, " ")
		case PreProcessRemoveURLAndEmail:
			text = urlAndEmail.ReplaceAllString(text, "")
		}
	}
	return text
}
