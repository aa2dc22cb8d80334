package chunker

import (
	"regexp"
	"strings"
)

var (
	lineCommentRe  = regexp.MustCompile(`^\s*//.*$`)
	blockCommentRe = regexp.MustCompile(`^\s*/\*.*\*/\s*$`)
	blockStartRe   = regexp.MustCompile(`^\s*/\*.*$`)
	blockEndRe     = regexp.MustCompile(`^.*\*/\s*$`)
	closingBraceRe = regexp.MustCompile(`^\s*[}\)\];,]*\s*$`)
	preprocGuardRe = regexp.MustCompile(`^\s*#\s*(ifndef|ifdef|define|endif|else|pragma once)\b.*$`)
)

// isBoilerplate reports whether text is pure boilerplate: every non-blank
// line is a comment, a closing-brace-only line, or a preprocessor guard,
// and the total length is at most 200 characters.
func isBoilerplate(text string) bool {
	if len(text) > 200 {
		return false
	}

	inBlockComment := false
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		switch {
		case inBlockComment:
			if blockEndRe.MatchString(line) {
				inBlockComment = false
			}
		case blockCommentRe.MatchString(line):
			// single-line /* ... */
		case blockStartRe.MatchString(line):
			inBlockComment = true
		case lineCommentRe.MatchString(line):
		case closingBraceRe.MatchString(line):
		case preprocGuardRe.MatchString(line):
		default:
			return false
		}
	}
	return true
}
