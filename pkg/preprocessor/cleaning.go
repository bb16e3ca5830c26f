package preprocessor

import (
	"regexp"
	"strings"
)

// quotedReplyMarkers matches the header lines that introduce a quoted
// reply block in an email (spec.md §4.8 stage 1).
var quotedReplyMarkers = regexp.MustCompile(`(?m)^(From:|Sent:|To:|Subject:|On .+ wrote:)`)

// stripQuotedReply removes everything from the first quoted-reply marker
// onward; without a marker, it removes a trailing run of `>`-prefixed lines
// (one followed only by quoted or blank lines).
func stripQuotedReply(body string) (string, bool) {
	if loc := quotedReplyMarkers.FindStringIndex(body); loc != nil {
		return strings.TrimRight(body[:loc[0]], "\n"), true
	}

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			rest := lines[i:]
			quoted := true
			for _, l := range rest {
				t := strings.TrimSpace(l)
				if t != "" && !strings.HasPrefix(t, ">") {
					quoted = false
					break
				}
			}
			if quoted {
				return strings.TrimRight(strings.Join(lines[:i], "\n"), "\n"), true
			}
		}
	}
	return body, false
}

var (
	signatureDelimiter  = regexp.MustCompile(`(?m)^-- ?$`)
	longUnderscoreLine  = regexp.MustCompile(`(?m)^_{5,}\s*$`)
	mobileSignatureLine = regexp.MustCompile(`(?i)^\s*(sent from my \w+|get outlook for \w+)\s*$`)
	confidentialityBoilerplate = regexp.MustCompile(`(?i)this (e-?mail|message) (and any attachments )?(is|are) confidential`)
)

// stripSignature removes a trailing signature block, a long-underscore
// separator, a mobile-signature line, or confidentiality boilerplate
// (spec.md §4.8 stage 2).
func stripSignature(body string) (string, bool) {
	found := false

	if loc := signatureDelimiter.FindStringIndex(body); loc != nil {
		body = strings.TrimRight(body[:loc[0]], "\n")
		found = true
	}
	if loc := longUnderscoreLine.FindStringIndex(body); loc != nil {
		body = strings.TrimRight(body[:loc[0]], "\n")
		found = true
	}

	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if mobileSignatureLine.MatchString(line) {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	body = strings.Join(kept, "\n")

	if loc := confidentialityBoilerplate.FindStringIndex(body); loc != nil {
		// drop from the boilerplate's sentence start to end of body.
		start := strings.LastIndexAny(body[:loc[0]], ".\n")
		if start < 0 {
			start = 0
		} else {
			start++
		}
		body = strings.TrimRight(body[:start], "\n \t")
		found = true
	}

	return body, found
}

var (
	multiSpace  = regexp.MustCompile(`[ \t]+`)
	multiBlank  = regexp.MustCompile(`\n{3,}`)
)

// normalizeWhitespace collapses runs of spaces, caps consecutive newlines
// at two, and trims the ends (spec.md §4.8 stage 3).
func normalizeWhitespace(body string) string {
	body = multiSpace.ReplaceAllString(body, " ")
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	body = multiBlank.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(body)
}
