package triage

import (
	"regexp"
	"strings"
)

// detailSeparator is inserted by the structural parser between an
// object's dictionary text and its detail payload.
const detailSeparator = ">>++>>"

var (
	refAnchoredRe = regexp.MustCompile(`^[0-9]+ [0-9]+ R`)
	refPatternRe  = regexp.MustCompile(`[0-9]+ [0-9]+ R`)
	// A bracketed list of references, e.g. "[1 0 R 2 0 R]"; reference
	// lists sometimes arrive with a stray "s" prefix from plural keys
	// (/Annots) and escaped line breaks between entries.
	refListRe = regexp.MustCompile(`^s? ?\[([0-9]+ [0-9]+ R[ \\rn` + "\r\n" + `]{0,8})*\]`)
	// A single reference wrapped with viewer instructions,
	// e.g. "[3 0 R /FitH null]".
	refWithInstRe = regexp.MustCompile(`^s?[ \\']{0,3}\[ ?([0-9]+ [0-9]+ R)[ \\rn` + "\r\n" + `]{1,8}[/a-zA-Z0-9 ]* ?\]`)
)

// resolveContent extracts the text a keyword points at inside one report
// and decomposes it into content tokens: each token is either an
// indirect reference or literal text. The boolean is false when the
// report yields nothing for this keyword (not an error; the hit is
// simply dropped).
func resolveContent(keyword string, rep ObjectReport) (tokens []string, refs []string, ok bool) {
	var content string

	if rep.IsTrailer() {
		// The trailer is one undifferentiated blob; carve out the text
		// between the keyword and the next dictionary key.
		if !strings.Contains(rep.RawSegment, "/"+keyword) {
			return nil, nil, false
		}
		after := strings.SplitN(rep.RawSegment, keyword, 2)[1]
		after = strings.ReplaceAll(after, detailSeparator, "")
		content = strings.TrimSpace(strings.SplitN(after, "/", 2)[0])
		refs = refPatternRe.FindAllString(content, -1)
	} else {
		if strings.Contains(rep.RawSegment, detailSeparator) {
			if parts := strings.SplitN(rep.RawSegment, keyword, 2); len(parts) == 2 {
				content = strings.TrimSpace(strings.ReplaceAll(parts[1], detailSeparator, ""))
			} else {
				content = rep.RawSegment
			}
		} else {
			content = rep.RawSegment
		}
		// The content sometimes repeats the keyword as if it were a
		// value ("/URI /URI 10 0 R"); strip one redundant occurrence.
		if strings.HasPrefix(content, "/"+keyword) {
			content = strings.TrimLeft(strings.TrimPrefix(content, "/"+keyword), " ")
		}
		refs = rep.ReferencedObjects
	}

	if content == "" {
		// Keyword likely points at reference objects.
		if len(refs) > 0 {
			return refs, refs, true
		}
		return nil, nil, false
	}

	if m := refListRe.FindString(content); m != "" {
		m = strings.ReplaceAll(m, "s ", "")
		m = strings.ReplaceAll(m, "R ", "R,")
		m = strings.NewReplacer("[", "", "]", "").Replace(m)
		for _, tok := range strings.Split(m, ",") {
			tok = strings.Trim(tok, " \\rn\r\n")
			if tok != "" {
				tokens = append(tokens, tok)
			}
		}
		return tokens, refs, true
	}
	if m := refWithInstRe.FindStringSubmatch(content); m != nil {
		return []string{m[1]}, refs, true
	}
	return []string{content}, refs, true
}

// isReference reports whether a content token begins with an indirect
// reference.
func isReference(token string) bool { return refAnchoredRe.MatchString(token) }

// refObjectNumber returns the object number component of a reference
// token.
func refObjectNumber(token string) string {
	if i := strings.IndexByte(token, ' '); i > 0 {
		return token[:i]
	}
	return token
}
