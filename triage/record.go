package triage

import (
	"errors"
	"strings"
)

// TrailerObject is the sentinel object number for trailer reports.
const TrailerObject = "trailer"

// ObjectReport is one normalized structural-parser record. All fields
// beyond the object number are optional; malformed samples produce
// reports with any combination of them missing.
type ObjectReport struct {
	ObjectNumber      string
	Type              string
	ReferencedObjects []string
	ContainsStream    bool
	RawSegment        string
}

func (r ObjectReport) IsTrailer() bool { return r.ObjectNumber == TrailerObject }

var errBadReport = errors.New("report does not match record grammar")

// ParseReport normalizes one report part. The grammar is a header line
// ("obj N G" or "trailer:") followed by optional "Type:", "Referencing:"
// and "Contains stream" lines, with everything else collected as the raw
// segment. A header mismatch is the only parse failure; a bad optional
// line just falls through into the raw segment.
func ParseReport(part string) (ObjectReport, error) {
	if strings.HasPrefix(part, TrailerObject+":") {
		return ObjectReport{
			ObjectNumber: TrailerObject,
			RawSegment:   strings.TrimSpace(strings.TrimPrefix(part, TrailerObject+":")),
		}, nil
	}

	lines := strings.Split(part, "\n")
	header := strings.Fields(lines[0])
	if len(header) < 2 || header[0] != "obj" || !isDigits(header[1]) {
		return ObjectReport{}, errBadReport
	}
	rep := ObjectReport{ObjectNumber: header[1]}

	var raw []string
	for _, line := range lines[1:] {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Type:") && rep.Type == "" && raw == nil:
			rep.Type = strings.TrimSpace(strings.TrimPrefix(trimmed, "Type:"))
		case strings.HasPrefix(trimmed, "Referencing:") && rep.ReferencedObjects == nil && raw == nil:
			refText := strings.TrimSpace(strings.TrimPrefix(trimmed, "Referencing:"))
			if refText != "" {
				rep.ReferencedObjects = strings.Split(refText, ", ")
			} else {
				rep.ReferencedObjects = []string{}
			}
		case trimmed == "Contains stream" && raw == nil:
			rep.ContainsStream = true
		case trimmed == "" && raw == nil:
			// blank separator between the fixed lines and the payload
		default:
			raw = append(raw, line)
		}
	}
	rep.RawSegment = strings.TrimSpace(strings.Join(raw, "\n"))
	return rep, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
