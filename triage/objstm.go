package triage

import (
	"bytes"
	"fmt"
)

// Markers for the synthesized miniature document. The header comment
// makes the fabricated origin obvious to downstream tooling.
var (
	objstmHeader  = []byte("%PDF-1.6\x0a%Synthetic header added during object stream reconstruction.\x0a")
	objstmTrailer = []byte("%%EOF\x0a")
	objstmFooter  = []byte("\rendobj\r")
)

// ReconstructObjectStream synthesizes a minimal standalone document
// from the decompressed bytes of a compressed-object container, so the
// result can be re-analyzed as if it were a file of its own. Boundaries
// are inferred by byte patterns; the input is not assumed well-formed.
// Returns false when there is nothing to reconstruct.
func ReconstructObjectStream(decompressed []byte) ([]byte, bool) {
	if len(bytes.TrimSpace(decompressed)) == 0 {
		return nil, false
	}
	body := append([]byte(nil), decompressed...)

	// Leading bytes before the first dictionary are extraneous (the
	// container's number/offset table, usually). Fence them off as a
	// comment line instead of discarding them.
	if !bytes.HasPrefix(body, []byte("<<")) {
		cut := bytes.IndexByte(body, '<')
		if cut < 0 {
			cut = len(body)
		}
		if cut > 0 {
			fenced := make([]byte, 0, len(body)+2)
			fenced = append(fenced, '%')
			fenced = append(fenced, body[:cut]...)
			fenced = append(fenced, '\x0a')
			fenced = append(fenced, body[cut:]...)
			body = fenced
		}
	}

	objIdx := 1
	body = wrapLineDicts(body, &objIdx)
	body = wrapStreamSpans(body)
	body = wrapDanglingDicts(body, &objIdx)

	out := make([]byte, 0, len(objstmHeader)+len(body)+len(objstmTrailer))
	out = append(out, objstmHeader...)
	out = append(out, body...)
	out = append(out, objstmTrailer...)
	return out, true
}

// wrapLineDicts wraps every dictionary span that ends a line with a
// synthesized object header and footer. Dictionaries already preceded
// by an object header are left alone, which makes reconstruction of an
// already well-formed buffer a no-op.
func wrapLineDicts(body []byte, objIdx *int) []byte {
	var out bytes.Buffer
	i := 0
	for i < len(body) {
		j := i
		for j < len(body) && body[j] != '\x0a' && body[j] != '\x0d' {
			j++
		}
		line := body[i:j]
		s0, s1 := lineDictSpan(line)
		if s0 >= 0 && s1 == len(line) && !endsWithObjHeader(out.Bytes(), line[:s0]) {
			out.Write(line[:s0])
			fmt.Fprintf(&out, "%d 0 obj\r", *objIdx)
			*objIdx++
			out.Write(line[s0:s1])
			out.Write(objstmFooter)
			// The line terminator is consumed into the wrapper.
		} else {
			out.Write(line)
			if j < len(body) {
				out.WriteByte(body[j])
			}
		}
		if j < len(body) {
			j++
		}
		i = j
	}
	return out.Bytes()
}

// lineDictSpan returns the start of the first "<<" and the end of the
// last ">>" in a line, or (-1, -1) when the line holds no such span.
func lineDictSpan(line []byte) (int, int) {
	s0 := bytes.Index(line, []byte("<<"))
	if s0 < 0 {
		return -1, -1
	}
	s1 := bytes.LastIndex(line, []byte(">>"))
	if s1 < 0 || s1 < s0 {
		return -1, -1
	}
	return s0, s1 + 2
}

// endsWithObjHeader reports whether emitted output plus the pending
// line prefix ends with an object header keyword. "endobj" does not
// count; only a bare "obj" marks an already-wrapped dictionary.
func endsWithObjHeader(prev, prefix []byte) bool {
	tail := make([]byte, 0, 32+len(prefix))
	if n := len(prev); n > 32 {
		tail = append(tail, prev[n-32:]...)
	} else {
		tail = append(tail, prev...)
	}
	tail = append(tail, prefix...)
	tail = bytes.TrimRight(tail, " \t\x0a\x0d")
	return bytes.HasSuffix(tail, []byte("obj")) && !bytes.HasSuffix(tail, []byte("endobj"))
}

// wrapStreamSpans wraps byte spans between a closing dictionary marker
// and the next stream/object boundary in stream markers. Spans already
// terminated by another closing marker are nested dictionaries, not
// stream bodies, and are skipped.
func wrapStreamSpans(body []byte) []byte {
	var out bytes.Buffer
	i := 0
	for i < len(body) {
		if !(body[i] == '>' && i+1 < len(body) && body[i+1] == '>') {
			out.WriteByte(body[i])
			i++
			continue
		}
		// Candidate span after ">>".
		j := i + 2
		for j < len(body) &&
			body[j] != '<' &&
			!bytes.HasPrefix(body[j:], []byte("stream")) &&
			!eolThenEndobj(body[j:]) {
			j++
		}
		span := body[i+2 : j]
		if len(bytes.TrimSpace(span)) == 0 || bytes.HasSuffix(span, []byte(">>")) {
			out.Write(body[i : i+2])
			i += 2
			continue
		}
		out.WriteString(">>stream\x0a")
		out.Write(span)
		out.WriteString("\x0aendstream\rendobj\r")
		i = j
	}
	return out.Bytes()
}

func eolThenEndobj(data []byte) bool {
	if len(data) == 0 || (data[0] != '\x0a' && data[0] != '\x0d') {
		return false
	}
	return bytes.HasPrefix(data[1:], []byte("endobj"))
}

// wrapDanglingDicts inserts object headers in front of dictionaries
// that start right after a line break without an owning header: these
// are the multi-line dictionaries step one could not see.
func wrapDanglingDicts(body []byte, objIdx *int) []byte {
	var out bytes.Buffer
	i := 0
	for i < len(body) {
		c := body[i]
		if (c == '\x0a' || c == '\x0d') &&
			bytes.HasPrefix(body[i+1:], []byte("<<")) &&
			!endsWithObjHeader(out.Bytes(), nil) {
			out.WriteByte('\r')
			fmt.Fprintf(&out, "%d 0 obj\r", *objIdx)
			*objIdx++
			i++
			continue
		}
		out.WriteByte(c)
		i++
	}
	return out.Bytes()
}
