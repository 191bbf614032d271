package structparse

import (
	"bytes"
	"regexp"
	"strconv"
)

// ColorsKeyword is the pseudo-keyword flag raised when an image declares
// more colors than 3 bytes can express. It is not a dictionary name and
// is counted from /Colors values instead of name occurrences.
const ColorsKeyword = "Colors > 2^24"

var colorsRe = regexp.MustCompile(`/Colors\s+(\d+)`)

// countFlags counts name occurrences for each keyword over the raw file
// bytes. Counting happens twice, once verbatim and once with #xx name
// escapes decoded, so obfuscated names are surfaced separately.
func countFlags(data []byte, keywords []string) []Flag {
	decoded := decodeNameEscapes(data)
	var flags []Flag
	for _, kw := range keywords {
		if kw == ColorsKeyword {
			if n := countWideColors(data); n > 0 {
				flags = append(flags, Flag{Keyword: kw, Count: n})
			}
			continue
		}
		direct := countName(data, kw)
		total := countName(decoded, kw)
		hex := total - direct
		if hex < 0 {
			hex = 0
		}
		if direct+hex > 0 {
			flags = append(flags, Flag{Keyword: kw, Count: direct + hex, HexCount: hex})
		}
	}
	return flags
}

// countName counts /name occurrences followed by a delimiter so that a
// short name never matches inside a longer one.
func countName(data []byte, name string) int {
	needle := []byte("/" + name)
	count := 0
	for off := 0; ; {
		i := bytes.Index(data[off:], needle)
		if i < 0 {
			break
		}
		end := off + i + len(needle)
		if end >= len(data) || isNameDelimiter(data[end]) {
			count++
		}
		off += i + 1
	}
	return count
}

func isNameDelimiter(c byte) bool {
	switch c {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func countWideColors(data []byte) int {
	count := 0
	for _, m := range colorsRe.FindAllSubmatch(data, -1) {
		if v, err := strconv.ParseInt(string(m[1]), 10, 64); err == nil && v > 1<<24 {
			count++
		}
	}
	return count
}

// decodeNameEscapes rewrites #xx escapes so hex-obfuscated names become
// countable. Invalid escapes are left untouched.
func decodeNameEscapes(data []byte) []byte {
	if !bytes.ContainsRune(data, '#') {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c == '#' && i+2 < len(data) {
			hi, okHi := fromHex(data[i+1])
			lo, okLo := fromHex(data[i+2])
			if okHi && okLo {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
