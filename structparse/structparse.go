// Package structparse produces per-object structural reports for a PDF
// document. Reports are line-oriented text blocks:
//
//	obj 12 0
//	 Type: /Action
//	 Referencing: 5 0 R, 6 0 R
//	 Contains stream
//	 <</S /JavaScript /JS (...)>>
//
// The trailer is reported under a "trailer:" header. Consumers must treat
// every line after the header as optional; malicious samples routinely
// produce objects with no type, no references and no body.
package structparse

import (
	"context"
	"math"
)

// Request selects which objects to report on and what to do with them.
// A nil Objects slice targets the whole document.
type Request struct {
	Objects          []string
	SearchKeyword    string
	TypeFilter       string
	WantDetail       bool
	FilterDecompress bool
	RawOutput        bool
	ElementClasses   string
	MaxContainers    int
	DumpPrefix       string
}

// Response carries zero or more report parts plus a side channel of files
// already written to disk, keyed by category ("embedded", "malformed").
type Response struct {
	Parts        []string
	Files        map[string][]string
	ObjectDetail string
	Warnings     []string
}

// Summary is the document-level statistics block: header version,
// properties from the info dictionary, entropy measurements and keyword
// occurrence counts.
type Summary struct {
	Version    string
	Properties [][2]string
	Entropy    []EntropyBand
	Flags      []Flag
}

type EntropyBand struct {
	Name    string
	Entropy float64
	Bytes   int
}

// Flag is one keyword occurrence count. HexCount is the number of
// occurrences that only match once #xx name escapes are decoded.
type Flag struct {
	Keyword  string
	Count    int
	HexCount int
}

// Engine is one open document. Implementations are not safe for
// concurrent use; the triage pipeline is strictly sequential.
type Engine interface {
	Path() string
	Query(ctx context.Context, req Request) (*Response, error)
	Summarize(ctx context.Context, keywords []string) (*Summary, error)
}

// shannon computes byte entropy in bits per byte.
func shannon(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	var h float64
	n := float64(len(data))
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}
