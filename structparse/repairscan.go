package structparse

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"pdftriage/observability"
)

// repairEngine answers structural queries by greedily scanning raw bytes
// for "N G obj" boundaries. It exists for documents the real parser
// rejects: the table it builds is approximate but never empty-handed.
type repairEngine struct {
	path    string
	data    []byte
	log     observability.Logger
	objs    []repairObject
	trailer string
}

type repairObject struct {
	num      int
	typeName string
	refs     []string
	dictText string
	stream   []byte
}

var (
	objHeaderRe = regexp.MustCompile(`(?m)^[^0-9a-zA-Z]*(\d+)\s+(\d+)\s+obj\b`)
	indirectRe  = regexp.MustCompile(`\d+ \d+ R`)
	typeNameRe  = regexp.MustCompile(`/Type\s*/([A-Za-z0-9#]+)`)
)

func newRepairEngine(path string, data []byte, log observability.Logger) *repairEngine {
	e := &repairEngine{path: path, data: data, log: log}
	e.scan()
	return e
}

func (e *repairEngine) Path() string { return e.path }

// scan walks the buffer once, slicing out an object per "N G obj"
// header. The body runs to the matching endobj, or to the next header
// when endobj is missing.
func (e *repairEngine) scan() {
	matches := objHeaderRe.FindAllSubmatchIndex(e.data, -1)
	for i, m := range matches {
		num, err := strconv.Atoi(string(e.data[m[2]:m[3]]))
		if err != nil {
			continue
		}
		start := m[1]
		end := len(e.data)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := e.data[start:end]
		if idx := bytes.Index(body, []byte("endobj")); idx >= 0 {
			body = body[:idx]
		}
		obj := repairObject{num: num}
		if dict, ok := balancedDict(body); ok {
			obj.dictText = string(dict)
			obj.refs = indirectRe.FindAllString(obj.dictText, -1)
			if t := typeNameRe.FindStringSubmatch(obj.dictText); t != nil {
				obj.typeName = string(decodeNameEscapes([]byte(t[1])))
			}
		}
		if s := streamSpan(body); s != nil {
			obj.stream = s
		}
		e.objs = append(e.objs, obj)
	}
	sort.SliceStable(e.objs, func(i, j int) bool { return e.objs[i].num < e.objs[j].num })

	if idx := bytes.Index(e.data, []byte("trailer")); idx >= 0 {
		if dict, ok := balancedDict(e.data[idx:]); ok {
			e.trailer = string(dict)
		}
	}
}

// balancedDict returns the first top-level <<...>> span.
func balancedDict(data []byte) ([]byte, bool) {
	start := bytes.Index(data, []byte("<<"))
	if start < 0 {
		return nil, false
	}
	depth := 0
	for i := start; i+1 < len(data); i++ {
		if data[i] == '<' && data[i+1] == '<' {
			depth++
			i++
		} else if data[i] == '>' && data[i+1] == '>' {
			depth--
			i++
			if depth == 0 {
				return data[start : i+1], true
			}
		}
	}
	return nil, false
}

func streamSpan(body []byte) []byte {
	idx := bytes.Index(body, []byte("stream"))
	if idx < 0 {
		return nil
	}
	data := body[idx+len("stream"):]
	if len(data) > 0 && data[0] == '\r' {
		data = data[1:]
	}
	if len(data) > 0 && data[0] == '\n' {
		data = data[1:]
	}
	if end := bytes.Index(data, []byte("endstream")); end >= 0 {
		data = data[:end]
	}
	return data
}

func (e *repairEngine) Query(_ context.Context, req Request) (*Response, error) {
	resp := &Response{Files: make(map[string][]string)}

	wantNums := map[int]bool{}
	for _, o := range req.Objects {
		if nr, err := strconv.Atoi(o); err == nil {
			wantNums[nr] = true
		}
	}
	typeWant := strings.TrimPrefix(req.TypeFilter, "/")

	for _, obj := range e.objs {
		if req.Objects != nil && !wantNums[obj.num] {
			continue
		}
		if typeWant != "" && obj.typeName != typeWant {
			continue
		}
		part := obj.render(req.WantDetail)
		if req.SearchKeyword != "" && !containsName(part, req.SearchKeyword) {
			continue
		}
		if req.MaxContainers > 0 && len(resp.Parts) >= req.MaxContainers {
			break
		}
		resp.Parts = append(resp.Parts, part)
		if req.WantDetail {
			resp.ObjectDetail += obj.dictText
		}
		if req.DumpPrefix != "" && obj.stream != nil {
			if err := e.dump(obj, req, resp); err != nil {
				resp.Warnings = append(resp.Warnings,
					fmt.Sprintf("dump object %d: %v", obj.num, err))
			}
		}
	}

	if req.Objects == nil && req.TypeFilter == "" && e.trailer != "" {
		part := "trailer:\n " + e.trailer
		if req.SearchKeyword == "" || containsName(part, req.SearchKeyword) {
			resp.Parts = append(resp.Parts, part)
		}
	}
	return resp, nil
}

func (o repairObject) render(detail bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "obj %d 0\n", o.num)
	typeLine := ""
	if o.typeName != "" {
		typeLine = "/" + o.typeName
	}
	fmt.Fprintf(&sb, " Type: %s\n", typeLine)
	fmt.Fprintf(&sb, " Referencing: %s\n", strings.Join(o.refs, ", "))
	if o.stream != nil {
		sb.WriteString("Contains stream\n")
	} else {
		sb.WriteString("\n")
	}
	sb.WriteString(" " + o.dictText)
	if detail {
		sb.WriteString("++>>")
	}
	return sb.String()
}

func (e *repairEngine) dump(obj repairObject, req Request, resp *Response) error {
	payload := obj.stream
	if req.FilterDecompress && strings.Contains(obj.dictText, "FlateDecode") {
		if inflated, err := inflate(payload); err == nil {
			payload = inflated
		} else {
			resp.Warnings = append(resp.Warnings,
				fmt.Sprintf("decode stream of object %d: %v", obj.num, err))
		}
	}
	path := req.DumpPrefix
	if strings.HasSuffix(path, "_") {
		path += strconv.Itoa(obj.num)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return err
	}
	resp.Files["embedded"] = append(resp.Files["embedded"], path)
	return nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (e *repairEngine) Summarize(_ context.Context, keywords []string) (*Summary, error) {
	s := &Summary{Flags: countFlags(e.data, keywords)}
	if i := bytes.Index(e.data, []byte("%PDF-")); i >= 0 {
		end := i + len("%PDF-")
		for end < len(e.data) && (e.data[end] == '.' || (e.data[end] >= '0' && e.data[end] <= '9')) {
			end++
		}
		s.Version = "PDF-" + string(e.data[i+len("%PDF-"):end])
	}
	bands := []EntropyBand{{Name: "Total", Entropy: shannon(e.data), Bytes: len(e.data)}}
	var streams []byte
	for _, obj := range e.objs {
		streams = append(streams, obj.stream...)
	}
	if len(streams) > 0 {
		bands = append(bands, EntropyBand{Name: "Inside streams", Entropy: shannon(streams), Bytes: len(streams)})
	}
	s.Entropy = bands
	return s, nil
}
