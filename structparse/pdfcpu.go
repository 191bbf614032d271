package structparse

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"pdftriage/observability"
)

// pdfcpuEngine serves structural queries from a parsed xref table.
// Compressed-container members show up as regular entries because the
// reader inflates object streams while building the table.
type pdfcpuEngine struct {
	path string
	data []byte
	ctx  *model.Context
	log  observability.Logger
}

// Open parses the document and returns a query engine for it. Files the
// parser rejects fall back to a greedy byte-scan engine; triage input is
// routinely malformed and a failed parse is not a failed analysis.
func Open(path string, log observability.Logger) (Engine, error) {
	if log == nil {
		log = observability.NopLogger{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		log.Warn("document parse failed, using repair scan",
			observability.String("path", path), observability.Error("err", err))
		return newRepairEngine(path, data, log), nil
	}
	return &pdfcpuEngine{path: path, data: data, ctx: ctx, log: log}, nil
}

func (e *pdfcpuEngine) Path() string { return e.path }

func (e *pdfcpuEngine) Query(_ context.Context, req Request) (*Response, error) {
	resp := &Response{Files: make(map[string][]string)}

	selected := e.selectObjects(req)
	for _, objNr := range selected {
		entry := e.ctx.XRefTable.Table[objNr]
		part := e.renderPart(objNr, entry.Object, req.WantDetail)
		if req.SearchKeyword != "" && !containsName(part, req.SearchKeyword) {
			continue
		}
		if req.MaxContainers > 0 && len(resp.Parts) >= req.MaxContainers {
			break
		}
		resp.Parts = append(resp.Parts, part)
		if req.WantDetail {
			resp.ObjectDetail += objString(entry.Object)
		}
		if req.DumpPrefix != "" {
			if err := e.dump(objNr, entry.Object, req, resp); err != nil {
				resp.Warnings = append(resp.Warnings,
					fmt.Sprintf("dump object %d: %v", objNr, err))
			}
		}
	}

	// Whole-document searches include the trailer; it may be the only
	// place a keyword such as /Encrypt appears.
	if req.Objects == nil && req.TypeFilter == "" {
		trailer := e.renderTrailer()
		if req.SearchKeyword == "" || containsName(trailer, req.SearchKeyword) {
			resp.Parts = append(resp.Parts, trailer)
		}
	}
	return resp, nil
}

func (e *pdfcpuEngine) selectObjects(req Request) []int {
	var objNrs []int
	if req.Objects != nil {
		for _, o := range req.Objects {
			if nr, err := strconv.Atoi(o); err == nil {
				if entry, ok := e.ctx.XRefTable.Table[nr]; ok && entry != nil && !entry.Free && entry.Object != nil {
					objNrs = append(objNrs, nr)
				}
			}
		}
	} else {
		for nr, entry := range e.ctx.XRefTable.Table {
			if nr == 0 || entry == nil || entry.Free || entry.Object == nil {
				continue
			}
			objNrs = append(objNrs, nr)
		}
	}
	sort.Ints(objNrs)
	if req.TypeFilter == "" {
		return objNrs
	}
	want := strings.TrimPrefix(req.TypeFilter, "/")
	var filtered []int
	for _, nr := range objNrs {
		if objType(e.ctx.XRefTable.Table[nr].Object) == want {
			filtered = append(filtered, nr)
		}
	}
	return filtered
}

func (e *pdfcpuEngine) renderPart(objNr int, o types.Object, detail bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "obj %d 0\n", objNr)
	fmt.Fprintf(&sb, " Type: %s\n", typeLine(o))
	fmt.Fprintf(&sb, " Referencing: %s\n", strings.Join(collectRefs(o), ", "))
	if _, ok := asStreamDict(o); ok {
		sb.WriteString("Contains stream\n")
	} else {
		sb.WriteString("\n")
	}
	sb.WriteString(" " + objString(o))
	if detail {
		sb.WriteString("++>>")
	}
	return sb.String()
}

func (e *pdfcpuEngine) renderTrailer() string {
	var sb strings.Builder
	sb.WriteString("trailer:\n <<")
	if e.ctx.XRefTable.Size != nil {
		fmt.Fprintf(&sb, "/Size %d ", *e.ctx.XRefTable.Size)
	}
	if root := e.ctx.XRefTable.Root; root != nil {
		fmt.Fprintf(&sb, "/Root %d %d R ", root.ObjectNumber.Value(), root.GenerationNumber.Value())
	}
	if info := e.ctx.XRefTable.Info; info != nil {
		fmt.Fprintf(&sb, "/Info %d %d R ", info.ObjectNumber.Value(), info.GenerationNumber.Value())
	}
	sb.WriteString(">>")
	return sb.String()
}

func (e *pdfcpuEngine) dump(objNr int, o types.Object, req Request, resp *Response) error {
	sd, ok := asStreamDict(o)
	if !ok {
		return nil
	}
	payload := sd.Raw
	if req.FilterDecompress {
		if err := sd.Decode(); err == nil {
			payload = sd.Content
		} else {
			resp.Warnings = append(resp.Warnings,
				fmt.Sprintf("decode stream of object %d: %v", objNr, err))
		}
	}
	path := req.DumpPrefix
	if strings.HasSuffix(path, "_") {
		path += strconv.Itoa(objNr)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return err
	}
	resp.Files["embedded"] = append(resp.Files["embedded"], path)
	return nil
}

func (e *pdfcpuEngine) Summarize(_ context.Context, keywords []string) (*Summary, error) {
	s := &Summary{Flags: countFlags(e.data, keywords)}
	if v := e.ctx.XRefTable.HeaderVersion; v != nil {
		s.Version = "PDF-" + v.String()
	}
	if info := e.ctx.XRefTable.Info; info != nil {
		if d, err := e.ctx.XRefTable.DereferenceDict(*info); err == nil {
			keys := make([]string, 0, len(d))
			for k := range d {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				s.Properties = append(s.Properties, [2]string{"/" + k, objString(d[k])})
			}
		}
	}
	s.Entropy = e.entropyBands()
	return s, nil
}

func (e *pdfcpuEngine) entropyBands() []EntropyBand {
	bands := []EntropyBand{{Name: "Total", Entropy: shannon(e.data), Bytes: len(e.data)}}
	var streams []byte
	for _, entry := range e.ctx.XRefTable.Table {
		if entry == nil || entry.Free || entry.Object == nil {
			continue
		}
		if sd, ok := asStreamDict(entry.Object); ok {
			streams = append(streams, sd.Raw...)
		}
	}
	if len(streams) > 0 {
		bands = append(bands, EntropyBand{Name: "Inside streams", Entropy: shannon(streams), Bytes: len(streams)})
	}
	return bands
}

func asStreamDict(o types.Object) (*types.StreamDict, bool) {
	switch sd := o.(type) {
	case types.StreamDict:
		return &sd, true
	case *types.StreamDict:
		return sd, true
	}
	return nil, false
}

func objType(o types.Object) string {
	switch v := o.(type) {
	case types.Dict:
		if t := v.Type(); t != nil {
			return *t
		}
	case types.StreamDict:
		if t := v.Dict.Type(); t != nil {
			return *t
		}
	case *types.StreamDict:
		if t := v.Dict.Type(); t != nil {
			return *t
		}
	}
	return ""
}

func typeLine(o types.Object) string {
	if t := objType(o); t != "" {
		return "/" + t
	}
	return ""
}

// containsName reports whether the rendered text mentions /keyword as a
// complete name.
func containsName(text, keyword string) bool {
	return countName([]byte(text), keyword) > 0
}

// objString renders an object the way report consumers expect: names
// with a leading slash, dictionaries in sorted key order so output is
// deterministic, references in "N G R" form.
func objString(o types.Object) string {
	var sb strings.Builder
	writeObj(&sb, o)
	return sb.String()
}

func writeObj(sb *strings.Builder, o types.Object) {
	switch v := o.(type) {
	case types.Dict:
		writeDict(sb, v)
	case types.StreamDict:
		writeDict(sb, v.Dict)
	case *types.StreamDict:
		writeDict(sb, v.Dict)
	case types.Array:
		sb.WriteString("[")
		for i, el := range v {
			if i > 0 {
				sb.WriteString(" ")
			}
			writeObj(sb, el)
		}
		sb.WriteString("]")
	case types.IndirectRef:
		fmt.Fprintf(sb, "%d %d R", v.ObjectNumber.Value(), v.GenerationNumber.Value())
	case types.Name:
		sb.WriteString("/" + v.Value())
	case types.StringLiteral:
		sb.WriteString("(" + v.Value() + ")")
	case types.HexLiteral:
		sb.WriteString("<" + v.Value() + ">")
	case types.Integer:
		sb.WriteString(strconv.Itoa(v.Value()))
	case types.Float:
		sb.WriteString(strconv.FormatFloat(v.Value(), 'f', -1, 64))
	case types.Boolean:
		sb.WriteString(strconv.FormatBool(v.Value()))
	case nil:
		sb.WriteString("null")
	default:
		fmt.Fprintf(sb, "%v", v)
	}
}

func writeDict(sb *strings.Builder, d types.Dict) {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sb.WriteString("<<")
	for _, k := range keys {
		sb.WriteString("/" + k + " ")
		writeObj(sb, d[k])
		sb.WriteString(" ")
	}
	sb.WriteString(">>")
}

// collectRefs walks an object and returns every indirect reference in
// deterministic order (sorted dict keys, array order).
func collectRefs(o types.Object) []string {
	var refs []string
	var walk func(types.Object)
	walk = func(o types.Object) {
		switch v := o.(type) {
		case types.Dict:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(v[k])
			}
		case types.StreamDict:
			walk(v.Dict)
		case *types.StreamDict:
			walk(v.Dict)
		case types.Array:
			for _, el := range v {
				walk(el)
			}
		case types.IndirectRef:
			refs = append(refs, fmt.Sprintf("%d %d R", v.ObjectNumber.Value(), v.GenerationNumber.Value()))
		}
	}
	walk(o)
	return refs
}
