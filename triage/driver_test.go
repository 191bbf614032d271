package triage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pdftriage/observability"
	"pdftriage/structparse"
)

// fakeEngine scripts structural-parser behavior per request shape and
// records every query for invariant checks.
type fakeEngine struct {
	summary *structparse.Summary
	sumErr  error
	handler func(req structparse.Request) (*structparse.Response, error)
	queries []structparse.Request
}

func (f *fakeEngine) Path() string { return "fake.pdf" }

func (f *fakeEngine) Query(ctx context.Context, req structparse.Request) (*structparse.Response, error) {
	f.queries = append(f.queries, req)
	if f.handler == nil {
		return &structparse.Response{}, nil
	}
	return f.handler(req)
}

func (f *fakeEngine) Summarize(ctx context.Context, keywords []string) (*structparse.Summary, error) {
	return f.summary, f.sumErr
}

func flags(kws ...string) []structparse.Flag {
	out := make([]structparse.Flag, 0, len(kws))
	for _, kw := range kws {
		out = append(out, structparse.Flag{Keyword: kw, Count: 1})
	}
	return out
}

func newTestAnalyzer(t *testing.T, open func(path string, log observability.Logger) (structparse.Engine, error), deep bool) *Analyzer {
	t.Helper()
	return New(Config{
		DeepScan:   deep,
		WorkDir:    t.TempDir(),
		OpenEngine: open,
	})
}

func openOnly(eng structparse.Engine) func(string, observability.Logger) (structparse.Engine, error) {
	return func(string, observability.Logger) (structparse.Engine, error) { return eng, nil }
}

func searchQueries(eng *fakeEngine) []string {
	var out []string
	for _, q := range eng.queries {
		if q.SearchKeyword != "" {
			out = append(out, q.SearchKeyword)
		}
	}
	return out
}

func TestAnalyzeFileInlineJavaScriptCarve(t *testing.T) {
	eng := &fakeEngine{
		summary: &structparse.Summary{Version: "PDF-1.7", Flags: flags("JS")},
		handler: func(req structparse.Request) (*structparse.Response, error) {
			if req.SearchKeyword == "JS" {
				return &structparse.Response{Parts: []string{
					"obj 7 0\n Type: /Action\n <</S /JavaScript /JS (eval(unescape('%41')))>>++>>",
				}}, nil
			}
			return &structparse.Response{}, nil
		},
	}
	a := newTestAnalyzer(t, openOnly(eng), false)

	rep, err := a.AnalyzeFile(context.Background(), "fake.pdf")
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	md := rep.Markdown()
	if !strings.Contains(md, "Object 7: Hits for Keyword 'JS':") {
		t.Errorf("carve section missing:\n%s", md)
	}
	if !strings.Contains(md, "Suspicious calls: eval, unescape") {
		t.Errorf("script probe missing:\n%s", md)
	}
	if len(rep.Artifacts) != 0 {
		t.Errorf("short carve produced artifacts: %v", rep.Artifacts)
	}
	// A keyword that never flagged must never be queried.
	for _, kw := range searchQueries(eng) {
		if kw != "JS" {
			t.Errorf("unflagged keyword queried: %q", kw)
		}
	}
}

func TestAnalyzeFileReferenceExtractionWinsOverCarve(t *testing.T) {
	eng := &fakeEngine{
		summary: &structparse.Summary{Flags: flags("AA", "OpenAction")},
	}
	eng.handler = func(req structparse.Request) (*structparse.Response, error) {
		switch {
		case req.SearchKeyword == "AA":
			return &structparse.Response{Parts: []string{
				"obj 4 0\n <</AA (alert)>>",
			}}, nil
		case req.SearchKeyword == "OpenAction":
			return &structparse.Response{Parts: []string{
				"obj 1 0\n Referencing: 4 0 R\n /OpenAction 4 0 R>>++>>",
			}}, nil
		case len(req.Objects) == 1 && req.Objects[0] == "4" && req.WantDetail:
			return &structparse.Response{Parts: []string{
				"obj 4 0\n Type: /Action\nContains stream\n <</S /JavaScript>>",
			}}, nil
		case req.DumpPrefix != "":
			path := req.DumpPrefix + req.Objects[0]
			if err := os.WriteFile(path, []byte("stream bytes"), 0o644); err != nil {
				return nil, err
			}
			return &structparse.Response{Files: map[string][]string{"embedded": {path}}}, nil
		}
		return &structparse.Response{}, nil
	}
	a := newTestAnalyzer(t, openOnly(eng), false)

	rep, err := a.AnalyzeFile(context.Background(), "fake.pdf")
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	md := rep.Markdown()
	if strings.Contains(md, "Hits for Keyword 'AA'") {
		t.Errorf("carve survived for an extracted object:\n%s", md)
	}
	if !strings.Contains(md, "Extracted object 4 as extracted_obj_4") {
		t.Errorf("referenced stream object not extracted:\n%s", md)
	}
	if len(rep.Artifacts) != 1 || rep.Artifacts[0].Name != "extracted_obj_4" {
		t.Errorf("artifacts = %v", rep.Artifacts)
	}
}

func TestAnalyzeFileObjStmNestedPass(t *testing.T) {
	workDirCh := make(chan string, 1)
	nested := &fakeEngine{
		summary: &structparse.Summary{Flags: flags("Launch")},
		handler: func(req structparse.Request) (*structparse.Response, error) {
			if req.SearchKeyword == "Launch" {
				return &structparse.Response{Parts: []string{
					"obj 1 0\n /Launch (cmd.exe)>>++>>",
				}}, nil
			}
			return &structparse.Response{}, nil
		},
	}
	main := &fakeEngine{
		summary: &structparse.Summary{Flags: flags("ObjStm")},
	}
	main.handler = func(req structparse.Request) (*structparse.Response, error) {
		switch {
		case req.TypeFilter == "/ObjStm":
			return &structparse.Response{Parts: []string{
				"obj 5 0\n Type: /ObjStm\nContains stream",
			}}, nil
		case req.RawOutput && len(req.Objects) == 1 && req.Objects[0] == "5":
			if err := os.WriteFile(req.DumpPrefix, []byte("2 0 <</Type /Font>>\x0a"), 0o644); err != nil {
				return nil, err
			}
			return &structparse.Response{
				Parts: []string{"obj 5 0\nContains stream"},
				Files: map[string][]string{"embedded": {req.DumpPrefix}},
			}, nil
		}
		return &structparse.Response{}, nil
	}

	calls := 0
	open := func(path string, log observability.Logger) (structparse.Engine, error) {
		calls++
		if calls == 1 {
			return main, nil
		}
		workDirCh <- path
		return nested, nil
	}
	a := newTestAnalyzer(t, open, false)

	rep, err := a.AnalyzeFile(context.Background(), "fake.pdf")
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	md := rep.Markdown()
	if !strings.Contains(md, "ObjStream Object 1 from Parent Object 5") {
		t.Errorf("nested document section missing:\n%s", md)
	}
	if !strings.Contains(md, "Hits for Keyword 'Launch'") {
		t.Errorf("nested carve missing:\n%s", md)
	}

	// The reconstructed container is a standalone miniature document.
	nestedPath := <-workDirCh
	if filepath.Base(nestedPath) != "objstm_5_0" {
		t.Errorf("container file name = %q", filepath.Base(nestedPath))
	}
	data, err := os.ReadFile(nestedPath)
	if err != nil {
		t.Fatalf("read reconstructed container: %v", err)
	}
	if !strings.HasPrefix(string(data), "%PDF-1.6") {
		t.Errorf("container not reconstructed:\n%s", data)
	}

	// Non-deep mode caps container processing at one.
	for _, q := range main.queries {
		if q.TypeFilter == "/ObjStm" && q.MaxContainers != 1 {
			t.Errorf("container cap = %d, want 1", q.MaxContainers)
		}
	}
	// Recursion stops after one level: the nested document is never
	// scanned for containers of its own, and never runs extraction.
	for _, q := range nested.queries {
		if q.TypeFilter == "/ObjStm" {
			t.Error("nested document scanned for containers")
		}
		if strings.Contains(q.DumpPrefix, "extracted_obj_") {
			t.Error("nested document ran object extraction")
		}
	}
}

func TestAnalyzeFileStreamlessContainerNotRecursed(t *testing.T) {
	eng := &fakeEngine{
		summary: &structparse.Summary{Flags: flags("ObjStm")},
		handler: func(req structparse.Request) (*structparse.Response, error) {
			if req.TypeFilter == "/ObjStm" {
				return &structparse.Response{Parts: []string{
					"obj 6 0\n Type: /ObjStm",
				}}, nil
			}
			// The per-container dump finds no stream content.
			return &structparse.Response{Parts: []string{"obj 6 0"}}, nil
		},
	}
	opens := 0
	open := func(string, observability.Logger) (structparse.Engine, error) {
		opens++
		return eng, nil
	}
	a := newTestAnalyzer(t, open, false)

	rep, err := a.AnalyzeFile(context.Background(), "fake.pdf")
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if opens != 1 {
		t.Errorf("engine opened %d times; streamless container must not recurse", opens)
	}
	if strings.Contains(rep.Markdown(), "ObjStream Object") {
		t.Errorf("nested section produced for a streamless container:\n%s", rep.Markdown())
	}
}

func TestAnalyzeFileDeepContainerCap(t *testing.T) {
	eng := &fakeEngine{summary: &structparse.Summary{Flags: flags("ObjStm")}}
	a := newTestAnalyzer(t, openOnly(eng), true)

	if _, err := a.AnalyzeFile(context.Background(), "fake.pdf"); err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	found := false
	for _, q := range eng.queries {
		if q.TypeFilter == "/ObjStm" {
			found = true
			if q.MaxContainers != 100 {
				t.Errorf("deep container cap = %d, want 100", q.MaxContainers)
			}
		}
	}
	if !found {
		t.Error("container discovery query never ran")
	}
}

func TestAnalyzeFileJBIG2ReportedNotCarved(t *testing.T) {
	eng := &fakeEngine{
		summary: &structparse.Summary{Flags: flags(JBIG2Keyword)},
		handler: func(req structparse.Request) (*structparse.Response, error) {
			if req.SearchKeyword == JBIG2Keyword {
				return &structparse.Response{Parts: []string{
					"obj 8 0\nContains stream\n <</Filter /JBIG2Decode /Length 9>>",
				}}, nil
			}
			return &structparse.Response{}, nil
		},
	}
	a := newTestAnalyzer(t, openOnly(eng), false)

	rep, err := a.AnalyzeFile(context.Background(), "fake.pdf")
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	md := rep.Markdown()
	if !strings.Contains(md, "JBIG2Decode streams") || !strings.Contains(md, "8") {
		t.Errorf("JBIG2 set not reported:\n%s", md)
	}
	if strings.Contains(md, "Hits for Keyword") {
		t.Errorf("JBIG2 object carved:\n%s", md)
	}
	// Non-deep mode reports the set without extracting it.
	for _, q := range eng.queries {
		if q.DumpPrefix != "" {
			t.Errorf("extraction ran in non-deep mode: %+v", q)
		}
	}
}

func TestAnalyzeFileJavaScriptCarveSuppression(t *testing.T) {
	newEngine := func() *fakeEngine {
		return &fakeEngine{
			summary: &structparse.Summary{Flags: flags("JS", "JavaScript")},
			handler: func(req structparse.Request) (*structparse.Response, error) {
				switch req.SearchKeyword {
				case "JS":
					return &structparse.Response{Parts: []string{
						"obj 2 0\n /JS (app.alert(1))",
					}}, nil
				case "JavaScript":
					return &structparse.Response{Parts: []string{
						"obj 2 0\n /JS (app.alert(1))",
					}}, nil
				}
				return &structparse.Response{}, nil
			},
		}
	}

	a := newTestAnalyzer(t, openOnly(newEngine()), false)
	rep, err := a.AnalyzeFile(context.Background(), "fake.pdf")
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	md := rep.Markdown()
	if got := strings.Count(md, "Hits for Keyword"); got != 1 {
		t.Errorf("carve sections = %d, want 1 with suppression on:\n%s", got, md)
	}

	eng := newEngine()
	a = New(Config{
		WorkDir:                   t.TempDir(),
		OpenEngine:                openOnly(eng),
		DisableJSCarveSuppression: true,
	})
	rep, err = a.AnalyzeFile(context.Background(), "fake.pdf")
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if got := strings.Count(rep.Markdown(), "Hits for Keyword"); got != 2 {
		t.Errorf("carve sections = %d, want 2 with suppression off", got)
	}
}

func TestAnalyzeFileSharedJavaScriptSeverity(t *testing.T) {
	eng := &fakeEngine{
		summary: &structparse.Summary{Flags: flags("JS", "JavaScript")},
	}
	a := newTestAnalyzer(t, openOnly(eng), false)

	rep, err := a.AnalyzeFile(context.Background(), "fake.pdf")
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	md := rep.Markdown()
	if !strings.Contains(md, `"/JS": JavaScript is present`) {
		t.Errorf("JS severity finding missing:\n%s", md)
	}
	if strings.Contains(md, `"/JavaScript":`) {
		t.Errorf("JavaScript flag reported a second severity finding:\n%s", md)
	}
	// Both flag count lines still appear.
	if !strings.Contains(md, "/JS:Count: 1") || !strings.Contains(md, "/JavaScript:Count: 1") {
		t.Errorf("flag count lines missing:\n%s", md)
	}
}

func TestAnalyzeFileNoFlagsNoQueries(t *testing.T) {
	eng := &fakeEngine{summary: &structparse.Summary{Version: "PDF-1.4"}}
	a := newTestAnalyzer(t, openOnly(eng), false)

	if _, err := a.AnalyzeFile(context.Background(), "fake.pdf"); err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if got := searchQueries(eng); len(got) != 0 {
		t.Errorf("keyword queries ran without flags: %v", got)
	}
}

func TestAnalyzeFileSizeSkip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.pdf")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 64)), 0o644); err != nil {
		t.Fatal(err)
	}
	opened := false
	a := New(Config{
		MaxPDFSize: 32,
		WorkDir:    t.TempDir(),
		OpenEngine: func(string, observability.Logger) (structparse.Engine, error) {
			opened = true
			return nil, errors.New("unreachable")
		},
	})

	rep, err := a.AnalyzeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if opened {
		t.Error("oversized file was still scanned")
	}
	if !strings.Contains(rep.Markdown(), "exceeds size limit") {
		t.Errorf("skip section missing:\n%s", rep.Markdown())
	}
}

func TestAnalyzeFileInitialScanFailureIsFatal(t *testing.T) {
	a := New(Config{
		WorkDir: t.TempDir(),
		OpenEngine: func(string, observability.Logger) (structparse.Engine, error) {
			return nil, errors.New("not a pdf")
		},
	})
	if _, err := a.AnalyzeFile(context.Background(), "fake.pdf"); err == nil {
		t.Fatal("initial scan failure not surfaced")
	}
}

func TestAnalyzeFileQueryFailuresAccumulate(t *testing.T) {
	eng := &fakeEngine{
		summary: &structparse.Summary{Flags: flags("Launch")},
		handler: func(req structparse.Request) (*structparse.Response, error) {
			if req.SearchKeyword == "Launch" {
				return nil, fmt.Errorf("parser crashed on %q", req.SearchKeyword)
			}
			return &structparse.Response{}, nil
		},
	}
	a := newTestAnalyzer(t, openOnly(eng), false)

	rep, err := a.AnalyzeFile(context.Background(), "fake.pdf")
	if err != nil {
		t.Fatalf("query failure escalated to fatal: %v", err)
	}
	md := rep.Markdown()
	if !strings.Contains(md, "Errors Analyzing PDF") || !strings.Contains(md, "parser crashed") {
		t.Errorf("error section missing:\n%s", md)
	}
}
