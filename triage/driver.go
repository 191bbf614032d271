package triage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pdftriage/ioc"
	"pdftriage/observability"
	"pdftriage/recovery"
	"pdftriage/report"
	"pdftriage/structparse"
)

// Config controls one analyzer. The zero value is not usable; call New,
// which fills in defaults.
type Config struct {
	DeepScan bool

	// MaxPDFSize skips whole-document analysis above this size unless
	// deep scan is requested.
	MaxPDFSize int64

	// InlineThreshold is the carve disposition boundary in bytes.
	InlineThreshold int

	// MaxContainers caps reconstructed containers per document level in
	// deep mode. Non-deep mode always processes at most one.
	MaxContainers int

	// DisableJSCarveSuppression turns off the rule that skips a
	// /JavaScript carve whose content is the /JS sub-entry. The
	// suppression avoids double-reporting one hit through both keyword
	// variants; tests can disable it to observe raw behavior.
	DisableJSCarveSuppression bool

	AdditionalKeywords []string
	WorkDir            string
	Logger             observability.Logger
	Matcher            ioc.Matcher

	// OpenEngine constructs the structural-parser engine per document.
	// Overridable for tests; defaults to structparse.Open.
	OpenEngine func(path string, log observability.Logger) (structparse.Engine, error)
}

type Analyzer struct {
	cfg Config
}

func New(cfg Config) *Analyzer {
	if cfg.MaxPDFSize == 0 {
		cfg.MaxPDFSize = 3_000_000
	}
	if cfg.InlineThreshold == 0 {
		cfg.InlineThreshold = 500
	}
	if cfg.MaxContainers == 0 {
		cfg.MaxContainers = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	if cfg.Matcher == nil {
		cfg.Matcher = ioc.NewRegexMatcher()
	}
	if cfg.OpenEngine == nil {
		cfg.OpenEngine = structparse.Open
	}
	return &Analyzer{cfg: cfg}
}

// pipeline is the per-document mutable state. One pipeline analyzes one
// document (top-level or reconstructed) and is never shared.
type pipeline struct {
	cfg        Config
	eng        structparse.Engine
	rep        *report.Report
	acc        *accumulator
	carvedSHAs map[string]struct{}
	errs       *recovery.LenientStrategy
	log        observability.Logger
	topLevel   bool
	keywords   map[string]bool
	hasObjStm  bool
}

// AnalyzeFile runs the full triage pass over one document and then
// re-analyzes every reconstructed compressed-object container as an
// independent nested document. Only a failure to run the initial scan
// is fatal.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*report.Report, error) {
	start := time.Now()
	defer func() {
		a.cfg.Logger.Debug("scan finished",
			observability.String("doc", path),
			observability.String(observability.MetricScanTime, time.Since(start).String()))
	}()
	rep := &report.Report{}

	if fi, err := os.Stat(path); err == nil {
		if fi.Size() >= a.cfg.MaxPDFSize && !a.cfg.DeepScan {
			sec := report.NewSection("Analysis skipped: file exceeds size limit")
			sec.AddLine("File is %d bytes; limit is %d. Use deep scan to override.", fi.Size(), a.cfg.MaxPDFSize)
			rep.AddSection(sec)
			return rep, nil
		}
	}

	eng, err := a.cfg.OpenEngine(path, a.cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("initial structural scan: %w", err)
	}

	errs := recovery.NewLenientStrategy()
	p := a.newPipeline(eng, rep, errs, true)
	res := p.analyze(ctx, "Main Document Results")
	rep.AddSection(res)

	if p.hasObjStm {
		nested := a.reconstructContainers(ctx, eng, errs)
		a.cfg.Logger.Info("reconstructed containers",
			observability.Int(observability.MetricContainerCount, len(nested)),
			observability.String("doc", path))
		a.cfg.Logger.Debug("nested analysis",
			observability.Int(observability.MetricNestedDocuments, len(nested)))
		for i, nestedPath := range nested {
			parentObj := containerObjectNumber(nestedPath)
			title := fmt.Sprintf("ObjStream Object %d from Parent Object %s", i+1, parentObj)
			nestedEng, err := a.cfg.OpenEngine(nestedPath, a.cfg.Logger)
			if err != nil {
				errs.OnError(err, recovery.Location{Component: "driver", ObjectNumber: parentObj})
				continue
			}
			np := a.newPipeline(nestedEng, rep, errs, false)
			rep.AddSection(np.analyze(ctx, title))
		}
	}

	if len(errs.Errors) > 0 {
		sec := report.NewSection("Errors Analyzing PDF")
		for _, e := range errs.Errors {
			sec.AddLine("%s", e)
		}
		rep.AddSection(sec)
	}
	return rep, nil
}

func (a *Analyzer) newPipeline(eng structparse.Engine, rep *report.Report, errs *recovery.LenientStrategy, topLevel bool) *pipeline {
	return &pipeline{
		cfg:        a.cfg,
		eng:        eng,
		rep:        rep,
		acc:        newAccumulator(),
		carvedSHAs: make(map[string]struct{}),
		errs:       errs,
		log:        a.cfg.Logger,
		topLevel:   topLevel,
		keywords:   make(map[string]bool),
	}
}

// analyze is the full per-document pipeline: summary, keyword triage,
// carving, and (top level only) structure and extraction passes.
func (p *pipeline) analyze(ctx context.Context, title string) *report.Section {
	res := report.NewSection(title)

	summary, err := p.eng.Summarize(ctx, triageKeywords(p.cfg.AdditionalKeywords))
	if err != nil {
		p.errs.OnError(err, recovery.Location{Component: "summarize"})
		res.AddLine("No results generated for file. Please see errors.")
		return res
	}
	res.AddSubsection(p.summarySection(summary))

	// The flag summary gates all keyword work: a keyword that never hit
	// is never queried.
	for _, f := range summary.Flags {
		if f.Keyword == "ObjStm" {
			p.hasObjStm = true
		}
		p.keywords[f.Keyword] = true
	}

	for _, keyword := range sortedKeywords(p.keywords) {
		if keyword == "ObjStm" || keyword == structparse.ColorsKeyword {
			continue
		}
		p.runKeyword(ctx, keyword)
	}
	p.acc.reconcile()

	carres := report.NewSection("Content of Interest")
	show := false
	if len(p.acc.jbig) > 0 {
		jb := report.NewSection("The following object IDs are JBIG2Decode streams:")
		jb.MemoryDump = true
		jb.AddLine("%s", strings.Join(sortedKeys(p.acc.jbig), ", "))
		jb.Severity = severityFor(JBIG2Keyword)
		carres.AddSubsection(jb)
		show = true
	}
	if p.disposeCarved(carres) {
		show = true
	}
	if show {
		res.AddSubsection(carres)
	}

	if p.topLevel {
		embedded := p.elementPass(ctx, res)
		p.extractionPass(ctx, res, embedded)
	}

	p.log.Debug("document pass complete",
		observability.Int(observability.MetricKeywordQueries, len(p.keywords)),
		observability.Int(observability.MetricCarvedEntries, len(p.acc.carved)),
		observability.Int(observability.MetricExtractedObjs, len(p.acc.extract)))
	return res
}

func (p *pipeline) summarySection(s *structparse.Summary) *report.Section {
	sec := report.NewSection("Structural Summary")
	if p.topLevel {
		if s.Version != "" {
			sec.AddLine("%s", s.Version)
		}
		if len(s.Properties) > 0 {
			pres := report.NewSection("Document Properties")
			for _, prop := range s.Properties {
				pres.AddLine("%s: %s", prop[0], prop[1])
				if tag, ok := propertyTags[prop[0]]; ok {
					pres.AddTag(tag, prop[1])
				}
			}
			sec.AddSubsection(pres)
		}
		if len(s.Entropy) > 0 {
			eres := report.NewSection("Entropy")
			for _, band := range s.Entropy {
				eres.AddLine("%s: %.2f (%d bytes)", band.Name, band.Entropy, band.Bytes)
			}
			sec.AddSubsection(eres)
		}
	}
	if len(s.Flags) > 0 {
		fres := report.NewSection("PDF Keyword Flags")
		jsFlagged := false
		for _, f := range s.Flags {
			if f.HexCount > 0 {
				fres.AddLine("/%s:Count: %d, Hex-Encoded Count: %d", f.Keyword, f.Count, f.HexCount)
			} else {
				fres.AddLine("/%s:Count: %d", f.Keyword, f.Count)
			}
			fres.AddTag("file.string.extracted", f.Keyword)

			// JS and JavaScript flag as one finding so a single script
			// is not double-reported through both keyword variants.
			if f.Keyword == "JS" || f.Keyword == "JavaScript" {
				if jsFlagged {
					continue
				}
				jsFlagged = true
			}
			line := report.NewSection(fmt.Sprintf("\"/%s\": %s", f.Keyword, describeKeyword(f.Keyword)))
			line.Severity = severityFor(f.Keyword)
			fres.AddSubsection(line)
		}
		sec.AddSubsection(fres)
	}
	return sec
}

var propertyTags = map[string]string{
	"/ModDate":        "file.pdf.date.modified",
	"/CreationDate":   "file.date.creation",
	"/LastModified":   "file.date.last_modified",
	"/SourceModified": "file.pdf.date.source_modified",
	"/pdfx":           "file.pdf.date.pdfx",
}

// runKeyword performs one keyword triage pass: query, normalize each
// report, resolve its content, classify every token.
func (p *pipeline) runKeyword(ctx context.Context, keyword string) {
	resp, err := p.eng.Query(ctx, structparse.Request{SearchKeyword: keyword})
	if err != nil {
		p.warnQuery(err, "", keyword)
		return
	}
	p.collectWarnings(resp)

	for _, part := range resp.Parts {
		rep, perr := ParseReport(part)
		if perr != nil {
			p.errs.OnError(perr, recovery.Location{Component: "normalizer", Keyword: keyword})
			continue
		}

		// JBIG2 objects are only ever extracted, never carved; in
		// non-deep mode their presence is reported without extraction.
		if keyword == JBIG2Keyword && rep.ContainsStream && strings.Contains(part, "/Filter") {
			if rep.ObjectNumber != TrailerObject {
				if p.cfg.DeepScan {
					p.acc.queueExtract(rep.ObjectNumber)
				}
				p.acc.jbig[rep.ObjectNumber] = struct{}{}
			}
			continue
		}

		tokens, refs, ok := resolveContent(keyword, rep)
		if !ok {
			continue
		}
		for _, token := range tokens {
			if p.suppressJSCarve(keyword, token) {
				continue
			}
			p.classifyToken(ctx, keyword, token, rep, refs)
		}
	}
}

// suppressJSCarve skips a /JavaScript carve whose content is the /JS
// sub-entry; the /JS pass claims it.
func (p *pipeline) suppressJSCarve(keyword, token string) bool {
	if p.cfg.DisableJSCarveSuppression {
		return false
	}
	if keyword != "JavaScript" || !p.keywords["JS"] {
		return false
	}
	head := token
	if len(head) > 5 {
		head = head[:5]
	}
	return strings.Contains(head, "/JS")
}

// elementPass walks the document structure, noting embedded-file
// objects (so they are not extracted twice) and forwarding any
// malformed-content files the parser wrote out.
func (p *pipeline) elementPass(ctx context.Context, res *report.Section) map[string]struct{} {
	embedded := make(map[string]struct{})
	classes := "cst"
	if p.cfg.DeepScan {
		classes = "csti"
	}
	resp, err := p.eng.Query(ctx, structparse.Request{ElementClasses: classes})
	if err != nil {
		p.warnQuery(err, "", "")
		return embedded
	}
	p.collectWarnings(resp)

	for _, f := range resp.Files["malformed"] {
		p.rep.AddArtifact(report.Artifact{
			Path:        f,
			Name:        filepath.Base(f),
			Description: "Extracted malformed content found during structure analysis.",
		})
	}
	parts := append([]string(nil), resp.Parts...)
	sort.Strings(parts)
	for _, part := range parts {
		rep, perr := ParseReport(part)
		if perr != nil {
			continue
		}
		if strings.TrimPrefix(rep.Type, "/") == "EmbeddedFile" {
			embedded[rep.ObjectNumber] = struct{}{}
		}
	}
	return embedded
}

// extractionPass dumps every queued object, minus embedded files
// already handled elsewhere and minus the JBIG2 set, then (deep scan
// only) dumps the JBIG2 objects separately.
func (p *pipeline) extractionPass(ctx context.Context, res *report.Section, embedded map[string]struct{}) {
	var toExtract []string
	for objNum := range p.acc.extract {
		if _, dup := embedded[objNum]; dup {
			continue
		}
		if _, jb := p.acc.jbig[objNum]; jb {
			continue
		}
		toExtract = append(toExtract, objNum)
	}
	sort.Strings(toExtract)

	if len(toExtract) > 0 {
		if lines := p.dumpObjects(ctx, toExtract, "extracted_obj_", true); len(lines) > 0 {
			sec := report.NewSection("Extracted embedded objects")
			sec.Severity = report.SeverityInfo
			sec.Lines = lines
			res.AddSubsection(sec)
		}
	}

	if p.cfg.DeepScan && len(p.acc.jbig) > 0 {
		if lines := p.dumpObjects(ctx, sortedKeys(p.acc.jbig), "extracted_jb_obj_", false); len(lines) > 0 {
			sec := report.NewSection("Extracted JBIG2Decode objects")
			sec.Severity = report.SeverityInfo
			sec.Lines = lines
			res.AddSubsection(sec)
		}
	}
}

func (p *pipeline) dumpObjects(ctx context.Context, objNums []string, prefix string, filter bool) []string {
	resp, err := p.eng.Query(ctx, structparse.Request{
		Objects:          objNums,
		FilterDecompress: filter,
		DumpPrefix:       filepath.Join(p.cfg.WorkDir, prefix),
	})
	if err != nil {
		p.warnQuery(err, "", "")
		return nil
	}
	p.collectWarnings(resp)

	var lines []string
	for _, f := range resp.Files["embedded"] {
		name := filepath.Base(f)
		objID := strings.TrimPrefix(name, prefix)
		lines = append(lines, fmt.Sprintf("Extracted object %s as %s", objID, name))
		p.rep.AddArtifact(report.Artifact{
			Path:        f,
			Name:        name,
			Description: fmt.Sprintf("Object %s extracted during structure analysis.", objID),
		})
	}
	return lines
}

// reconstructContainers rebuilds each compressed-object container as a
// standalone miniature document. Container recursion is exactly one
// level: nested documents are never themselves scanned for containers.
func (a *Analyzer) reconstructContainers(ctx context.Context, eng structparse.Engine, errs *recovery.LenientStrategy) []string {
	maxContainers := 1
	if a.cfg.DeepScan {
		maxContainers = a.cfg.MaxContainers
	}
	resp, err := eng.Query(ctx, structparse.Request{
		ElementClasses: "i",
		TypeFilter:     "/ObjStm",
		MaxContainers:  maxContainers,
	})
	if err != nil {
		errs.OnError(err, recovery.Location{Component: "objstm"})
		return nil
	}

	done := make(map[string]struct{})
	var files []string
	idx := 0
	parts := append([]string(nil), resp.Parts...)
	sort.Strings(parts)
	for _, part := range parts {
		rep, perr := ParseReport(part)
		if perr != nil || strings.TrimPrefix(rep.Type, "/") != "ObjStm" {
			continue
		}
		if _, dup := done[rep.ObjectNumber]; dup {
			continue
		}
		path := filepath.Join(a.cfg.WorkDir, fmt.Sprintf("objstm_%s_%d", rep.ObjectNumber, idx))
		idx++
		if f := a.writeObjStm(ctx, eng, rep.ObjectNumber, path, errs); f != "" {
			done[rep.ObjectNumber] = struct{}{}
			files = append(files, f)
		}
	}
	return files
}

// writeObjStm dumps one container's decompressed stream and rewrites it
// in place as a reconstructed miniature document. Returns "" when no
// document was produced; a container without stream content is not an
// error, there is simply nothing to reconstruct.
func (a *Analyzer) writeObjStm(ctx context.Context, eng structparse.Engine, objNum, path string, errs *recovery.LenientStrategy) string {
	resp, err := eng.Query(ctx, structparse.Request{
		Objects:          []string{objNum},
		FilterDecompress: true,
		RawOutput:        true,
		DumpPrefix:       path,
	})
	if err != nil {
		errs.OnError(err, recovery.Location{Component: "objstm", ObjectNumber: objNum})
		return ""
	}

	streamPresent := false
	for _, part := range resp.Parts {
		if rep, perr := ParseReport(part); perr == nil && rep.ContainsStream {
			streamPresent = true
		}
	}
	if !streamPresent || len(resp.Files["embedded"]) == 0 {
		return ""
	}

	file := resp.Files["embedded"][0]
	data, err := os.ReadFile(file)
	if err != nil {
		errs.OnError(err, recovery.Location{Component: "objstm", ObjectNumber: objNum})
		return ""
	}
	doc, ok := ReconstructObjectStream(data)
	if !ok {
		return ""
	}
	if err := os.WriteFile(file, doc, 0o644); err != nil {
		errs.OnError(err, recovery.Location{Component: "objstm", ObjectNumber: objNum})
		return ""
	}
	return file
}

func (p *pipeline) warnQuery(err error, objNum, keyword string) {
	if err == nil {
		err = errors.New("structural query returned no parts")
	}
	p.errs.OnError(err, recovery.Location{
		Component:    "structparse",
		ObjectNumber: objNum,
		Keyword:      keyword,
	})
}

func (p *pipeline) collectWarnings(resp *structparse.Response) {
	for _, w := range resp.Warnings {
		p.errs.OnError(errors.New(w), recovery.Location{Component: "structparse"})
	}
}

func (p *pipeline) addError(msg string) {
	p.errs.OnError(errors.New(msg), recovery.Location{Component: "triage"})
}

// containerObjectNumber recovers the parent object number from an
// objstm_<obj>_<idx> file name.
func containerObjectNumber(path string) string {
	parts := strings.Split(filepath.Base(path), "_")
	if len(parts) >= 2 {
		return parts[1]
	}
	return "?"
}

func sortedKeywords(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
