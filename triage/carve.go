package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/text/unicode/norm"

	"pdftriage/report"
)

// disposeCarved applies the size threshold to every carved entry: short
// content is reported inline and tagged with indicator matches, long
// content is hashed, deduplicated by digest, and persisted as an
// artifact. Returns true when anything was added to the section.
func (p *pipeline) disposeCarved(carres *report.Section) bool {
	objNums := make([]string, 0, len(p.acc.carved))
	for k := range p.acc.carved {
		objNums = append(objNums, k)
	}
	sort.Strings(objNums)

	added := false
	for _, objNum := range objNums {
		for _, hit := range p.acc.carved[objNum] {
			subres := report.NewSection(fmt.Sprintf("Object %s: Hits for Keyword '%s':", objNum, hit.Keyword))
			subres.Severity = report.SeverityLow
			content := []byte(hit.Content)

			if len(content) < p.cfg.InlineThreshold {
				subres.MemoryDump = true
				subres.AddLine("%s", hit.Content)
				p.tagIndicators(subres, content)
				if hit.Keyword == "JS" || hit.Keyword == "JavaScript" {
					p.probeJavaScript(subres, hit.Content)
				}
				carres.AddSubsection(subres)
				added = true
				continue
			}

			digest := sha256.Sum256(content)
			sha := hex.EncodeToString(digest[:])
			if _, dup := p.carvedSHAs[sha]; dup {
				continue
			}
			name := fmt.Sprintf("carved_content_obj_%s_%s", objNum, sha[:7])
			path := filepath.Join(p.cfg.WorkDir, name)
			if err := os.WriteFile(path, content, 0o644); err != nil {
				p.addError(fmt.Sprintf("write carved artifact %s: %v", name, err))
				continue
			}
			subres.AddLine("Content over %d bytes; extracted for analysis", p.cfg.InlineThreshold)
			subres.AddLine("Name: %s - SHA256: %s", name, sha)
			p.rep.AddArtifact(report.Artifact{
				Path:        path,
				Name:        name,
				Description: fmt.Sprintf("Extracted content from object %s", objNum),
			})
			p.carvedSHAs[sha] = struct{}{}
			carres.AddSubsection(subres)
			added = true
		}
	}
	return added
}

// tagIndicators attaches indicator-of-compromise matches to a section.
// A match type with an empty value is normalized before tagging; real
// values are tagged once each.
func (p *pipeline) tagIndicators(s *report.Section, content []byte) {
	matches := p.cfg.Matcher.Match(content)
	types := make([]string, 0, len(matches))
	for t := range matches {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, typ := range types {
		vals := matches[typ]
		if len(vals) == 0 {
			s.AddTag(typ, norm.NFKC.String(""))
			continue
		}
		seen := make(map[string]struct{}, len(vals))
		for _, v := range vals {
			if v == "" {
				v = norm.NFKC.String(v)
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			s.AddTag(typ, v)
		}
	}
}
