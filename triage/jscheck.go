package triage

import (
	"strings"

	"github.com/dop251/goja"

	"pdftriage/report"
)

// suspiciousJSCalls are identifiers common in malicious document
// scripts. Presence alone is not a verdict, only a hint.
var suspiciousJSCalls = []string{
	"eval",
	"unescape",
	"String.fromCharCode",
	"app.launchURL",
	"util.printf",
	"getAnnots",
	"exportDataObject",
	"getIcon",
}

// probeJavaScript statically compiles carved script text (never runs it)
// and annotates the section with syntax validity and suspicious calls.
func (p *pipeline) probeJavaScript(s *report.Section, src string) {
	if _, err := goja.Compile("carved.js", src, false); err != nil {
		s.AddLine("Script does not compile as JavaScript: %v", err)
	} else {
		s.AddLine("Script compiles as valid JavaScript")
	}
	var found []string
	for _, call := range suspiciousJSCalls {
		if strings.Contains(src, call) {
			found = append(found, call)
		}
	}
	if len(found) > 0 {
		s.AddLine("Suspicious calls: %s", strings.Join(found, ", "))
		s.Severity = report.SeverityMedium
	}
}
