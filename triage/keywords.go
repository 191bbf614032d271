package triage

import "pdftriage/report"

// JBIG2Keyword objects are never carved: they are tracked in their own
// set and only ever extracted as whole binary streams.
const JBIG2Keyword = "JBIG2Decode"

// keywordInfo is the static scoring table: one row per triage keyword,
// replacing per-plugin dispatch with a data-driven lookup.
type keywordInfo struct {
	Severity    report.Severity
	Description string
}

var keywordTable = map[string]keywordInfo{
	"JS":         {report.SeverityHigh, "JavaScript is present in the file."},
	"JavaScript": {report.SeverityHigh, "JavaScript is present in the file."},
	"AA":         {report.SeverityMedium, "Automatic action performed when the page or document is viewed."},
	"OpenAction": {report.SeverityMedium, "Automatic action performed when the page or document is viewed."},
	"Launch":     {report.SeverityMedium, "Launch action; can start external programs."},
	"GoToE":      {report.SeverityLow, "Link to an embedded file."},
	"GoToR":      {report.SeverityLow, "Link to another file."},
	JBIG2Keyword: {report.SeverityMedium, "JBIG2 compressed stream; historically abused for decoder exploits."},
	"Colors > 2^24": {report.SeverityMedium,
		"Number of colors expressed in more than 3 bytes."},
	"Encrypt":   {report.SeverityLow, "Encrypted content in sample."},
	"AcroForm":  {report.SeverityLow, "AcroForm object; can be used to hide malicious code."},
	"RichMedia": {report.SeverityLow, "Embedded Flash content."},
	"XFA":       {report.SeverityLow, "XML Forms Architecture; can be used to hide malicious code."},
	"Annot":     {report.SeverityInfo, "Annotations present; worth examining alongside other findings."},
	"ObjStm":    {report.SeverityInfo, "Object stream(s); can be used to obfuscate objects."},
	"URI":       {report.SeverityInfo, "Sample contains URLs."},
}

// severityFor returns the tier for a flagged keyword; unknown keywords
// (host-supplied additional ones) report as info.
func severityFor(keyword string) report.Severity {
	if info, ok := keywordTable[keyword]; ok {
		return info.Severity
	}
	return report.SeverityInfo
}

func describeKeyword(keyword string) string {
	if info, ok := keywordTable[keyword]; ok {
		return info.Description
	}
	return "Flagged by service configuration."
}

// triageKeywords returns every keyword the summarizer should count.
func triageKeywords(additional []string) []string {
	out := make([]string, 0, len(keywordTable)+len(additional))
	for kw := range keywordTable {
		out = append(out, kw)
	}
	out = append(out, additional...)
	return out
}
