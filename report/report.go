// Package report models the analysis output as a tree of titled
// sections, mirroring the shape the host scanning framework ingests.
package report

import (
	"fmt"
	"sort"
	"strings"
)

type Severity int

const (
	SeverityNone Severity = iota
	SeverityInfo
	SeverityLow
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "none"
	}
}

// Tag is one extracted indicator attached to a section.
type Tag struct {
	Type  string
	Value string
}

type Section struct {
	Title       string
	Lines       []string
	Tags        []Tag
	Severity    Severity
	MemoryDump  bool
	Subsections []*Section
}

func NewSection(title string) *Section { return &Section{Title: title} }

func (s *Section) AddLine(format string, args ...interface{}) {
	s.Lines = append(s.Lines, fmt.Sprintf(format, args...))
}

func (s *Section) AddTag(typ, value string) {
	s.Tags = append(s.Tags, Tag{Type: typ, Value: value})
}

func (s *Section) AddSubsection(sub *Section) {
	s.Subsections = append(s.Subsections, sub)
}

// Empty reports whether the section carries no content at any depth.
func (s *Section) Empty() bool {
	if len(s.Lines) > 0 || len(s.Tags) > 0 {
		return false
	}
	for _, sub := range s.Subsections {
		if !sub.Empty() {
			return false
		}
	}
	return true
}

// Artifact is a file produced during analysis, with a human-readable
// description for the extraction sink.
type Artifact struct {
	Path        string
	Name        string
	Description string
}

type Report struct {
	Sections  []*Section
	Artifacts []Artifact
}

func (r *Report) AddSection(s *Section) {
	if s != nil {
		r.Sections = append(r.Sections, s)
	}
}

func (r *Report) AddArtifact(a Artifact) {
	r.Artifacts = append(r.Artifacts, a)
}

// Markdown renders the report for terminal output and as the HTML
// rendering source. Section depth maps to heading level, capped at the
// smallest heading so deep nesting stays legible.
func (r *Report) Markdown() string {
	var sb strings.Builder
	for _, s := range r.Sections {
		writeSection(&sb, s, 1)
	}
	if len(r.Artifacts) > 0 {
		sb.WriteString("# Artifacts\n\n")
		for _, a := range r.Artifacts {
			fmt.Fprintf(&sb, "- `%s` — %s\n", a.Name, a.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeSection(sb *strings.Builder, s *Section, depth int) {
	if depth > 6 {
		depth = 6
	}
	fmt.Fprintf(sb, "%s %s\n\n", strings.Repeat("#", depth), s.Title)
	if s.Severity != SeverityNone {
		fmt.Fprintf(sb, "Severity: %s\n\n", s.Severity)
	}
	if len(s.Lines) > 0 {
		if s.MemoryDump {
			sb.WriteString("```\n")
			for _, l := range s.Lines {
				sb.WriteString(l + "\n")
			}
			sb.WriteString("```\n\n")
		} else {
			for _, l := range s.Lines {
				sb.WriteString(l + "\n")
			}
			sb.WriteString("\n")
		}
	}
	if len(s.Tags) > 0 {
		tags := make([]string, 0, len(s.Tags))
		for _, tg := range s.Tags {
			tags = append(tags, fmt.Sprintf("- %s: `%s`", tg.Type, tg.Value))
		}
		sort.Strings(tags)
		sb.WriteString(strings.Join(tags, "\n") + "\n\n")
	}
	for _, sub := range s.Subsections {
		writeSection(sb, sub, depth+1)
	}
}
