package report

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func sampleReport() *Report {
	r := &Report{}
	main := NewSection("Main Document Results")
	flags := NewSection("PDF Keyword Flags")
	flags.AddLine("/OpenAction:Count: 1")
	flags.Severity = SeverityMedium
	main.AddSubsection(flags)
	carved := NewSection("Object 4: Hits for Keyword 'JS':")
	carved.MemoryDump = true
	carved.AddLine("app.alert(1);")
	carved.AddTag("network.static.uri", "http://example.com/a")
	main.AddSubsection(carved)
	r.AddSection(main)
	r.AddArtifact(Artifact{Name: "extracted_obj_9", Description: "Object 9 extracted in structural analysis."})
	return r
}

func TestMarkdownStructure(t *testing.T) {
	md := sampleReport().Markdown()
	for _, want := range []string{
		"# Main Document Results",
		"## PDF Keyword Flags",
		"Severity: medium",
		"```\napp.alert(1);\n```",
		"- network.static.uri: `http://example.com/a`",
		"`extracted_obj_9`",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestRenderHTMLParses(t *testing.T) {
	out, err := sampleReport().RenderHTML("sample.pdf <triage>")
	if err != nil {
		t.Fatal(err)
	}
	doc, err := html.Parse(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("rendered HTML does not parse: %v", err)
	}
	var h1, title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1":
				if n.FirstChild != nil && h1 == "" {
					h1 = n.FirstChild.Data
				}
			case "title":
				if n.FirstChild != nil {
					title = n.FirstChild.Data
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if h1 != "Main Document Results" {
		t.Fatalf("h1 = %q", h1)
	}
	if title != "sample.pdf <triage>" {
		t.Fatalf("title = %q", title)
	}
}

func TestEmptySection(t *testing.T) {
	s := NewSection("empty")
	s.AddSubsection(NewSection("also empty"))
	if !s.Empty() {
		t.Fatalf("section should be empty")
	}
	s.Subsections[0].AddLine("content")
	if s.Empty() {
		t.Fatalf("section with nested content should not be empty")
	}
}
