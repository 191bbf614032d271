package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pdftriage/observability"
	"pdftriage/triage"
)

type options struct {
	pdfPath  string
	workDir  string
	htmlPath string
	deep     bool
	maxSize  int64
	keywords []string
	verbose  bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdftriage: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdftriage: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: pdftriage [flags] <pdf>\n")
		flag.PrintDefaults()
	}
	deep := flag.Bool("deep", false, "Deep scan: extract JBIG2 streams and process up to 100 object streams")
	workDir := flag.String("out", "triage_output", "Directory for extracted and carved artifacts")
	htmlPath := flag.String("html", "", "Also write the report as an HTML page to this path")
	maxSize := flag.Int64("max-size", 3_000_000, "Skip files at or above this size unless -deep is set")
	keywords := flag.String("keywords", "", "Comma-separated additional keywords to flag")
	verbose := flag.Bool("v", false, "Log pipeline progress to stderr")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.pdfPath = flag.Arg(0)
	opts.workDir = *workDir
	opts.htmlPath = *htmlPath
	opts.deep = *deep
	opts.maxSize = *maxSize
	opts.verbose = *verbose
	for _, kw := range strings.Split(*keywords, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			opts.keywords = append(opts.keywords, kw)
		}
	}
	return opts, nil
}

func run(opts options) error {
	if err := os.MkdirAll(opts.workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	var logger observability.Logger = observability.NopLogger{}
	if opts.verbose {
		logger = stderrLogger{}
	}

	analyzer := triage.New(triage.Config{
		DeepScan:           opts.deep,
		MaxPDFSize:         opts.maxSize,
		AdditionalKeywords: opts.keywords,
		WorkDir:            opts.workDir,
		Logger:             logger,
	})
	rep, err := analyzer.AnalyzeFile(context.Background(), opts.pdfPath)
	if err != nil {
		return fmt.Errorf("analyze %q: %w", opts.pdfPath, err)
	}

	fmt.Print(rep.Markdown())

	if opts.htmlPath != "" {
		page, err := rep.RenderHTML(filepath.Base(opts.pdfPath))
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.htmlPath, page, 0o644); err != nil {
			return fmt.Errorf("write html report: %w", err)
		}
	}
	return nil
}

// stderrLogger is the CLI's verbose sink; the library default stays
// silent.
type stderrLogger struct {
	fields []observability.Field
}

func (l stderrLogger) log(level, msg string, fields []observability.Field) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", level, msg)
	for _, f := range append(l.fields, fields...) {
		fmt.Fprintf(&sb, " %s=%v", f.Key(), f.Value())
	}
	fmt.Fprintln(os.Stderr, sb.String())
}

func (l stderrLogger) Debug(msg string, fields ...observability.Field) { l.log("DEBUG", msg, fields) }
func (l stderrLogger) Info(msg string, fields ...observability.Field)  { l.log("INFO", msg, fields) }
func (l stderrLogger) Warn(msg string, fields ...observability.Field)  { l.log("WARN", msg, fields) }
func (l stderrLogger) Error(msg string, fields ...observability.Field) { l.log("ERROR", msg, fields) }

func (l stderrLogger) With(fields ...observability.Field) observability.Logger {
	return stderrLogger{fields: append(append([]observability.Field(nil), l.fields...), fields...)}
}
