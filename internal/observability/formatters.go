// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/enrich"
	"github.com/jonathan/feedforge/internal/ingest"
	"github.com/jonathan/feedforge/internal/topics"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintCollectionReport outputs a human-readable summary of one collection run.
func (p *Printer) PrintCollectionReport(report *ingest.Report) {
	if report == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Source:     %s\n", report.SourceID))
	sb.WriteString(fmt.Sprintf("Mode:       %s\n", report.Mode))
	sb.WriteString(fmt.Sprintf("Batches:    %d\n", report.Batches))
	sb.WriteString(fmt.Sprintf("Fetched:    %d\n", report.Fetched))
	sb.WriteString(fmt.Sprintf("Inserted:   %d\n", report.Inserted))
	sb.WriteString(fmt.Sprintf("Duplicates: %d\n", report.Duplicates))
	if report.Invalid > 0 {
		sb.WriteString(fmt.Sprintf("Invalid:    %d\n", report.Invalid))
	}
	if report.Nested > 0 {
		sb.WriteString(fmt.Sprintf("Nested:     %d\n", report.Nested))
	}
	sb.WriteString(fmt.Sprintf("Duration:   %s", report.Duration.Round(time.Millisecond)))

	p.printBox("COLLECTION RUN", sb.String())
}

// PrintEnrichmentReport outputs a human-readable summary of one enrichment run.
func (p *Printer) PrintEnrichmentReport(report *enrich.Report) {
	if report == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Source:    %s\n", report.SourceID))
	sb.WriteString(fmt.Sprintf("Processed: %d\n", report.Processed))
	sb.WriteString(fmt.Sprintf("Skipped:   %d\n", report.Skipped))
	if report.Failed > 0 {
		sb.WriteString(fmt.Sprintf("Failed:    %d  (see failure ledger)\n", report.Failed))
	} else {
		sb.WriteString("Failed:    0\n")
	}
	sb.WriteString(fmt.Sprintf("Duration:  %s", report.Duration.Round(time.Millisecond)))

	p.printBox("ENRICHMENT RUN", sb.String())
}

// PrintTopicReport outputs a human-readable summary of one topicization run.
func (p *Printer) PrintTopicReport(report *topics.Report) {
	if report == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Source:     %s\n", report.SourceID))
	sb.WriteString(fmt.Sprintf("Run:        %s\n", report.RunID))
	sb.WriteString(fmt.Sprintf("Inputs:     %d\n", report.Inputs))
	sb.WriteString(fmt.Sprintf("Proposed:   %d\n", report.Proposed))
	sb.WriteString(fmt.Sprintf("Singletons: %d\n", report.Singletons))
	sb.WriteString(fmt.Sprintf("Clusters:   %d\n", report.Clusters))
	if report.Rejected > 0 {
		sb.WriteString(fmt.Sprintf("Rejected:   %d\n", report.Rejected))
	}
	sb.WriteString(fmt.Sprintf("Coverage:   %.0f%%\n", report.Coverage*100))
	sb.WriteString(fmt.Sprintf("Duration:   %s", report.Duration.Round(time.Millisecond)))

	p.printBox("TOPICIZATION RUN", sb.String())
}

// PrintSources outputs a compact listing of collection sources.
func (p *Printer) PrintSources(sources []db.Source) {
	if len(sources) == 0 {
		p.printBox("SOURCES", "No sources configured.")
		return
	}

	var sb strings.Builder
	for i, src := range sources {
		sb.WriteString(fmt.Sprintf("%s  [%s]\n", src.ID, src.Status))
		sb.WriteString(fmt.Sprintf("  %s\n", src.FeedURL))
		if src.Cursor != "" {
			cursor := src.Cursor
			if len(cursor) > 40 {
				cursor = cursor[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf("  cursor: %s\n", cursor))
		}
		if src.FailureCount > 0 {
			sb.WriteString(fmt.Sprintf("  failures: %d\n", src.FailureCount))
		}
		if i < len(sources)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("SOURCES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintFailures outputs the failure ledger entries for a source.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintFailures(failures []db.FailureRecord) {
	if len(failures) == 0 {
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, "✅ NO FAILURES RECORDED")
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d failures:\n\n", len(failures)))

	count := min(len(failures), maxItemsToShow)
	for i := 0; i < count; i++ {
		f := failures[i]
		detail := f.ErrorText
		if len(detail) > 45 {
			detail = detail[:42] + "..."
		}
		sb.WriteString(fmt.Sprintf("⚠ %s  (%s, %d attempts)\n", f.SourceRef, f.ErrorClass, f.Attempts))
		sb.WriteString(fmt.Sprintf("  %s\n", detail))
		if i < count-1 {
			sb.WriteString("\n")
		}
	}

	if len(failures) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more", len(failures)-maxItemsToShow))
	}

	p.printBox("FAILURE LEDGER", strings.TrimSuffix(sb.String(), "\n"))
}
