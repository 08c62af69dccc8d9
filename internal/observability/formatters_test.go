package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/feedforge/internal/db"
	"github.com/jonathan/feedforge/internal/enrich"
	"github.com/jonathan/feedforge/internal/ingest"
	"github.com/jonathan/feedforge/internal/topics"
)

func TestPrintCollectionReport(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	report := &ingest.Report{
		SourceID:   "forum-main",
		Mode:       "incremental",
		Batches:    3,
		Fetched:    250,
		Inserted:   240,
		Duplicates: 10,
		Nested:     12,
		Duration:   1500 * time.Millisecond,
	}

	p.PrintCollectionReport(report)
	output := buf.String()

	assert.Contains(t, output, "COLLECTION RUN")
	assert.Contains(t, output, "forum-main")
	assert.Contains(t, output, "incremental")
	assert.Contains(t, output, "Inserted:   240")
	assert.Contains(t, output, "Duplicates: 10")
	assert.NotContains(t, output, "Invalid")
}

func TestPrintCollectionReport_Nil(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintCollectionReport(nil)

	assert.Empty(t, buf.String())
}

func TestPrintEnrichmentReport(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	report := &enrich.Report{
		SourceID:  "forum-main",
		Processed: 100,
		Skipped:   40,
		Failed:    2,
		Duration:  30 * time.Second,
	}

	p.PrintEnrichmentReport(report)
	output := buf.String()

	assert.Contains(t, output, "ENRICHMENT RUN")
	assert.Contains(t, output, "Processed: 100")
	assert.Contains(t, output, "see failure ledger")
}

func TestPrintTopicReport(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	report := &topics.Report{
		SourceID:   "forum-main",
		RunID:      "run-abc",
		Inputs:     100,
		Proposed:   12,
		Singletons: 3,
		Clusters:   7,
		Rejected:   2,
		Coverage:   0.85,
	}

	p.PrintTopicReport(report)
	output := buf.String()

	assert.Contains(t, output, "TOPICIZATION RUN")
	assert.Contains(t, output, "run-abc")
	assert.Contains(t, output, "Coverage:   85%")
	assert.Contains(t, output, "Rejected:   2")
}

func TestPrintSources(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	sources := []db.Source{
		{ID: "forum-main", Status: db.SourceActive, FeedURL: "https://forum.example.com/feed", Cursor: "c42"},
		{ID: "blog", Status: db.SourcePaused, FeedURL: "https://blog.example.com/feed", FailureCount: 3},
	}

	p.PrintSources(sources)
	output := buf.String()

	assert.Contains(t, output, "SOURCES")
	assert.Contains(t, output, "forum-main  [active]")
	assert.Contains(t, output, "cursor: c42")
	assert.Contains(t, output, "failures: 3")
}

func TestPrintSources_Empty(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintSources(nil)

	assert.Contains(t, buf.String(), "No sources configured.")
}

func TestPrintFailures_WithFailures(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	failures := []db.FailureRecord{
		{
			SourceRef:  "forum-main:post:17",
			Attempts:   4,
			ErrorClass: "retryable",
			ErrorText:  "rate limited by provider",
		},
	}

	p.PrintFailures(failures)
	output := buf.String()

	assert.Contains(t, output, "FAILURE LEDGER")
	assert.Contains(t, output, "forum-main:post:17")
	assert.Contains(t, output, "retryable, 4 attempts")
	assert.Contains(t, output, "rate limited by provider")
}

func TestPrintFailures_Empty(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintFailures(nil)

	assert.Contains(t, buf.String(), "NO FAILURES RECORDED")
}

func TestPrintBox_LongLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	sources := []db.Source{
		{
			ID:      "a-source-with-a-particularly-long-identifier-string",
			Status:  db.SourceActive,
			FeedURL: "https://example.com/a/very/long/feed/path/that/will/not/fit/in/the/box",
		},
	}

	p.PrintSources(sources)
	output := buf.String()

	assert.True(t, strings.Contains(output, "┌"))
	assert.True(t, strings.Contains(output, "└"))
	assert.True(t, strings.Contains(output, "│"))
}
