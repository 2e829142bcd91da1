package adf_test

import (
	"testing"

	"github.com/devos-platform/agent-orchestrator/internal/jira/adf"
)

func roundTrip(t *testing.T, text string) {
	t.Helper()
	doc := adf.ConvertToAdf(text)
	got := adf.ConvertFromAdf(doc)
	if got != text {
		t.Fatalf("round trip mismatch:\n  in:  %q\n  out: %q", text, got)
	}
}

func TestRoundTripParagraph(t *testing.T) {
	roundTrip(t, "a plain paragraph")
}

func TestRoundTripHeadings(t *testing.T) {
	roundTrip(t, "# h1")
	roundTrip(t, "## h2")
	roundTrip(t, "### h3")
}

func TestRoundTripBulletList(t *testing.T) {
	roundTrip(t, "- one\n- two\n- three")
}

func TestRoundTripCodeBlock(t *testing.T) {
	roundTrip(t, "```go\nfmt.Println(\"hi\")\n```")
}

func TestRoundTripEmpty(t *testing.T) {
	roundTrip(t, "")
}

func TestConvertToAdfEnvelope(t *testing.T) {
	doc := adf.ConvertToAdf("hello")
	if doc.Version != 1 || doc.Type != "doc" {
		t.Fatalf("unexpected envelope: %+v", doc)
	}
}

func TestIdempotentAfterFirstApplication(t *testing.T) {
	text := "# Title\n\nSome body text.\n- a\n- b"
	doc1 := adf.ConvertToAdf(text)
	recovered := adf.ConvertFromAdf(doc1)
	doc2 := adf.ConvertToAdf(recovered)
	twiceRecovered := adf.ConvertFromAdf(doc2)
	if recovered != twiceRecovered {
		t.Fatalf("not idempotent:\n  first:  %q\n  second: %q", recovered, twiceRecovered)
	}
}
