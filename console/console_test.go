package console

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintfPrefixesLines(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter("Supervisor", &buf)

	log.Printf("Started child %d (PID: %d)", 0, 1234)
	log.Errorf("attach failed\n")

	want := "[Supervisor] Started child 0 (PID: 1234)\n[Supervisor] attach failed\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got: %q", want, buf.String())
	}
}

func TestWithSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter("Supervisor", &buf)
	log.With("Reporter").Printf("3 bound")
	log.Printf("done")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got: %q", buf.String())
	}
	if lines[0] != "[Reporter] 3 bound" {
		t.Errorf("Unexpected first line: %q", lines[0])
	}
	if lines[1] != "[Supervisor] done" {
		t.Errorf("Unexpected second line: %q", lines[1])
	}
}

func TestEmptyPrefix(t *testing.T) {
	var buf bytes.Buffer
	NewWriter("", &buf).Printf("Greeter server listening on port %d", 40506)
	if buf.String() != "Greeter server listening on port 40506\n" {
		t.Errorf("Unexpected output: %q", buf.String())
	}
}
