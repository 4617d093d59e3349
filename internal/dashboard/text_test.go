package dashboard

import (
	"bytes"
	"strings"
	"testing"

	"screener/internal/domain"
)

func TestWriteTextEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != NoData {
		t.Errorf("WriteText(nil) = %q, want %q", got, NoData)
	}
}

func TestWriteText(t *testing.T) {
	rows := []domain.Row{
		{Symbol: "NASDAQ:AAPL", Price: domain.Some(189.5), ChangePercent: domain.Some(1.2)},
		{Symbol: "NYSE:KO"},
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, rows); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "189.50") || !strings.Contains(lines[1], "+1.20%") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if strings.Count(lines[2], Placeholder) != 8 {
		t.Errorf("row 2 should have 8 placeholders: %q", lines[2])
	}
}
