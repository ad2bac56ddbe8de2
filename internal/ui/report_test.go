package ui

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

func TestCount(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0 issues"},
		{1, "1 issue"},
		{2, "2 issues"},
		{12345, "12,345 issues"},
	}
	for _, tt := range tests {
		if got := Count(tt.n, "issue", "issues"); got != tt.want {
			t.Errorf("Count(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestAgo(t *testing.T) {
	if got := Ago(time.Time{}); got != "never" {
		t.Errorf("Ago(zero) = %q, want never", got)
	}
	if got := Ago(time.Now().Add(-3 * 24 * time.Hour)); !strings.Contains(got, "ago") {
		t.Errorf("Ago(3 days) = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 8, "hello..."},
		{"hello world", 3, "..."},
		{"héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestSummary_AlignsAndSkipsEmpty(t *testing.T) {
	s := Summary{Title: "issues"}
	s.Add("Created", "3")
	s.Add("Failed", "")
	s.Add("Placeholders", "2")
	out := s.Render()

	if strings.Contains(out, "Failed") {
		t.Errorf("empty row rendered:\n%s", out)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}
	if strings.Index(lines[1], "3") != strings.Index(lines[2], "2") {
		t.Errorf("values not aligned:\n%s", out)
	}
}

func TestProgressAndWarning(t *testing.T) {
	var buf bytes.Buffer
	Progress(&buf, "Created issue #1")
	Warning(&buf, "watcher 7 not subscribed")
	Skip(&buf, "legacy IDs below 3")
	Info(&buf, "Nothing to import.")
	out := buf.String()
	for _, want := range []string{"Created issue #1", "watcher 7 not subscribed", "legacy IDs below 3", "Nothing to import."} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q lacks %q", out, want)
		}
	}
	if n := strings.Count(out, "\n"); n != 4 {
		t.Errorf("got %d lines, want 4", n)
	}
}

func TestElevatedAlert(t *testing.T) {
	if ElevatedAlert(nil) != "" {
		t.Error("no accounts should render nothing")
	}
	out := ElevatedAlert([]string{"alice (#4)", "bob (#9)"})
	for _, want := range []string{"NOT REVOKED", "alice (#4)", "bob (#9)"} {
		if !strings.Contains(out, want) {
			t.Errorf("alert missing %q:\n%s", want, out)
		}
	}
}

func TestShouldUseColor(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"NO_COLOR disables color", map[string]string{"NO_COLOR": "1"}, false},
		{"CLICOLOR=0 disables color", map[string]string{"CLICOLOR": "0"}, false},
		{"CLICOLOR_FORCE enables color in non-TTY", map[string]string{"CLICOLOR_FORCE": "1"}, true},
		{"NO_COLOR beats CLICOLOR_FORCE", map[string]string{"NO_COLOR": "1", "CLICOLOR_FORCE": "1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"NO_COLOR", "CLICOLOR", "CLICOLOR_FORCE"} {
				t.Setenv(k, "")
				os.Unsetenv(k)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := ShouldUseColor(); got != tt.want {
				t.Errorf("ShouldUseColor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTerminalWidthFallback(t *testing.T) {
	// stdout is not a terminal under go test
	if got := TerminalWidth(77); got != 77 && got <= 0 {
		t.Errorf("TerminalWidth() = %d", got)
	}
}
