package logger

import (
	"bytes"
	"regexp"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	t.Parallel()

	for _, verbose := range []bool{false, true} {
		var buf bytes.Buffer
		l := New(&buf, verbose)

		l.Debug("per-connection", "client", "127.0.0.1:5555")
		l.Info("listening", "addr", "127.0.0.1:1080")

		out := buf.String()
		if !strings.Contains(out, "msg=listening") {
			t.Errorf("verbose=%v: missing info line in %q", verbose, out)
		}
		if got := strings.Contains(out, "msg=per-connection"); got != verbose {
			t.Errorf("verbose=%v: debug line present=%v in %q", verbose, got, out)
		}
	}
}

func TestNewTimeFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(&buf, false).Info("hello")

	re := regexp.MustCompile(`^time="\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}" level=INFO msg=hello\n$`)
	if !re.MatchString(buf.String()) {
		t.Fatalf("unexpected log line %q", buf.String())
	}
}
