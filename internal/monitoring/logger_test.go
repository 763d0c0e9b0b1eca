package monitoring

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"testing"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	orig := Logf
	t.Cleanup(func() { Logf = orig })
}

func TestSetLogger(t *testing.T) {
	restoreLogger(t)

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("stream %s created", "gate")
	if len(got) != 1 || got[0] != "stream gate created" {
		t.Errorf("got %q", got)
	}

	SetLogger(nil)
	Logf("muted %d", 1)
	if len(got) != 1 {
		t.Errorf("nil logger still logged: %q", got)
	}
}

func TestSetOutput(t *testing.T) {
	restoreLogger(t)

	var buf bytes.Buffer
	SetOutput(&buf, "[loiterd] ")
	Logf("run %s started", "r1")
	if out := buf.String(); !strings.HasPrefix(out, "[loiterd] ") || !strings.Contains(out, "run r1 started") {
		t.Errorf("output = %q", out)
	}

	SetOutput(nil, "")
	Logf("muted")
	if strings.Contains(buf.String(), "muted") {
		t.Error("nil writer should mute the logger")
	}
}

func TestPrefixed(t *testing.T) {
	restoreLogger(t)

	logf := Prefixed("[serial] ")
	var buf bytes.Buffer
	// Swapped after Prefixed was called.
	SetLogger(log.New(&buf, "", 0).Printf)
	logf("port %s closed", "/dev/ttyUSB0")
	if got := buf.String(); got != "[serial] port /dev/ttyUSB0 closed\n" {
		t.Errorf("got %q", got)
	}
}

func TestLogf_Default(t *testing.T) {
	restoreLogger(t)

	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)

	Logf = log.Printf
	Logf("default %d", 7)
	if !strings.Contains(buf.String(), "default 7") {
		t.Errorf("default logger output = %q", buf.String())
	}
}
