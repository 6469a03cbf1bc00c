package config

import (
	"bytes"
	"testing"
)

func TestExitfWritesMessageAndExitsWithCode1(t *testing.T) {
	var out bytes.Buffer
	code := -1

	prevWriter, prevExit := exitWriter, exitFunc
	t.Cleanup(func() {
		exitWriter, exitFunc = prevWriter, prevExit
	})
	exitWriter = &out
	exitFunc = func(c int) { code = c }

	Exitf("fatal: %s", "listener closed")

	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if got := out.String(); got != "fatal: listener closed\n" {
		t.Fatalf("stderr = %q, want %q", got, "fatal: listener closed\n")
	}
}
