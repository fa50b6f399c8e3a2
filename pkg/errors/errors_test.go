package errors

import (
	"io"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Fatal("expected nil for nil error")
	}

	err := Wrap(io.EOF, "read header")
	if err.Error() != "read header: EOF" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !Is(err, io.EOF) {
		t.Error("wrapped error should match io.EOF")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Fatal("expected nil for nil error")
	}

	err := Wrapf(io.ErrUnexpectedEOF, "detach %s", "/Volumes/GAME")
	if err.Error() != "detach /Volumes/GAME: unexpected EOF" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
