package volume

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/isodrop/isodrop/pkg/errors"
)

type call struct {
	name   string
	args   []string
	ctxErr error
}

type fakeRunner struct {
	calls  []call
	output string
	code   int
	err    error
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	f.calls = append(f.calls, call{name: name, args: args, ctxErr: ctx.Err()})
	return []byte(f.output), f.code, f.err
}

func newTestMounter(f *fakeRunner) *HdiutilMounter {
	return NewHdiutil(Options{
		Run:    f.run,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestMount_Success(t *testing.T) {
	f := &fakeRunner{output: "/dev/disk4          \tGUID_partition_scheme\n/dev/disk4s1  Apple_HFS  /Volumes/MYGAME\n"}
	m := newTestMounter(f)

	v, err := m.Mount(context.Background(), "/tmp/game.iso")
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if v.Path != "/Volumes/MYGAME" {
		t.Errorf("volume = %q, want /Volumes/MYGAME", v.Path)
	}

	if len(f.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(f.calls))
	}
	if f.calls[0].name != DefaultHdiutilPath {
		t.Errorf("command = %q", f.calls[0].name)
	}
	want := []string{"attach", "/tmp/game.iso", "-nobrowse", "-readonly"}
	if !reflect.DeepEqual(f.calls[0].args, want) {
		t.Errorf("args = %v, want %v", f.calls[0].args, want)
	}
}

func TestMount_IgnoresCallerCancellation(t *testing.T) {
	f := &fakeRunner{output: "/dev/disk4s1  Apple_HFS  /Volumes/MYGAME\n"}
	m := newTestMounter(f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Mount(ctx, "/tmp/game.iso"); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if f.calls[0].ctxErr != nil {
		t.Errorf("attach ran with a cancelled context: %v", f.calls[0].ctxErr)
	}
}

func TestMount_NonzeroExit(t *testing.T) {
	f := &fakeRunner{output: "hdiutil: attach failed - image not recognized\n", code: 1}
	m := newTestMounter(f)

	_, err := m.Mount(context.Background(), "/tmp/broken.iso")
	if !errors.Is(err, ErrProcessFailed) {
		t.Fatalf("expected ErrProcessFailed, got %v", err)
	}

	var pf *ProcessFailedError
	if !errors.As(err, &pf) {
		t.Fatalf("expected *ProcessFailedError, got %T", err)
	}
	if pf.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", pf.ExitCode)
	}
	if pf.Output != "hdiutil: attach failed - image not recognized" {
		t.Errorf("output = %q", pf.Output)
	}
}

func TestMount_StartFailure(t *testing.T) {
	f := &fakeRunner{err: fmt.Errorf("exec: \"hdiutil\": executable file not found in $PATH"), code: -1}
	m := newTestMounter(f)

	_, err := m.Mount(context.Background(), "/tmp/game.iso")
	var pf *ProcessFailedError
	if !errors.As(err, &pf) {
		t.Fatalf("expected *ProcessFailedError, got %v", err)
	}
	if pf.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", pf.ExitCode)
	}
	if !strings.Contains(pf.Output, "executable file not found") {
		t.Errorf("output = %q", pf.Output)
	}
}

func TestMount_NoVolumeInOutput(t *testing.T) {
	f := &fakeRunner{output: "/dev/disk4\tGUID_partition_scheme\n"}
	m := newTestMounter(f)

	_, err := m.Mount(context.Background(), "/tmp/game.iso")
	if !errors.Is(err, ErrNoVolumeFound) {
		t.Errorf("expected ErrNoVolumeFound, got %v", err)
	}
	if errors.Is(err, ErrProcessFailed) {
		t.Error("ErrNoVolumeFound must not match ErrProcessFailed")
	}
}

func TestDetach(t *testing.T) {
	f := &fakeRunner{}
	m := newTestMounter(f)

	if err := m.Detach(context.Background(), Volume{Path: "/Volumes/MYGAME"}); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	want := []string{"detach", "/Volumes/MYGAME", "-force"}
	if len(f.calls) != 1 || !reflect.DeepEqual(f.calls[0].args, want) {
		t.Fatalf("calls = %+v, want one with %v", f.calls, want)
	}

	f.code = 16
	f.output = "hdiutil: couldn't eject \"disk4\" - Resource busy"
	err := m.Detach(context.Background(), Volume{Path: "/Volumes/MYGAME"})
	if err == nil || !strings.Contains(err.Error(), "detach /Volumes/MYGAME") {
		t.Errorf("expected detach error, got %v", err)
	}
}

func TestParseVolume(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{"single line", "/dev/disk4s1  Apple_HFS  /Volumes/MYGAME", "/Volumes/MYGAME", false},
		{"first match wins", "/dev/disk4s1\t/Volumes/FIRST\n/dev/disk4s2\t/Volumes/SECOND\n", "/Volumes/FIRST", false},
		{"spaces in name", "/dev/disk5s1  Apple_HFS  /Volumes/My Game Disc 1  \r\n", "/Volumes/My Game Disc 1", false},
		{"match after unrelated lines", "checksumming...\nverified\n/dev/disk2\t\t/Volumes/CD\n", "/Volumes/CD", false},
		{"no marker", "/dev/disk4\tGUID_partition_scheme\n", "", true},
		{"empty output", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVolume(tt.output, DefaultMarker)
			if tt.wantErr {
				if !errors.Is(err, ErrNoVolumeFound) {
					t.Errorf("expected ErrNoVolumeFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseVolume_CustomMarker(t *testing.T) {
	got, err := ParseVolume("Mapped file /tmp/game.iso as /dev/loop0.\nMounted /dev/loop0 at /media/user/GAME\n", "/media/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/media/user/GAME" {
		t.Errorf("got %q", got)
	}
}

const infoOutput = `framework       : 671
driver          : 10.15v671
================================================
image-path      : /Users/me/Downloads/mygame.iso
image-alias     : /Users/me/Downloads/mygame.iso
shadow-path     : <none>
image-type      : read-only disk image
writeable       : FALSE
process ID      : 5123
/dev/disk4	GUID_partition_scheme
/dev/disk4s1	Apple_HFS	/Volumes/MYGAME
================================================
image-path      : /Users/me/Downloads/other disc.cdr
image-type      : CD/DVD-R master
process ID      : 5200
/dev/disk5	                               	/Volumes/MYGAME 1
`

func TestParseInfo(t *testing.T) {
	got := ParseInfo(infoOutput, DefaultMarker)
	want := []Attachment{
		{ImagePath: "/Users/me/Downloads/mygame.iso", Volumes: []string{"/Volumes/MYGAME"}},
		{ImagePath: "/Users/me/Downloads/other disc.cdr", Volumes: []string{"/Volumes/MYGAME 1"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseInfo = %+v, want %+v", got, want)
	}

	if got := ParseInfo("framework : 671\n", DefaultMarker); len(got) != 0 {
		t.Errorf("expected no attachments, got %+v", got)
	}
}

func TestBackingImage(t *testing.T) {
	f := &fakeRunner{output: infoOutput}
	m := newTestMounter(f)

	img, err := m.BackingImage(context.Background(), "/Volumes/MYGAME 1")
	if err != nil {
		t.Fatalf("BackingImage failed: %v", err)
	}
	if img != "/Users/me/Downloads/other disc.cdr" {
		t.Errorf("image = %q", img)
	}
	if !reflect.DeepEqual(f.calls[0].args, []string{"info"}) {
		t.Errorf("args = %v", f.calls[0].args)
	}

	if _, err := m.BackingImage(context.Background(), "/Volumes/ELSEWHERE"); !errors.Is(err, ErrNotAttached) {
		t.Errorf("expected ErrNotAttached, got %v", err)
	}

	f.code = 1
	if _, err := m.BackingImage(context.Background(), "/Volumes/MYGAME"); !errors.Is(err, ErrProcessFailed) {
		t.Errorf("expected ErrProcessFailed, got %v", err)
	}
}

func TestManagerInterface(t *testing.T) {
	var _ Manager = (*HdiutilMounter)(nil)
}
