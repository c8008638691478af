package engine

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"
)

// fakeRunner records invocations and replies with canned stdout.
type fakeRunner struct {
	calls  [][]string
	stdin  []string
	reply  map[string]string
	failOn string
}

func (f *fakeRunner) run(_ context.Context, _ string, args []string, stdio Stdio) error {
	f.calls = append(f.calls, args)
	if stdio.Stdin != nil {
		b, _ := io.ReadAll(stdio.Stdin)
		f.stdin = append(f.stdin, string(b))
	}
	if args[0] == f.failOn {
		return errors.New("exit status 1: no such object")
	}
	if out, ok := f.reply[args[0]]; ok && stdio.Stdout != nil {
		_, _ = io.WriteString(stdio.Stdout, out)
	}
	return nil
}

func newTestDocker(t *testing.T, f *fakeRunner) *Docker {
	t.Helper()
	d := New("")
	d.Runner = f.run
	return d
}

func TestCreateArgs(t *testing.T) {
	got := createArgs(ContainerSpec{
		Name:       "proj_test_run_1",
		Image:      "proj/app:b3",
		Cmd:        []string{"/bin/sh", "/shipmaster/scripts/run.sh"},
		Env:        map[string]string{"B": "2", "A": "1"},
		Volumes:    []string{"/tmp/reports:/app/reports"},
		Labels:     map[string]string{"z": "last", "com.docker.compose.project": "proj"},
		WorkingDir: "/app",
		Network:    "proj_default",
	})
	want := []string{
		"create",
		"--name", "proj_test_run_1",
		"--workdir", "/app",
		"--network", "proj_default",
		"--env", "A=1",
		"--env", "B=2",
		"--volume", "/tmp/reports:/app/reports",
		"--label", "com.docker.compose.project=proj",
		"--label", "z=last",
		"proj/app:b3",
		"/bin/sh", "/shipmaster/scripts/run.sh",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("createArgs()\n got %q\nwant %q", got, want)
	}
}

func TestCommitArgs(t *testing.T) {
	got, err := commitArgs("abc123", CommitSpec{
		Repository: "proj/app",
		Tag:        "b3",
		WorkingDir: "/app",
		Cmd:        []string{"/bin/sh", "-c", "echo 'hi'"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"commit",
		"--change", "WORKDIR /app",
		"--change", `CMD ["/bin/sh","-c","echo 'hi'"]`,
		"abc123",
		"proj/app:b3",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("commitArgs()\n got %q\nwant %q", got, want)
	}
}

func TestDockerCreateReturnsLastLine(t *testing.T) {
	f := &fakeRunner{reply: map[string]string{
		"create": "Unable to find image locally\nPulling...\ndeadbeef\n",
	}}
	d := newTestDocker(t, f)

	id, err := d.CreateContainer(context.Background(), ContainerSpec{Image: "alpine"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "deadbeef" {
		t.Errorf("id = %q, want deadbeef", id)
	}
}

func TestDockerWaitAndInspect(t *testing.T) {
	f := &fakeRunner{reply: map[string]string{
		"wait":    "3\n",
		"inspect": `{"Status":"exited","Running":false,"ExitCode":3}`,
	}}
	d := newTestDocker(t, f)
	ctx := context.Background()

	code, err := d.WaitContainer(ctx, "c1")
	if err != nil || code != 3 {
		t.Errorf("WaitContainer() = %d, %v", code, err)
	}
	st, err := d.InspectContainer(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Running || st.ExitCode != 3 || st.Status != "exited" {
		t.Errorf("InspectContainer() = %+v", st)
	}
}

func TestDockerImageLabels(t *testing.T) {
	tests := []struct {
		out  string
		want map[string]string
	}{
		{"null", map[string]string{}},
		{"", map[string]string{}},
		{`{"git-branch":"master"}`, map[string]string{"git-branch": "master"}},
	}
	for _, tt := range tests {
		f := &fakeRunner{reply: map[string]string{"image": tt.out}}
		got, err := newTestDocker(t, f).ImageLabels(context.Background(), "x")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ImageLabels(%q) = %v, want %v", tt.out, got, tt.want)
		}
	}
}

func TestDockerCopyAndStop(t *testing.T) {
	f := &fakeRunner{}
	d := newTestDocker(t, f)
	ctx := context.Background()

	if err := d.CopyToContainer(ctx, "c1", "/", strings.NewReader("tar-bytes")); err != nil {
		t.Fatal(err)
	}
	if err := d.StopContainer(ctx, "c1", 30*time.Second); err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"cp", "-", "c1:/"},
		{"stop", "-t", "30", "c1"},
	}
	if !reflect.DeepEqual(f.calls, want) {
		t.Errorf("calls = %q, want %q", f.calls, want)
	}
	if len(f.stdin) != 1 || f.stdin[0] != "tar-bytes" {
		t.Errorf("stdin = %q", f.stdin)
	}
}

func TestDockerErrorsWrapErrEngine(t *testing.T) {
	f := &fakeRunner{failOn: "rmi"}
	err := newTestDocker(t, f).RemoveImage(context.Background(), "gone")
	if !errors.Is(err, ErrEngine) {
		t.Fatalf("err = %v, want ErrEngine", err)
	}
	if !strings.Contains(err.Error(), "no such object") {
		t.Errorf("err should carry the runner message: %v", err)
	}
}

func TestDockerImageExists(t *testing.T) {
	f := &fakeRunner{reply: map[string]string{"images": "sha256:1\n"}}
	ok, err := newTestDocker(t, f).ImageExists(context.Background(), "alpine")
	if err != nil || !ok {
		t.Errorf("ImageExists() = %v, %v", ok, err)
	}

	f = &fakeRunner{}
	ok, err = newTestDocker(t, f).ImageExists(context.Background(), "alpine")
	if err != nil || ok {
		t.Errorf("ImageExists() on empty output = %v, %v", ok, err)
	}
}

func TestLineWriter(t *testing.T) {
	var lines []string
	w := &lineWriter{fn: func(l string) { lines = append(lines, l) }}

	_, _ = w.Write([]byte("one\ntw"))
	_, _ = w.Write([]byte("o\r\nthree"))
	w.Flush()

	want := []string{"one", "two", "three"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestDockerLogs(t *testing.T) {
	f := &fakeRunner{reply: map[string]string{"logs": "a\nb"}}
	var lines []string
	err := newTestDocker(t, f).Logs(context.Background(), "c1", true, func(l string) {
		lines = append(lines, l)
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(lines, []string{"a", "b"}) {
		t.Errorf("lines = %q", lines)
	}
	if !reflect.DeepEqual(f.calls[0], []string{"logs", "--follow", "c1"}) {
		t.Errorf("args = %q", f.calls[0])
	}
}
