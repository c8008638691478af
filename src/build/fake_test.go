package build

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/damoti/shipmaster/src/compose"
	"github.com/damoti/shipmaster/src/config"
	"github.com/damoti/shipmaster/src/engine"
	"github.com/damoti/shipmaster/src/plugin"
)

// fakeEngine records every call and simulates containers in memory.
type fakeEngine struct {
	mu sync.Mutex

	calls   []string
	specs   map[string]engine.ContainerSpec
	files   map[string]map[string]string // container → archived name → content
	commits []engine.CommitSpec
	nextID  int

	images map[string]bool
	labels map[string]string
	states map[string]engine.ContainerState
	lines  []string

	// exit codes by substring of the container command, then by image
	exitCmd   map[string]int
	exitImage map[string]int

	failOn    string // call kind that fails
	blockLogs map[string]bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		specs:     map[string]engine.ContainerSpec{},
		files:     map[string]map[string]string{},
		images:    map[string]bool{},
		states:    map[string]engine.ContainerState{},
		exitCmd:   map[string]int{},
		exitImage: map[string]int{},
		blockLogs: map[string]bool{},
	}
}

func (e *fakeEngine) record(kind string, args ...string) error {
	e.calls = append(e.calls, strings.TrimSpace(kind+" "+strings.Join(args, " ")))
	if kind == e.failOn {
		return fmt.Errorf("%w: %s refused", engine.ErrEngine, kind)
	}
	return nil
}

func (e *fakeEngine) ImageExists(_ context.Context, ref string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.images[ref], e.record("exists", ref)
}

func (e *fakeEngine) PullImage(_ context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.images[ref] = true
	return e.record("pull", ref)
}

func (e *fakeEngine) RemoveImage(_ context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.images, ref)
	return e.record("rmi", ref)
}

func (e *fakeEngine) TagImage(_ context.Context, src, dst string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.images[dst] = true
	return e.record("tag", src, dst)
}

func (e *fakeEngine) ImageLabels(_ context.Context, ref string) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.labels, e.record("labels", ref)
}

func (e *fakeEngine) CreateContainer(_ context.Context, spec engine.ContainerSpec) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("create", spec.Image); err != nil {
		return "", err
	}
	e.nextID++
	id := fmt.Sprintf("c%d", e.nextID)
	e.specs[id] = spec
	return id, nil
}

func (e *fakeEngine) CopyToContainer(_ context.Context, id, _ string, r io.Reader) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("cp", id); err != nil {
		return err
	}
	files := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		b, _ := io.ReadAll(tr)
		files[hdr.Name] = string(b)
	}
	e.files[id] = files
	return nil
}

func (e *fakeEngine) StartContainer(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record("start", id)
}

func (e *fakeEngine) Logs(ctx context.Context, id string, _ bool, fn func(string)) error {
	e.mu.Lock()
	err := e.record("logs", id)
	lines, block := e.lines, e.blockLogs[id]
	e.mu.Unlock()
	if err != nil {
		return err
	}
	for _, l := range lines {
		fn(l)
	}
	if block {
		<-ctx.Done()
		return fmt.Errorf("%w: logs: %w", engine.ErrEngine, ctx.Err())
	}
	return nil
}

func (e *fakeEngine) WaitContainer(_ context.Context, id string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("wait", id); err != nil {
		return -1, err
	}
	spec := e.specs[id]
	for sub, code := range e.exitCmd {
		if strings.Contains(strings.Join(spec.Cmd, " "), sub) {
			return code, nil
		}
	}
	return e.exitImage[spec.Image], nil
}

func (e *fakeEngine) CommitContainer(_ context.Context, id string, spec engine.CommitSpec) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("commit", id, spec.Ref()); err != nil {
		return "", err
	}
	e.commits = append(e.commits, spec)
	e.images[spec.Ref()] = true
	return fmt.Sprintf("sha256:%d", len(e.commits)), nil
}

func (e *fakeEngine) StopContainer(_ context.Context, id string, timeout time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record("stop", id, timeout.String())
}

func (e *fakeEngine) RemoveContainer(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record("rm", id)
}

func (e *fakeEngine) InspectContainer(_ context.Context, id string) (engine.ContainerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[id], e.record("inspect", id)
}

// count returns how many recorded calls match call exactly, or are of the
// kind call names when it has no arguments ("rm" does not count "rmi").
func (e *fakeEngine) count(call string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if k, _, _ := strings.Cut(c, " "); c == call || k == call {
			n++
		}
	}
	return n
}

// fakeOrch records compose calls.
type fakeOrch struct {
	mu         sync.Mutex
	calls      []string
	services   map[string]*compose.Service
	containers map[string][]string
	started    map[string][]string // containers a service gets once started
}

func newFakeOrch() *fakeOrch {
	return &fakeOrch{
		services:   map[string]*compose.Service{},
		containers: map[string][]string{},
		started:    map[string][]string{},
	}
}

func (o *fakeOrch) Service(_ context.Context, project, name string) (*compose.Service, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "service "+project+" "+name)
	svc, ok := o.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", compose.ErrNoService, name)
	}
	return svc, nil
}

func (o *fakeOrch) Up(_ context.Context, project string, services ...string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "up "+project+" "+strings.Join(services, " "))
	return nil
}

func (o *fakeOrch) Down(_ context.Context, project string, volumes bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, fmt.Sprintf("down %s %t", project, volumes))
	return nil
}

func (o *fakeOrch) Containers(_ context.Context, project, service string) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "ps "+project+" "+service)
	return o.containers[service], nil
}

func (o *fakeOrch) StartService(_ context.Context, project, service string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, "start "+project+" "+service)
	o.containers[service] = o.started[service]
	return nil
}

func (o *fakeOrch) called(call string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.calls {
		if c == call {
			return true
		}
	}
	return false
}

// eventLog is a plugin recording every notification.
type eventLog struct {
	plugin.Base
	mu     sync.Mutex
	events []string
	extras map[string]string
	failOn string
}

func (l *eventLog) Name() string { return "eventlog" }

func (l *eventLog) add(ev plugin.Event, t plugin.Target, extra string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev.Action == plugin.Output {
		return nil
	}
	l.events = append(l.events, t.Name()+":"+ev.String())
	if l.extras == nil {
		l.extras = map[string]string{}
	}
	l.extras[t.Name()+":"+ev.String()] = extra
	if ev.String() == l.failOn {
		return errors.New("hook refused")
	}
	return nil
}

func (l *eventLog) OnBefore(_ context.Context, ev plugin.Event, t plugin.Target, x string) error {
	return l.add(ev, t, x)
}
func (l *eventLog) OnAfter(_ context.Context, ev plugin.Event, t plugin.Target, x string) error {
	return l.add(ev, t, x)
}
func (l *eventLog) OnFailed(_ context.Context, ev plugin.Event, t plugin.Target, x string) error {
	return l.add(ev, t, x)
}
func (l *eventLog) OnCleanup(_ context.Context, ev plugin.Event, t plugin.Target, x string) error {
	return l.add(ev, t, x)
}

func (l *eventLog) count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == event {
			n++
		}
	}
	return n
}

func newTestBuilder(t *testing.T, yml string, eng *fakeEngine, orch *fakeOrch, opts Options, plugins ...plugin.Plugin) *Builder {
	t.Helper()
	cfg, err := config.Parse([]byte(yml), t.TempDir())
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	for _, p := range plugins {
		opts.Plugins = append(opts.Plugins, func(plugin.Host) (plugin.Plugin, error) { return p, nil })
	}
	if opts.BuildNum == "" {
		opts.BuildNum = "1"
	}
	opts.Logger = log.New(io.Discard)
	opts.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	b, err := New(cfg, eng, orch, opts)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return b
}

func mustLookup(t *testing.T, b *Builder, name string) *ImageBuilder {
	t.Helper()
	ib, ok := b.Lookup(name)
	if !ok {
		t.Fatalf("no image builder for %q", name)
	}
	return ib
}
