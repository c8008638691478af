package build

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/damoti/shipmaster/src/config"
	"github.com/damoti/shipmaster/src/plugin"
)

func names(ibs []*ImageBuilder) []string {
	out := make([]string, len(ibs))
	for i, ib := range ibs {
		out[i] = ib.Name()
	}
	return out
}

func TestBuilderOrder(t *testing.T) {
	const yml = `
name: proj
stages: [build, deploy]
images:
  web:
    stage: deploy
    from: app
  app:
    stage: build
    from: busybox:latest
  test:
    stage: build
    from: app
`
	b := newTestBuilder(t, yml, newFakeEngine(), newFakeOrch(), Options{})

	if got := names(b.ImageBuilders()); !reflect.DeepEqual(got, []string{"app", "test", "web"}) {
		t.Errorf("ImageBuilders() = %v", got)
	}
	if got := names(b.Stage("build")); !reflect.DeepEqual(got, []string{"app", "test"}) {
		t.Errorf("Stage(build) = %v", got)
	}
	if got := b.Stages(); !reflect.DeepEqual(got, []string{"build", "deploy"}) {
		t.Errorf("Stages() = %v", got)
	}

	test := mustLookup(t, b, "test")
	if test.FromImage() != "proj/app:b1" {
		t.Errorf("FromImage() = %q", test.FromImage())
	}
	if test.ImageName() != "proj/test:b1" {
		t.Errorf("ImageName() = %q", test.ImageName())
	}
	if _, ok := b.Lookup("nope"); ok {
		t.Error("Lookup(nope) should fail")
	}
}

func TestBuilderEnvironmentMerge(t *testing.T) {
	const yml = `
name: proj
environment:
  A: project
  B: project
images:
  app:
    stage: build
    from: busybox
    environment:
      B: image
`
	b := newTestBuilder(t, yml, newFakeEngine(), newFakeOrch(), Options{})
	env := mustLookup(t, b, "app").Environment()
	if env["A"] != "project" || env["B"] != "image" {
		t.Errorf("Environment() = %v", env)
	}
}

func TestBuilderNames(t *testing.T) {
	b := newTestBuilder(t, helloConfig, newFakeEngine(), newFakeOrch(), Options{
		BuildNum:      "12",
		JobNum:        "3",
		DeployService: "frontend",
	})
	if b.TestTag() != "12b3t" || b.TestProject() != "proj12b3t" {
		t.Errorf("TestTag() = %q, TestProject() = %q", b.TestTag(), b.TestProject())
	}
	if b.DeployProject() != "proj" || b.DeployService("app") != "frontend" {
		t.Errorf("DeployProject() = %q, DeployService() = %q", b.DeployProject(), b.DeployService("app"))
	}
}

const orderConfig = `
name: proj
stages: [base, app]
images:
  child:
    stage: base
    from: parent
    build: make child
  parent:
    stage: app
    from: alpine
    build: make parent
`

func TestPolicyValidate(t *testing.T) {
	cfg, err := config.Parse([]byte(orderConfig), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = New(cfg, newFakeEngine(), newFakeOrch(), Options{Policy: PolicyValidate})
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("New(validate) = %v, want ErrInvalid", err)
	}
	if _, err := New(cfg, newFakeEngine(), newFakeOrch(), Options{Policy: PolicyNone}); err != nil {
		t.Errorf("New(none) = %v", err)
	}
}

func TestPolicyTrigger(t *testing.T) {
	const yml = `
name: proj
stages: [base, app]
images:
  parent:
    stage: base
    from: alpine
    build: make parent
  child:
    stage: app
    from: parent
    build: make child
`
	tests := []struct {
		name    string
		exists  bool
		rebuild bool
		want    []string
	}{
		{"missing parent is built", false, false, []string{"proj/parent:b1", "proj/child:b1"}},
		{"existing parent is reused", true, false, []string{"proj/child:b1"}},
		{"rebuild forces parent", true, true, []string{"proj/parent:b1", "proj/child:b1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			eng.images["alpine"] = true
			eng.images["proj/parent:b1"] = tt.exists
			b := newTestBuilder(t, yml, eng, newFakeOrch(), Options{Policy: PolicyTrigger, Rebuild: tt.rebuild})

			if _, err := b.Execute(context.Background(), []string{"child"}, plugin.Build); err != nil {
				t.Fatalf("Execute() error: %v", err)
			}
			var got []string
			for _, c := range eng.commits {
				got = append(got, c.Ref())
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("commits = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicyTriggerRejectsCycles(t *testing.T) {
	const yml = `
name: proj
images:
  a:
    stage: build
    from: b
  b:
    stage: build
    from: a
`
	cfg, err := config.Parse([]byte(yml), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(cfg, newFakeEngine(), newFakeOrch(), Options{Policy: PolicyTrigger}); err == nil {
		t.Error("expected cycle error")
	}
}

func TestBuildAllBuildsEachImageOnce(t *testing.T) {
	const yml = `
name: proj
stages: [base, app]
images:
  parent:
    stage: base
    from: alpine
    build: make
  child:
    stage: app
    from: parent
    build: make
`
	eng := newFakeEngine()
	eng.images["alpine"] = true
	b := newTestBuilder(t, yml, eng, newFakeOrch(), Options{Policy: PolicyTrigger})

	res, err := b.BuildAll(context.Background(), plugin.Build)
	if err != nil {
		t.Fatal(err)
	}
	if len(eng.commits) != 2 || len(res.Phases) != 2 {
		t.Errorf("commits = %v, phases = %+v", eng.commits, res.Phases)
	}
}

func TestBuildAllParallel(t *testing.T) {
	const yml = `
name: proj
stages: [one, two]
images:
  a:
    stage: one
    from: busybox
    build: make
  b:
    stage: one
    from: broken
    build: make
  c:
    stage: one
    from: busybox
    build: make
  d:
    stage: two
    from: a
    build: make
`
	tests := []struct {
		name     string
		brokenRC int
		commits  int
		failed   []string
	}{
		{"all pass", 0, 4, nil},
		{"failure stops later stages", 1, 2, []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			eng.images["busybox"] = true
			eng.images["broken"] = true
			eng.exitImage["broken"] = tt.brokenRC
			b := newTestBuilder(t, yml, eng, newFakeOrch(), Options{Parallel: 3})

			res, err := b.BuildAll(context.Background(), plugin.Build)

			if len(eng.commits) != tt.commits {
				t.Errorf("commits = %d, want %d", len(eng.commits), tt.commits)
			}
			var failed []string
			for _, p := range res.Failed() {
				failed = append(failed, p.Image)
			}
			if !reflect.DeepEqual(failed, tt.failed) {
				t.Errorf("failed = %v, want %v", failed, tt.failed)
			}
			if (err != nil) != (tt.failed != nil) {
				t.Errorf("err = %v", err)
			}
			if err != nil && !errors.Is(err, ErrBuildFailed) {
				t.Errorf("err = %v, want ErrBuildFailed", err)
			}
		})
	}
}

// slowBuild delays the build of one image.
type slowBuild struct {
	plugin.Base
	image string
	delay time.Duration
}

func (s *slowBuild) Name() string { return "slow" }

func (s *slowBuild) OnBefore(_ context.Context, ev plugin.Event, t plugin.Target, _ string) error {
	if t.Name() == s.image && ev.Mode == plugin.Build && ev.Action == plugin.NoAction {
		time.Sleep(s.delay)
	}
	return nil
}

func callIndex(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

func TestBuildAllSameStageParent(t *testing.T) {
	tests := []struct {
		name   string
		yml    string
		policy Policy
	}{
		{"parent declared first", `
name: proj
images:
  app:
    stage: build
    from: busybox
    build: make app
  test:
    stage: build
    from: app
    build: make test
`, PolicyValidate},
		{"parent declared last", `
name: proj
images:
  test:
    stage: build
    from: app
    build: make test
  app:
    stage: build
    from: busybox
    build: make app
`, PolicyNone},
	}
	for _, tt := range tests {
		for _, parallel := range []int{1, 2} {
			t.Run(fmt.Sprintf("%s/parallel=%d", tt.name, parallel), func(t *testing.T) {
				eng := newFakeEngine()
				eng.images["busybox"] = true
				b := newTestBuilder(t, tt.yml, eng, newFakeOrch(),
					Options{Parallel: parallel, Policy: tt.policy},
					&slowBuild{image: "app", delay: 30 * time.Millisecond})

				if _, err := b.BuildAll(context.Background(), plugin.Build); err != nil {
					t.Fatalf("BuildAll() error: %v", err)
				}

				eng.mu.Lock()
				defer eng.mu.Unlock()
				committed := -1
				for i, c := range eng.calls {
					if strings.HasPrefix(c, "commit ") && strings.HasSuffix(c, " proj/app:b1") {
						committed = i
					}
				}
				created := callIndex(eng.calls, "create proj/app:b1")
				if committed < 0 || created < committed {
					t.Errorf("child created from proj/app:b1 at call %d, parent committed at %d: %v", created, committed, eng.calls)
				}
			})
		}
	}
}

func TestBuildAllSkipsChildOfFailedParent(t *testing.T) {
	const yml = `
name: proj
images:
  app:
    stage: build
    from: busybox
    build: make app
  test:
    stage: build
    from: app
    build: make test
`
	eng := newFakeEngine()
	eng.images["busybox"] = true
	eng.exitImage["busybox"] = 1
	b := newTestBuilder(t, yml, eng, newFakeOrch(), Options{Parallel: 2})

	_, err := b.BuildAll(context.Background(), plugin.Build)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("BuildAll() = %v, want ErrBuildFailed", err)
	}
	if n := eng.count("create"); n != 1 {
		t.Errorf("containers created = %d, want 1", n)
	}
	if len(eng.commits) != 0 {
		t.Errorf("commits = %v", eng.commits)
	}
}

func TestStageOrder(t *testing.T) {
	const yml = `
name: proj
images:
  c:
    stage: build
    from: b
  b:
    stage: build
    from: a
  a:
    stage: build
    from: busybox
  d:
    stage: build
    from: busybox
`
	b := newTestBuilder(t, yml, newFakeEngine(), newFakeOrch(), Options{})
	order, parents := stageOrder(b.Stage("build"))
	if got := names(order); !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
		t.Errorf("order = %v", got)
	}
	if want := map[string]string{"b": "a", "c": "b"}; !reflect.DeepEqual(parents, want) {
		t.Errorf("parents = %v, want %v", parents, want)
	}
}

func TestExecuteUnknownImageRunsNothing(t *testing.T) {
	eng := newFakeEngine()
	eng.images["busybox"] = true
	b := newTestBuilder(t, helloConfig, eng, newFakeOrch(), Options{})
	if _, err := b.Execute(context.Background(), []string{"app", "ghost"}, plugin.Build); !errors.Is(err, ErrUnknownImage) {
		t.Errorf("err = %v, want ErrUnknownImage", err)
	}
	if len(eng.calls) != 0 {
		t.Errorf("engine calls = %v, want none", eng.calls)
	}
}

func TestExecuteUnknownImage(t *testing.T) {
	b := newTestBuilder(t, helloConfig, newFakeEngine(), newFakeOrch(), Options{})
	if _, err := b.Execute(context.Background(), []string{"ghost"}, plugin.Build); !errors.Is(err, ErrUnknownImage) {
		t.Errorf("err = %v, want ErrUnknownImage", err)
	}
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock("proj/app:b1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Lock("proj/app:b1")()
	}()

	otherDone := make(chan struct{})
	go func() {
		defer close(otherDone)
		k.Lock("proj/web:b1")()
	}()
	<-otherDone

	select {
	case <-done:
		t.Fatal("second lock of the same key did not wait")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-done
}

func TestParsePolicy(t *testing.T) {
	tests := map[string]Policy{
		"":         PolicyNone,
		"none":     PolicyNone,
		"Validate": PolicyValidate,
		"trigger":  PolicyTrigger,
	}
	for in, want := range tests {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("eager"); err == nil {
		t.Error("expected error")
	}
}

func TestExpandTemplate(t *testing.T) {
	vars := map[string]string{"service": "web", "git-hash": "abc"}
	tests := map[string]string{
		"migrate {service}":      "migrate web",
		"rev={git-hash}":         "rev=abc",
		"{unknown} stays":        "{unknown} stays",
		"awk '{{print $1}}'":     "awk '{print $1}'",
		"{}":                     "{}",
		"open { brace":           "open { brace",
		"{service}{service}":     "webweb",
		"no placeholders at all": "no placeholders at all",
	}
	for in, want := range tests {
		if got := expandTemplate(in, vars); got != want {
			t.Errorf("expandTemplate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitRef(t *testing.T) {
	tests := []struct {
		ref, repo, tag string
	}{
		{"proj/app:b1", "proj/app", "b1"},
		{"localhost:5000/proj/app:b1", "localhost:5000/proj/app", "b1"},
		{"busybox", "busybox", ""},
	}
	for _, tt := range tests {
		repo, tag, err := splitRef(tt.ref)
		if err != nil || repo != tt.repo || tag != tt.tag {
			t.Errorf("splitRef(%q) = %q, %q, %v", tt.ref, repo, tag, err)
		}
	}
	if _, _, err := splitRef("proj/app:bad tag"); err == nil {
		t.Error("expected error for invalid reference")
	}
}

func TestImageName(t *testing.T) {
	if got := imageName("My Proj", "web/api", "3"); got != "myproj/web-api:b3" {
		t.Errorf("imageName() = %q", got)
	}
}

func TestCommitLabels(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got := commitLabels(map[string]string{"hash": "abc", "author": "dev"}, "9", created)
	want := map[string]string{
		"git-hash":                          "abc",
		"git-author":                        "dev",
		"shipmaster-build":                  "9",
		"org.opencontainers.image.revision": "abc",
		"org.opencontainers.image.created":  "2024-05-01T12:00:00Z",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("commitLabels() = %v, want %v", got, want)
	}
}
