// Package build turns a parsed configuration into image builds, test runs
// and deployments against a container engine and a compose project.
package build

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/damoti/shipmaster/src/compose"
	"github.com/damoti/shipmaster/src/config"
	"github.com/damoti/shipmaster/src/plugin"
	"github.com/damoti/shipmaster/src/script"
)

// Policy decides how declared base images relate to the images built
// from them.
type Policy string

const (
	// PolicyNone assumes declared parents are built; nothing is checked.
	PolicyNone Policy = "none"
	// PolicyValidate rejects configurations where a parent is not built
	// before its children in (stage, declaration) order.
	PolicyValidate Policy = "validate"
	// PolicyTrigger builds missing parents on demand.
	PolicyTrigger Policy = "trigger"
)

// ParsePolicy maps a policy name to a Policy; empty means PolicyNone.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case "":
		return PolicyNone, nil
	case PolicyNone, PolicyValidate, PolicyTrigger:
		return p, nil
	}
	return "", fmt.Errorf("build: unknown dependency policy %q (supported: none, validate, trigger)", s)
}

// Options configures a Builder.
type Options struct {
	BuildNum   string
	JobNum     string
	CommitInfo map[string]string

	Policy Policy
	// Rebuild makes the trigger policy rebuild parents that already exist.
	Rebuild bool
	// Parallel bounds how many images of one stage run at once.
	Parallel int

	Trace         bool
	Compression   script.Compression
	ReportsDir    string
	DeployService string

	PrepareTimeout time.Duration
	LogWindow      time.Duration

	Plugins  []plugin.Constructor
	Settings plugin.Settings
	Logger   *log.Logger
	Now      func() time.Time
}

type stage struct {
	name   string
	images []*ImageBuilder
}

// Builder owns the image builders of one build run, grouped by stage,
// along with the plugin registry and the engine they share.
type Builder struct {
	cfg     *config.Config
	opts    Options
	engine  ContainerEngine
	orch    Orchestrator
	plugins *plugin.Registry
	logger  *log.Logger

	stages []stage
	byName map[string]*ImageBuilder

	running keyedMutex // one build per image name
	commits keyedMutex // one commit per repository:tag

	builtMu sync.Mutex
	built   map[string]bool
}

// New creates the builder and instantiates plugins. The configuration is
// checked according to the dependency policy.
func New(cfg *config.Config, eng ContainerEngine, orch Orchestrator, opts Options) (*Builder, error) {
	if opts.BuildNum == "" {
		opts.BuildNum = "0"
	}
	if opts.JobNum == "" {
		opts.JobNum = "0"
	}
	if opts.Policy == "" {
		opts.Policy = PolicyNone
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	if opts.Compression == "" {
		opts.Compression = script.Uncompressed
	}
	if opts.PrepareTimeout <= 0 {
		opts.PrepareTimeout = defaultPrepareTimeout
	}
	if opts.LogWindow <= 0 {
		opts.LogWindow = defaultLogWindow
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := cfg.Check(); err != nil {
		return nil, err
	}
	switch opts.Policy {
	case PolicyValidate:
		if err := cfg.CheckOrder(); err != nil {
			return nil, err
		}
	case PolicyTrigger:
		if err := cfg.CheckCycles(); err != nil {
			return nil, err
		}
	}

	plugins, err := plugin.NewRegistry(plugin.Host{
		Project:  cfg,
		BuildNum: opts.BuildNum,
		Settings: opts.Settings,
		Logger:   opts.Logger,
	}, opts.Plugins...)
	if err != nil {
		return nil, err
	}

	b := &Builder{
		cfg:     cfg,
		opts:    opts,
		engine:  eng,
		orch:    orch,
		plugins: plugins,
		logger:  opts.Logger,
		byName:  map[string]*ImageBuilder{},
		built:   map[string]bool{},
	}
	for _, name := range cfg.Stages {
		st := stage{name: name}
		for _, img := range cfg.StageImages(name) {
			ib := newImageBuilder(b, img)
			st.images = append(st.images, ib)
			b.byName[img.Name] = ib
		}
		b.stages = append(b.stages, st)
	}
	return b, nil
}

// Close releases the plugins of this run.
func (b *Builder) Close() error { return b.plugins.Close() }

// Config returns the configuration being built.
func (b *Builder) Config() *config.Config { return b.cfg }

// Plugins returns the plugin registry of this run.
func (b *Builder) Plugins() *plugin.Registry { return b.plugins }

// Stages returns the stage names in order.
func (b *Builder) Stages() []string {
	names := make([]string, len(b.stages))
	for i, st := range b.stages {
		names[i] = st.name
	}
	return names
}

// Stage returns the image builders of a stage in declaration order.
func (b *Builder) Stage(name string) []*ImageBuilder {
	for _, st := range b.stages {
		if st.name == name {
			return st.images
		}
	}
	return nil
}

// ImageBuilders returns every image builder in (stage, declaration) order.
func (b *Builder) ImageBuilders() []*ImageBuilder {
	var out []*ImageBuilder
	for _, st := range b.stages {
		out = append(out, st.images...)
	}
	return out
}

// Lookup returns the image builder of a declared image.
func (b *Builder) Lookup(name string) (*ImageBuilder, bool) {
	ib, ok := b.byName[name]
	return ib, ok
}

// TestTag is the tag suffix of test runs, <build>b<job>t.
func (b *Builder) TestTag() string { return testTag(b.opts.BuildNum, b.opts.JobNum) }

// TestProject is the compose project test runs use.
func (b *Builder) TestProject() string {
	return compose.ProjectName(b.cfg.Name + b.TestTag())
}

// DeployProject is the compose project deployments go to.
func (b *Builder) DeployProject() string { return compose.ProjectName(b.cfg.Name) }

// DeployService returns the compose service an image is deployed as.
func (b *Builder) DeployService(image string) string {
	if b.opts.DeployService != "" {
		return b.opts.DeployService
	}
	return image
}

// Execute runs modes for the named images, or for every image when no
// names are given.
func (b *Builder) Execute(ctx context.Context, names []string, modes ...plugin.Mode) (*Result, error) {
	if len(names) == 0 {
		return b.BuildAll(ctx, modes...)
	}

	ibs := make([]*ImageBuilder, 0, len(names))
	for _, name := range names {
		ib, ok := b.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownImage, name)
		}
		ibs = append(ibs, ib)
	}

	start := b.now()
	var errs []error
	var phases []PhaseResult
	for _, ib := range ibs {
		if err := b.execute(ctx, ib, modes); err != nil {
			errs = append(errs, err)
		}
		phases = append(phases, ib.Results()...)
	}
	return &Result{Phases: phases, Duration: b.now().Sub(start)}, errors.Join(errs...)
}

// BuildAll runs modes for every image. Stages run one after another and
// a stage with failures stops the run. Within a stage, up to
// Options.Parallel images run at once; one failing image does not stop
// the others. An image built from another image of the same stage waits
// for it, and is not run when its parent fails.
func (b *Builder) BuildAll(ctx context.Context, modes ...plugin.Mode) (*Result, error) {
	start := b.now()
	var errs []error

	for _, st := range b.stages {
		var mu sync.Mutex
		var stageErrs []error
		fail := func(err error) {
			mu.Lock()
			stageErrs = append(stageErrs, err)
			mu.Unlock()
		}

		order, parents := stageOrder(st.images)
		if !hasMode(modes, plugin.Build) {
			parents = nil
		}
		runs := make(map[string]*stageRun, len(order))
		for _, ib := range order {
			runs[ib.Name()] = &stageRun{done: make(chan struct{})}
		}

		g := new(errgroup.Group)
		g.SetLimit(b.opts.Parallel)
		for _, ib := range order {
			run := runs[ib.Name()]
			g.Go(func() error {
				defer close(run.done)
				if parent, ok := parents[ib.Name()]; ok {
					pr := runs[parent]
					<-pr.done
					if pr.err != nil {
						run.err = fmt.Errorf("%s: %w: parent image %s failed", ib.Name(), ErrBuildFailed, parent)
						b.logger.Error("skipping image", "image", ib.Name(), "parent", parent)
						fail(run.err)
						return nil
					}
				}
				if err := b.execute(ctx, ib, modes); err != nil {
					run.err = err
					fail(err)
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(stageErrs) > 0 {
			errs = append(errs, stageErrs...)
			b.logger.Error("stage failed", "stage", st.name, "failures", len(stageErrs))
			break
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
	}

	res := &Result{Duration: b.now().Sub(start)}
	for _, ib := range b.ImageBuilders() {
		res.Phases = append(res.Phases, ib.Results()...)
	}
	return res, errors.Join(errs...)
}

// stageRun is closed once an image of the running stage is done; err is
// set before that.
type stageRun struct {
	done chan struct{}
	err  error
}

// stageOrder sorts the images of one stage so that parents declared in
// the same stage come before their children, keeping declaration order
// otherwise. It also returns, per child, the parent it has to wait for.
// Edges closing a cycle are ignored.
func stageOrder(images []*ImageBuilder) ([]*ImageBuilder, map[string]string) {
	index := make(map[string]*ImageBuilder, len(images))
	for _, ib := range images {
		index[ib.Name()] = ib
	}

	const (
		visiting = 1
		visited  = 2
	)
	state := map[string]int{}
	order := make([]*ImageBuilder, 0, len(images))
	parents := map[string]string{}

	var visit func(ib *ImageBuilder)
	visit = func(ib *ImageBuilder) {
		state[ib.Name()] = visiting
		if from := ib.cfg.From; from.Kind == config.Declared {
			if p, ok := index[from.Name]; ok && p != ib {
				if state[p.Name()] == 0 {
					visit(p)
				}
				if state[p.Name()] == visited {
					parents[ib.Name()] = p.Name()
				}
			}
		}
		state[ib.Name()] = visited
		order = append(order, ib)
	}
	for _, ib := range images {
		if state[ib.Name()] == 0 {
			visit(ib)
		}
	}
	return order, parents
}

// hasMode reports whether modes selects m; no modes selects all.
func hasMode(modes []plugin.Mode, m plugin.Mode) bool {
	return len(modes) == 0 || slices.Contains(modes, m)
}

// execute runs modes for one image while holding its name lock. A build
// already done in this run, e.g. triggered by a child, is not repeated.
func (b *Builder) execute(ctx context.Context, ib *ImageBuilder, modes []plugin.Mode) error {
	unlock := b.running.Lock(ib.Name())
	defer unlock()

	if len(modes) == 0 {
		modes = plugin.Modes()
	}
	if b.isBuilt(ib.Name()) {
		modes = without(modes, plugin.Build)
		if len(modes) == 0 {
			return nil
		}
	}
	return ib.Execute(ctx, modes...)
}

// ensureBuilt builds a declared image unless it was built in this run or,
// without Rebuild, already exists in the engine. Its own parents are
// handled the same way by its build.
func (b *Builder) ensureBuilt(ctx context.Context, name string) error {
	ib, ok := b.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownImage, name)
	}

	unlock := b.running.Lock(name)
	defer unlock()

	if b.isBuilt(name) {
		return nil
	}
	if !b.opts.Rebuild {
		ok, err := b.engine.ImageExists(ctx, ib.ImageName())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	b.logger.Info("building parent", "image", name)
	return ib.Execute(ctx, plugin.Build)
}

func (b *Builder) markBuilt(name string) {
	b.builtMu.Lock()
	defer b.builtMu.Unlock()
	b.built[name] = true
}

func (b *Builder) isBuilt(name string) bool {
	b.builtMu.Lock()
	defer b.builtMu.Unlock()
	return b.built[name]
}

func (b *Builder) now() time.Time { return b.opts.Now() }

func (b *Builder) newID() string { return uuid.NewString()[:8] }

func without(modes []plugin.Mode, m plugin.Mode) []plugin.Mode {
	out := make([]plugin.Mode, 0, len(modes))
	for _, x := range modes {
		if x != m {
			out = append(out, x)
		}
	}
	return out
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock locks key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*sync.Mutex{}
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
