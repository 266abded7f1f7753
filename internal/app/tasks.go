package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// Lease is a claim on a named resource such as "mirror:wheezy".
type Lease struct {
	Resource  string
	Exclusive bool
}

// Exclusive returns write leases on resources.
func Exclusive(resources ...string) []Lease {
	out := make([]Lease, 0, len(resources))
	for _, resource := range resources {
		out = append(out, Lease{Resource: resource, Exclusive: true})
	}
	return out
}

// Shared returns read leases on resources.
func Shared(resources ...string) []Lease {
	out := make([]Lease, 0, len(resources))
	for _, resource := range resources {
		out = append(out, Lease{Resource: resource})
	}
	return out
}

// AllResources is leased exclusively by operations that scan everything,
// like db cleanup. It conflicts with every other lease.
const AllResources = "*"

// TaskFunc is the body of a task. It logs through log.Ctx(ctx) and
// reports progress through ProgressFrom(ctx).
type TaskFunc func(ctx context.Context) (any, error)

type taskEntry struct {
	task   types.Task
	leases []Lease
	output *syncBuffer
	result any
	cancel context.CancelFunc
	done   chan struct{}
	prog   *Progress
}

// TaskRunner runs operations in the background while holding resource
// leases. A submission that cannot obtain every lease at once fails with
// Conflict instead of waiting.
type TaskRunner struct {
	mu     sync.Mutex
	nextID int
	tasks  map[int]*taskEntry
	shared map[string]int
	owned  map[string]bool

	// Echo receives a copy of every task log line when set.
	Echo    io.Writer
	Timeout time.Duration
	clock   func() time.Time
}

func NewTaskRunner() *TaskRunner {
	return &TaskRunner{
		nextID: 1,
		tasks:  map[int]*taskEntry{},
		shared: map[string]int{},
		owned:  map[string]bool{},
		clock:  time.Now,
	}
}

func (r *TaskRunner) conflicts(lease Lease) bool {
	if r.owned[AllResources] {
		return true
	}
	if lease.Resource == AllResources {
		return len(r.owned) > 0 || len(r.shared) > 0
	}
	if r.owned[lease.Resource] {
		return true
	}
	return lease.Exclusive && r.shared[lease.Resource] > 0
}

func (r *TaskRunner) acquire(leases []Lease) error {
	for _, lease := range leases {
		if r.conflicts(lease) {
			return errbuilder.New().
				WithCode(shared.CodeConflict).
				WithMsg("unable to start task: resource " + lease.Resource + " is in use")
		}
	}
	for _, lease := range leases {
		if lease.Exclusive {
			r.owned[lease.Resource] = true
		} else {
			r.shared[lease.Resource]++
		}
	}
	return nil
}

func (r *TaskRunner) release(leases []Lease) {
	for _, lease := range leases {
		if lease.Exclusive {
			delete(r.owned, lease.Resource)
			continue
		}
		r.shared[lease.Resource]--
		if r.shared[lease.Resource] <= 0 {
			delete(r.shared, lease.Resource)
		}
	}
}

// Run submits fn. The returned task is already running.
func (r *TaskRunner) Run(name string, leases []Lease, fn TaskFunc) (types.Task, error) {
	r.mu.Lock()
	if err := r.acquire(leases); err != nil {
		r.mu.Unlock()
		return types.Task{}, err
	}
	id := r.nextID
	r.nextID++

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if r.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), r.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	resources := make([]string, 0, len(leases))
	for _, lease := range leases {
		resources = append(resources, lease.Resource)
	}
	entry := &taskEntry{
		task: types.Task{
			ID:        id,
			Name:      name,
			State:     types.TaskQueued,
			Resources: resources,
			CreatedAt: r.clock(),
		},
		leases: leases,
		output: &syncBuffer{},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	entry.prog = &Progress{onChange: func(p types.TaskProgress) {
		r.mu.Lock()
		entry.task.Progress = p
		r.mu.Unlock()
	}}
	r.tasks[id] = entry
	entry.task.State = types.TaskRunning
	snapshot := entry.task
	r.mu.Unlock()

	go r.execute(ctx, entry, fn)
	return snapshot, nil
}

func (r *TaskRunner) execute(ctx context.Context, entry *taskEntry, fn TaskFunc) {
	defer close(entry.done)
	defer entry.cancel()

	var writer io.Writer = zerolog.ConsoleWriter{Out: entry.output, NoColor: true, TimeFormat: time.RFC3339}
	if r.Echo != nil {
		writer = zerolog.MultiLevelWriter(writer, r.Echo)
	}
	logger := zerolog.New(writer).With().Timestamp().Int("task", entry.task.ID).Logger()
	ctx = logger.WithContext(ctx)
	ctx = WithProgress(ctx, entry.prog)
	ctx = withHeld(ctx, entry.leases)

	result, err := runGuarded(ctx, fn)

	r.mu.Lock()
	defer r.mu.Unlock()
	entry.result = result
	entry.task.FinishedAt = r.clock()
	if err != nil {
		entry.task.State = types.TaskFailed
		entry.task.Error = shared.Message(err)
		logger.Error().Msg(shared.Message(err))
	} else {
		entry.task.State = types.TaskSucceeded
	}
	r.release(entry.leases)
}

func runGuarded(ctx context.Context, fn TaskFunc) (result any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = shared.Internal("task panicked", fmt.Errorf("%v", recovered))
		}
	}()
	return fn(ctx)
}

// RunSync runs fn in the foreground under the same leases, for callers
// that do not need a task record. Leases already held by the calling task
// are not acquired again.
func (r *TaskRunner) RunSync(ctx context.Context, leases []Lease, fn func(ctx context.Context) error) error {
	leases = missingLeases(ctx, leases)
	r.mu.Lock()
	if err := r.acquire(leases); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.release(leases)
		r.mu.Unlock()
	}()
	return fn(withHeld(ctx, leases))
}

type heldKey struct{}

// withHeld records leases owned by the current call chain.
func withHeld(ctx context.Context, leases []Lease) context.Context {
	if len(leases) == 0 {
		return ctx
	}
	held := map[string]bool{}
	if parent, ok := ctx.Value(heldKey{}).(map[string]bool); ok {
		for resource, exclusive := range parent {
			held[resource] = exclusive
		}
	}
	for _, lease := range leases {
		held[lease.Resource] = held[lease.Resource] || lease.Exclusive
	}
	return context.WithValue(ctx, heldKey{}, held)
}

func missingLeases(ctx context.Context, leases []Lease) []Lease {
	held, ok := ctx.Value(heldKey{}).(map[string]bool)
	if !ok {
		return leases
	}
	if held[AllResources] {
		return nil
	}
	var out []Lease
	for _, lease := range leases {
		exclusive, found := held[lease.Resource]
		if found && (exclusive || !lease.Exclusive) {
			continue
		}
		out = append(out, lease)
	}
	return out
}

func (r *TaskRunner) entry(id int) (*taskEntry, error) {
	entry, ok := r.tasks[id]
	if !ok {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("task with id %d not found", id))
	}
	return entry, nil
}

func (r *TaskRunner) Get(id int) (types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.entry(id)
	if err != nil {
		return types.Task{}, err
	}
	return entry.task, nil
}

// Result returns the value produced by a finished task.
func (r *TaskRunner) Result(id int) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	return entry.result, nil
}

func (r *TaskRunner) List() []types.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Task, 0, len(r.tasks))
	for _, entry := range r.tasks {
		out = append(out, entry.task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *TaskRunner) Output(id int) (string, error) {
	r.mu.Lock()
	entry, err := r.entry(id)
	r.mu.Unlock()
	if err != nil {
		return "", err
	}
	return entry.output.String(), nil
}

// Wait blocks until the task finishes or ctx is done.
func (r *TaskRunner) Wait(ctx context.Context, id int) (types.Task, error) {
	r.mu.Lock()
	entry, err := r.entry(id)
	r.mu.Unlock()
	if err != nil {
		return types.Task{}, err
	}
	select {
	case <-entry.done:
	case <-ctx.Done():
		return types.Task{}, shared.Unavailable("wait for task interrupted", ctx.Err())
	}
	return r.Get(id)
}

// Cancel asks a running task to stop.
func (r *TaskRunner) Cancel(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.entry(id)
	if err != nil {
		return err
	}
	entry.cancel()
	return nil
}

// Delete forgets a finished task.
func (r *TaskRunner) Delete(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, err := r.entry(id)
	if err != nil {
		return err
	}
	if entry.task.State == types.TaskRunning || entry.task.State == types.TaskQueued {
		return errbuilder.New().
			WithCode(shared.CodeConflict).
			WithMsg(fmt.Sprintf("task %d is still running", id))
	}
	delete(r.tasks, id)
	return nil
}

// Clear forgets every finished task.
func (r *TaskRunner) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.tasks {
		if entry.task.State == types.TaskSucceeded || entry.task.State == types.TaskFailed {
			delete(r.tasks, id)
		}
	}
}

// Shutdown cancels every running task and waits for them to finish.
func (r *TaskRunner) Shutdown(ctx context.Context) {
	r.mu.Lock()
	var pending []*taskEntry
	for _, entry := range r.tasks {
		entry.cancel()
		pending = append(pending, entry)
	}
	r.mu.Unlock()
	for _, entry := range pending {
		select {
		case <-entry.done:
		case <-ctx.Done():
			log.Warn().Msg("shutdown deadline reached with tasks still running")
			return
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Progress reports {stage, current, total} of a running operation. A nil
// Progress ignores every call.
type Progress struct {
	mu       sync.Mutex
	state    types.TaskProgress
	onChange func(types.TaskProgress)
}

type progressKey struct{}

// WithProgress attaches p to ctx.
func WithProgress(ctx context.Context, p *Progress) context.Context {
	return context.WithValue(ctx, progressKey{}, p)
}

// ProgressFrom returns the progress attached to ctx, or nil.
func ProgressFrom(ctx context.Context) *Progress {
	p, _ := ctx.Value(progressKey{}).(*Progress)
	return p
}

// Stage starts a new stage with total steps.
func (p *Progress) Stage(stage string, total int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.state = types.TaskProgress{Stage: stage, Total: total}
	state := p.state
	p.mu.Unlock()
	p.notify(state)
}

// Add advances the current stage by n.
func (p *Progress) Add(n int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.state.Current += n
	state := p.state
	p.mu.Unlock()
	p.notify(state)
}

func (p *Progress) notify(state types.TaskProgress) {
	if p.onChange != nil {
		p.onChange(state)
	}
}

// Snapshot returns the current progress.
func (p *Progress) Snapshot() types.TaskProgress {
	if p == nil {
		return types.TaskProgress{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func resourceName(kind string, name string) string {
	return kind + ":" + strings.TrimSpace(name)
}

func RepoResource(name string) string     { return resourceName("repo", name) }
func MirrorResource(name string) string   { return resourceName("mirror", name) }
func SnapshotResource(name string) string { return resourceName("snapshot", name) }

// PublishResource covers every distribution under one prefix, since pool
// cleanup spans them.
func PublishResource(storage string, prefix string) string {
	return resourceName("publish", storage+":"+prefix)
}
