// Package admin runs maintenance jobs against statement spaces: emptying a
// space and bulk importing entities. Jobs are validated up front, accepted
// immediately and completed in the background.
package admin

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/events"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/ntriples"
	"github.com/ha1tch/olu-graph/pkg/storage"
)

// ErrClosed is returned when a job is submitted after Close
var ErrClosed = errors.New("admin runner closed")

// JobStatus is the state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job kinds
const (
	KindReset  = "reset"
	KindImport = "import"
)

// Job describes one background operation
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Space       string     `json:"space"`
	Status      JobStatus  `json:"status"`
	Statements  int        `json:"statements,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Done reports whether the job reached a final state
func (j Job) Done() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// Runner executes admin jobs
type Runner struct {
	stores    map[string]storage.Store
	publisher events.Publisher
	logger    zerolog.Logger
	maxImport int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*Job
	closed bool
}

// Option configures a Runner
type Option func(*Runner)

// WithPublisher sets the event publisher
func WithPublisher(p events.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithMaxImportSize rejects import payloads larger than n bytes
func WithMaxImportSize(n int64) Option {
	return func(r *Runner) { r.maxImport = n }
}

// NewRunner creates a runner over the given statement spaces, keyed by
// their names
func NewRunner(stores []storage.Store, logger zerolog.Logger, opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		stores:    make(map[string]storage.Store, len(stores)),
		publisher: events.Discard{},
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*Job),
	}
	for _, s := range stores {
		r.stores[s.Name()] = s
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reset empties the named statement space. An empty name selects the
// entities space; names compare case-insensitively.
func (r *Runner) Reset(name string, principal auth.Principal) (Job, error) {
	if err := principal.Require(auth.System); err != nil {
		return Job{}, err
	}
	if name == "" {
		name = storage.SpaceEntities
	}
	store, ok := r.stores[strings.ToLower(name)]
	if !ok {
		return Job{}, errors.Mark(errors.Wrapf(storage.ErrUnknownSpace, "%q", name), models.ErrInvalidRequest)
	}

	r.logger.Debug().Str("space", store.Name()).Msg("Clearing the repository")

	return r.submit(KindReset, store, func(ctx context.Context) (int, error) {
		if err := store.Reset(ctx); err != nil {
			return 0, err
		}
		r.publisher.Publish(ctx, events.Event{Kind: events.SpaceReset, Space: store.Name()})
		return 0, nil
	})
}

// ImportEntities loads data of the given mime type into the entities space
func (r *Runner) ImportEntities(data []byte, mimeType string, principal auth.Principal) (Job, error) {
	if err := principal.Require(auth.System); err != nil {
		return Job{}, err
	}
	if mimeType == "" {
		return Job{}, errors.Wrap(models.ErrInvalidRequest, "mimetype is a required parameter")
	}
	if !ntriples.Supported(mimeType) {
		return Job{}, errors.Wrapf(models.ErrUnsupportedFormat, "%s", mimeType)
	}
	if r.maxImport > 0 && int64(len(data)) > r.maxImport {
		return Job{}, errors.Wrapf(models.ErrInvalidRequest, "import of %d bytes exceeds the %d byte limit", len(data), r.maxImport)
	}
	store, ok := r.stores[storage.SpaceEntities]
	if !ok {
		return Job{}, errors.Wrapf(storage.ErrUnknownSpace, "%q", storage.SpaceEntities)
	}

	r.logger.Debug().Str("mimetype", mimeType).Int("bytes", len(data)).Msg("Importing a file")

	return r.submit(KindImport, store, func(ctx context.Context) (int, error) {
		n, err := store.Import(ctx, bytes.NewReader(data), mimeType)
		if err != nil {
			return 0, err
		}
		r.publisher.Publish(ctx, events.Event{Kind: events.EntitiesImported, Space: store.Name()})
		return n, nil
	})
}

func (r *Runner) submit(kind string, store storage.Store, run func(ctx context.Context) (int, error)) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Job{}, errors.WithStack(ErrClosed)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Space:     store.Name(),
		Status:    JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	r.jobs[job.ID] = job

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.setStatus(job.ID, JobStatusRunning, 0, nil)
		n, err := run(r.ctx)
		switch {
		case err == nil:
			r.setStatus(job.ID, JobStatusCompleted, n, nil)
		case errors.Is(err, context.Canceled):
			r.setStatus(job.ID, JobStatusCancelled, 0, err)
		default:
			r.logger.Error().Err(err).Str("job", job.ID).Str("kind", kind).Msg("Admin job failed")
			r.setStatus(job.ID, JobStatusFailed, 0, err)
		}
	}()
	return *job, nil
}

func (r *Runner) setStatus(id string, status JobStatus, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.Status = status
	job.Statements = n
	if err != nil {
		job.Error = err.Error()
	}
	if job.Done() {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
}

// Job returns a snapshot of the job with the given id
func (r *Runner) Job(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, errors.Wrapf(models.ErrEntityNotFound, "job %s", id)
	}
	return *job, nil
}

// Close cancels running jobs and waits for them to finish
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	return nil
}
