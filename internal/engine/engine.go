// Package engine coordinates the job synchronization loop and the transfer
// controllers. It reconciles three independent writers (the startup
// snapshot, the push channel, and locally-originated optimistic updates)
// through the generation-fenced store, and survives reconnects and partial
// failures by re-probing rather than retrying individual operations.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskbridge/taskbridge-client/internal/backend"
	"github.com/taskbridge/taskbridge-client/internal/job"
	"github.com/taskbridge/taskbridge-client/internal/push"
)

// queuedProgress is the display baseline applied when an upload is accepted,
// pending the first push with real execution progress.
const queuedProgress = 10

const defaultReconnectWait = 3 * time.Second

// Engine owns the store and drives all interaction with the backend.
type Engine struct {
	store         *job.Store
	client        *backend.Client
	userID        string
	reconnectWait time.Duration

	mu          sync.Mutex
	online      bool
	downloading string
	downloadPct int

	events chan TransferEvent
	state  chan struct{}
}

// New creates an Engine around an existing store and backend client.
func New(store *job.Store, client *backend.Client, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		client:        client,
		reconnectWait: defaultReconnectWait,
		events:        make(chan TransferEvent, 64),
		state:         make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithUserID sets the opaque user identifier stamped on optimistic records.
func WithUserID(id string) Option {
	return func(e *Engine) { e.userID = id }
}

// WithReconnectWait sets the pause between reconnect attempts. It must cover
// at least one probe cycle so a flapping backend is not hammered.
func WithReconnectWait(d time.Duration) Option {
	return func(e *Engine) { e.reconnectWait = d }
}

// Store exposes the job collection for the presentation layer.
func (e *Engine) Store() *job.Store { return e.store }

// Events returns the transfer event stream. Events are dropped rather than
// blocking a transfer when the consumer falls behind.
func (e *Engine) Events() <-chan TransferEvent { return e.events }

// Online reports the last known backend reachability.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// StateChanges returns a coalescing signal fired whenever Online flips.
// Renderers select on it alongside Store.Updates: a dropped session mutates
// no records, so without this signal the offline transition would never wake
// them.
func (e *Engine) StateChanges() <-chan struct{} {
	return e.state
}

// Run drives the synchronization loop until ctx is cancelled: probe the
// backend, seed the store from a snapshot, then hold a push session until it
// drops. Every failure path waits one reconnect cycle before re-probing, and
// the push channel is never attempted while offline.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := e.client.Probe(ctx); err != nil {
			e.setOnline(false)
			slog.Warn("backend offline", "error", err)
			if !e.pause(ctx) {
				return nil
			}
			continue
		}

		// The fence token is taken before the fetch starts so a clear racing
		// the snapshot suppresses it.
		gen := e.store.Generation()
		records, err := e.client.FetchJobs(ctx)
		if err != nil {
			e.setOnline(false)
			slog.Error("snapshot load failed", "error", err)
			if !e.pause(ctx) {
				return nil
			}
			continue
		}
		e.store.ReplaceAll(gen, records)
		e.setOnline(true)

		ch := push.New(push.URL(e.client.BaseURL()))
		if err := ch.Run(ctx, e.store); err != nil {
			slog.Error("push session ended", "error", err)
		}
		e.setOnline(false)

		if !e.pause(ctx) {
			return nil
		}
	}
}

// StartUpload submits a file as a new background job. A temporary record is
// inserted optimistically, mutated by progress ticks while the body streams,
// and atomically replaced by the canonical record once the backend assigns
// an id. On failure the temporary record is removed: a failed upload leaves
// no trace. All store writes are fenced by the generation captured here, so
// a clear racing the upload turns them into no-ops while the upload itself
// still resolves.
func (e *Engine) StartUpload(ctx context.Context, filename string, size int64, r io.Reader) (string, error) {
	gen := e.store.Generation()
	tempID := mintTempID()
	started := time.Now().UTC()

	zero := 0
	e.store.UpsertLocal(gen, job.Record{
		ID:             tempID,
		Filename:       filename,
		UserID:         e.userID,
		Status:         job.StatusDataTransfer,
		StartedAt:      started,
		UploadProgress: &zero,
	})

	id, err := e.client.StartUpload(ctx, filename, size, r, func(pct int) {
		e.store.SetUploadProgress(gen, tempID, pct)
		e.publish(TransferEvent{Type: EventProgress, JobID: tempID, Percent: pct})
	})
	if err != nil {
		e.store.RemoveLocal(gen, tempID)
		e.publish(TransferEvent{Type: EventFailure, JobID: tempID, Err: err})
		return "", err
	}

	e.store.Replace(gen, tempID, job.Record{
		ID:        id,
		Filename:  filename,
		UserID:    e.userID,
		Status:    job.StatusQueued,
		StartedAt: started,
		Progress:  queuedProgress,
	})
	e.publish(TransferEvent{Type: EventSuccess, JobID: id})
	return id, nil
}

// Download streams the result of jobID into w. One download at a time is
// tracked for progress reporting; further downloads still run concurrently
// at the network layer, they are just not reflected by ActiveDownload; the
// single slot is a presentation simplification, not a concurrency limit.
// The marker and progress are reset when the download finishes, on success
// and failure alike.
func (e *Engine) Download(ctx context.Context, jobID string, w io.Writer) error {
	e.mu.Lock()
	e.downloading = jobID
	e.downloadPct = 0
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.downloading = ""
		e.downloadPct = 0
		e.mu.Unlock()
	}()

	_, err := e.client.Download(ctx, jobID, w, func(pct int) {
		e.mu.Lock()
		e.downloadPct = pct
		e.mu.Unlock()
		e.publish(TransferEvent{Type: EventProgress, JobID: jobID, Percent: pct})
	})
	if err != nil {
		e.publish(TransferEvent{Type: EventFailure, JobID: jobID, Err: err})
		return err
	}

	e.publish(TransferEvent{Type: EventSuccess, JobID: jobID})
	return nil
}

// ActiveDownload reports the job currently tracked for download progress.
func (e *Engine) ActiveDownload() (jobID string, pct int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.downloading, e.downloadPct, e.downloading != ""
}

// Clear removes every job on the backend and mirrors the wipe locally. The
// local clear bumps the store generation, so snapshot or push writes that
// started before the clear cannot resurrect the collection.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.client.ClearJobs(ctx); err != nil {
		return err
	}
	e.store.Clear()
	return nil
}

func (e *Engine) setOnline(v bool) {
	e.mu.Lock()
	changed := e.online != v
	e.online = v
	e.mu.Unlock()

	if !changed {
		return
	}
	select {
	case e.state <- struct{}{}:
	default:
	}
}

// pause waits one reconnect cycle; false means ctx was cancelled.
func (e *Engine) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.reconnectWait):
		return true
	}
}

func (e *Engine) publish(ev TransferEvent) {
	select {
	case e.events <- ev:
	default:
	}
}

// mintTempID returns a client-minted placeholder job id. The prefix and
// timestamp keep it from ever colliding with a backend-assigned id.
func mintTempID() string {
	return fmt.Sprintf("temp-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
