package stream

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bulkgen/internal/domain"
)

// Notifier delivers job-row change notifications scoped to a set of job ids.
// The returned cancel func must release the subscription and is safe to call
// more than once.
type Notifier interface {
	Subscribe(ctx context.Context, jobIDs []string) (<-chan domain.Job, func(), error)
}

// JobReader is the read-only job access the publisher needs.
type JobReader interface {
	GetByID(ctx context.Context, jobID string) (*domain.Job, error)
}

// EventWriter receives the events for one subscriber connection.
type EventWriter interface {
	Send(ev Event) error
}

// Publisher streams debounced, heartbeat-backed progress events for a set of
// jobs to a single subscriber until every watched job is terminal or the
// subscriber disconnects.
type Publisher struct {
	jobs      JobReader
	notifier  Notifier
	debounce  time.Duration
	heartbeat time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewPublisher(jobs JobReader, notifier Notifier, debounce, heartbeat time.Duration, logger zerolog.Logger) *Publisher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Publisher{
		jobs:      jobs,
		notifier:  notifier,
		debounce:  debounce,
		heartbeat: heartbeat,
		logger:    logger,
		now:       time.Now,
	}
}

// Stream runs the subscription loop. It returns when all watched jobs are
// terminal (after emitting exactly one complete event), when the context is
// cancelled, or when a write to the subscriber fails.
func (p *Publisher) Stream(ctx context.Context, w EventWriter, userID string, jobIDs []string) error {
	watched := make(map[string]struct{}, len(jobIDs))
	terminal := make(map[string]struct{}, len(jobIDs))

	for _, id := range jobIDs {
		job, err := p.jobs.GetByID(ctx, id)
		if err != nil || job.UserID != userID {
			// Not-owned ids are indistinguishable from unknown ones on purpose.
			if sendErr := p.send(w, Event{Type: EventError, JobID: id, Message: "job not found"}); sendErr != nil {
				return sendErr
			}
			continue
		}
		if err := p.send(w, Event{Type: EventInitial, JobID: id, Data: SnapshotOf(job)}); err != nil {
			return err
		}
		watched[id] = struct{}{}
		if job.Status.Terminal() {
			terminal[id] = struct{}{}
		}
	}

	if len(terminal) == len(watched) {
		return p.send(w, Event{Type: EventComplete})
	}

	ids := make([]string, 0, len(watched))
	for id := range watched {
		ids = append(ids, id)
	}
	updates, cancel, err := p.notifier.Subscribe(ctx, ids)
	if err != nil {
		p.logger.Error().Err(err).Msg("stream: subscribe failed")
		return p.send(w, Event{Type: EventError, Message: "subscription failed"})
	}
	defer cancel()

	heartbeat := time.NewTicker(p.heartbeat)
	defer heartbeat.Stop()

	// Debounce state: updates are held in pending and emitted only when the
	// job's window elapses, so a burst collapses to its latest snapshot.
	lastEmit := make(map[string]time.Time, len(watched))
	pending := make(map[string]*domain.Job)
	flush := time.NewTimer(p.debounce)
	if !flush.Stop() {
		<-flush.C
	}
	flushArmed := false
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-heartbeat.C:
			if err := p.send(w, Event{Type: EventHeartbeat}); err != nil {
				return err
			}

		case <-flush.C:
			flushArmed = false
			now := p.now()
			for id, job := range pending {
				if now.Sub(lastEmit[id]) < p.debounce {
					continue
				}
				delete(pending, id)
				lastEmit[id] = now
				if err := p.send(w, Event{Type: EventUpdate, JobID: id, Data: SnapshotOf(job)}); err != nil {
					return err
				}
			}
			if len(pending) > 0 {
				flush.Reset(p.nextFlushDelay(lastEmit, pending))
				flushArmed = true
			}

		case job, ok := <-updates:
			if !ok {
				return nil
			}
			if _, watching := watched[job.ID]; !watching || job.UserID != userID {
				continue
			}

			if job.Status.Terminal() {
				// Terminal transitions bypass the debounce so completion is
				// never delayed.
				delete(pending, job.ID)
				lastEmit[job.ID] = p.now()
				if err := p.send(w, Event{Type: EventUpdate, JobID: job.ID, Data: SnapshotOf(&job)}); err != nil {
					return err
				}
				terminal[job.ID] = struct{}{}
				if len(terminal) == len(watched) {
					return p.send(w, Event{Type: EventComplete})
				}
				continue
			}

			// Non-terminal updates always wait for the trailing edge of the
			// window; only the latest snapshot per job survives the wait.
			j := job
			pending[job.ID] = &j
			if !flushArmed {
				flush.Reset(p.debounce)
				flushArmed = true
			}
		}
	}
}

func (p *Publisher) send(w EventWriter, ev Event) error {
	ev.Timestamp = p.now()
	return w.Send(ev)
}

func (p *Publisher) nextFlushDelay(lastEmit map[string]time.Time, pending map[string]*domain.Job) time.Duration {
	now := p.now()
	min := p.debounce
	for id := range pending {
		if due := p.debounce - now.Sub(lastEmit[id]); due < min {
			min = due
		}
	}
	if min <= 0 {
		min = time.Millisecond
	}
	return min
}
