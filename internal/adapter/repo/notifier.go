package repo

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bulkgen/internal/domain"
)

const defaultPollInterval = 250 * time.Millisecond

// JobChangeLister is the read surface the notifier polls. Satisfied by
// *JobRepositoryPG.
type JobChangeLister interface {
	ListUpdatedSince(ctx context.Context, ids []string, since time.Time) ([]domain.Job, error)
}

// PollNotifier implements stream.Notifier by watching updated_at on the
// subscribed job rows. Each subscription runs its own bounded poll loop, so
// tearing down a subscriber releases everything it held.
type PollNotifier struct {
	lister   JobChangeLister
	interval time.Duration
	logger   zerolog.Logger
}

func NewPollNotifier(lister JobChangeLister, interval time.Duration, logger zerolog.Logger) *PollNotifier {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &PollNotifier{lister: lister, interval: interval, logger: logger}
}

// Subscribe starts a poll loop scoped to jobIDs. The returned channel closes
// when the subscription is cancelled.
func (n *PollNotifier) Subscribe(ctx context.Context, jobIDs []string) (<-chan domain.Job, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	updates := make(chan domain.Job, len(jobIDs)*2+4)

	var once sync.Once
	stop := func() {
		once.Do(cancel)
	}

	go func() {
		defer close(updates)
		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()

		since := time.Now()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
			}

			jobs, err := n.lister.ListUpdatedSince(subCtx, jobIDs, since)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				n.logger.Warn().Err(err).Msg("notifier: poll failed")
				continue
			}
			for _, job := range jobs {
				if job.UpdatedAt.After(since) {
					since = job.UpdatedAt
				}
				select {
				case updates <- job:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return updates, stop, nil
}
