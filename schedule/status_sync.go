package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// StatusSyncer re-derives stored launch statuses
type StatusSyncer interface {
	SyncStatuses(ctx context.Context) (int, error)
}

// NewStatusSync registers a status sync run on spec. spec uses the six field
// format with seconds. Each run is bounded by timeout; overlapping runs are
// skipped while one is still going. The returned cron is not started.
func NewStatusSync(spec string, syncer StatusSyncer, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	_, err := c.AddFunc(spec, func() {
		RunStatusSync(syncer, timeout)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RunStatusSync performs one sync pass and logs the outcome
func RunStatusSync(syncer StatusSyncer, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	updated, err := syncer.SyncStatuses(ctx)
	if err != nil {
		log.WithError(err).Error("> Launch status sync failed")
		return
	}
	log.WithFields(log.Fields{
		"updated":  updated,
		"duration": time.Since(start).String(),
	}).Info("> Launch status sync finished")
}
