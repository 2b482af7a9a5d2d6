package business

import (
	"context"

	log "github.com/sirupsen/logrus"

	"launchpad/internal/admission"
	"launchpad/internal/models"
)

// SyncStatuses re-derives the stored status of every open launch and writes
// the ones that changed. It runs as one admission task so it never interleaves
// with a purchase. Returns the number of launches updated.
func (s *Service) SyncStatuses(ctx context.Context) (int, error) {
	return admission.Do(ctx, s.queue, s.syncStatuses)
}

func (s *Service) syncStatuses(ctx context.Context) (int, error) {
	launches, err := s.store.ListLaunchesByStatus(ctx, models.LaunchStatusUpcoming, models.LaunchStatusLive)
	if err != nil {
		return 0, UnavailableError("Failed to list launches.", err)
	}

	now := s.now()
	updated := 0
	for i := range launches {
		launch := &launches[i]
		status := StateOf(now, launch)
		if status == launch.Status {
			continue
		}

		if err := s.store.SyncStatus(ctx, launch.ID, status); err != nil {
			log.WithFields(log.Fields{
				"launch_id": launch.ID,
				"from":      launch.Status,
				"to":        status,
			}).WithError(err).Error("Failed to sync launch status")
			continue
		}
		updated++

		log.WithFields(log.Fields{
			"launch_id": launch.ID,
			"from":      launch.Status,
			"to":        status,
		}).Info("Launch status synced")
	}
	return updated, nil
}
