package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRetention is how long interaction records are kept.
const DefaultRetention = 30 * 24 * time.Hour

// PruneJob removes interaction records past their retention. It is scheduled daily.
type PruneJob struct {
	repo      *Repository
	retention time.Duration
	log       zerolog.Logger
}

// NewPruneJob creates a prune job. retention <= 0 uses DefaultRetention.
func NewPruneJob(repo *Repository, retention time.Duration, log zerolog.Logger) *PruneJob {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &PruneJob{
		repo:      repo,
		retention: retention,
		log:       log.With().Str("job", "history_prune").Logger(),
	}
}

// Run deletes expired records.
func (j *PruneJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := j.repo.Prune(ctx, j.retention)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to prune interaction history")
		return err
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Pruned interaction history")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *PruneJob) Name() string {
	return "history_prune"
}
