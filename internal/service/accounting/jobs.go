package accounting

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

const overdueJobTimeout = time.Minute

// ScheduleOverdue registers MarkOverdue on c using a cron spec such as
// "@every 1h" or "5 0 * * *".
func (s *Service) ScheduleOverdue(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), overdueJobTimeout)
		defer cancel()

		if _, err := s.MarkOverdue(ctx, s.now()); err != nil {
			s.logger.Error().Err(err).Msg("overdue job failed")
		}
	})
}
