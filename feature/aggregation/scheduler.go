package aggregation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Schedule refreshes every collection each interval until ctx is cancelled. A run that is still
// going when the next tick fires delays that tick rather than overlapping it.
func (s *Service) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			sums, err := s.RefreshAll(ctx)
			if err != nil {
				s.logger.Warn("Scheduled refresh incomplete", zap.Error(err), zap.Int("collections", len(sums)))
				continue
			}
			s.logger.Info("Scheduled refresh completed", zap.Int("collections", len(sums)), zap.Duration("duration", time.Since(start)))
		}
	}
}
