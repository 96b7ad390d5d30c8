package desk

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/naveenspark/supportdesk/pkg/domain"
)

const defaultPresenceConcurrency = 8

// fetchPresence asks the status endpoint about every user id concurrently.
// A failed lookup counts as offline; the pass itself never fails.
func fetchPresence(ctx context.Context, api API, userIDs []domain.ID, limit int, log zerolog.Logger) map[domain.ID]bool {
	if limit <= 0 {
		limit = defaultPresenceConcurrency
	}
	online := make(map[domain.ID]bool, len(userIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range userIDs {
		g.Go(func() error {
			ok, err := api.UserStatus(gctx, id)
			if err != nil {
				log.Debug().Err(err).Str("user_id", id.String()).Msg("status lookup failed")
				ok = false
			}
			mu.Lock()
			online[id] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return online
}
