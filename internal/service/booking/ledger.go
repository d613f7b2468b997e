package booking

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/internal/repository"
)

// Ledger records which idempotency key produced which booking. The bookings
// table is the source of truth; the cache only holds committed bookings,
// which never change, so a hit can be replayed without a query.
type Ledger struct {
	repo  repository.BookingRepository
	cache *cache.Cache
}

func NewLedger(repo repository.BookingRepository, ttl, cleanupInterval time.Duration) *Ledger {
	return &Ledger{
		repo:  repo,
		cache: cache.New(ttl, cleanupInterval),
	}
}

// Cached returns a booking seen committed by this process.
func (l *Ledger) Cached(key string) (*model.Booking, bool) {
	v, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	b := v.(model.Booking)
	return &b, true
}

// Lookup returns the booking stored under key, or repository.ErrNotFound.
func (l *Ledger) Lookup(ctx context.Context, key string) (*model.Booking, error) {
	if b, ok := l.Cached(key); ok {
		return b, nil
	}
	return l.repo.GetByIdempotencyKey(ctx, key)
}

// Remember must only be called after the booking's transaction committed.
func (l *Ledger) Remember(b *model.Booking) {
	l.cache.SetDefault(b.IdempotencyKey, *b)
}
