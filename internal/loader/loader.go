package loader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/temphist/temphist/internal/cache"
	"github.com/temphist/temphist/internal/temphist"
	"github.com/temphist/temphist/internal/temphist/client"
)

// Fetcher is the slice of the records client the loader depends on.
type Fetcher interface {
	FetchAsync(ctx context.Context, period temphist.Period, location, identifier string, onProgress client.ProgressFunc) (*temphist.JobResult, error)
}

// Config holds the loader's retry policy.
type Config struct {
	// Retries is how many times a failed load is reattempted.
	Retries int
	// BackoffBase is the unit for the 2^attempt backoff between retries.
	BackoffBase time.Duration
}

func (c *Config) withDefaults() {
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
}

// Options tunes a single load.
type Options struct {
	// Retries overrides the loader-level retry count when positive.
	Retries int
	// OnProgress is forwarded to the poll loop.
	OnProgress client.ProgressFunc
}

// Loader orchestrates per-period dataset loading: it serves from the shared
// prefetch cache when it can, coalesces identical concurrent loads into one
// underlying fetch, and retries failed loads with exponential backoff.
type Loader struct {
	fetcher  Fetcher
	prefetch *cache.Cache[*temphist.TemperatureDataset]
	cfg      Config

	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]struct{}

	// sleep is swappable so retry tests need not wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Loader backed by the given fetcher and shared prefetch cache.
func New(fetcher Fetcher, prefetch *cache.Cache[*temphist.TemperatureDataset], cfg Config) *Loader {
	cfg.withDefaults()
	return &Loader{
		fetcher:  fetcher,
		prefetch: prefetch,
		cfg:      cfg,
		inflight: make(map[string]struct{}),
		sleep:    sleepCtx,
	}
}

// LoadPeriodData returns the dataset for (period, location, identifier),
// consulting the prefetch cache first. Concurrent callers with an identical
// key share one in-flight fetch. The final result is written back to the
// prefetch cache for other consumers.
func (l *Loader) LoadPeriodData(ctx context.Context, period temphist.Period, location, identifier string, opts Options) (*temphist.TemperatureDataset, error) {
	key := temphist.CacheKey(period, location, identifier)

	if ds, ok := l.prefetch.Get(key); ok {
		return ds, nil
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		l.setInflight(key, true)
		defer l.setInflight(key, false)

		return l.loadWithRetry(ctx, period, location, identifier, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*temphist.TemperatureDataset), nil
}

func (l *Loader) loadWithRetry(ctx context.Context, period temphist.Period, location, identifier string, opts Options) (*temphist.TemperatureDataset, error) {
	key := temphist.CacheKey(period, location, identifier)

	retries := l.cfg.Retries
	if opts.Retries > 0 {
		retries = opts.Retries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.BackoffBase * time.Duration(1<<uint(attempt))
			if err := l.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		result, err := l.fetcher.FetchAsync(ctx, period, location, identifier, opts.OnProgress)
		if err == nil {
			l.prefetch.Set(key, result.Data)
			return result.Data, nil
		}

		// Bad input and abandoned loads gain nothing from another attempt.
		if errors.Is(err, temphist.ErrInvalidIdentifier) || temphist.IsCancelled(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("load for %s exhausted %d retries: %w", key, retries, lastErr)
}

// IsLoading reports whether a load for the key is currently in flight.
func (l *Loader) IsLoading(period temphist.Period, location, identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.inflight[temphist.CacheKey(period, location, identifier)]
	return ok
}

// ClearCache drops loader-tracked state. With a period it clears that
// period's prefetched datasets and in-flight markers; without one it clears
// everything.
func (l *Loader) ClearCache(period temphist.Period) {
	if period == "" {
		l.prefetch.Clear()
		l.mu.Lock()
		l.inflight = make(map[string]struct{})
		l.mu.Unlock()
		return
	}

	prefix := fmt.Sprintf("temp-%s-", period)
	l.prefetch.DeletePrefix(prefix)

	l.mu.Lock()
	for key := range l.inflight {
		if strings.HasPrefix(key, prefix) {
			delete(l.inflight, key)
		}
	}
	l.mu.Unlock()
}

// PreloadPeriodData schedules a background warm-up load. Failures are logged
// and swallowed; cancellation is entirely silent.
func (l *Loader) PreloadPeriodData(ctx context.Context, period temphist.Period, location, identifier string) {
	go func() {
		if _, err := l.LoadPeriodData(ctx, period, location, identifier, Options{}); err != nil {
			if temphist.IsCancelled(err) {
				return
			}
			log.Printf("preload failed for %s: %v", temphist.CacheKey(period, location, identifier), err)
		}
	}()
}

func (l *Loader) setInflight(key string, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if on {
		l.inflight[key] = struct{}{}
	} else {
		delete(l.inflight, key)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return temphist.CancelledFrom(ctx.Err())
	case <-timer.C:
		return nil
	}
}
