package wake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/push"
)

// DeviceSource is the roster the broadcaster reads from and prunes.
type DeviceSource interface {
	List(ctx context.Context) ([]Device, error)
	Unregister(ctx context.Context, deviceToken string) (bool, error)
}

// WakePusher sends a single background wake.
type WakePusher interface {
	SendWake(ctx context.Context, w push.Wake) push.Result
}

// Broadcaster periodically fans a silent background push out to every
// registered device.
//
// Sends go through a bounded worker pool so a large roster cannot open
// an unbounded number of connections at once. A device whose token the
// gateway rejects as permanently invalid is unregistered on the spot.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Broadcaster struct {
	source         DeviceSource
	pusher         WakePusher
	interval       time.Duration
	maxConcurrency int
	logger         *slog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewBroadcaster creates a wake [Broadcaster].
//
// Parameters:
//   - source: Roster of registered devices
//   - pusher: Gateway the wakes are sent through
//   - interval: Time between broadcast rounds
//   - maxConcurrency: Maximum number of in-flight wake sends
//   - logger: Logger for broadcast outcomes
//
// The broadcaster must be started with [Broadcaster.Start] and stopped
// with [Broadcaster.Stop].
func NewBroadcaster(source DeviceSource, pusher WakePusher, interval time.Duration, maxConcurrency int, logger *slog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		source:         source,
		pusher:         pusher,
		interval:       interval,
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}
}

// Start begins the broadcast loop in a background goroutine.
//
// Start is non-blocking and returns immediately. The broadcaster sends
// one round straight away, then one per interval until [Broadcaster.Stop]
// is called or the context is cancelled.
//
// If ctx is nil, context.Background() is used as the parent context.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (b *Broadcaster) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started || b.stopped {
		b.mu.Unlock()
		return
	}
	b.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	runCtx := b.ctx
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()

		b.broadcast(runCtx)

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				b.broadcast(runCtx)
			}
		}
	}()
}

// Stop halts the broadcaster and waits for in-flight sends to complete.
//
// Stop is idempotent and safe to call multiple times. Calling Stop
// before Start is a safe no-op.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.stopped {
		b.stopped = true
		if b.cancel != nil {
			b.cancel()
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// broadcast sends one wake round to the current roster.
func (b *Broadcaster) broadcast(ctx context.Context) {
	started := time.Now()

	devices, err := b.source.List(ctx)
	if err != nil {
		b.logger.Error("wake roster unavailable", "error", err)
		return
	}
	if len(devices) == 0 {
		return
	}

	jobs := make(chan Device, len(devices))
	var delivered, pruned, failed int
	var counts sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < b.maxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for dev := range jobs {
				result := b.pusher.SendWake(ctx, push.Wake{
					DeviceToken: dev.DeviceToken,
					Environment: push.Environment(dev.Environment),
				})

				counts.Lock()
				switch {
				case result.Delivered:
					delivered++
				case result.Permanent():
					pruned++
				default:
					failed++
				}
				counts.Unlock()

				if result.Permanent() {
					if _, err := b.source.Unregister(ctx, dev.DeviceToken); err != nil {
						b.logger.Warn("failed to prune dead device", "error", err)
					} else {
						b.logger.Info("device unregistered",
							"reason", "wake token rejected as invalid",
							"status", result.Status)
					}
				}
			}
		}()
	}

	for _, dev := range devices {
		select {
		case jobs <- dev:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)
	wg.Wait()

	b.logger.Info("wake round complete",
		"devices", len(devices),
		"delivered", delivered,
		"pruned", pruned,
		"failed", failed,
		"elapsed_ms", time.Since(started).Milliseconds())
}
