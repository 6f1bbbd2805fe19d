package rate

import (
	"errors"
	"sync"
	"time"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	// MaxRequests is the number of requests allowed per key per window.
	MaxRequests int
	// Window is the length of one counting window.
	Window time.Duration
	// SweepInterval controls how often idle windows are evicted.
	// Zero picks a default of five windows (at least one minute).
	SweepInterval time.Duration
}

type window struct {
	mu    sync.Mutex
	start time.Time
	count int
}

// Limiter enforces per-key fixed-window request limits in process memory.
// Windows are created lazily on the first request for a key and reset in
// place when the window elapses.
type Limiter struct {
	config Config

	mu      sync.RWMutex
	windows map[string]*window

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates an in-memory [Limiter]. MaxRequests and Window must be positive.
func New(cfg Config) (*Limiter, error) {
	if cfg.MaxRequests <= 0 {
		return nil, errors.New("rate limiter requires positive MaxRequests")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("rate limiter requires positive Window")
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * cfg.Window
		if cfg.SweepInterval < time.Minute {
			cfg.SweepInterval = time.Minute
		}
	}

	l := &Limiter{
		config:  cfg,
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.sweepLoop()

	return l, nil
}

// Allow records one request for key and reports whether it is within the
// window budget. Same-key calls are serialized on the key's window lock;
// distinct keys never contend beyond the map lookup.
func (l *Limiter) Allow(key string) bool {
	w := l.window(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if now.Sub(w.start) >= l.config.Window {
		w.start = now
		w.count = 0
	}
	w.count++

	return w.count <= l.config.MaxRequests
}

// Remaining reports the unused budget for key in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if !ok {
		return l.config.MaxRequests
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.start) >= l.config.Window {
		return l.config.MaxRequests
	}
	left := l.config.MaxRequests - w.count
	if left < 0 {
		return 0
	}
	return left
}

// Close stops the idle-window sweeper.
func (l *Limiter) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

func (l *Limiter) window(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[key]; ok {
		return w
	}
	w = &window{start: time.Now()}
	l.windows[key] = w
	return w
}

func (l *Limiter) sweepLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.done:
			return
		}
	}
}

// sweep drops windows that have been idle for at least two full windows.
// A caller racing on an evicted window keeps counting against the orphan,
// which at worst re-grants one window's budget — within the documented
// fixed-window boundary tolerance.
func (l *Limiter) sweep() {
	cutoff := 2 * l.config.Window

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		w.mu.Lock()
		idle := time.Since(w.start) >= cutoff
		w.mu.Unlock()
		if idle {
			delete(l.windows, key)
		}
	}
}
