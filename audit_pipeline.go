package phlow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// auditPipeline buffers decision events in memory and flushes them to the
// sink in batches from a background goroutine. Append never performs I/O and
// never blocks on the sink; delivery is at-least-once, with failed batches
// requeued at the front of the buffer in original order.
type auditPipeline struct {
	cfg  AuditConfig
	sink AuditSink

	mu     sync.Mutex
	buffer []AuditEvent

	kick      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	delivered     atomic.Uint64
	flushFailures atomic.Uint64
}

func newAuditPipeline(cfg AuditConfig, sink AuditSink) *auditPipeline {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	p := &auditPipeline{
		cfg:  cfg,
		sink: sink,
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// Append enqueues one event. Events appended after Close are dropped, since
// nothing would ever flush them.
func (p *auditPipeline) Append(event AuditEvent) {
	if p == nil || p.closed.Load() {
		return
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, event)
	pending := len(p.buffer)
	p.mu.Unlock()

	if pending >= p.cfg.BatchSize {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
}

func (p *auditPipeline) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.flush()
		case <-p.kick:
			p.flush()
		case <-p.done:
			p.finalFlush()
			return
		}
	}
}

// flush performs one cycle: dequeue up to one batch, issue one bulk write,
// requeue failures at the front. If a full batch remains afterwards the next
// cycle is kicked immediately instead of waiting for the timer.
func (p *auditPipeline) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	n := p.cfg.BatchSize
	if n > len(p.buffer) {
		n = len(p.buffer)
	}
	batch := make([]AuditEvent, n)
	copy(batch, p.buffer)
	p.buffer = append([]AuditEvent(nil), p.buffer[n:]...)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FlushInterval)
	failed, err := p.sink.Write(ctx, batch)
	cancel()
	if err != nil && len(failed) == 0 {
		failed = batch
	}

	p.delivered.Add(uint64(n - len(failed)))

	if len(failed) > 0 {
		p.flushFailures.Add(1)
		p.mu.Lock()
		p.buffer = append(append([]AuditEvent(nil), failed...), p.buffer...)
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	full := len(p.buffer) >= p.cfg.BatchSize
	p.mu.Unlock()
	if full {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
}

// finalFlush drains the buffer best-effort on Close, stopping at the first
// cycle that makes no progress.
func (p *auditPipeline) finalFlush() {
	for {
		p.mu.Lock()
		pending := len(p.buffer)
		p.mu.Unlock()
		if pending == 0 {
			return
		}

		p.flush()

		p.mu.Lock()
		after := len(p.buffer)
		p.mu.Unlock()
		if after >= pending {
			return
		}
	}
}

// Close stops the flush loop after one final best-effort flush. Events that
// the sink still rejects remain unflushed; they are reported by Pending.
func (p *auditPipeline) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.wg.Wait()
	})
}

// Pending reports the number of buffered, not yet delivered events.
func (p *auditPipeline) Pending() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Delivered reports the cumulative count of events accepted by the sink.
func (p *auditPipeline) Delivered() uint64 {
	if p == nil {
		return 0
	}
	return p.delivered.Load()
}

// FlushFailures reports the cumulative count of flush cycles that had to
// requeue events.
func (p *auditPipeline) FlushFailures() uint64 {
	if p == nil {
		return 0
	}
	return p.flushFailures.Load()
}
