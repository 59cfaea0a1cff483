package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dockpulse/internal/models"
)

const (
	queueSize   = 64
	maxAttempts = 3
)

type Sender interface {
	Send(ctx context.Context, msg string) error
}

// Dispatcher forwards alerts to a Sender off the collection path. Repeats of
// the same alert key inside the cooldown are dropped; this only affects
// outbound notifications. A nil *Dispatcher ignores everything.
type Dispatcher struct {
	sender   Sender
	cooldown time.Duration
	log      *slog.Logger
	now      func() time.Time
	backoff  time.Duration

	mu   sync.Mutex
	last map[string]time.Time

	queue  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, cooldown time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		cooldown: cooldown,
		log:      logger,
		now:      time.Now,
		backoff:  time.Second,
		last:     map[string]time.Time{},
		queue:    make(chan string, queueSize),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	if d == nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-d.queue:
				d.deliver(ctx, msg)
			}
		}
	}()
}

// Stop waits for an in-flight delivery to finish. Queued messages are dropped.
func (d *Dispatcher) Stop() {
	if d == nil || d.cancel == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

// Notify queues every alert whose key is outside the cooldown. It never blocks;
// when the queue is full the message is dropped and logged.
func (d *Dispatcher) Notify(alerts []models.Alert) {
	if d == nil {
		return
	}
	for _, a := range alerts {
		if !d.allow(alertKey(a)) {
			continue
		}
		select {
		case d.queue <- Format(a):
		default:
			d.log.Warn("notify queue full, dropping", "type", a.AlertType, "entity", a.EntityID)
		}
	}
}

func (d *Dispatcher) allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.last[key]; ok && now.Sub(last) < d.cooldown {
		return false
	}
	d.last[key] = now
	return true
}

func (d *Dispatcher) deliver(ctx context.Context, msg string) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = d.sender.Send(ctx, msg); err == nil {
			return
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.backoff * time.Duration(attempt)):
		}
	}
	d.log.Warn("notify failed", "attempts", maxAttempts, "err", err)
}

func alertKey(a models.Alert) string {
	return string(a.AlertType) + ":" + a.EntityID
}

func Format(a models.Alert) string {
	return fmt.Sprintf("[%s] %s\n%s", a.Severity, a.Message, a.Timestamp.UTC().Format(time.RFC3339))
}
