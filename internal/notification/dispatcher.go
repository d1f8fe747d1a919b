package notification

import (
	"context"
	"sync"

	"github.com/ayo6706/merchant-onboarding/internal/domain"
	"github.com/ayo6706/merchant-onboarding/internal/observability"
	"go.uber.org/zap"
)

// Dispatcher notifies the merchant owner about a committed status change.
// Best effort: failures are logged, never propagated to the caller.
type Dispatcher interface {
	NotifyStatusChange(ctx context.Context, app *domain.MerchantApplication, oldStatus, newStatus domain.Status)
}

// LogDispatcher emits notifications to the structured log. The email/SMS
// provider integration hangs off the same interface.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.L()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) NotifyStatusChange(_ context.Context, app *domain.MerchantApplication, oldStatus, newStatus domain.Status) {
	d.logger.Info("merchant status notification",
		zap.String("merchant_id", app.ID.String()),
		zap.String("owner_id", app.OwnerID.String()),
		zap.String("contact_email", app.ContactEmail),
		zap.String("from", string(oldStatus)),
		zap.String("to", string(newStatus)),
	)
}

type statusChange struct {
	app       *domain.MerchantApplication
	oldStatus domain.Status
	newStatus domain.Status
}

// AsyncDispatcher decouples notification delivery from the request path.
// Enqueueing never blocks: when the queue is full the notification is
// dropped and counted, so a slow provider cannot fail a webhook response.
type AsyncDispatcher struct {
	inner  Dispatcher
	queue  chan statusChange
	logger *zap.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

func NewAsyncDispatcher(inner Dispatcher, queueSize int, logger *zap.Logger) *AsyncDispatcher {
	if queueSize <= 0 {
		queueSize = 128
	}
	if logger == nil {
		logger = zap.L()
	}
	d := &AsyncDispatcher{
		inner:  inner,
		queue:  make(chan statusChange, queueSize),
		logger: logger,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *AsyncDispatcher) NotifyStatusChange(_ context.Context, app *domain.MerchantApplication, oldStatus, newStatus domain.Status) {
	select {
	case d.queue <- statusChange{app: app, oldStatus: oldStatus, newStatus: newStatus}:
	default:
		observability.IncrementNotificationDropped()
		d.logger.Warn("notification queue full, dropping",
			zap.String("merchant_id", app.ID.String()),
			zap.String("to", string(newStatus)),
		)
	}
}

func (d *AsyncDispatcher) run() {
	defer d.wg.Done()
	for change := range d.queue {
		d.inner.NotifyStatusChange(context.Background(), change.app, change.oldStatus, change.newStatus)
	}
}

// Close drains the queue and stops the worker.
func (d *AsyncDispatcher) Close() {
	d.once.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}
