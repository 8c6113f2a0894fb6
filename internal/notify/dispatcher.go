package notify

import (
	"context"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/queue"
	"go.uber.org/zap"
)

// EventPublisher is implemented by queue.Publisher.
type EventPublisher interface {
	PublishSaleConfirmed(ctx context.Context, ev queue.SaleConfirmedEvent) error
}

// Dispatcher turns a Notify call into a queued SaleConfirmedEvent.
type Dispatcher struct {
	pub EventPublisher
	log *zap.Logger
	now func() time.Time
}

func NewDispatcher(pub EventPublisher, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{pub: pub, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Notify enqueues the confirmation for phone.
func (d *Dispatcher) Notify(ctx context.Context, phone string, data TemplateData) error {
	ev := queue.SaleConfirmedEvent{
		SaleID:      data.SaleID,
		Phone:       phone,
		BuyerName:   data.BuyerName,
		Numbers:     data.Numbers,
		AmountLocal: data.AmountLocal,
		Reference:   data.Reference,
		ConfirmedAt: d.now(),
	}
	err := d.pub.PublishSaleConfirmed(ctx, ev)
	metrics.RecordNotify("publish", err)
	if err != nil {
		return err
	}
	d.log.Debug("notify: confirmation queued", zap.Uint64("sale_id", data.SaleID))
	return nil
}
