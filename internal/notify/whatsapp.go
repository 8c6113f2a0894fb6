package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/queue"
	"go.uber.org/zap"
	"resty.dev/v3"
)

// ErrGatewayNotConfigured is returned when no gateway URL is set.
var ErrGatewayNotConfigured = errors.New("whatsapp gateway url not configured")

// WhatsAppClient posts messages to the WhatsApp bot gateway.
type WhatsAppClient struct {
	http *resty.Client
	url  string
}

type whatsAppMessage struct {
	Numero  string `json:"numero"`
	Mensaje string `json:"mensaje"`
}

func NewWhatsAppClient(url string, timeout time.Duration) *WhatsAppClient {
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &WhatsAppClient{http: c, url: url}
}

// Close releases the underlying HTTP client.
func (w *WhatsAppClient) Close() error { return w.http.Close() }

// Send delivers text to phone.  Any non-2xx answer is an error.
func (w *WhatsAppClient) Send(ctx context.Context, phone, text string) error {
	if w.url == "" {
		return ErrGatewayNotConfigured
	}
	resp, err := w.http.R().
		SetContext(ctx).
		SetBody(whatsAppMessage{Numero: phone, Mensaje: text}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("whatsapp post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("whatsapp gateway answered %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Deliverer is the queue handler that renders and sends confirmations.
type Deliverer struct {
	client *WhatsAppClient
	log    *zap.Logger
}

func NewDeliverer(client *WhatsAppClient, log *zap.Logger) *Deliverer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Deliverer{client: client, log: log}
}

func (d *Deliverer) HandleSaleConfirmed(ctx context.Context, ev queue.SaleConfirmedEvent) error {
	text := Render(TemplateData{
		SaleID:      ev.SaleID,
		BuyerName:   ev.BuyerName,
		Numbers:     ev.Numbers,
		AmountLocal: ev.AmountLocal,
		Reference:   ev.Reference,
	})
	err := d.client.Send(ctx, ev.Phone, text)
	metrics.RecordNotify("deliver", err)
	if err != nil {
		return err
	}
	d.log.Info("notify: confirmation delivered", zap.Uint64("sale_id", ev.SaleID))
	return nil
}
