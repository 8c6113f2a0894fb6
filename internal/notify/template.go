// Package notify sends the buyer confirmation after a sale commits.  The
// settlement path only enqueues; a worker consuming the queue talks to the
// WhatsApp gateway.
package notify

import (
	"fmt"
	"strings"

	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/shopspring/decimal"
)

// TemplateData is what the confirmation message is rendered from.
type TemplateData struct {
	SaleID      uint64
	BuyerName   string
	Numbers     []model.TicketNumber
	AmountLocal decimal.Decimal
	Reference   string
}

// Render builds the WhatsApp text sent to the buyer.
func Render(d TemplateData) string {
	name := strings.TrimSpace(d.BuyerName)
	if i := strings.IndexByte(name, ' '); i > 0 {
		name = name[:i]
	}
	label := "Tu ticket es el"
	if len(d.Numbers) > 1 {
		label = "Tus tickets son"
	}
	nums := make([]string, len(d.Numbers))
	for i, n := range d.Numbers {
		nums[i] = n.String()
	}
	return fmt.Sprintf("🎟️ Hola %s, ¡pago recibido! %s: %s. Compra #%d por Bs. %s. ¡Suerte! 🍀",
		name, label, strings.Join(nums, ", "), d.SaleID, d.AmountLocal.StringFixed(2))
}
