// Package notify composes and delivers special-order notices.
//
// Compose is pure. Delivery goes through a Sender so the pipeline can persist
// the composed content whether or not delivery succeeds.
package notify

import (
	"context"
	"fmt"
	"strings"

	"order-splitter/internal/model"
)

// Message is a composed notice ready for delivery.
type Message struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Sender delivers a composed message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Compose builds the notice for an order's special items.
//
//	Special order #1001 from Main Store
//
//	Customer
//	  Jane Doe
//	  1 Main St
//	  Austin, TX 78701
//	  US
//	  Phone: 555-0100
//
//	Items
//	  Engraved Mug
//	    SKU: DOD-2
//	    Quantity: 1
//	    Engraving: Happy Birthday
func Compose(special []model.OrderItem, order model.Order, store model.StoreConfig) Message {
	subject := fmt.Sprintf("Special order #%s from %s", order.OrderNumber, store.StoreName)

	var b strings.Builder
	b.WriteString(subject)
	b.WriteString("\n\n")

	b.WriteString("Customer\n")
	for _, line := range addressLines(order.ShipTo) {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteString("\nItems\n")
	for i, item := range special {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "  %s\n", item.Name)
		fmt.Fprintf(&b, "    SKU: %s\n", item.SKU)
		fmt.Fprintf(&b, "    Quantity: %d\n", item.Quantity)
		for _, opt := range item.Options {
			fmt.Fprintf(&b, "    %s: %s\n", opt.Name, opt.Value)
		}
	}

	return Message{
		Recipient: store.NotificationEmail,
		Subject:   subject,
		Body:      b.String(),
	}
}

// addressLines formats a ship-to address, skipping empty parts.
func addressLines(a model.Address) []string {
	var lines []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			lines = append(lines, s)
		}
	}

	add(a.Name)
	add(a.Street1)
	add(a.Street2)
	add(a.Street3)

	cityLine := a.City
	if region := strings.TrimSpace(a.State + " " + a.PostalCode); region != "" {
		if cityLine != "" {
			cityLine += ", "
		}
		cityLine += region
	}
	add(cityLine)
	add(a.Country)

	if a.Phone != "" {
		add("Phone: " + a.Phone)
	}
	return lines
}
