package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/fjod/wa-commerce/internal/domain"
)

var ErrNotWhatsApp = errors.New("payload is not a whatsapp business account event")

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WaID string `json:"wa_id"`
	} `json:"contacts"`
	Messages []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Order *struct {
		CatalogID    string `json:"catalog_id"`
		ProductItems []struct {
			ProductRetailerID string  `json:"product_retailer_id"`
			Quantity          int     `json:"quantity"`
			ItemPrice         float64 `json:"item_price"`
			Currency          string  `json:"currency"`
		} `json:"product_items"`
	} `json:"order"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
		Address   string  `json:"address"`
	} `json:"location"`
}

// ParseWebhook decodes a Cloud API delivery into inbound messages. Status
// updates and other change fields yield no messages.
func ParseWebhook(body []byte) ([]domain.InboundMessage, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, domain.NewValidationError("body", fmt.Sprintf("invalid json: %v", err))
	}
	if p.Object != "whatsapp_business_account" {
		return nil, ErrNotWhatsApp
	}

	var out []domain.InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			v := change.Value
			for i, m := range v.Messages {
				msg := convert(m)
				msg.PhoneNumberID = v.Metadata.PhoneNumberID
				msg.Name = contactName(v, m.From, i)
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

func contactName(v webhookValue, from string, index int) string {
	for _, c := range v.Contacts {
		if c.WaID == from {
			return c.Profile.Name
		}
	}
	if index < len(v.Contacts) {
		return v.Contacts[index].Profile.Name
	}
	return ""
}

func convert(m webhookMessage) domain.InboundMessage {
	msg := domain.InboundMessage{
		From:      m.From,
		MessageID: m.ID,
		Type:      domain.MessageType(m.Type),
		Timestamp: parseTimestamp(m.Timestamp),
	}

	switch {
	case m.Text != nil:
		msg.Text = m.Text.Body
	case m.Order != nil:
		order := &domain.CatalogOrder{CatalogID: m.Order.CatalogID}
		for _, it := range m.Order.ProductItems {
			order.Items = append(order.Items, domain.CatalogOrderItem{
				ProductRetailerID: it.ProductRetailerID,
				Quantity:          it.Quantity,
				ItemPriceMinor:    int64(math.Round(it.ItemPrice)),
				Currency:          it.Currency,
			})
		}
		msg.Order = order
	case m.Interactive != nil:
		if r := m.Interactive.ButtonReply; r != nil {
			msg.Interactive = &domain.InteractiveReply{ID: r.ID, Title: r.Title}
		} else if r := m.Interactive.ListReply; r != nil {
			msg.Interactive = &domain.InteractiveReply{ID: r.ID, Title: r.Title}
		}
	case m.Location != nil:
		msg.Location = &domain.LocationShare{
			Latitude:  m.Location.Latitude,
			Longitude: m.Location.Longitude,
			Name:      m.Location.Name,
			Address:   m.Location.Address,
		}
	}
	return msg
}

func parseTimestamp(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
