package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/metrics"
)

const defaultCatalogBody = "Browse our collection! Tap on items to view details and add to cart."

// NewHTTPClient returns the traced client shared by every tenant's Client.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Client sends messages from one business phone number through the Cloud API.
type Client struct {
	endpoint    string
	accessToken string
	catalogID   string
	http        *http.Client
	breaker     *gobreaker.CircuitBreaker[struct{}]
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func NewClient(baseURL string, cfg domain.WhatsAppConfig, httpClient *http.Client, logger *slog.Logger, m *metrics.Metrics) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = domain.DefaultWhatsAppAPIVersion
	}
	return &Client{
		endpoint:    fmt.Sprintf("%s/%s/%s/messages", baseURL, version, cfg.PhoneNumberID),
		accessToken: cfg.AccessToken,
		catalogID:   cfg.CatalogID,
		http:        httpClient,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    "whatsapp:" + cfg.PhoneNumberID,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
		logger:  logger.With("phone_number_id", cfg.PhoneNumberID),
		metrics: m,
	}
}

type textBody struct {
	Body string `json:"body"`
}

type interactiveBody struct {
	Text string `json:"text"`
}

type message struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to,omitempty"`
	Type             string       `json:"type,omitempty"`
	Text             *textBody    `json:"text,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
	Document         *document    `json:"document,omitempty"`
	Status           string       `json:"status,omitempty"`
	MessageID        string       `json:"message_id,omitempty"`
}

type interactive struct {
	Type   string          `json:"type"`
	Body   interactiveBody `json:"body"`
	Action action          `json:"action"`
}

type action struct {
	Name              string        `json:"name,omitempty"`
	Buttons           []replyButton `json:"buttons,omitempty"`
	CatalogID         string        `json:"catalog_id,omitempty"`
	ProductRetailerID string        `json:"product_retailer_id,omitempty"`
	Parameters        *actionParams `json:"parameters,omitempty"`
}

type actionParams struct {
	ThumbnailProductRetailerID string `json:"thumbnail_product_retailer_id"`
}

type replyButton struct {
	Type  string `json:"type"`
	Reply reply  `json:"reply"`
}

type reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type document struct {
	Link     string `json:"link"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

func outbound(to, kind string) message {
	return message{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: kind}
}

func (c *Client) SendText(ctx context.Context, to, body string) error {
	msg := outbound(to, "text")
	msg.Text = &textBody{Body: body}
	return c.send(ctx, "text", msg)
}

// SendButtons sends body with reply buttons. Titles are cut to the channel limit.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []domain.Button) error {
	replies := make([]replyButton, 0, len(buttons))
	for _, b := range buttons {
		replies = append(replies, replyButton{Type: "reply", Reply: reply{ID: b.ID, Title: TruncateTitle(b.Title)}})
	}
	msg := outbound(to, "interactive")
	msg.Interactive = &interactive{
		Type:   "button",
		Body:   interactiveBody{Text: body},
		Action: action{Buttons: replies},
	}
	return c.send(ctx, "buttons", msg)
}

// SendCatalog opens the business catalog, anchored on thumbnailProductID when set.
func (c *Client) SendCatalog(ctx context.Context, to, body, thumbnailProductID string) error {
	if body == "" {
		body = defaultCatalogBody
	}
	msg := outbound(to, "interactive")
	msg.Interactive = &interactive{
		Type:   "catalog_message",
		Body:   interactiveBody{Text: body},
		Action: action{Name: "catalog_message"},
	}
	if thumbnailProductID != "" {
		msg.Interactive.Action.Parameters = &actionParams{ThumbnailProductRetailerID: thumbnailProductID}
	}
	return c.send(ctx, "catalog", msg)
}

// SendProduct shows a single catalog item.
func (c *Client) SendProduct(ctx context.Context, to, productRetailerID, body string) error {
	msg := outbound(to, "interactive")
	msg.Interactive = &interactive{
		Type:   "product",
		Body:   interactiveBody{Text: body},
		Action: action{CatalogID: c.catalogID, ProductRetailerID: productRetailerID},
	}
	return c.send(ctx, "product", msg)
}

func (c *Client) SendDocument(ctx context.Context, to string, doc domain.Document) error {
	msg := outbound(to, "document")
	msg.Document = &document{Link: doc.URL, Filename: doc.Filename, Caption: doc.Caption}
	return c.send(ctx, "document", msg)
}

func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	msg := message{MessagingProduct: "whatsapp", Status: "read", MessageID: messageID}
	return c.send(ctx, "read", msg)
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) send(ctx context.Context, kind string, msg message) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.post(ctx, msg)
	})
	if err != nil {
		c.metrics.OutboundMessages.WithLabelValues(kind, "error").Inc()
		return domain.NewExternalServiceError("whatsapp", "send "+kind, err)
	}
	c.metrics.OutboundMessages.WithLabelValues(kind, "ok").Inc()
	c.logger.Debug("whatsapp message sent", "type", kind, "to", msg.To)
	return nil
}

func (c *Client) post(ctx context.Context, msg message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("graph api status %d: %s (code %d)", resp.StatusCode, apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("graph api status %d", resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// TruncateTitle cuts a button title to MaxButtonTitle runes.
func TruncateTitle(title string) string {
	r := []rune(title)
	if len(r) <= domain.MaxButtonTitle {
		return title
	}
	return string(r[:domain.MaxButtonTitle])
}
