package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/logger"
	"github.com/fjod/wa-commerce/internal/metrics"
)

type captured struct {
	mu     sync.Mutex
	path   string
	auth   string
	bodies []map[string]any
}

func (c *captured) last() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies[len(c.bodies)-1]
}

func setupClient(t *testing.T, status int, response string) (*Client, *captured) {
	rec := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		assert.NoError(t, json.Unmarshal(raw, &body))
		rec.mu.Lock()
		rec.path = r.URL.Path
		rec.auth = r.Header.Get("Authorization")
		rec.bodies = append(rec.bodies, body)
		rec.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	cfg := domain.WhatsAppConfig{PhoneNumberID: "1098", AccessToken: "tok", CatalogID: "cat_9", APIVersion: "v18.0"}
	return NewClient(srv.URL, cfg, srv.Client(), logger.Discard(), metrics.NewNop()), rec
}

func TestSendText(t *testing.T) {
	c, rec := setupClient(t, http.StatusOK, `{"messages":[{"id":"wamid.1"}]}`)

	require.NoError(t, c.SendText(context.Background(), "919800000001", "hello"))

	assert.Equal(t, "/v18.0/1098/messages", rec.path)
	assert.Equal(t, "Bearer tok", rec.auth)
	body := rec.last()
	assert.Equal(t, "whatsapp", body["messaging_product"])
	assert.Equal(t, "919800000001", body["to"])
	assert.Equal(t, "text", body["type"])
	assert.Equal(t, "hello", body["text"].(map[string]any)["body"])
}

func TestSendButtons_TruncatesTitles(t *testing.T) {
	c, rec := setupClient(t, http.StatusOK, `{}`)

	err := c.SendButtons(context.Background(), "91", "pick one", []domain.Button{
		{ID: "view_catalog", Title: "🛍️ View Collection"},
		{ID: "long", Title: "This title is far longer than twenty"},
	})
	require.NoError(t, err)

	inter := rec.last()["interactive"].(map[string]any)
	assert.Equal(t, "button", inter["type"])
	assert.Equal(t, map[string]any{"text": "pick one"}, inter["body"])
	buttons := inter["action"].(map[string]any)["buttons"].([]any)
	require.Len(t, buttons, 2)
	second := buttons[1].(map[string]any)["reply"].(map[string]any)
	assert.Equal(t, "long", second["id"])
	assert.Equal(t, "This title is far lo", second["title"])
}

func TestSendCatalog_WithThumbnail(t *testing.T) {
	c, rec := setupClient(t, http.StatusOK, `{}`)

	require.NoError(t, c.SendCatalog(context.Background(), "91", "", "sku-1"))

	inter := rec.last()["interactive"].(map[string]any)
	assert.Equal(t, "catalog_message", inter["type"])
	assert.Equal(t, defaultCatalogBody, inter["body"].(map[string]any)["text"])
	act := inter["action"].(map[string]any)
	assert.Equal(t, "catalog_message", act["name"])
	assert.Equal(t, "sku-1", act["parameters"].(map[string]any)["thumbnail_product_retailer_id"])
}

func TestSendCatalog_WithoutThumbnail(t *testing.T) {
	c, rec := setupClient(t, http.StatusOK, `{}`)

	require.NoError(t, c.SendCatalog(context.Background(), "91", "Our picks", ""))

	act := rec.last()["interactive"].(map[string]any)["action"].(map[string]any)
	_, hasParams := act["parameters"]
	assert.False(t, hasParams)
}

func TestSendDocument(t *testing.T) {
	c, rec := setupClient(t, http.StatusOK, `{}`)

	doc := domain.Document{URL: "https://shop.example/receipts/ORD-1.pdf", Filename: "ORD-1.pdf", Caption: "Receipt"}
	require.NoError(t, c.SendDocument(context.Background(), "91", doc))

	body := rec.last()
	assert.Equal(t, "document", body["type"])
	d := body["document"].(map[string]any)
	assert.Equal(t, doc.URL, d["link"])
	assert.Equal(t, "ORD-1.pdf", d["filename"])
}

func TestMarkRead(t *testing.T) {
	c, rec := setupClient(t, http.StatusOK, `{"success":true}`)

	require.NoError(t, c.MarkRead(context.Background(), "wamid.1"))

	body := rec.last()
	assert.Equal(t, "read", body["status"])
	assert.Equal(t, "wamid.1", body["message_id"])
	_, hasTo := body["to"]
	assert.False(t, hasTo)
}

func TestSend_GraphErrorIsExternal(t *testing.T) {
	c, _ := setupClient(t, http.StatusUnauthorized, `{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`)

	err := c.SendText(context.Background(), "91", "hi")
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))
	assert.Contains(t, err.Error(), "Invalid OAuth access token")
}

func TestTruncateTitle_CountsRunes(t *testing.T) {
	assert.Equal(t, "short", TruncateTitle("short"))
	assert.Equal(t, 20, len([]rune(TruncateTitle("₹₹₹₹₹₹₹₹₹₹₹₹₹₹₹₹₹₹₹₹₹₹₹₹"))))
}

func TestSendProduct(t *testing.T) {
	c, rec := setupClient(t, http.StatusOK, `{}`)

	require.NoError(t, c.SendProduct(context.Background(), "91", "sku-7", "Handwoven saree"))

	inter := rec.last()["interactive"].(map[string]any)
	assert.Equal(t, "product", inter["type"])
	assert.Equal(t, map[string]any{"text": "Handwoven saree"}, inter["body"])
	act := inter["action"].(map[string]any)
	assert.Equal(t, "cat_9", act["catalog_id"])
	assert.Equal(t, "sku-7", act["product_retailer_id"])
}
