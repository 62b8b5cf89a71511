package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/fjod/wa-commerce/internal/cache"
	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/metrics"
)

// ErrNoResult means the geocoder answered but had nothing for the coordinates.
var ErrNoResult = errors.New("no geocoding result")

type Config struct {
	URL       string
	UserAgent string
	RPS       float64
	Timeout   time.Duration
}

// Client reverse-geocodes through Nominatim. Requests are throttled to the
// service's published rate and answers are cached by coordinates.
type Client struct {
	url       string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[*domain.GeocodeResult]
	cache     cache.GeocodeStore
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewClient(cfg Config, store cache.GeocodeStore, logger *slog.Logger, m *metrics.Metrics) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		url:       cfg.URL,
		userAgent: cfg.UserAgent,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		breaker: gobreaker.NewCircuitBreaker[*domain.GeocodeResult](gobreaker.Settings{
			Name:    "nominatim",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// an empty answer is not an outage
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNoResult)
			},
		}),
		cache:   store,
		logger:  logger,
		metrics: m,
	}
}

type nominatimResponse struct {
	DisplayName string            `json:"display_name"`
	Error       string            `json:"error"`
	Address     map[string]string `json:"address"`
}

// Reverse returns the structured address at lat/lng.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*domain.GeocodeResult, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, lat, lng)
		if err == nil {
			c.metrics.GeocodeRequests.WithLabelValues("cache_hit").Inc()
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("geocode cache read failed", "error", err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewExternalServiceError("geocoding", "throttle", err)
	}

	result, err := c.breaker.Execute(func() (*domain.GeocodeResult, error) {
		return c.fetch(ctx, lat, lng)
	})
	if err != nil {
		if errors.Is(err, ErrNoResult) {
			c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
			return nil, err
		}
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return nil, domain.NewExternalServiceError("geocoding", "reverse", err)
	}
	c.metrics.GeocodeRequests.WithLabelValues("ok").Inc()

	if c.cache != nil {
		if err := c.cache.Set(ctx, lat, lng, result); err != nil {
			c.logger.Warn("geocode cache write failed", "error", err)
		}
	}
	return result, nil
}

func (c *Client) fetch(ctx context.Context, lat, lng float64) (*domain.GeocodeResult, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("format", "json")
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim returned status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode nominatim response: %w", err)
	}
	if body.Error != "" || (body.DisplayName == "" && len(body.Address) == 0) {
		return nil, ErrNoResult
	}

	return toResult(body), nil
}

func toResult(body nominatimResponse) *domain.GeocodeResult {
	addr := body.Address
	street := strings.TrimSpace(strings.Join(nonEmpty(addr["house_number"], addr["road"]), " "))

	return &domain.GeocodeResult{
		FormattedAddress: body.DisplayName,
		StreetAddress:    street,
		Locality:         first(addr["city"], addr["town"], addr["village"], addr["suburb"], addr["county"]),
		AdminArea:        first(addr["state"], addr["state_district"]),
		PostalCode:       addr["postcode"],
		Country:          addr["country"],
		Confidence:       AssessConfidence(addr),
	}
}

// AssessConfidence grades a Nominatim address by which components it carries.
func AssessConfidence(addr map[string]string) domain.Confidence {
	hasStreet := addr["road"] != "" || addr["street"] != ""
	hasCity := addr["city"] != "" || addr["town"] != "" || addr["village"] != ""
	hasPostcode := addr["postcode"] != ""

	switch {
	case hasStreet && hasCity && hasPostcode:
		return domain.ConfidenceHigh
	case hasCity && (hasStreet || hasPostcode):
		return domain.ConfidenceMedium
	}
	return domain.ConfidenceLow
}

// FormatDeliveryAddress renders a result as "street, locality, area, PIN: code[, country]".
// The country is omitted when it is defaultCountry.
func FormatDeliveryAddress(r *domain.GeocodeResult, defaultCountry string) string {
	parts := nonEmpty(r.StreetAddress, r.Locality, r.AdminArea)
	if r.PostalCode != "" {
		parts = append(parts, "PIN: "+r.PostalCode)
	}
	if r.Country != "" && r.Country != defaultCountry {
		parts = append(parts, r.Country)
	}
	if len(parts) == 0 {
		return r.FormattedAddress
	}
	return strings.Join(parts, ", ")
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
