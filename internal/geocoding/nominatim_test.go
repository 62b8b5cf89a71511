package geocoding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/wa-commerce/internal/cache"
	"github.com/fjod/wa-commerce/internal/domain"
	"github.com/fjod/wa-commerce/internal/logger"
	"github.com/fjod/wa-commerce/internal/metrics"
)

const banjaraHills = `{
  "display_name": "Road No 12, Banjara Hills, Hyderabad, Telangana, 500034, India",
  "address": {
    "road": "Road No 12",
    "suburb": "Banjara Hills",
    "city": "Hyderabad",
    "state": "Telangana",
    "postcode": "500034",
    "country": "India"
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, store cache.GeocodeStore) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{URL: srv.URL, UserAgent: "wa-commerce-test", RPS: 100}, store, logger.Discard(), metrics.NewNop())
}

func TestReverse_ParsesNominatimAddress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wa-commerce-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "17.41", r.URL.Query().Get("lat"))
		assert.Equal(t, "78.44", r.URL.Query().Get("lon"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(banjaraHills))
	}, nil)

	res, err := c.Reverse(context.Background(), 17.41, 78.44)
	require.NoError(t, err)
	assert.Equal(t, "Road No 12", res.StreetAddress)
	assert.Equal(t, "Hyderabad", res.Locality)
	assert.Equal(t, "Telangana", res.AdminArea)
	assert.Equal(t, "500034", res.PostalCode)
	assert.Equal(t, domain.ConfidenceHigh, res.Confidence)
	assert.Equal(t, "Road No 12, Hyderabad, Telangana, PIN: 500034", FormatDeliveryAddress(res, "India"))
}

func TestReverse_EmptyAnswer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}, nil)

	_, err := c.Reverse(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestReverse_ServerErrorIsExternal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	_, err := c.Reverse(context.Background(), 1, 1)
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))
}

func TestReverse_UsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(banjaraHills))
	}, cache.NewGeocodeCache(rdb, time.Hour))

	for i := 0; i < 3; i++ {
		res, err := c.Reverse(context.Background(), 17.41, 78.44)
		require.NoError(t, err)
		assert.Equal(t, "Hyderabad", res.Locality)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestReverse_ThrottlesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(banjaraHills))
	}))
	defer srv.Close()
	c := NewClient(Config{URL: srv.URL, UserAgent: "t", RPS: 10}, nil, logger.Discard(), metrics.NewNop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Reverse(context.Background(), 1, float64(i))
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestReverse_ContextCancelledWhileThrottled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(banjaraHills))
	}, nil)
	c.limiter.SetLimit(0.1)
	_, err := c.Reverse(context.Background(), 1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Reverse(ctx, 1, 2)
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))
}

func TestAssessConfidence(t *testing.T) {
	tests := []struct {
		name string
		addr map[string]string
		want domain.Confidence
	}{
		{"street city postcode", map[string]string{"road": "MG Road", "city": "Pune", "postcode": "411001"}, domain.ConfidenceHigh},
		{"city and postcode", map[string]string{"town": "Nashik", "postcode": "422001"}, domain.ConfidenceMedium},
		{"city and street", map[string]string{"village": "Kasar", "street": "Main St"}, domain.ConfidenceMedium},
		{"city only", map[string]string{"city": "Pune"}, domain.ConfidenceLow},
		{"no city", map[string]string{"road": "NH 48", "postcode": "411001"}, domain.ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AssessConfidence(tt.addr))
		})
	}
}

func TestFormatDeliveryAddress(t *testing.T) {
	t.Run("foreign country is kept", func(t *testing.T) {
		r := &domain.GeocodeResult{Locality: "Dubai", Country: "United Arab Emirates"}
		assert.Equal(t, "Dubai, United Arab Emirates", FormatDeliveryAddress(r, "India"))
	})
	t.Run("falls back to display name", func(t *testing.T) {
		r := &domain.GeocodeResult{FormattedAddress: "Somewhere", Country: "India"}
		assert.Equal(t, "Somewhere", FormatDeliveryAddress(r, "India"))
	})
	t.Run("pin only", func(t *testing.T) {
		r := &domain.GeocodeResult{AdminArea: "Telangana", PostalCode: "500040"}
		assert.Equal(t, "Telangana, PIN: 500040", FormatDeliveryAddress(r, "India"))
	})
}

func TestReverse_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, nil)

	for i := 0; i < 7; i++ {
		_, err := c.Reverse(context.Background(), 1, float64(i))
		require.Error(t, err)
	}
	assert.Equal(t, int32(5), hits.Load())

	_, err := c.Reverse(context.Background(), 1, 1)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
}
