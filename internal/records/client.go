package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/smukkama/weather-client/internal/apperrors"
)

// Defaults for the weather store client
const (
	DefaultTimeout   = 10 * time.Second
	DefaultCacheSize = 128

	breakerCooldown = 30 * time.Second
)

// Options configures a weather store client
type Options struct {
	// BaseURL is the root of the weather store REST API
	BaseURL string

	// Timeout bounds each round trip. Defaults to DefaultTimeout.
	Timeout time.Duration

	// CacheSize is the number of fetched records kept in memory.
	// Defaults to DefaultCacheSize.
	CacheSize int

	// Logger is the structured logger to use. Defaults to a new logrus logger.
	Logger *logrus.Logger
}

// Client talks to the weather record store. Fetched records are cached
// (records are immutable once created) and round trips run behind a circuit
// breaker so a dead backend fails fast.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	cache      *lru.Cache
	validate   *validator.Validate
	log        *logrus.Entry
}

// NewClient creates a weather store client
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("weather store base URL is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create record cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "weather-store",
		Timeout: breakerCooldown,
		// Rejections from the backend are the caller's problem, not a sign
		// the store is down; only transport failures count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || apperrors.IsKind(err, apperrors.KindRemoteRejected)
		},
	})

	return &Client{
		baseURL:    opts.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		cache:      cache,
		validate:   validator.New(),
		log:        logger.WithField("component", "weather_store"),
	}, nil
}

// Create submits a new weather record and returns its generated id
func (c *Client) Create(ctx context.Context, req CreateRequest) (string, error) {
	if err := c.validate.Struct(req); err != nil {
		return "", apperrors.Wrap(apperrors.KindInvalidInput, "invalid weather request", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode weather request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/weather", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	var resp createResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", apperrors.Wrap(apperrors.KindMalformedMessage, "decode create response", err)
	}
	if resp.ID == "" {
		return "", apperrors.RemoteRejected("create response is missing the record id")
	}

	c.log.WithField("weather_id", resp.ID).Debug("Weather record created")
	return resp.ID, nil
}

// Get fetches a weather record by id, serving repeat lookups from the cache
func (c *Client) Get(ctx context.Context, id string) (*WeatherRecord, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("record id is required")
	}

	if cached, ok := c.cache.Get(id); ok {
		return cached.(*WeatherRecord), nil
	}

	data, err := c.do(ctx, http.MethodGet, "/weather/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var record WeatherRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, apperrors.Wrap(apperrors.KindMalformedMessage, "decode weather record", err)
	}

	c.cache.Add(id, &record)
	return &record, nil
}

// do executes one round trip behind the circuit breaker and returns the
// response body of a 2xx response
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, apperrors.ConnectionLost("weather store request failed", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apperrors.ConnectionLost("failed to read weather store response", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var errResp errorResponse
			if json.Unmarshal(data, &errResp) == nil && errResp.Detail != "" {
				return nil, apperrors.RemoteRejected(errResp.Detail)
			}
			return nil, apperrors.RemoteRejected(fmt.Sprintf("weather store returned status %d", resp.StatusCode))
		}

		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.ConnectionLost("weather store unavailable", err)
		}
		return nil, err
	}

	return result.([]byte), nil
}
