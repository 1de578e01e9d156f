package lyrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL      = "https://lrclib.net/api"
	defaultLookupWindow = 10 * time.Second
	defaultUserAgent    = "cantio/1.0"
)

// ErrInvalidClientConfig reports a misconfigured catalog client.
var ErrInvalidClientConfig = errors.New("lyrics: invalid catalog client config")

// Track is the catalog record returned by LRCLib for a single recording.
type Track struct {
	ID           int64   `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// CatalogClientConfig bundles configuration for the LRCLib catalog client.
type CatalogClientConfig struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Logger     *zap.Logger
}

// CatalogClient fetches lyric records from the LRCLib HTTP catalog. The
// catalog is treated as unreliable: transport failures, non-2xx statuses and
// malformed bodies all degrade to "no data" rather than errors.
type CatalogClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewCatalogClient constructs a CatalogClient with sane defaults.
func NewCatalogClient(cfg CatalogClientConfig) (*CatalogClient, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLookupWindow
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := cfg.Limiter
	if limiter == nil {
		// LRCLib is a free public service; keep request bursts small.
		limiter = rate.NewLimiter(rate.Limit(5), 5)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CatalogClient{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// Lookup fetches the catalog record for an exact (artist, title) pair. It
// returns nil when the catalog has nothing usable; it never returns an error
// because absence of lyrics is an expected outcome, not a failure.
func (c *CatalogClient) Lookup(ctx context.Context, artist, title string) *Track {
	query := url.Values{}
	query.Set("artist_name", artist)
	query.Set("track_name", title)

	body, ok := c.get(ctx, "/get", query)
	if !ok {
		return nil
	}

	var track Track
	if err := json.Unmarshal(body, &track); err != nil {
		c.logger.Warn("lyrics catalog returned malformed record",
			zap.String("artist", artist),
			zap.String("title", title),
			zap.Error(err))
		return nil
	}
	return &track
}

// Search queries the catalog with a free-form string and returns fuzzy
// matches. An empty slice is returned on any failure.
func (c *CatalogClient) Search(ctx context.Context, queryText string) []Track {
	query := url.Values{}
	query.Set("q", queryText)

	body, ok := c.get(ctx, "/search", query)
	if !ok {
		return nil
	}

	var tracks []Track
	if err := json.Unmarshal(body, &tracks); err != nil {
		c.logger.Warn("lyrics catalog returned malformed search results",
			zap.String("query", queryText),
			zap.Error(err))
		return nil
	}
	return tracks
}

func (c *CatalogClient) get(ctx context.Context, path string, query url.Values) ([]byte, bool) {
	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Warn("lyrics catalog rate wait aborted", zap.Error(err))
		return nil, false
	}

	requestURL := c.baseURL + path + "?" + query.Encode()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		c.logger.Warn("lyrics catalog request build failed", zap.Error(err))
		return nil, false
	}
	request.Header.Set("User-Agent", c.userAgent)

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("lyrics catalog unreachable", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		c.logger.Debug("lyrics catalog returned non-2xx",
			zap.String("path", path),
			zap.Int("status", response.StatusCode))
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		c.logger.Warn("lyrics catalog body read failed", zap.Error(err))
		return nil, false
	}
	return body, true
}
