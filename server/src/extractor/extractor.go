// Package extractor resolves page and stream URLs into playable stream
// metadata, caching results so rejoining a room does not re-run extraction.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/beraber/beraber/server/src/logger"
	"github.com/beraber/beraber/server/src/metrics"
	"github.com/beraber/beraber/server/src/party"
)

const extractPath = "/api/v1/ytdlp-extract"

type Extractor struct {
	client            *http.Client
	apiURL            string
	store             Store
	availabilityCheck bool
}

type Option func(*Extractor)

func WithStore(store Store) Option {
	return func(e *Extractor) { e.store = store }
}

func WithAvailabilityCheck(enabled bool) Option {
	return func(e *Extractor) { e.availabilityCheck = enabled }
}

func New(apiURL string, opts ...Option) *Extractor {
	e := &Extractor{
		client: &http.Client{Timeout: 15 * time.Second},
		apiURL: strings.TrimSuffix(apiURL, "/"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type extractRequest struct {
	URL       string `json:"url"`
	UserAgent string `json:"user_agent,omitempty"`
	Referer   string `json:"referer,omitempty"`
}

type extractResponse struct {
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Format   string  `json:"format"`
	Duration float64 `json:"duration"`
}

// Resolve implements party.VideoResolver. Direct media links shortcut the
// upstream extractor; anything else goes through it. Live HLS reports no
// duration so the clamp and end-of-video logic stay out of the way.
func (e *Extractor) Resolve(ctx context.Context, url, userAgent, referer string) (party.VideoMeta, error) {
	if cached, ok := e.cachedMeta(url); ok {
		metrics.ExtractorCacheHits.Inc()
		return cached, nil
	}
	metrics.ExtractorCacheMisses.Inc()

	meta, err := e.resolveUncached(ctx, url, userAgent, referer)
	if err != nil {
		return party.VideoMeta{}, err
	}

	if meta.Format == "hls" {
		meta.Duration = 0
	}

	if e.availabilityCheck {
		if err := e.probe(ctx, meta.URL, userAgent, referer); err != nil {
			return party.VideoMeta{}, fmt.Errorf("stream unavailable: %w", err)
		}
	}

	e.cachePut(url, meta)
	return meta, nil
}

func (e *Extractor) resolveUncached(ctx context.Context, url, userAgent, referer string) (party.VideoMeta, error) {
	if format, ok := inferFormat(url); ok {
		return party.VideoMeta{URL: url, Format: format}, nil
	}

	body, err := json.Marshal(extractRequest{URL: url, UserAgent: userAgent, Referer: referer})
	if err != nil {
		return party.VideoMeta{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL+extractPath, bytes.NewReader(body))
	if err != nil {
		return party.VideoMeta{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return party.VideoMeta{}, fmt.Errorf("extractor request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return party.VideoMeta{}, fmt.Errorf("extractor returned status %d", resp.StatusCode)
	}

	var extracted extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&extracted); err != nil {
		return party.VideoMeta{}, fmt.Errorf("extractor response: %w", err)
	}
	if extracted.URL == "" {
		return party.VideoMeta{}, fmt.Errorf("extractor returned no stream url")
	}

	format := extracted.Format
	if format == "" {
		if inferred, ok := inferFormat(extracted.URL); ok {
			format = inferred
		} else {
			format = "mp4"
		}
	}

	return party.VideoMeta{URL: extracted.URL, Title: extracted.Title, Format: format, Duration: extracted.Duration}, nil
}

// probe checks the resolved stream answers at all before it is handed to a
// whole room of players.
func (e *Extractor) probe(ctx context.Context, url, userAgent, referer string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (e *Extractor) cachedMeta(url string) (party.VideoMeta, bool) {
	if e.store == nil {
		return party.VideoMeta{}, false
	}
	cached, ok := e.store.Get(url)
	if !ok {
		return party.VideoMeta{}, false
	}
	return party.VideoMeta{URL: cached.StreamURL, Title: cached.Title, Format: cached.Format, Duration: cached.Duration}, true
}

func (e *Extractor) cachePut(url string, meta party.VideoMeta) {
	if e.store == nil {
		return
	}
	err := e.store.Put(url, CachedResult{
		StreamURL:  meta.URL,
		Title:      meta.Title,
		Format:     meta.Format,
		Duration:   meta.Duration,
		ResolvedAt: time.Now().Unix(),
	})
	if err != nil {
		logger.Warnw("failed to cache extraction", "url", url, "error", err)
	}
}

func inferFormat(url string) (string, bool) {
	trimmed := url
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	switch strings.ToLower(path.Ext(trimmed)) {
	case ".m3u8":
		return "hls", true
	case ".webm":
		return "webm", true
	case ".mp4", ".mkv", ".avi", ".mov", ".ts":
		return "mp4", true
	}
	return "", false
}
