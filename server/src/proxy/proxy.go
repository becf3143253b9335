// Package proxy relays media streams for players that cannot reach the
// origin directly, rewriting HLS playlists so every segment request flows
// back through it and caching hot segments in memory.
package proxy

import (
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/beraber/beraber/server/src/logger"
	"github.com/beraber/beraber/server/src/metrics"
)

// Segments above this size stream straight through instead of being cached.
const maxCacheableSegment = 16 * 1024 * 1024

type Proxy struct {
	client *http.Client
	cache  *SegmentCache
}

func New(cache *SegmentCache) *Proxy {
	return &Proxy{
		client: &http.Client{Timeout: 30 * time.Second},
		cache:  cache,
	}
}

// VideoHandler serves /proxy/video?url=...  Manifests are rewritten on the
// fly; segments are cached. Range requests bypass the cache entirely, the
// cache stores whole objects only.
func (p *Proxy) VideoHandler(w http.ResponseWriter, r *http.Request) {
	target, ok := targetURL(w, r)
	if !ok {
		return
	}
	userAgent := r.URL.Query().Get("user_agent")
	referer := r.URL.Query().Get("referer")

	rangeHeader := r.Header.Get("Range")
	cacheable := rangeHeader == ""

	if cacheable {
		if data, contentType, hit := p.cache.Get(target.String()); hit {
			metrics.ProxyCacheHits.Inc()
			writeCORS(w)
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("X-Cache", "HIT")
			w.Write(data)
			return
		}
		metrics.ProxyCacheMisses.Inc()
	}

	resp, err := p.fetch(r, target, userAgent, referer, rangeHeader)
	if err != nil {
		logger.Warnw("proxy fetch failed", "url", target.String(), "error", err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		http.Error(w, "upstream error", resp.StatusCode)
		return
	}

	contentType := resp.Header.Get("Content-Type")

	if isManifest(contentType, target.String()) {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxCacheableSegment))
		if err != nil {
			http.Error(w, "upstream read failed", http.StatusBadGateway)
			return
		}
		rewritten := rewriteManifest(body, target, func(absolute string) string {
			return p.wrapURL(absolute, userAgent, referer)
		})
		writeCORS(w)
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write(rewritten)
		return
	}

	writeCORS(w)
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	copyRangeHeaders(w, resp)

	if cacheable && resp.ContentLength >= 0 && resp.ContentLength <= maxCacheableSegment {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return
		}
		p.cache.Put(target.String(), data, contentType)
		w.Write(data)
		return
	}

	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// SubtitleHandler serves /proxy/subtitle?url=... as a plain pass-through
// with permissive CORS, which is all browser subtitle tracks need.
func (p *Proxy) SubtitleHandler(w http.ResponseWriter, r *http.Request) {
	target, ok := targetURL(w, r)
	if !ok {
		return
	}

	resp, err := p.fetch(r, target, r.URL.Query().Get("user_agent"), r.URL.Query().Get("referer"), "")
	if err != nil {
		logger.Warnw("subtitle fetch failed", "url", target.String(), "error", err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		http.Error(w, "upstream error", resp.StatusCode)
		return
	}

	writeCORS(w)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/vtt"
	}
	w.Header().Set("Content-Type", contentType)
	io.Copy(w, resp.Body)
}

func (p *Proxy) fetch(r *http.Request, target *url.URL, userAgent, referer, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return p.client.Do(req)
}

func (p *Proxy) wrapURL(absolute, userAgent, referer string) string {
	q := url.Values{}
	q.Set("url", absolute)
	if userAgent != "" {
		q.Set("user_agent", userAgent)
	}
	if referer != "" {
		q.Set("referer", referer)
	}
	return "/proxy/video?" + q.Encode()
}

func targetURL(w http.ResponseWriter, r *http.Request) (*url.URL, bool) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "url parameter required", http.StatusBadRequest)
		return nil, false
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		http.Error(w, "invalid url", http.StatusBadRequest)
		return nil, false
	}
	return target, true
}

func copyRangeHeaders(w http.ResponseWriter, resp *http.Response) {
	for _, h := range []string{"Content-Range", "Accept-Ranges", "Content-Length"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
}

func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Range, Content-Type")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")
}
