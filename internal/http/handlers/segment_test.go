package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsgate/hlsgate/internal/proxy"
)

func segmentRequest(target string, extra string, rangeHeader string) *http.Request {
	u := "/ts-proxy?url=" + url.QueryEscape(target)
	if extra != "" {
		u += "&" + extra
	}
	req := httptest.NewRequest(http.MethodGet, u, nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req
}

func TestServeSegmentMissingURL(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeSegment(rec, httptest.NewRequest(http.MethodGet, "/ts-proxy", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "url parameter required", decodeError(t, rec))
}

func TestServeSegmentCacheHit(t *testing.T) {
	h, svc := newTestHandler(t)

	target := "http://origin.example.com/seg.ts"
	svc.Segments().Put(target, []byte("cached"), http.Header{"Content-Type": []string{"video/mp2t"}})

	rec := httptest.NewRecorder()
	h.ServeSegment(rec, segmentRequest(target, "", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cached", rec.Body.String())
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeSegmentTailHit(t *testing.T) {
	h, svc := newTestHandler(t)

	target := "http://origin.example.com/movie.mp4"
	data := make([]byte, 100)
	svc.Tails().Put(target, data, proxy.ContentRange{Start: 900, End: 999, Total: 1000})

	rec := httptest.NewRecorder()
	h.ServeSegment(rec, segmentRequest(target, "", "bytes=950-"))

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 950-999/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "50", rec.Header().Get("Content-Length"))
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Len(t, rec.Body.Bytes(), 50)
}

func TestServeSegmentUpstreamErrorForwarded(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeSegment(rec, segmentRequest(upstream.URL+"/seg.ts", "tailPrefetch=0", ""))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "segment fetch failed: 403", decodeError(t, rec))
}

func TestServeSegmentBoundedRangePassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=100-199", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 100-199/1000")
		w.Header().Set("Content-Type", "video/mp2t")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 100))
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeSegment(rec, segmentRequest(upstream.URL+"/seg.ts", "", "bytes=100-199"))

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 100-199/1000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
}

func TestServeSegmentProgressiveGrowth(t *testing.T) {
	var gotRanges []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRanges = append(gotRanges, r.Header.Get("Range"))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-4194303/%d", 256*1024*1024))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("x"))
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t)
	target := upstream.URL + "/movie.mp4"

	for i := 1; i <= 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeSegment(rec, segmentRequest(target, "tailPrefetch=0", "bytes=0-"))
		assert.Equal(t, http.StatusPartialContent, rec.Code)
	}

	require.Len(t, gotRanges, 2)
	assert.Equal(t, "bytes=0-4194303", gotRanges[0])
	assert.Equal(t, "bytes=0-8388607", gotRanges[1])
}

func TestServeSegmentForce200(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// force200 strips the Range header before the upstream call.
		assert.Empty(t, r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 0-999/1000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 1000))
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeSegment(rec, segmentRequest(upstream.URL+"/seg.ts", "force200=1&tailPrefetch=0", "bytes=0-"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Range"))
}

func TestServeSegmentSynthesizedChunk(t *testing.T) {
	const total = 10 * 1024 * 1024
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(total))
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		assert.Equal(t, "bytes=0-524287", r.Header.Get("Range"))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-524287/%d", total))
		w.Header().Set("Content-Length", "524288")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(make([]byte, 512*1024))
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeSegment(rec, segmentRequest(upstream.URL+"/movie.mp4", "progressiveOpen=0&tailPrefetch=0", ""))

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, fmt.Sprintf("bytes 0-524287/%d", total), rec.Header().Get("Content-Range"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Len(t, rec.Body.Bytes(), 512*1024)
}

func TestServeSegmentNoSynthFetchesFull(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "1000")
			return
		}
		assert.Empty(t, r.Header.Get("Range"))
		w.Write(make([]byte, 1000))
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeSegment(rec, segmentRequest(upstream.URL+"/seg.ts", "progressiveOpen=0&noSynth=1&tailPrefetch=0", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, rec.Body.Bytes(), 1000)
}

func TestServeSegmentKicksOffTailPrefetch(t *testing.T) {
	const total = 1024 * 1024
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(total))
			return
		}
		if rng := r.Header.Get("Range"); rng != "" {
			start := total - 256*1024
			assert.Equal(t, fmt.Sprintf("bytes=%d-", start), rng)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, total-1, total))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(make([]byte, 256*1024))
			return
		}
		w.Write(make([]byte, total))
	}))
	defer upstream.Close()

	h, svc := newTestHandler(t)
	target := upstream.URL + "/movie.mp4"

	rec := httptest.NewRecorder()
	h.ServeSegment(rec, segmentRequest(target, "noSynth=1", ""))
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.Stop()
	assert.True(t, svc.Tails().Has(target))
}

func TestServeSegmentContentLengthFromContentRange(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-99/1000")
		// No Content-Length from upstream; the proxy derives it.
		w.WriteHeader(http.StatusPartialContent)
		w.(http.Flusher).Flush()
		w.Write(make([]byte, 100))
	}))
	defer upstream.Close()

	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeSegment(rec, segmentRequest(upstream.URL+"/seg.ts", "tailPrefetch=0", "bytes=0-99"))

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))
}
