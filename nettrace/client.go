// Package nettrace wraps http.Client with per-request phase timings.
package nettrace

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"hark/log"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

// Timings converts to the log package's summary.
func (m *NetworkMetrics) Timings() log.Timings {
	if m == nil {
		return log.Timings{}
	}
	return log.Timings{DNS: m.DNS, TLS: m.TLS, TTFB: m.TTFB, Total: m.Total, ConnReused: m.ConnReused}
}

type Client struct {
	client  *http.Client
	warmURL string
}

// New returns a client with a small keep-alive pool. warmURL, if set, is
// what Warm sends a HEAD request to.
func New(warmURL string) *Client {
	return &Client{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		warmURL: warmURL,
	}
}

type Response struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

// tracer records phase timings into metrics. The returned function reports
// when the first response byte arrived.
func tracer(metrics *NetworkMetrics) (*httptrace.ClientTrace, func() time.Time) {
	var mu sync.Mutex
	var getConnStart, dnsStart, tcpStart, tlsStart time.Time
	var gotConn, wroteHeaders, wroteRequest, firstByte time.Time

	trace := &httptrace.ClientTrace{
		GetConn: func(_ string) { getConnStart = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			gotConn = time.Now()
			metrics.ConnWait = gotConn.Sub(getConnStart)
			metrics.ConnReused = info.Reused
		},
		DNSStart:          func(_ httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:           func(_ httptrace.DNSDoneInfo) { metrics.DNS = time.Since(dnsStart) },
		ConnectStart:      func(_, _ string) { tcpStart = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { metrics.TCP = time.Since(tcpStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			metrics.TLS = time.Since(tlsStart)
			metrics.TLSProtocol = cs.NegotiatedProtocol
		},
		WroteHeaders: func() {
			wroteHeaders = time.Now()
			metrics.ReqHeaders = wroteHeaders.Sub(gotConn)
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			wroteRequest = time.Now()
			metrics.ReqBody = wroteRequest.Sub(wroteHeaders)
		},
		GotFirstResponseByte: func() {
			mu.Lock()
			firstByte = time.Now()
			mu.Unlock()
			metrics.TTFB = firstByte.Sub(wroteRequest)
		},
	}
	return trace, func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return firstByte
	}
}

// Do sends req and reads the whole body.
func (c *Client) Do(req *http.Request) (*Response, error) {
	metrics := &NetworkMetrics{}
	trace, firstByte := tracer(metrics)
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	reqStart := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	metrics.Download = time.Since(firstByte())
	metrics.Total = time.Since(reqStart)

	return &Response{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    metrics,
	}, nil
}

// Stream is an open response whose body is read incrementally. Metrics are
// complete once Close returns.
type Stream struct {
	*http.Response
	Metrics *NetworkMetrics

	start     time.Time
	firstByte func() time.Time
	once      sync.Once
}

// Open sends req and returns as soon as response headers arrive.
func (c *Client) Open(req *http.Request) (*Stream, error) {
	metrics := &NetworkMetrics{}
	trace, firstByte := tracer(metrics)
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	return &Stream{Response: resp, Metrics: metrics, start: start, firstByte: firstByte}, nil
}

func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.Body.Close()
		if fb := s.firstByte(); !fb.IsZero() {
			s.Metrics.Download = time.Since(fb)
		}
		s.Metrics.Total = time.Since(s.start)
	})
	return err
}

// Warm opens a connection to the warm URL so the first real request skips
// the TLS handshake. It returns the handshake duration.
func (c *Client) Warm() time.Duration {
	if c.warmURL == "" {
		return 0
	}
	var tlsStart time.Time
	var tlsDuration time.Duration

	trace := &httptrace.ClientTrace{
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone:  func(_ tls.ConnectionState, _ error) { tlsDuration = time.Since(tlsStart) },
	}

	req, err := http.NewRequest(http.MethodHead, c.warmURL, nil)
	if err != nil {
		return 0
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	resp, err := c.client.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return tlsDuration
}

// FirstNonEmpty returns the first non-empty header value among keys, or "?".
func FirstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}
