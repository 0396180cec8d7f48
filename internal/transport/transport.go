// Package transport builds the RoundTrippers the ShipStation client sends through.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Kind names an upstream transport selectable from configuration.
type Kind string

const (
	// KindDefault is a clone of http.DefaultTransport with the configured dial timeout.
	KindDefault Kind = "default"

	// KindChrome presents a Chrome TLS fingerprint. Some ShipStation edge
	// nodes throttle Go's stock ClientHello harder than browser traffic.
	KindChrome Kind = "chrome"
)

// New returns the RoundTripper for kind. Unknown kinds are an error so a
// typo in UPSTREAM_TRANSPORT fails at startup.
func New(kind Kind, timeout time.Duration) (http.RoundTripper, error) {
	switch kind {
	case KindDefault, "":
		return newDefaultTransport(timeout), nil
	case KindChrome:
		return NewChromeTransport(timeout), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

func newDefaultTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	t.TLSHandshakeTimeout = timeout
	// Workers for one store all hit the same host.
	t.MaxIdleConnsPerHost = 16
	return t
}

// chromeTransport sends over HTTP/2 when the server negotiates h2 and over
// HTTP/1.1 otherwise. Both sides dial through uTLS with HelloChrome_Auto.
type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport

	// h1Hosts remembers hosts whose ALPN did not offer h2.
	h1Hosts sync.Map
}

// NewChromeTransport creates an http.RoundTripper that presents Chrome's TLS
// fingerprint.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialChromeTLS(ctx, dialer, network, addr)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	return &chromeTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				conn, err := dialChromeTLS(ctx, dialer, network, addr)
				if err != nil {
					return nil, err
				}
				if conn.ConnectionState().NegotiatedProtocol != http2.NextProtoTLS {
					conn.Close()
					return nil, errNoH2
				}
				return conn, nil
			},
		},
		h1: &http.Transport{
			DialTLSContext:      dial,
			TLSHandshakeTimeout: timeout,
			MaxIdleConnsPerHost: 16,
		},
	}
}

func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}
	if _, ok := t.h1Hosts.Load(req.URL.Host); ok {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, errNoH2) {
		t.h1Hosts.Store(req.URL.Host, struct{}{})
	}

	// The h2 attempt may have consumed the body.
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, err
		}
		body, berr := req.GetBody()
		if berr != nil {
			return nil, fmt.Errorf("rewinding body for http/1.1: %w", berr)
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

// errNoH2 is returned by the h2 dial when the server picked http/1.1.
var errNoH2 = errors.New("server did not negotiate h2")

// dialChromeTLS dials addr and completes a handshake with Chrome's fingerprint.
// The default Chrome ALPN list offers h2 and http/1.1.
func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (*utls.UConn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}
	return tlsConn, nil
}
