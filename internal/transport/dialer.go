package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/multierr"
	"nhooyr.io/websocket"
)

// Socket is one message-oriented duplex connection. Each Read returns one
// whole transport message.
type Socket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Socket, error)
}

type DialerFunc func(ctx context.Context, endpoint string) (Socket, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Socket, error) {
	return f(ctx, endpoint)
}

const (
	TransportWebSocket  = "websocket"
	TransportXHRPolling = "xhr-polling"
)

// EndpointURL builds <base>/ws-battle?username=<identity>.
func EndpointURL(base, identity string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws-battle"
	q := u.Query()
	q.Set("username", identity)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// withPath appends p to the endpoint path and keeps the query string.
func withPath(endpoint, p string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + p
	return u, nil
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// WebSocketDialer opens the raw websocket endpoint the server exposes next
// to its SockJS transports.
type WebSocketDialer struct {
	HTTPClient *http.Client
	ReadLimit  int64
}

func (d WebSocketDialer) Dial(ctx context.Context, endpoint string) (Socket, error) {
	u, err := withPath(endpoint, "/websocket")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		Subprotocols: []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return &wsSocket{c: c}, nil
}

type wsSocket struct {
	c *websocket.Conn
}

func (s *wsSocket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.c.Read(ctx)
	return data, err
}

func (s *wsSocket) Write(ctx context.Context, data []byte) error {
	return s.c.Write(ctx, websocket.MessageText, data)
}

func (s *wsSocket) Close() error {
	return s.c.Close(websocket.StatusNormalClosure, "bye")
}

// FallbackDialer tries each dialer in order and reports every failure if
// none of them connects.
type FallbackDialer []Dialer

func (f FallbackDialer) Dial(ctx context.Context, endpoint string) (Socket, error) {
	var errs error
	for _, d := range f {
		s, err := d.Dial(ctx, endpoint)
		if err == nil {
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, multierr.Append(errs, ctx.Err())
		}
		errs = multierr.Append(errs, err)
	}
	if errs == nil {
		errs = errors.New("no transports configured")
	}
	return nil, errs
}

// NewDialer builds a FallbackDialer from transport names in preference
// order.
func NewDialer(names []string, client *http.Client) (Dialer, error) {
	var out FallbackDialer
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case TransportWebSocket:
			out = append(out, WebSocketDialer{HTTPClient: client, ReadLimit: 1 << 20})
		case TransportXHRPolling:
			out = append(out, PollingDialer{Client: client})
		case "":
		default:
			return nil, fmt.Errorf("unknown transport %q", name)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no transports configured")
	}
	return out, nil
}
