package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// PollingDialer speaks the SockJS xhr-polling transport: one long-poll
// POST per receive frame and one POST per outgoing batch.
type PollingDialer struct {
	Client *http.Client
}

func (d PollingDialer) Dial(ctx context.Context, endpoint string) (Socket, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	server := fmt.Sprintf("%03d", rand.IntN(1000))
	session := strings.ReplaceAll(uuid.NewString(), "-", "")
	base, err := withPath(endpoint, "/"+server+"/"+session)
	if err != nil {
		return nil, err
	}

	s := &pollingSocket{
		client: client,
		base:   base,
		recv:   make(chan []byte, 64),
		closed: make(chan struct{}),
	}

	body, err := s.post(ctx, "/xhr", nil)
	if err != nil {
		return nil, fmt.Errorf("sockjs open: %w", err)
	}
	kind, _, err := parseSockJSFrame(body)
	if err != nil {
		return nil, fmt.Errorf("sockjs open: %w", err)
	}
	if kind != 'o' {
		return nil, fmt.Errorf("%w: sockjs expected open frame, got %q", ErrProtocol, kind)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.pollLoop(loopCtx)
	return s, nil
}

type pollingSocket struct {
	client *http.Client
	base   *url.URL
	cancel context.CancelFunc

	recv   chan []byte
	closed chan struct{}
	once   sync.Once
	err    error
}

func (s *pollingSocket) pollLoop(ctx context.Context) {
	for {
		body, err := s.post(ctx, "/xhr", nil)
		if err != nil {
			s.fail(err)
			return
		}
		kind, msgs, err := parseSockJSFrame(body)
		if err != nil {
			s.fail(err)
			return
		}
		switch kind {
		case 'a':
			for _, m := range msgs {
				select {
				case s.recv <- []byte(m):
				case <-s.closed:
					return
				}
			}
		case 'c':
			s.fail(fmt.Errorf("%w: sockjs close %s", ErrClosed, msgs))
			return
		}
	}
}

func (s *pollingSocket) Read(ctx context.Context) ([]byte, error) {
	select {
	case m := <-s.recv:
		return m, nil
	default:
	}
	select {
	case m := <-s.recv:
		return m, nil
	case <-s.closed:
		return nil, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *pollingSocket) Write(ctx context.Context, data []byte) error {
	payload, err := json.Marshal([]string{string(data)})
	if err != nil {
		return err
	}
	_, err = s.post(ctx, "/xhr_send", payload)
	return err
}

func (s *pollingSocket) Close() error {
	s.fail(ErrClosed)
	return nil
}

func (s *pollingSocket) fail(err error) {
	s.once.Do(func() {
		s.err = err
		if s.cancel != nil {
			s.cancel()
		}
		close(s.closed)
	})
}

func (s *pollingSocket) post(ctx context.Context, suffix string, payload []byte) ([]byte, error) {
	u := *s.base
	u.Path += suffix

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, fmt.Errorf("sockjs %s: status %d", suffix, resp.StatusCode)
	}
	return out, nil
}

// parseSockJSFrame splits one SockJS frame into its type letter and, for
// array and close frames, the decoded payload.
func parseSockJSFrame(body []byte) (byte, []string, error) {
	body = bytes.TrimRight(body, "\n")
	if len(body) == 0 {
		return 0, nil, fmt.Errorf("%w: empty sockjs frame", ErrProtocol)
	}
	switch kind := body[0]; kind {
	case 'o', 'h':
		return kind, nil, nil
	case 'a':
		var msgs []string
		if err := json.Unmarshal(body[1:], &msgs); err != nil {
			return 0, nil, fmt.Errorf("%w: sockjs array frame: %w", ErrProtocol, err)
		}
		return kind, msgs, nil
	case 'c':
		var reason []any
		if err := json.Unmarshal(body[1:], &reason); err != nil {
			return 0, nil, fmt.Errorf("%w: sockjs close frame: %w", ErrProtocol, err)
		}
		parts := make([]string, len(reason))
		for i, v := range reason {
			parts[i] = fmt.Sprint(v)
		}
		return kind, []string{strings.Join(parts, " ")}, nil
	default:
		return 0, nil, fmt.Errorf("%w: unknown sockjs frame %q", ErrProtocol, kind)
	}
}
