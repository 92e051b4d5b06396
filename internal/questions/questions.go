package questions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/campusguess/battle-client/pkg/types"
)

var ErrNotFound = errors.New("question not found")

type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client fetches question details from the game API. Results are cached for
// the life of the client; questions do not change mid-battle.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[int64]types.Question
}

func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    opts.HTTPClient,
		log:     opts.Logger.Named("questions"),
		cache:   make(map[int64]types.Question),
	}
}

// Get returns question id. Concurrent calls for the same id share one
// request.
func (c *Client) Get(ctx context.Context, id int64) (types.Question, error) {
	c.mu.RLock()
	q, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		return q, nil
	}

	v, err, shared := c.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		q, err := c.fetch(ctx, id)
		if err != nil {
			return types.Question{}, err
		}
		c.mu.Lock()
		c.cache[id] = q
		c.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return types.Question{}, err
	}
	if shared {
		c.log.Debug("shared question fetch", zap.Int64("id", id))
	}
	return v.(types.Question), nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) fetch(ctx context.Context, id int64) (types.Question, error) {
	url := fmt.Sprintf("%s/questions/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.Question{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.Question{}, fmt.Errorf("fetching question %d: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.Question{}, fmt.Errorf("reading question %d: %w", id, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.Question{}, fmt.Errorf("question %d: %w", id, ErrNotFound)
	case resp.StatusCode >= 300:
		return types.Question{}, fmt.Errorf("question %d: unexpected status %d", id, resp.StatusCode)
	}

	return decodeQuestion(body)
}

// decodeQuestion accepts either the wrapped {code,message,data} form or a
// bare question object.
func decodeQuestion(body []byte) (types.Question, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return types.Question{}, fmt.Errorf("decoding question: %w", err)
	}

	payload := body
	if len(env.Data) > 0 {
		if env.Code != 0 && env.Code != http.StatusOK {
			return types.Question{}, fmt.Errorf("question api error %d: %s", env.Code, env.Message)
		}
		if bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
			return types.Question{}, ErrNotFound
		}
		payload = env.Data
	}

	var q types.Question
	if err := json.Unmarshal(payload, &q); err != nil {
		return types.Question{}, fmt.Errorf("decoding question: %w", err)
	}
	return q, nil
}
