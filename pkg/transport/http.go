package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/scenesync/pkg/protocol"
)

const (
	DefaultBaseURL        = "http://localhost:8080"
	DefaultRequestTimeout = 10 * time.Second
)

// StatusError is returned when the room service answers with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client talks to the room service over HTTP.
type Client struct {
	baseURL        *url.URL
	httpClient     *http.Client
	requestTimeout time.Duration
	streamKind     StreamKind
	dialer         *websocket.Dialer
	logger         zerolog.Logger
}

type ClientOption func(*Client) error

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) error {
		if c == nil {
			return errors.New("http client is nil")
		}
		cl.httpClient = c
		return nil
	}
}

// WithRequestTimeout bounds join and broadcast requests. Streams are not affected.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(cl *Client) error {
		cl.requestTimeout = d
		return nil
	}
}

func WithStreamKind(kind StreamKind) ClientOption {
	return func(cl *Client) error {
		parsed, ok := ParseStreamKind(string(kind))
		if !ok {
			return errors.Errorf("unknown stream kind %q", kind)
		}
		cl.streamKind = parsed
		return nil
	}
}

func WithLogger(l zerolog.Logger) ClientOption {
	return func(cl *Client) error {
		cl.logger = l
		return nil
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	c := &Client{
		baseURL:        u,
		httpClient:     &http.Client{},
		requestTimeout: DefaultRequestTimeout,
		streamKind:     StreamKindSSE,
		dialer:         defaultWSDialer(),
		logger:         log.With().Str("component", "transport").Logger(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Post sends an envelope to the room's member collection (used for JOIN).
func (c *Client) Post(ctx context.Context, roomID string, env protocol.Envelope) error {
	return c.send(ctx, http.MethodPost, roomID, env)
}

// Put sends an envelope to the room (used for UPDATE_SCENE broadcasts).
func (c *Client) Put(ctx context.Context, roomID string, env protocol.Envelope) error {
	return c.send(ctx, http.MethodPut, roomID, env)
}

// Subscribe opens the push stream for a session. The returned stream emits
// StreamOpen once it is ready, or a single StreamError.
func (c *Client) Subscribe(ctx context.Context, roomID, sessionID string) (EventStream, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("session id is empty")
	}
	switch c.streamKind {
	case StreamKindWebSocket:
		u := c.endpoint(roomID, sessionID, "ws")
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
		return openWebSocketStream(ctx, c.dialer, u.String(), c.logger), nil
	default:
		return openSSEStream(ctx, c.httpClient, c.endpoint(roomID, sessionID).String(), c.logger), nil
	}
}

func (c *Client) RoomURL(roomID string) string {
	return c.endpoint(roomID).String()
}

func (c *Client) endpoint(roomID string, rest ...string) *url.URL {
	elems := []string{"rooms", url.PathEscape(roomID)}
	for _, r := range rest {
		elems = append(elems, url.PathEscape(r))
	}
	u := *c.baseURL
	return u.JoinPath(elems...)
}

func (c *Client) send(ctx context.Context, method, roomID string, env protocol.Envelope) error {
	if ctx == nil {
		ctx = context.Background()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	target := c.RoomURL(roomID)
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, target)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
