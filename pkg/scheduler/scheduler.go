// Package scheduler is the HTTP client for the external event-scheduling
// delegate. The delegate owns all date reasoning; this client is a streaming
// pass-through.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	streamx "github.com/moonsyncai/moonsync/agent/stream"
)

type Config struct {
	URL     string        `split_words:"true" required:"true"`
	Token   string        `split_words:"true" required:"true"`
	Timeout time.Duration `split_words:"true" default:"60s"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ contractx.Scheduler = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("scheduler url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(cfg.Token),
		// Streaming responses stay open past any sane per-request
		// timeout; rely on ctx cancellation instead.
		httpClient: &http.Client{},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type scheduleRequest struct {
	Query         string           `json:"query"`
	Messages      []contractx.Turn `json:"messages"`
	ReferenceDate string           `json:"reference_date"`
}

// Schedule forwards the query and transcript to the delegate and relays its
// streamed proposal. referenceDate anchors relative dates like "next
// Tuesday"; it is the session snapshot date, not wall-clock time.
func (c *Client) Schedule(
	ctx context.Context,
	query string,
	transcript []contractx.Turn,
	referenceDate time.Time,
) (contractx.FragmentStream, error) {
	payload, err := json.Marshal(scheduleRequest{
		Query:         query,
		Messages:      transcript,
		ReferenceDate: referenceDate.Format("2006-01-02"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal schedule request: %v", contractx.ErrValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/schedule", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build schedule request: %v", contractx.ErrUpstreamTransport, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrUpstreamTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: delegate status=%d", contractx.ErrUpstreamTransport, resp.StatusCode)
	}

	out := streamx.New()
	go relayBody(ctx, resp.Body, out)
	return out, nil
}

func relayBody(ctx context.Context, body io.ReadCloser, out *streamx.Stream) {
	defer body.Close()

	buf := make([]byte, 512)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if serr := out.Send(ctx, string(buf[:n])); serr != nil {
				// Consumer gone or ctx cancelled: terminate the stream so
				// downstream relays always observe a terminal marker.
				out.Fail(serr)
				return
			}
		}
		if errors.Is(err, io.EOF) {
			out.CloseSend()
			return
		}
		if err != nil {
			out.Fail(fmt.Errorf("%w: read delegate stream: %v", contractx.ErrUpstreamTransport, err))
			return
		}
	}
}
