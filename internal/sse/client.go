// Package sse is a small text/event-stream client.
package sse

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net/http"

	"membersonly-live/internal/logging"
)

type Handlers struct {
	// OnOpen runs once the server has accepted the stream.
	OnOpen func()
	// OnEvent runs on the calling goroutine of Run, in arrival order.
	OnEvent func(Event)
}

type Client struct {
	HTTP       *http.Client
	ForceHTTP1 bool
	Logger     *logging.Logger
}

// Run opens one stream and blocks until it ends. It returns io.EOF when the
// server closes the stream and ctx.Err() when ctx is canceled.
func (c Client) Run(ctx context.Context, url string, handlers Handlers) error {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if reqErr != nil {
		return reqErr
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	// The body stays open until the server hangs up, so no whole-request
	// timeout applies.
	streamHTTP := *httpClient
	streamHTTP.Timeout = 0
	if c.ForceHTTP1 {
		streamHTTP.Transport = http1OnlyRoundTripper(streamHTTP.Transport)
	}

	resp, respErr := streamHTTP.Do(req)
	if respErr != nil {
		return respErr
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.Logger.Warn("event stream connect failed",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatPayload(data)),
		)
		return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
		return fmt.Errorf("%w: content type %q", ErrNotEventStream, resp.Header.Get("Content-Type"))
	}

	if handlers.OnOpen != nil {
		handlers.OnOpen()
	}

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	events := make(chan Event, 16)
	streamErrs := make(chan error, 1)
	go readEvents(readCtx, resp.Body, events, streamErrs)

	for {
		select {
		case <-ctx.Done():
			c.Logger.Debug("event stream closed: context canceled", logging.Field("error", ctx.Err()))
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				streamErr := <-streamErrs
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.Logger.Debug("event stream ended", logging.Field("error", streamErr))
				return streamErr
			}
			if handlers.OnEvent != nil {
				handlers.OnEvent(event)
			}
		}
	}
}

func http1OnlyRoundTripper(rt http.RoundTripper) http.RoundTripper {
	switch transport := rt.(type) {
	case nil:
		base, ok := http.DefaultTransport.(*http.Transport)
		if !ok {
			return rt
		}
		clone := base.Clone()
		disableHTTP2(clone)
		return clone
	case *http.Transport:
		clone := transport.Clone()
		disableHTTP2(clone)
		return clone
	default:
		// Custom transports (eg test round-trippers) may not support HTTP/2 anyway.
		return rt
	}
}

func disableHTTP2(transport *http.Transport) {
	transport.ForceAttemptHTTP2 = false
	transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
}
