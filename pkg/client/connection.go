package client

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"eventsource/pkg/connid"
	"eventsource/pkg/errors"
	"eventsource/pkg/metrics"
	"eventsource/pkg/sse"
)

const eventStreamMediaType = "text/event-stream"

// outcome tells the run loop what to do after a connection attempt
type outcome int

const (
	// outcomeStop ends the subscription: Close was called, the response
	// was fatal, or the server signalled no-content.
	outcomeStop outcome = iota
	// outcomeRetryDelayed reconnects after the reconnection delay.
	outcomeRetryDelayed
	// outcomeRetryNow reconnects immediately (redirect).
	outcomeRetryNow
)

// run drives the connection lifecycle until a terminal condition. Every
// exit, including context cancellation, leaves the client closed.
func (c *Client) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.readyState = Closed
		c.canReconnect = false
		c.mu.Unlock()
		close(c.done)
	}()
	for {
		switch c.connectOnce(ctx) {
		case outcomeStop:
			return

		case outcomeRetryNow:
			continue

		case outcomeRetryDelayed:
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.RetryDelay()):
			}

			// A concurrent Close may have won the race with the timer.
			c.mu.Lock()
			if c.readyState != Connecting || !c.canReconnect {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

			if c.metrics != nil {
				c.metrics.ReconnectsTotal.Inc()
			}
		}
	}
}

// connectOnce performs one connection attempt: request, response
// classification, and, when the stream opens, the read loop until the
// stream ends.
func (c *Client) connectOnce(ctx context.Context) outcome {
	c.mu.Lock()
	if c.readyState == Closed {
		c.mu.Unlock()
		return outcomeStop
	}
	c.readyState = Connecting
	target := c.currentURL
	lastID := c.lastEventID
	c.mu.Unlock()

	id := connid.New()
	logger := c.logger.With("conn", id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.failConnection(logger, errors.NewError(errors.ErrorTypeInternal, "failed to create request").
			WithCause(err).
			WithDetail("url", target))
		return outcomeStop
	}

	for k, vs := range c.headers {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", eventStreamMediaType)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Request-ID", id)
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	ctx, span := c.startAttemptSpan(ctx, target)
	req = req.WithContext(ctx)

	logger.Debug("connecting to event stream", "url", target, "lastEventID", lastID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.endAttemptSpan(span, 0, ctx.Err())
			return outcomeStop
		}
		connErr := errors.NewError(errors.ErrorTypeConnection, "connection attempt failed").
			WithCause(err).
			WithDetail("url", target)
		c.endAttemptSpan(span, 0, connErr)
		if c.metrics != nil {
			c.metrics.ConnectsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		}
		return c.streamDropped(logger, connErr)
	}

	out := c.classifyResponse(ctx, resp, logger)
	c.endAttemptSpan(span, resp.StatusCode, nil)
	return out
}

// classifyResponse implements the response handling rules: only a 200 with
// the event-stream media type opens the stream; 204 and redirects are
// silent terminal and silent retry respectively; everything else is fatal.
func (c *Client) classifyResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) outcome {
	switch resp.StatusCode {
	case http.StatusOK:
		contentType := resp.Header.Get("Content-Type")
		mediaType, _, _ := mime.ParseMediaType(contentType)
		if mediaType != eventStreamMediaType {
			resp.Body.Close()
			c.failConnection(logger, errors.NewError(errors.ErrorTypeBadResponse, "unexpected content type").
				WithDetail("contentType", contentType))
			return outcomeStop
		}
		return c.openStream(ctx, resp, logger)

	case http.StatusNoContent:
		resp.Body.Close()
		c.mu.Lock()
		c.canReconnect = false
		c.readyState = Closed
		c.mu.Unlock()

		logger.Info("server signalled no content, subscription ended")
		if c.metrics != nil {
			c.metrics.ConnectsTotal.WithLabelValues(metrics.OutcomeNoContent).Inc()
		}
		return outcomeStop

	case http.StatusMovedPermanently, http.StatusTemporaryRedirect:
		location := resp.Header.Get("Location")
		resp.Body.Close()
		if location == "" {
			c.mu.Lock()
			c.canReconnect = false
			c.readyState = Closed
			c.mu.Unlock()

			logger.Warn("redirect without location, subscription ended", "status", resp.StatusCode)
			if c.metrics != nil {
				c.metrics.ConnectsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
			}
			return outcomeStop
		}

		redirected, err := resp.Request.URL.Parse(location)
		if err != nil {
			c.failConnection(logger, errors.NewError(errors.ErrorTypeBadResponse, "invalid redirect location").
				WithCause(err).
				WithDetail("location", location))
			return outcomeStop
		}

		c.mu.Lock()
		c.currentURL = redirected.String()
		c.mu.Unlock()

		logger.Info("following redirect", "status", resp.StatusCode, "location", redirected.String())
		if c.metrics != nil {
			c.metrics.ConnectsTotal.WithLabelValues(metrics.OutcomeRedirect).Inc()
		}
		return outcomeRetryNow

	default:
		resp.Body.Close()
		c.failConnection(logger, errors.NewError(errors.ErrorTypeBadResponse, "unexpected status").
			WithDetail("status", resp.StatusCode))
		return outcomeStop
	}
}

// openStream transitions to OPEN and consumes the response body until the
// stream ends or the client closes.
func (c *Client) openStream(ctx context.Context, resp *http.Response, logger *slog.Logger) outcome {
	c.mu.Lock()
	if c.readyState == Closed {
		c.mu.Unlock()
		resp.Body.Close()
		return outcomeStop
	}
	c.readyState = Open
	lastID := c.lastEventID
	c.mu.Unlock()

	origin := resp.Request.URL.String()
	logger.Info("event stream open", "origin", origin)

	if c.metrics != nil {
		c.metrics.ConnectsTotal.WithLabelValues(metrics.OutcomeOpen).Inc()
		c.metrics.ActiveConnections.Inc()
		defer c.metrics.ActiveConnections.Dec()
	}

	c.dispatcher.Dispatch(TopicOpen, origin)

	readErr := c.readStream(resp.Body, origin, lastID, logger)
	resp.Body.Close()

	if ctx.Err() != nil || c.ReadyState() == Closed {
		return outcomeStop
	}

	dropErr := errors.NewError(errors.ErrorTypeConnection, "stream ended").
		WithCause(readErr).
		WithDetail("origin", origin)
	return c.streamDropped(logger, dropErr)
}

// readStream feeds response chunks to a fresh decoder and dispatches each
// complete event. It returns the error that ended the stream (io.EOF for
// a clean server close).
func (c *Client) readStream(body io.Reader, origin, lastID string, logger *slog.Logger) error {
	dec := sse.NewDecoder(origin, lastID)

	dec.OnEvent = func(e sse.Event) {
		c.mu.Lock()
		c.lastEventID = e.LastEventID
		c.mu.Unlock()

		logger.Debug("event received", "type", e.Type, "id", e.LastEventID, "size", len(e.Data))
		if c.metrics != nil {
			c.metrics.EventsTotal.WithLabelValues(e.Type).Inc()
		}
		c.dispatcher.Dispatch(e.Type, e)
	}
	dec.OnRetry = func(ms int) {
		c.mu.Lock()
		c.retryDelay = time.Duration(ms) * time.Millisecond
		c.mu.Unlock()

		logger.Debug("reconnection delay updated", "ms", ms)
	}
	dec.OnComment = func(comment string) {
		logger.Debug("comment received", "comment", comment)
	}

	buf := make([]byte, c.config.ReadBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])

			// The decoder may have committed an ID on a blank line
			// without dispatching an event.
			c.mu.Lock()
			c.lastEventID = dec.LastEventID()
			c.mu.Unlock()

			if c.metrics != nil {
				c.metrics.BytesRead.Add(float64(n))
			}
		}
		if err != nil {
			return err
		}
	}
}

// streamDropped runs the transient half of the reconnection procedure:
// back to CONNECTING, error dispatched, retry after the delay.
func (c *Client) streamDropped(logger *slog.Logger, err *errors.Error) outcome {
	c.mu.Lock()
	if c.readyState == Closed || !c.canReconnect {
		c.mu.Unlock()
		return outcomeStop
	}
	c.readyState = Connecting
	delay := c.retryDelay
	c.mu.Unlock()

	logger.Warn("connection dropped, will reconnect", "error", err, "delay", delay)
	if c.metrics != nil {
		c.metrics.ErrorsTotal.WithLabelValues(string(err.Type)).Inc()
	}
	c.dispatcher.Dispatch(TopicError, err)
	return outcomeRetryDelayed
}

// failConnection latches the fatal state: error dispatched, reconnection
// disallowed, client closed.
func (c *Client) failConnection(logger *slog.Logger, err *errors.Error) {
	c.mu.Lock()
	if c.readyState == Closed {
		c.mu.Unlock()
		return
	}
	c.readyState = Closed
	c.canReconnect = false
	c.mu.Unlock()

	logger.Error("connection failed", "error", err)
	if c.metrics != nil {
		c.metrics.ConnectsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		c.metrics.ErrorsTotal.WithLabelValues(string(err.Type)).Inc()
	}
	c.dispatcher.Dispatch(TopicError, err)
}

// startAttemptSpan opens a client span for one connection attempt when
// tracing is configured.
func (c *Client) startAttemptSpan(ctx context.Context, target string) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, nil
	}
	return c.tracer.Start(ctx, "SSE GET",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", http.MethodGet),
			attribute.String("url.full", target),
		),
	)
}

func (c *Client) endAttemptSpan(span trace.Span, statusCode int, err error) {
	if span == nil {
		return
	}
	if statusCode != 0 {
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
