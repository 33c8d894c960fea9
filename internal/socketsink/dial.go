// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package socketsink

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Options configure a broadcast connection.
type Options struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	EventsPerSecond    float64
	Burst              int
	// ConnectTimeout bounds the wait for the connect event.
	ConnectTimeout time.Duration
}

// Dial connects to a socket.io server over websocket and returns a Sink
// emitting on it.
func Dial(ctx context.Context, o Options) (*Sink, error) {
	logger := ctxlog.FromContext(ctx).With("component", "socketsink", "url", o.URL)

	parsed, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse broadcast URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("broadcast URL '%s' must include scheme and host", o.URL)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsed.Path)
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), opts)
	io := manager.Socket(o.Namespace, opts)

	connected := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connected <- err
	})
	io.Connect()

	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context canceled while waiting for socket.io connection: %w", ctx.Err())
	case <-timer.C:
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}

	logger.Info("Connected progress broadcast", "sid", io.Id())
	return New(&socketEmitter{io: io}, o.EventsPerSecond, o.Burst, logger), nil
}

type socketEmitter struct {
	io *socket.Socket
}

func (e *socketEmitter) Emit(event string, payload map[string]any) {
	e.io.Emit(event, payload)
}

func (e *socketEmitter) Close() {
	e.io.Disconnect()
}
