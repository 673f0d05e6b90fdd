package sources

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ezex-io/flowrt/logger"
	"github.com/ezex-io/flowrt/node"
	"github.com/ezex-io/flowrt/registry"
	"github.com/ezex-io/flowrt/retry"
	"github.com/ezex-io/flowrt/types"
)

const websocketInTag = "websocket_in"

// WebsocketInParams configures the upstream WebSocket endpoint.
type WebsocketInParams struct {
	URL string `json:"url" mapstructure:"url"`
}

// WebsocketIn is async-capable: it owns a background connection goroutine
// and publishes inbound frames as they arrive, independent of the pipeline's
// frame sweep. On disconnect it reconnects via retry.ExecuteAsync, since a
// source node owns its own reconnect policy rather than relying on the
// pipeline to restart it.
type WebsocketIn struct {
	*node.Base

	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func newWebsocketIn(name string, cfg map[string]any) (node.Node, error) {
	params, err := decodeParams[WebsocketInParams](cfg)
	if err != nil {
		return nil, err
	}

	w := &WebsocketIn{url: params.URL}

	base, err := node.NewBase(websocketInTag, name,
		node.WithAsyncCapable(),
		node.WithAcceptedDataTypes(types.Event),
		node.WithMinMaxInputs(0, 0),
		node.WithStartFunc(w.start0),
		node.WithStopFunc(w.stop0),
	)
	if err != nil {
		return nil, err
	}
	w.Base = base

	return w, nil
}

func (w *WebsocketIn) start0(ctx context.Context, b *node.Base) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	w.connectAndRead(runCtx, b)

	return nil
}

func (w *WebsocketIn) connectAndRead(ctx context.Context, b *node.Base) {
	retry.ExecuteAsync(ctx, func() error {
		return w.readLoop(ctx, b)
	}, func(err error) {
		if ctx.Err() == nil && err != nil {
			logger.Error("websocket_in: connection failed permanently", "node", b.Name(), "error", err)
		}
		close(w.done)
	})
}

// readLoop dials and reads until the connection errors, which also happens
// when stop0 closes the live conn out from under a blocked ReadMessage call.
func (w *WebsocketIn) readLoop(ctx context.Context, b *node.Base) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		b.Publish(b.Outputs()[0], b.CreatePacket(string(data)))
	}
}

func (w *WebsocketIn) stop0(ctx context.Context, _ *node.Base) error {
	w.mu.Lock()
	cancel := w.cancel
	conn := w.conn
	done := w.done
	w.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}

	if done == nil {
		return nil
	}

	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(time.Second):
	}

	return nil
}

func init() {
	_ = registry.Register(websocketInTag, "sources", WebsocketInParams{}, newWebsocketIn)
}
