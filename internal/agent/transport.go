package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereceipt/silent-print/internal/trust"
)

// ErrConnectionClosed is returned for calls on a dropped connection
var ErrConnectionClosed = errors.New("print agent connection closed")

// SignFunc signs a request payload. An empty signature leaves the request
// unsigned.
type SignFunc func(ctx context.Context, payload string) (string, error)

// Transport carries calls to the agent
type Transport interface {
	// Call sends call with params and decodes the result into out, which may
	// be nil.
	Call(ctx context.Context, call string, params any, out any) error
	// Done is closed once the connection has dropped.
	Done() <-chan struct{}
	Close() error
}

// Dialer opens a transport to the agent at url
type Dialer func(ctx context.Context, url string, sign SignFunc) (Transport, error)

// WebsocketDialer returns a Dialer for gorilla websocket connections
func WebsocketDialer(logger *zap.Logger) Dialer {
	return func(ctx context.Context, url string, sign SignFunc) (Transport, error) {
		return DialWebsocket(ctx, url, sign, logger)
	}
}

// WebsocketTransport correlates responses to requests by UID
type WebsocketTransport struct {
	conn   *websocket.Conn
	sign   SignFunc
	logger *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// DialWebsocket connects to the agent
func DialWebsocket(ctx context.Context, url string, sign SignFunc, logger *zap.Logger) (*WebsocketTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to print agent: %w", err)
	}

	t := &WebsocketTransport{
		conn:    conn,
		sign:    sign,
		logger:  logger,
		pending: make(map[string]chan Response),
		done:    make(chan struct{}),
	}
	go t.readLoop()

	return t, nil
}

// Call implements Transport
func (t *WebsocketTransport) Call(ctx context.Context, call string, params any, out any) error {
	select {
	case <-t.done:
		return t.closedErr()
	default:
	}

	req := Request{
		UID:       uuid.NewString(),
		Call:      call,
		Timestamp: time.Now().UnixMilli(),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", call, err)
		}
		req.Params = raw
	}

	if t.sign != nil {
		sig, err := t.sign(ctx, req.SigningPayload())
		if err != nil {
			return fmt.Errorf("failed to sign %s: %w", call, err)
		}
		if sig != "" {
			req.Signature = sig
			req.SignAlgorithm = trust.SignAlgorithm
		}
	}

	ch := make(chan Response, 1)
	t.mu.Lock()
	t.pending[req.UID] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, req.UID)
		t.mu.Unlock()
	}()

	if err := t.write(ctx, &req); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return &RemoteError{Call: call, Message: resp.Error}
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", call, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", call, ctx.Err())
	case <-t.done:
		return t.closedErr()
	}
}

func (t *WebsocketTransport) write(ctx context.Context, req *Request) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	// Zero deadline when ctx has none.
	deadline, _ := ctx.Deadline()
	_ = t.conn.SetWriteDeadline(deadline)

	if err := t.conn.WriteJSON(req); err != nil {
		t.shutdown(err)
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return nil
}

func (t *WebsocketTransport) readLoop() {
	for {
		var resp Response
		if err := t.conn.ReadJSON(&resp); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn("agent connection dropped", zap.Error(err))
			}
			t.shutdown(err)
			return
		}

		t.mu.Lock()
		ch, ok := t.pending[resp.UID]
		t.mu.Unlock()

		if !ok {
			t.logger.Debug("dropping response for unknown request", zap.String("uid", resp.UID))
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

// Done implements Transport
func (t *WebsocketTransport) Done() <-chan struct{} {
	return t.done
}

// Close implements Transport
func (t *WebsocketTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()

	t.shutdown(nil)
	return nil
}

func (t *WebsocketTransport) shutdown(err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
		t.conn.Close()
	})
}

func (t *WebsocketTransport) closedErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, t.err)
	}
	return ErrConnectionClosed
}
