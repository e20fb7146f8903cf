package fastview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second

	// The rate at which updates are sent to the client; faster updates are dropped.
	pubResolution  = time.Millisecond * 100
	pingResolution = time.Millisecond * 200
	// Number of lost pings tolerated before the peer is considered gone.
	pongWait = pingResolution * 4
)

var upgrader = websocket.Upgrader{}

// Client publishes updates unidirectionally to one web page over a websocket.
type Client[T any] struct {
	updates <-chan T
	ws      *websock
	rootCtx context.Context
	logger  *zap.Logger
}

// NewClient upgrades the request to a websocket and returns a publisher for @updates.
// Items should be idempotent: when they arrive faster than the publish rate only the
// latest is sent, and it alone must describe the client's new state.
func NewClient[T any](
	ctx context.Context,
	updates <-chan T,
	w http.ResponseWriter,
	r *http.Request,
	logger *zap.Logger,
) (*Client[T], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		return nil, fmt.Errorf("upgrade: %w", err)
	}

	return &Client[T]{
		updates: updates,
		ws:      newWebSocket(ws),
		rootCtx: ctx,
		logger:  logger,
	}, nil
}

// Sync publishes incoming updates to the client until it disconnects, the update channel
// closes, or the root context is cancelled. It returns nil on those paths and an error
// if the connection failed unexpectedly. The websocket is closed on return.
func (cli *Client[T]) Sync() error {
	ctx, cancel := context.WithCancel(cli.rootCtx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer cancel()
		return cli.readMessages(groupCtx)
	})
	group.Go(func() error {
		return cli.pingPong(groupCtx)
	})
	group.Go(func() error {
		defer cancel()
		return cli.publish(groupCtx)
	})
	// Closing the conn is the only way to unblock the pending read.
	group.Go(func() error {
		<-groupCtx.Done()
		cli.ws.Close()
		return nil
	})

	err := group.Wait()
	cli.logger.Debug("websocket client finished", zap.Error(err))
	return err
}

var ErrPongDeadlineExceeded error = errors.New("client disconnect, pong deadline exceeded")

// pingPong runs the liveness check. Pongs are only handled while readMessages is running.
func (cli *Client[T]) pingPong(ctx context.Context) error {
	pong := make(chan struct{})
	cli.ws.Conn().SetPongHandler(func(_ string) error {
		select {
		case pong <- struct{}{}:
		case <-ctx.Done():
		}
		return nil
	})

	pinger := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pinger:
			if time.Since(lastPong) > pongWait {
				return ErrPongDeadlineExceeded
			}

			if err := cli.ping(ctx); err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

func (cli *Client[T]) ping(ctx context.Context) error {
	return cli.ws.Write(
		ctx,
		func(ws *websocket.Conn) (err error) {
			if err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				err = fmt.Errorf("ping failed: %w", err)
			}
			return
		})
}

// readMessages drains client messages. Websocket read errors are permanent, so any
// error tears the client down; errors after cancellation are from the deliberate close.
func (cli *Client[T]) readMessages(ctx context.Context) error {
	for {
		err := cli.ws.Read(
			ctx,
			func(ws *websocket.Conn) (readErr error) {
				_, _, readErr = ws.ReadMessage()
				return
			})
		if ctx.Err() != nil || isClosure(err) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (cli *Client[T]) publish(ctx context.Context) error {
	var lastSync time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case updates, ok := <-cli.updates:
			if !ok {
				return nil
			}
			if time.Since(lastSync) < pubResolution {
				break
			}

			lastSync = time.Now()
			err := cli.ws.Write(
				ctx,
				func(ws *websocket.Conn) (writeErr error) {
					if writeErr = ws.SetWriteDeadline(time.Now().Add(writeWait)); writeErr != nil {
						return fmt.Errorf("failed to set deadline: %w", writeErr)
					}
					if writeErr = ws.WriteJSON(updates); writeErr != nil {
						writeErr = fmt.Errorf("publish failed: %w", writeErr)
					}
					return
				})
			if err != nil {
				return err
			}
		}
	}
}

func isClosure(err error) bool {
	return err != nil && websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}

// ErrSockCongestion indicates there are too many waiters on the socket for a given op.
var ErrSockCongestion = errors.New("sock op failed due to congestion")

const (
	readDeadline  = time.Second
	writeDeadline = time.Second
)

// websock serializes reads and writes to the websocket, which permits one concurrent
// reader and one concurrent writer.
type websock struct {
	writeSem chan struct{}
	readSem  chan struct{}
	ws       *websocket.Conn
}

func newWebSocket(ws *websocket.Conn) *websock {
	return &websock{
		readSem:  make(chan struct{}, 1),
		writeSem: make(chan struct{}, 1),
		ws:       ws,
	}
}

// Conn returns the underlying websocket, for non-concurrent setup such as adding handlers.
func (sock *websock) Conn() *websocket.Conn {
	return sock.ws
}

// Close sends a close frame, waiting for any pending writer, then closes the conn.
// A blocked reader is released with an error.
func (sock *websock) Close() {
	select {
	case sock.writeSem <- struct{}{}:
		_ = sock.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		<-sock.writeSem
	case <-time.After(writeDeadline):
	}
	sock.ws.Close()
}

// Read serializes read operations on the internal web socket.
func (sock *websock) Read(
	ctx context.Context,
	readFn func(*websocket.Conn) error,
) error {
	select {
	case <-ctx.Done():
		return nil
	case sock.readSem <- struct{}{}:
		defer func() { <-sock.readSem }()
		return readFn(sock.ws)
	case <-time.After(readDeadline):
		return ErrSockCongestion
	}
}

// Write serializes write operations to the websocket.
func (sock *websock) Write(
	ctx context.Context,
	writeFn func(*websocket.Conn) error,
) error {
	select {
	case <-ctx.Done():
		return nil
	case sock.writeSem <- struct{}{}:
		defer func() { <-sock.writeSem }()
		return writeFn(sock.ws)
	case <-time.After(writeDeadline):
		return ErrSockCongestion
	}
}
