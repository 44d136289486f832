// Package transport maintains the bidirectional message link to the master.
//
// The link is a ZeroMQ DEALER socket whose identity is the worker's node ID.
// Payloads are opaque to this package: frames go through internal/message and
// are handed to the injected callbacks. Inbound frames are dispatched
// sequentially from a single receive goroutine; outbound frames pass through
// a bounded queue drained by a single send goroutine, so submission order is
// preserved.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"

	"github.com/swarmling/swarmling/internal/message"
)

// ErrSendBufferFull is returned by Send when the outbound queue is full.
// The caller logs and drops the frame; stats loss is tolerated.
var ErrSendBufferFull = errors.New("transport: send buffer full")

// ErrClosed is returned by Send after Dispose.
var ErrClosed = errors.New("transport: closed")

const (
	defaultSendBuffer = 1024
	dialerRetry       = 250 * time.Millisecond
)

// socket is the subset of zmq4.Socket the link uses; tests substitute fakes.
type socket interface {
	Dial(ep string) error
	Send(msg zmq4.Msg) error
	Recv() (zmq4.Msg, error)
	Close() error
}

// Config configures a Link.
type Config struct {
	MasterHost string
	MasterPort int
	// NodeID becomes the DEALER socket identity.
	NodeID string
	// SendBufferSize bounds the outbound queue. Defaults to 1024.
	SendBufferSize int
	// OnMessage is invoked for every decoded inbound frame, sequentially.
	OnMessage func(*message.Message)
	// OnConnected is invoked once the link is usable.
	OnConnected func()
	// Logger defaults to a nop logger.
	Logger *zap.Logger

	// newSocket overrides socket construction in tests.
	newSocket func(ctx context.Context, identity string) socket
}

// Link is the durable connection to the master.
type Link struct {
	cfg  Config
	log  *zap.Logger
	addr string

	ctx    context.Context
	cancel context.CancelFunc
	sock   socket
	sendCh chan *message.Message
	wg     sync.WaitGroup

	disposeOnce sync.Once
}

// New builds a Link. The connection is not established until Initialize.
func New(cfg Config) *Link {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBuffer
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		cfg:    cfg,
		log:    log.Named("transport"),
		addr:   fmt.Sprintf("tcp://%s:%d", cfg.MasterHost, cfg.MasterPort),
		ctx:    ctx,
		cancel: cancel,
		sendCh: make(chan *message.Message, cfg.SendBufferSize),
	}
}

// Initialize dials the master and starts the send and receive loops. A master
// that is unreachable at startup is a fatal error for the caller.
func (l *Link) Initialize() error {
	newSocket := l.cfg.newSocket
	if newSocket == nil {
		newSocket = func(ctx context.Context, identity string) socket {
			return zmq4.NewDealer(ctx,
				zmq4.WithID(zmq4.SocketIdentity(identity)),
				zmq4.WithAutomaticReconnect(true),
				zmq4.WithDialerRetry(dialerRetry),
			)
		}
	}
	l.sock = newSocket(l.ctx, l.cfg.NodeID)

	if err := l.sock.Dial(l.addr); err != nil {
		return fmt.Errorf("transport: dial master at %s: %w", l.addr, err)
	}
	l.log.Info("connected to master", zap.String("addr", l.addr))

	if l.cfg.OnConnected != nil {
		l.cfg.OnConnected()
	}

	l.wg.Add(2)
	go l.sendLoop()
	go l.recvLoop()
	return nil
}

// Send enqueues a frame for delivery in submission order. Never blocks beyond
// the bounded buffer: a full buffer yields ErrSendBufferFull.
func (l *Link) Send(m *message.Message) error {
	select {
	case <-l.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case l.sendCh <- m:
		return nil
	case <-l.ctx.Done():
		return ErrClosed
	default:
		return ErrSendBufferFull
	}
}

// Dispose stops the loops and releases the socket. Idempotent; best-effort
// flush is bounded by whatever the socket accepts before close.
func (l *Link) Dispose() error {
	var err error
	l.disposeOnce.Do(func() {
		l.cancel()
		if l.sock != nil {
			err = l.sock.Close()
		}
		l.wg.Wait()
	})
	return err
}

func (l *Link) sendLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case m := <-l.sendCh:
			b, err := message.Marshal(m)
			if err != nil {
				l.log.Error("encode frame", zap.String("type", m.Type), zap.Error(err))
				continue
			}
			if err := l.sock.Send(zmq4.NewMsg(b)); err != nil {
				if l.ctx.Err() != nil {
					return
				}
				// Transient send failure: drop the frame.
				l.log.Warn("send frame", zap.String("type", m.Type), zap.Error(err))
			}
		}
	}
}

func (l *Link) recvLoop() {
	defer l.wg.Done()
	for {
		raw, err := l.sock.Recv()
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			l.log.Warn("receive frame", zap.Error(err))
			// Avoid a hot loop if the socket keeps erroring while the
			// automatic reconnect catches up.
			select {
			case <-l.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if len(raw.Frames) == 0 {
			continue
		}
		m, err := message.Unmarshal(raw.Frames[len(raw.Frames)-1])
		if err != nil {
			l.log.Warn("decode inbound frame", zap.Error(err))
			continue
		}
		if l.cfg.OnMessage != nil {
			l.cfg.OnMessage(m)
		}
	}
}
