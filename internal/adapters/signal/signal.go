package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/voice"
	"github.com/dkeye/voicemesh/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
	leaveTimeout = 10 * time.Second
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

// VoiceWSController exposes a user's coordinator over a websocket: commands
// come in as {"type": ...} frames, coordinator events go out as they happen.
type VoiceWSController struct {
	Registry *app.Registry
	Limiter  *app.JoinRateLimiter
	opts     Options
}

func NewVoiceWSController(registry *app.Registry, limiter *app.JoinRateLimiter, opts Options) *VoiceWSController {
	return &VoiceWSController{Registry: registry, Limiter: limiter, opts: opts}
}

type WsVoiceConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsVoiceConn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsVoiceConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// binding ties a websocket to the coordinator of one local user.
type binding struct {
	mu   sync.Mutex
	user domain.UserID
	co   *voice.Coordinator
	sub  *voice.Subscription
	// owns is set once this connection joined; closing it then leaves.
	owns     bool
	released bool
}

func (b *binding) get() (domain.UserID, *voice.Coordinator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.user, b.co
}

// bind switches the connection to user's coordinator. It reports false and
// changes nothing if a different user is already bound.
func (b *binding) bind(user domain.UserID, co *voice.Coordinator) (*voice.Subscription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, false
	}
	if b.co != nil {
		return nil, b.user == user
	}
	b.user, b.co = user, co
	b.sub = co.Subscribe()
	return b.sub, true
}

// markOwner reports false when the connection already went away.
func (b *binding) markOwner() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return false
	}
	b.owns = true
	return true
}

// release drops the event subscription and returns the coordinator this
// connection joined, if any.
func (b *binding) release() *voice.Coordinator {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	if b.sub != nil {
		b.sub.Close()
		b.sub = nil
	}
	if b.owns {
		return b.co
	}
	return nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *VoiceWSController) HandleVoice(ctx context.Context, c *gin.Context) {
	ct := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("ct", ct).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsVoiceConn{
		conn: ws,
		send: make(chan []byte, sendBuffer),
	}
	b := &binding{}
	ctx, cancel := context.WithCancel(ctx)

	if raw := c.Query("user_id"); raw != "" {
		if user, err := domain.ParseUserID(raw); err == nil {
			if co, err := ctl.Registry.GetOrCreate(user); err != nil {
				log.Warn().Str("module", "signal").Str("user", raw).Err(err).Msg("bind from query")
			} else if sub, ok := b.bind(user, co); ok && sub != nil {
				go ctl.forwardEvents(ctx, conn, sub)
			}
		}
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, ct, conn, b)
}
