package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"launchpad/internal/business"
	"launchpad/internal/middleware"
)

// Socket event names
const (
	EventCreateLaunch = "/api/create-launch"
	EventMint         = "/api/launch/mint"
	EventCreateToken  = "/api/token/create"

	EventLaunchResult = "/api/launch/result"
	EventLaunchError  = "/api/launch/error"
	EventMintResult   = "/api/launch/mint/result"
	EventMintError    = "/api/launch/mint/error"
	EventTokenResult  = "/api/token/result"
	EventTokenError   = "/api/token/error"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = 50 * time.Second
	socketMaxMessage = 1 << 20
)

// SocketMessage is one event in either direction
type SocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type socketReply struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// SocketHandler serves the event-based transport over a websocket. The
// caller identity is taken once, from the upgrade request.
type SocketHandler struct {
	svc      LaunchService
	limiter  *middleware.RateLimiter
	upgrader websocket.Upgrader
}

// NewSocketHandler creates a handler accepting upgrades from allowedOrigins.
// With no origins configured only same-origin requests are accepted.
func NewSocketHandler(svc LaunchService, limiter *middleware.RateLimiter, allowedOrigins []string) *SocketHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &SocketHandler{
		svc:     svc,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed[origin] {
					return true
				}
				return origin == "http://"+r.Host || origin == "https://"+r.Host
			},
		},
	}
}

type socketConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	userID string
	wallet string
}

func (sc *socketConn) send(event string, data interface{}) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	_ = sc.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := sc.conn.WriteJSON(socketReply{Event: event, Data: data}); err != nil {
		log.WithFields(log.Fields{
			"event":   event,
			"user_id": sc.userID,
		}).WithError(err).Warn("Failed to write socket reply")
	}
}

func (sc *socketConn) ping() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait))
}

// Serve upgrades the request and dispatches events until the peer leaves.
// Each event runs in its own goroutine; replies may arrive out of order.
func (h *SocketHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to upgrade socket connection")
		return
	}

	sc := &socketConn{
		conn:   conn,
		userID: middleware.UserID(c),
		wallet: middleware.WalletAddress(c),
	}
	logger := log.WithFields(log.Fields{
		"remote_addr": conn.RemoteAddr().String(),
		"user_id":     sc.userID,
	})
	logger.Info("Socket connection established")

	// events in flight run to completion after the peer leaves
	ctx, cancel := context.WithCancel(context.Background())
	var inflight sync.WaitGroup
	defer func() {
		inflight.Wait()
		cancel()
		_ = conn.Close()
		logger.Info("Socket connection closed")
	}()

	conn.SetReadLimit(socketMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	go func() {
		ticker := time.NewTicker(socketPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sc.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("Socket connection closed unexpectedly")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg SocketMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			sc.send("/api/error", toErrorResponse(business.ValidationError("Invalid message")))
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			h.dispatch(ctx, sc, msg)
		}()
	}
}

func (h *SocketHandler) dispatch(ctx context.Context, sc *socketConn, msg SocketMessage) {
	switch msg.Event {
	case EventMint:
		h.mint(ctx, sc, msg.Data)
	case EventCreateLaunch:
		h.createLaunch(ctx, sc, msg.Data)
	case EventCreateToken:
		h.createToken(ctx, sc, msg.Data)
	default:
		sc.send("/api/error", toErrorResponse(business.ValidationError("Unknown event "+msg.Event)))
	}
}

func (h *SocketHandler) mint(ctx context.Context, sc *socketConn, data json.RawMessage) {
	if h.limiter != nil && sc.wallet != "" {
		if ok, _ := h.limiter.Allow(sc.wallet); !ok {
			sc.send(EventMintError, ErrorResponse{Kind: "rate_limited", Message: "Rate limit exceeded. Please try again later."})
			return
		}
	}

	var body MintRequest
	if err := json.Unmarshal(data, &body); err != nil {
		sc.send(EventMintError, toErrorResponse(business.ValidationError("Invalid request body")))
		return
	}
	req, err := body.toPurchase(sc.userID, sc.wallet)
	if err != nil {
		sc.send(EventMintError, toErrorResponse(err))
		return
	}

	launch, err := h.svc.Purchase(ctx, req)
	if err != nil {
		sc.send(EventMintError, toErrorResponse(err))
		return
	}
	sc.send(EventMintResult, launch)
}

func (h *SocketHandler) createLaunch(ctx context.Context, sc *socketConn, data json.RawMessage) {
	var body CreateLaunchRequest
	if err := json.Unmarshal(data, &body); err != nil {
		sc.send(EventLaunchError, toErrorResponse(business.ValidationError("Invalid request body")))
		return
	}
	req, err := body.toBusiness(sc.userID, sc.wallet)
	if err != nil {
		sc.send(EventLaunchError, toErrorResponse(err))
		return
	}

	launch, err := h.svc.CreateLaunch(ctx, req)
	if err != nil {
		sc.send(EventLaunchError, toErrorResponse(err))
		return
	}
	sc.send(EventLaunchResult, gin.H{"message": "Launch created.", "launch": launch})
}

func (h *SocketHandler) createToken(ctx context.Context, sc *socketConn, data json.RawMessage) {
	var body CreateTokenRequest
	if err := json.Unmarshal(data, &body); err != nil {
		sc.send(EventTokenError, toErrorResponse(business.ValidationError("Invalid request body")))
		return
	}
	req, err := body.toBusiness(sc.userID, sc.wallet)
	if err != nil {
		sc.send(EventTokenError, toErrorResponse(err))
		return
	}

	mintAddress, err := h.svc.CreateToken(ctx, req)
	if err != nil {
		sc.send(EventTokenError, toErrorResponse(err))
		return
	}
	sc.send(EventTokenResult, mintAddress)
}
