package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/waypoint/backend/model"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 4096
	defaultWebsocketWriteBufferSize    = 4096
	defaultWebSocketMaxMessageSize     = 64 << 10
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	// RelayService handles relay traffic of every connection.
	RelayService interface {
		Open(peer *model.Peer)
		Handle(peer *model.Peer, raw []byte)
		Close(peer *model.Peer)
	}

	Config struct {
		Logger       *zerolog.Logger
		RelayService RelayService
		ListenAddr   string
		OutboxSize   int
		// PingInterval and PongWait default to 5s and 7s.
		PingInterval time.Duration
		PongWait     time.Duration
	}

	Server struct {
		svc RelayService
		ws  *websocket.Upgrader
		*http.Server

		// connCtx outlives requests and is canceled on shutdown,
		// hijacked connections are not closed by http.Server.Shutdown.
		connCtx    context.Context
		connCancel context.CancelFunc
		conns      *sync.WaitGroup
		// connMx orders conns.Add against CloseConnections.
		connMx *sync.Mutex

		outboxSize   int
		pingInterval time.Duration
		pongWait     time.Duration
		logger       zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	connCtx, connCancel := context.WithCancel(context.Background())
	srv := &Server{
		logger:     cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:        cfg.RelayService,
		outboxSize:   cfg.OutboxSize,
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
		connCtx:      connCtx,
		connCancel:   connCancel,
		conns:        &sync.WaitGroup{},
		connMx:       &sync.Mutex{},
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", srv.relay)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
	srv.CloseConnections()
}

// CloseConnections terminates all relay connections and waits for their close hooks.
func (srv *Server) CloseConnections() {
	srv.connMx.Lock()
	srv.connCancel()
	srv.connMx.Unlock()
	srv.conns.Wait()
}

// admit reserves a slot for a new connection, false once shutdown has begun.
func (srv *Server) admit() bool {
	srv.connMx.Lock()
	defer srv.connMx.Unlock()

	if srv.connCtx.Err() != nil {
		return false
	}
	srv.conns.Add(1)
	return true
}

func (srv *Server) relay(w http.ResponseWriter, r *http.Request) {
	if !srv.admit() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.conns.Done()
		// Upgrade has already replied to the client.
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	peer := model.NewPeer(srv.outboxSize)
	srv.svc.Open(peer)

	go func() {
		defer srv.conns.Done()
		srv.handleWSConn(peer, conn)
	}()
}

func (srv *Server) handleWSConn(peer *model.Peer, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(srv.connCtx)
	defer cancel()

	wg := &sync.WaitGroup{}
	logger := srv.logger.With().
		Str("peer", peer.ID).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	logger.Debug().Msg("relay connection opened")

	wg.Add(2)
	go func() {
		webSocketReceiver(ctx, wg, conn, func(msg []byte) {
			srv.svc.Handle(peer, msg)
		}, srv.pongWait, &logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, peer.Outbox(), srv.pingInterval, &logger)
		cancel()
	}()

	// unblock the receiver when the sender or the server gives up
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	wg.Wait()
	peer.Close()
	srv.svc.Close(peer)
	webSocketCloser(conn, &logger)
	logger.Debug().Msg("relay connection closed")
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Message,
	pingInterval time.Duration,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(pingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Debug().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			logger.Trace().Msg("ping sent")

		case msg := <-tx:
			b, wsErr := model.EncodeMessage(msg)
			if wsErr != nil {
				logger.Error().Err(wsErr).Str("type", msg.MessageType()).Msg("failed to marshal outgoing message")
				continue
			}

			wsErr = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsW, wsErr := conn.NextWriter(websocket.TextMessage)
			if wsErr != nil {
				logger.Debug().Err(wsErr).Msg("failed to get websocket text writer")
				break SendLoop
			}
			_, wsErr = wsW.Write(b)
			if wsErr != nil {
				logger.Debug().Err(wsErr).Msg("failed to write outgoing message")
				break SendLoop
			}
			wsErr = wsW.Close()
			if wsErr != nil {
				logger.Debug().Err(wsErr).Msg("failed to close websocket writer")
				break SendLoop
			}
		}
	}
}

func webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	handle func([]byte),
	pongWait time.Duration,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		if ctx.Err() != nil {
			return nil
		}
		return readDeadLineFunc(pongWait)
	})
	err := readDeadLineFunc(pongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

	for {
		_, msg, wsErr := conn.ReadMessage()
		if wsErr != nil {
			switch {
			case ctx.Err() != nil:
				logger.Debug().Msg("receive interrupted")
			case websocket.IsCloseError(wsErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				logger.Debug().Err(wsErr).Msg("connection closed by peer")
			default:
				logger.Warn().Err(wsErr).Msg("unexpected error during receive")
			}
			return
		}
		if err = readDeadLineFunc(pongWait); err != nil {
			logger.Error().Err(err).Msg("failed to set websocket read deadline")
			return
		}
		// a deadline reset racing the shutdown watcher must not outlive it
		if ctx.Err() != nil {
			logger.Debug().Msg("receive interrupted")
			return
		}
		handle(msg)
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if wsErr != nil {
			logger.Debug().Err(wsErr).Msg("failed to write close message")
		}
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Debug().Err(wsErr).Msg("failed to close websocket connection")
	}
}
