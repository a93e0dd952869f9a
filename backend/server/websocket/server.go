package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/livecast/signaling/backend/model"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 9000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second

	defaultChatBuffer = 64
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	// Relay consumes the message stream of one signaling connection.
	Relay interface {
		Serve(ctx context.Context, connID string, wire model.Wire)
	}

	// ChatHub broadcasts raw chat messages to every connected chat client.
	ChatHub interface {
		Register(id string, tx chan<- []byte)
		Unregister(id string)
		Broadcast(msg []byte)
	}

	Config struct {
		Logger     *zerolog.Logger
		Relay      Relay
		Chat       ChatHub
		ListenAddr string
	}

	// Server terminates the two realtime transports: /signal carries the
	// per-room negotiation protocol, /chat the global chat fan-out.
	Server struct {
		relay Relay
		chat  ChatHub
		ws    *websocket.Upgrader
		*http.Server

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		relay:  cfg.Relay,
		chat:   cfg.Chat,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/signal", srv.signal)
	mux.HandleFunc("/chat", srv.chatConn)

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
}

// signal accepts a signaling connection. The room and role are not part of
// the URL; they arrive with the in-band join message, so all the handler
// does is mint an address token and hand the wire to the relay.
func (srv *Server) signal(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.NewString()
	srv.logger.Debug().Str("connID", connID).Msg("signaling connection accepted")

	go srv.handleSignalConn(conn, connID)
}

func (srv *Server) handleSignalConn(conn *websocket.Conn, connID string) {
	var (
		wg     = &sync.WaitGroup{}
		wire   = model.NewWire()
		logger = srv.logger.With().Str("connID", connID).Logger()
	)

	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(2)
	go func() {
		webSocketReceiver(ctx, wg, conn, wire.RX, &logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, wire.TX, &logger)
		cancel()
	}()

	// the relay loop exits when ctx is canceled, running its cleanup on
	// the way out
	srv.relay.Serve(ctx, connID, wire)
	cancel()

	wg.Wait()
	webSocketCloser(conn, &logger)
	logger.Debug().Msg("signaling connection closed")
}

// chatConn accepts a chat connection: everything received is broadcast
// verbatim to every chat client, nothing is stored.
func (srv *Server) chatConn(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.NewString()
	go srv.handleChatConn(conn, clientID)
}

func (srv *Server) handleChatConn(conn *websocket.Conn, clientID string) {
	logger := srv.logger.With().Str("chatClientID", clientID).Logger()
	tx := make(chan []byte, defaultChatBuffer)

	ctx, cancel := context.WithCancel(context.Background())
	srv.chat.Register(clientID, tx)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		chatSender(ctx, wg, conn, tx, &logger)
		cancel()
	}()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(defaultPongWait)); err == nil {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(defaultPongWait))
		})
		for {
			_, msg, rErr := conn.ReadMessage()
			if rErr != nil {
				break
			}
			srv.chat.Broadcast(msg)
		}
	}

	srv.chat.Unregister(clientID)
	cancel()
	wg.Wait()
	webSocketCloser(conn, &logger)
}

func chatSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan []byte,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := writeWithDeadline(conn, websocket.PingMessage, nil); err != nil {
				logger.Error().Err(err).Msg("failed to send ping")
				return
			}
		case msg := <-tx:
			if err := writeWithDeadline(conn, websocket.TextMessage, msg); err != nil {
				logger.Error().Err(err).Msg("failed to write chat message")
				return
			}
		}
	}
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Message,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
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
			if wsErr := writeWithDeadline(conn, websocket.PingMessage, nil); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			logger.Trace().Msg("ping sent")

		case msg, ok := <-tx:
			if !ok {
				break SendLoop
			}

			b, wsErr := json.Marshal(&msg)
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to marshall outgoing message")
				break SendLoop
			}
			if wsErr = writeWithDeadline(conn, websocket.TextMessage, b); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing message")
				break SendLoop
			}
		}
	}
}

func writeWithDeadline(conn *websocket.Conn, messageType int, b []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, b)
}

func webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	rx chan<- model.Message,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Warn().Err(wsErr).Msg("connection closed")
				} else {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			var m model.Message
			if wsErr = json.Unmarshal(msg, &m); wsErr != nil {
				// malformed payloads are dropped, the connection stays open
				logger.Error().Err(wsErr).Msg("failed to unmarshall incoming message")
			} else {
				select {
				case rx <- m:
				case <-ctx.Done():
					break RecvLoop
				}
			}
		}
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage, []byte{})
		if wsErr != nil {
			logger.Error().Err(wsErr).Msg("failed to close websocket connection")
		}
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
