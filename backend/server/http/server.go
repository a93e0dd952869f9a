package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/livecast/signaling/backend/model"
)

const (
	defaultShutdownDeadline = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	// Rooms is the read/write surface over room counters consumed by the API.
	Rooms interface {
		GetRoom(id string) (model.RoomStatus, error)
		ListRooms() []model.RoomStatus
		StartLive(id string) model.RoomStatus
		StopLive(id string) (model.RoomStatus, error)
	}

	// Participants is the user-record surface consumed by the API.
	Participants interface {
		AssignRole(userID, role, room string) (model.Participant, error)
		ChangeRole(userID, role string) (model.Participant, string, error)
		Remove(userID string) (model.Participant, error)
		Get(userID string) (model.Participant, error)
		ListAll() []model.Participant
		ListByRoom(roomID string) ([]model.Participant, error)
	}

	Config struct {
		Logger       *zerolog.Logger
		Rooms        Rooms
		Participants Participants
		ListenAddr   string
	}

	// Server exposes the REST control and query surface over the two
	// registries. It never talks to live connections.
	Server struct {
		logger       zerolog.Logger
		rooms        Rooms
		participants Participants
		startedAt    time.Time
		*http.Server
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:       cfg.Logger.With().Str("component", "api-server").Logger(),
		rooms:        cfg.Rooms,
		participants: cfg.Participants,
		startedAt:    time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware())
	r.HandleMethodNotAllowed = true

	api := r.Group("/api")
	{
		api.GET("/health", srv.health)
		api.GET("/status", srv.status)
		api.GET("/rooms", srv.listRooms)
		api.POST("/start-live", srv.startLive)
		api.POST("/stop-live", srv.stopLive)
		api.GET("/live/:room", srv.liveStatus)
		api.GET("/room/:room/users", srv.roomUsers)
		api.POST("/assign-role", srv.assignRole)
		api.GET("/users", srv.listUsers)
		api.GET("/user/:userId", srv.getUser)
		api.PUT("/user/:userId/role", srv.changeRole)
		api.DELETE("/user/:userId", srv.deleteUser)
	}

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
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
