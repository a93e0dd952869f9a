package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/livecast/signaling/backend/model"
	"github.com/livecast/signaling/backend/registry"
)

type assignRoleRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Room   string `json:"room"`
}

type roomRequest struct {
	Room string `json:"room"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// Every response is a JSON envelope with a success flag and a timestamp;
// payload fields ride alongside.
func respond(c *gin.Context, code int, body gin.H) {
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	c.JSON(code, body)
}

func respondOK(c *gin.Context, body gin.H) {
	body["success"] = true
	respond(c, http.StatusOK, body)
}

func respondErr(c *gin.Context, code int, message string) {
	respond(c, code, gin.H{"success": false, "message": message})
}

func (srv *Server) health(c *gin.Context) {
	respondOK(c, gin.H{
		"message": "Live streaming server is running",
		"uptime":  time.Since(srv.startedAt).Seconds(),
	})
}

func (srv *Server) status(c *gin.Context) {
	room := c.DefaultQuery("room", model.DefaultRoom)
	st, err := srv.rooms.GetRoom(room)
	if err != nil {
		// unknown rooms report zero counters instead of failing
		st = model.RoomStatus{Room: room}
	}
	respondOK(c, gin.H{"room": room, "status": st})
}

func (srv *Server) listRooms(c *gin.Context) {
	rooms := srv.rooms.ListRooms()
	respondOK(c, gin.H{"rooms": rooms, "totalRooms": len(rooms)})
}

func (srv *Server) startLive(c *gin.Context) {
	var req roomRequest
	_ = c.ShouldBindJSON(&req)
	if req.Room == "" {
		req.Room = model.DefaultRoom
	}

	st := srv.rooms.StartLive(req.Room)
	srv.logger.Debug().Str("roomID", req.Room).Msg("live stream started")
	respondOK(c, gin.H{
		"message": fmt.Sprintf("Live stream started for room: %s", req.Room),
		"room":    req.Room,
		"status":  st,
	})
}

func (srv *Server) stopLive(c *gin.Context) {
	var req roomRequest
	_ = c.ShouldBindJSON(&req)
	if req.Room == "" {
		req.Room = model.DefaultRoom
	}

	st, err := srv.rooms.StopLive(req.Room)
	if err != nil {
		respondErr(c, http.StatusNotFound, fmt.Sprintf("Room %s not found", req.Room))
		return
	}
	srv.logger.Debug().Str("roomID", req.Room).Msg("live stream stopped")
	respondOK(c, gin.H{
		"message": fmt.Sprintf("Live stream stopped for room: %s", req.Room),
		"room":    req.Room,
		"status":  st,
	})
}

func (srv *Server) liveStatus(c *gin.Context) {
	room := c.Param("room")
	st, err := srv.rooms.GetRoom(room)
	if err != nil {
		respondErr(c, http.StatusNotFound, fmt.Sprintf("Room %s not found", room))
		return
	}
	respondOK(c, gin.H{
		"room":             room,
		"isLive":           st.IsActive,
		"broadcasterCount": st.BroadcasterCount,
		"viewerCount":      st.ViewerCount,
	})
}

func (srv *Server) roomUsers(c *gin.Context) {
	room := c.Param("room")
	users, err := srv.participants.ListByRoom(room)
	if err != nil {
		respondErr(c, http.StatusNotFound, fmt.Sprintf("Room %s not found", room))
		return
	}
	respondOK(c, gin.H{
		"room":         room,
		"users":        users,
		"totalUsers":   len(users),
		"broadcasters": countRole(users, model.RoleBroadcaster),
		"viewers":      countRole(users, model.RoleViewer),
	})
}

func (srv *Server) assignRole(c *gin.Context) {
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, http.StatusBadRequest, "userId and role are required")
		return
	}
	if req.UserID == "" || req.Role == "" {
		respondErr(c, http.StatusBadRequest, "userId and role are required")
		return
	}
	if req.Room == "" {
		req.Room = model.DefaultRoom
	}

	p, err := srv.participants.AssignRole(req.UserID, req.Role, req.Room)
	switch {
	case errors.Is(err, registry.ErrInvalidRole):
		respondErr(c, http.StatusBadRequest, `Role must be either "broadcaster" or "viewer"`)
		return
	case errors.Is(err, registry.ErrUserExists):
		// p carries the existing record here
		respond(c, http.StatusConflict, gin.H{
			"success": false,
			"message": fmt.Sprintf("User %s already exists with role %s in room %s",
				req.UserID, p.Role, p.Room),
			"existingUser": p,
		})
		return
	case err != nil:
		srv.logger.Error().Err(err).Msg("assign role failed")
		respondErr(c, http.StatusInternalServerError, "unexpected error")
		return
	}

	srv.logger.Debug().
		Str("userID", req.UserID).
		Str("role", req.Role).
		Str("roomID", req.Room).
		Msg("role assigned")
	respondOK(c, gin.H{
		"message": fmt.Sprintf("Role %s assigned to user %s for room %s", req.Role, req.UserID, req.Room),
		"user": gin.H{
			"userId":     p.UserID,
			"role":       p.Role,
			"room":       p.Room,
			"assignedAt": p.JoinedAt,
		},
	})
}

func (srv *Server) listUsers(c *gin.Context) {
	users := srv.participants.ListAll()
	respondOK(c, gin.H{
		"users":        users,
		"totalUsers":   len(users),
		"broadcasters": countRole(users, model.RoleBroadcaster),
		"viewers":      countRole(users, model.RoleViewer),
	})
}

func (srv *Server) getUser(c *gin.Context) {
	userID := c.Param("userId")
	p, err := srv.participants.Get(userID)
	if err != nil {
		respondErr(c, http.StatusNotFound, fmt.Sprintf("User %s not found", userID))
		return
	}
	respondOK(c, gin.H{"user": p})
}

func (srv *Server) changeRole(c *gin.Context) {
	userID := c.Param("userId")

	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, http.StatusBadRequest, `Role must be either "broadcaster" or "viewer"`)
		return
	}

	p, oldRole, err := srv.participants.ChangeRole(userID, req.Role)
	switch {
	case errors.Is(err, registry.ErrInvalidRole):
		respondErr(c, http.StatusBadRequest, `Role must be either "broadcaster" or "viewer"`)
		return
	case errors.Is(err, registry.ErrUserNotFound):
		respondErr(c, http.StatusNotFound, fmt.Sprintf("User %s not found", userID))
		return
	case err != nil:
		srv.logger.Error().Err(err).Msg("change role failed")
		respondErr(c, http.StatusInternalServerError, "unexpected error")
		return
	}

	respondOK(c, gin.H{
		"message": fmt.Sprintf("User %s role changed from %s to %s", userID, oldRole, req.Role),
		"user":    p,
	})
}

func (srv *Server) deleteUser(c *gin.Context) {
	userID := c.Param("userId")
	p, err := srv.participants.Remove(userID)
	if err != nil {
		respondErr(c, http.StatusNotFound, fmt.Sprintf("User %s not found", userID))
		return
	}
	srv.logger.Debug().Str("userID", userID).Msg("user removed")
	respondOK(c, gin.H{
		"message":     fmt.Sprintf("User %s removed successfully", userID),
		"removedUser": p,
	})
}

func countRole(users []model.Participant, role string) int {
	var n int
	for _, u := range users {
		if u.Role == role {
			n++
		}
	}
	return n
}
