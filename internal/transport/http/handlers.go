package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/VideoSync/internal/app"
	"github.com/dkeye/VideoSync/internal/core"
	"github.com/dkeye/VideoSync/internal/domain"
)

type Handlers struct {
	Rooms *core.Registry
	Conns *app.Registry
}

type HealthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}

type RoomsResponse struct {
	Rooms []core.RoomInfo `json:"rooms"`
	Count int             `json:"count"`
}

type RoomResponse struct {
	ID           domain.RoomID        `json:"id"`
	Users        []domain.Member      `json:"users"`
	LiveCount    int                  `json:"liveCount"`
	Metadata     *domain.RoomMetadata `json:"metadata"`
	LastActivity time.Time            `json:"lastActivity"`
}

func (h Handlers) Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Rooms: h.Rooms.Count()}
	if h.Conns != nil {
		resp.Connections = h.Conns.Count()
	}
	c.JSON(http.StatusOK, resp)
}

func (h Handlers) ListRooms(c *gin.Context) {
	rooms := h.Rooms.List()
	c.JSON(http.StatusOK, RoomsResponse{Rooms: rooms, Count: len(rooms)})
}

func (h Handlers) GetRoom(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	snap, ok := h.Rooms.Snapshot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, RoomResponse{
		ID:           snap.ID,
		Users:        snap.Members,
		LiveCount:    len(snap.Live),
		Metadata:     snap.Metadata,
		LastActivity: snap.LastActivity,
	})
}
