package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/presensia/presensia-api/internal/realtime"
)

// WSHandler upgrades HTTP requests into realtime connections.
type WSHandler struct {
	gateway *realtime.Gateway
}

// NewWSHandler creates a new handler.
func NewWSHandler(gw *realtime.Gateway) *WSHandler {
	return &WSHandler{gateway: gw}
}

// Serve hands the request to the gateway for the lifetime of the socket.
func (h *WSHandler) Serve(c *gin.Context) {
	h.gateway.HandleConnection(c.Writer, c.Request)
}
