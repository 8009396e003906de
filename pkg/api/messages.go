package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slicol/meshwork/pkg/network"
	"github.com/slicol/meshwork/pkg/protocol"
)

// ChatRequest posts a message to a chat room. An empty To sends it to every
// node sharing a session with us.
type ChatRequest struct {
	To      string `json:"to"`
	RoomID  string `json:"roomId" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// PrivateRequest sends a private message to one node
type PrivateRequest struct {
	To      string `json:"to" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// PingRequest pings one node
type PingRequest struct {
	To      string `json:"to" binding:"required"`
	Counter uint64 `json:"counter"`
}

// DeliveryStatus reports what happened to one outgoing message
type DeliveryStatus struct {
	NodeID    string `json:"nodeId"`
	MessageID string `json:"messageId,omitempty"`
	Status    string `json:"status"` // "sent", "queued" or "failed"
	Error     string `json:"error,omitempty"`
}

// SendResponse is returned by the message endpoints
type SendResponse struct {
	Success    bool             `json:"success"`
	Deliveries []DeliveryStatus `json:"deliveries"`
}

// send seals content for one node and hands it to the sender
func (s *Server) send(ctx context.Context, to protocol.NodeID, t protocol.MessageType, content protocol.Content) (DeliveryStatus, error) {
	status := DeliveryStatus{NodeID: to.String()}

	draft := protocol.NewDraft(s.net, t)
	if err := draft.SetTo(to); err != nil {
		return status, err
	}
	if err := draft.SetContent(content); err != nil {
		return status, err
	}

	sealed, err := draft.Seal()
	if err != nil {
		return status, err
	}
	status.MessageID = sealed.ID().String()

	switch err := s.sender.Send(ctx, sealed); {
	case err == nil:
		status.Status = "sent"
	case errors.Is(err, network.ErrQueued):
		status.Status = "queued"
	default:
		status.Status = "failed"
		status.Error = err.Error()
		return status, err
	}
	return status, nil
}

// respondDeliveries writes 200 when everything was sent, 202 when something
// was only queued and an error status when nothing got through
func respondDeliveries(c *gin.Context, deliveries []DeliveryStatus, lastErr error) {
	code := http.StatusOK
	delivered := 0
	for _, d := range deliveries {
		switch d.Status {
		case "queued":
			code = http.StatusAccepted
			delivered++
		case "sent":
			delivered++
		}
	}

	if delivered == 0 && lastErr != nil {
		respondError(c, "Failed to send message", lastErr)
		return
	}

	c.JSON(code, SendResponse{Success: true, Deliveries: deliveries})
}

func (s *Server) sendOne(c *gin.Context, rawTo string, t protocol.MessageType, content protocol.Content) {
	to, err := protocol.ParseNodeID(rawTo)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid node id", Message: err.Error()})
		return
	}
	if !s.net.IsKnown(to) {
		respondError(c, "Unknown node", fmt.Errorf("%w: %s", protocol.ErrNodeNotFound, to.Short()))
		return
	}

	status, err := s.send(c.Request.Context(), to, t, content)
	if err != nil && status.Status == "" {
		respondError(c, "Failed to send message", err)
		return
	}
	respondDeliveries(c, []DeliveryStatus{status}, err)
}

// handleSendChat handles POST /api/v1/messages/chat
func (s *Server) handleSendChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	content := protocol.ChatMessage{RoomID: req.RoomID, Message: req.Message}
	if req.To != "" {
		s.sendOne(c, req.To, protocol.MsgTypeChatroomMessage, content)
		return
	}

	// Chat content is encrypted, so a room message is sealed once per node
	var deliveries []DeliveryStatus
	var lastErr error
	for _, node := range s.net.Nodes() {
		if !node.HasSession() {
			continue
		}
		status, err := s.send(c.Request.Context(), node.ID, protocol.MsgTypeChatroomMessage, content)
		if err != nil {
			lastErr = err
			if status.Status == "" {
				status.Status = "failed"
				status.Error = err.Error()
			}
		}
		deliveries = append(deliveries, status)
	}

	if len(deliveries) == 0 {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "No recipients", Message: "no node shares a session key with this node"})
		return
	}
	respondDeliveries(c, deliveries, lastErr)
}

// handleSendPrivate handles POST /api/v1/messages/private
func (s *Server) handleSendPrivate(c *gin.Context) {
	var req PrivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	s.sendOne(c, req.To, protocol.MsgTypePrivateMessage, protocol.Text(req.Message))
}

// handleSendPing handles POST /api/v1/messages/ping
func (s *Server) handleSendPing(c *gin.Context) {
	var req PingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	s.sendOne(c, req.To, protocol.MsgTypePing, protocol.Counter(req.Counter))
}
