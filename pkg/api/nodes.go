package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slicol/meshwork/pkg/crypto"
	"github.com/slicol/meshwork/pkg/network"
	"github.com/slicol/meshwork/pkg/protocol"
)

// NodeResponse describes a known node
type NodeResponse struct {
	NodeID     string     `json:"nodeId"`
	PeerID     string     `json:"peerId"`
	Nickname   string     `json:"nickname,omitempty"`
	Trusted    bool       `json:"trusted"`
	HasSession bool       `json:"hasSession"`
	Connected  bool       `json:"connected"`
	LastSeen   *time.Time `json:"lastSeen,omitempty"`
}

// NodesResponse lists known nodes
type NodesResponse struct {
	Success bool           `json:"success"`
	Count   int            `json:"count"`
	Nodes   []NodeResponse `json:"nodes"`
}

// AddNodeRequest registers a node. SessionKey is base64 in JSON.
type AddNodeRequest struct {
	PublicKey  string `json:"publicKey" binding:"required"`
	Nickname   string `json:"nickname"`
	SessionKey []byte `json:"sessionKey"`
	Trusted    bool   `json:"trusted"`
}

// TrustRequest changes the trusted flag of a node
type TrustRequest struct {
	Trusted bool `json:"trusted"`
}

// SessionRequest installs a session key (base64 in JSON)
type SessionRequest struct {
	SessionKey []byte `json:"sessionKey" binding:"required"`
}

// NodeInfoResponse contains information about this node
type NodeInfoResponse struct {
	Success      bool      `json:"success"`
	NodeID       string    `json:"nodeId"`
	NetworkID    string    `json:"networkId"`
	Addresses    []string  `json:"addresses"`
	KnownNodes   int       `json:"knownNodes"`
	TrustedNodes int       `json:"trustedNodes"`
	QueuedCount  int       `json:"queuedMessages"`
	StartedAt    time.Time `json:"startedAt"`
}

// HealthResponse contains node health information
type HealthResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
}

func (s *Server) connected(id protocol.NodeID) bool {
	if tr, ok := s.sender.(*network.Transport); ok {
		return tr.IsConnected(id)
	}
	return false
}

func (s *Server) nodeResponse(node network.Node) NodeResponse {
	resp := NodeResponse{
		NodeID:     node.ID.String(),
		PeerID:     node.PeerID.String(),
		Nickname:   node.Nickname,
		Trusted:    node.Trusted,
		HasSession: node.HasSession(),
		Connected:  s.connected(node.ID),
	}
	if !node.LastSeen.IsZero() {
		seen := node.LastSeen
		resp.LastSeen = &seen
	}
	return resp
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Success: true,
		Status:  "healthy",
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleNodeInfo handles GET /api/v1/node/info
func (s *Server) handleNodeInfo(c *gin.Context) {
	resp := NodeInfoResponse{
		Success:   true,
		NodeID:    s.net.LocalNodeID().String(),
		NetworkID: s.net.ID(),
		Addresses: []string{},
		StartedAt: s.startedAt,
	}

	for _, node := range s.net.Nodes() {
		resp.KnownNodes++
		if node.Trusted {
			resp.TrustedNodes++
		}
	}

	if s.addrs != nil {
		for _, addr := range s.addrs() {
			resp.Addresses = append(resp.Addresses, addr.String())
		}
	}

	if s.queue != nil {
		if size, err := s.queue.Size(); err == nil {
			resp.QueuedCount = size
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleListNodes handles GET /api/v1/nodes
func (s *Server) handleListNodes(c *gin.Context) {
	nodes := s.net.Nodes()
	resp := NodesResponse{Success: true, Count: len(nodes), Nodes: make([]NodeResponse, 0, len(nodes))}
	for _, node := range nodes {
		resp.Nodes = append(resp.Nodes, s.nodeResponse(node))
	}
	c.JSON(http.StatusOK, resp)
}

// handleAddNode handles POST /api/v1/nodes
func (s *Server) handleAddNode(c *gin.Context) {
	var req AddNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	pub, err := crypto.ImportPublicKeyPEM([]byte(req.PublicKey))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid public key", Message: err.Error()})
		return
	}

	// Validate the session key before the node is stored
	if len(req.SessionKey) > 0 {
		if _, err := crypto.NewSessionCipher(req.SessionKey); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid session key", Message: err.Error()})
			return
		}
	}

	id, err := s.net.AddNode(pub, req.Nickname)
	if err != nil {
		respondError(c, "Failed to add node", err)
		return
	}

	if len(req.SessionKey) > 0 {
		if err := s.net.SetSessionKey(id, req.SessionKey); err != nil {
			respondError(c, "Failed to set session key", err)
			return
		}
	}
	if req.Trusted {
		if err := s.net.SetTrusted(id, true); err != nil {
			respondError(c, "Failed to trust node", err)
			return
		}
	}

	node, _ := s.net.Node(id)
	c.JSON(http.StatusCreated, s.nodeResponse(node))
}

// nodeParam parses the :id path parameter
func nodeParam(c *gin.Context) (protocol.NodeID, bool) {
	id, err := protocol.ParseNodeID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid node id", Message: err.Error()})
		return protocol.NodeID{}, false
	}
	return id, true
}

// handleSetTrust handles PUT /api/v1/nodes/:id/trust
func (s *Server) handleSetTrust(c *gin.Context) {
	id, ok := nodeParam(c)
	if !ok {
		return
	}

	var req TrustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := s.net.SetTrusted(id, req.Trusted); err != nil {
		respondError(c, "Failed to update node", err)
		return
	}

	node, _ := s.net.Node(id)
	c.JSON(http.StatusOK, s.nodeResponse(node))
}

// handleSetSession handles PUT /api/v1/nodes/:id/session
func (s *Server) handleSetSession(c *gin.Context) {
	id, ok := nodeParam(c)
	if !ok {
		return
	}

	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := s.net.SetSessionKey(id, req.SessionKey); err != nil {
		if errors.Is(err, crypto.ErrInvalidSessionKey) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid session key", Message: err.Error()})
			return
		}
		respondError(c, "Failed to set session key", err)
		return
	}

	node, _ := s.net.Node(id)
	c.JSON(http.StatusOK, s.nodeResponse(node))
}

// handleRemoveNode handles DELETE /api/v1/nodes/:id
func (s *Server) handleRemoveNode(c *gin.Context) {
	id, ok := nodeParam(c)
	if !ok {
		return
	}

	if err := s.net.RemoveNode(id); err != nil {
		respondError(c, "Failed to remove node", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
