package http

import (
	"net/http"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/services"
	"peerlink/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

type PeerHandler struct {
	sessions    *services.SessionService
	negotiation *services.NegotiationService
	advisor     *services.RenegotiationService
	health      *monitoring.HealthChecker
}

func NewPeerHandler(
	sessions *services.SessionService,
	negotiation *services.NegotiationService,
	advisor *services.RenegotiationService,
	health *monitoring.HealthChecker,
) *PeerHandler {
	return &PeerHandler{
		sessions:    sessions,
		negotiation: negotiation,
		advisor:     advisor,
		health:      health,
	}
}

func (h *PeerHandler) SetupRoutes(router *gin.Engine, authenticated gin.HandlerFunc) {
	router.GET("/health", h.Health)

	api := router.Group("/api/v1", authenticated)
	{
		api.GET("/peers", h.ListPeers)
		api.GET("/peers/:id", h.GetPeer)
		api.POST("/peers/:id/renegotiate", h.Renegotiate)
		api.POST("/peers/:id/offer", h.ForceOffer)
		api.DELETE("/peers/:id", h.RemovePeer)
	}
}

type peerView struct {
	ID           domain.PeerID `json:"id"`
	Weight       uint64        `json:"weight"`
	Agent        string        `json:"agent,omitempty"`
	Relay        bool          `json:"relay"`
	State        string        `json:"state"`
	Connectivity string        `json:"connectivity"`
	Connected    bool          `json:"connected"`
	Negotiating  bool          `json:"negotiating"`
	JoinedAt     string        `json:"joined_at"`
}

func viewOf(session *domain.PeerSession) peerView {
	return peerView{
		ID:           session.ID,
		Weight:       session.Weight,
		Agent:        session.Agent,
		Relay:        session.Relay,
		State:        session.State.String(),
		Connectivity: session.Connectivity.String(),
		Connected:    session.Connected.Load(),
		Negotiating:  session.ProcessingLocalDescription(),
		JoinedAt:     session.JoinedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *PeerHandler) ListPeers(c *gin.Context) {
	sessions := h.sessions.Sessions()
	peers := make([]peerView, 0, len(sessions))
	for _, session := range sessions {
		peers = append(peers, viewOf(session))
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

func (h *PeerHandler) GetPeer(c *gin.Context) {
	peerID := domain.PeerID(c.Param("id"))
	session, ok := h.sessions.Session(peerID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer": viewOf(session)})
}

// Renegotiate triggers a conditional offer: one is issued only if the
// transmitting sender set changed since the last decision.
func (h *PeerHandler) Renegotiate(c *gin.Context) {
	peerID := domain.PeerID(c.Param("id"))
	if _, ok := h.sessions.Session(peerID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
		return
	}

	required, err := h.advisor.Required(c.Request.Context(), peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if required {
		go h.negotiation.CreateOffer(c.Request.Context(), peerID, false)
	}
	c.JSON(http.StatusAccepted, gin.H{"renegotiation": required})
}

func (h *PeerHandler) ForceOffer(c *gin.Context) {
	peerID := domain.PeerID(c.Param("id"))
	if _, ok := h.sessions.Session(peerID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
		return
	}

	var req struct {
		ICERestart bool `json:"ice_restart"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	go h.negotiation.CreateOffer(c.Request.Context(), peerID, req.ICERestart)
	c.JSON(http.StatusAccepted, gin.H{"offer": "scheduled", "ice_restart": req.ICERestart})
}

func (h *PeerHandler) RemovePeer(c *gin.Context) {
	peerID := domain.PeerID(c.Param("id"))
	if err := h.sessions.RemovePeer(c.Request.Context(), peerID); err != nil {
		if err == domain.ErrPeerNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": peerID})
}

func (h *PeerHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
