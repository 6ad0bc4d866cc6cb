package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
	"nearcast/pkg/errors"
	"nearcast/pkg/validation"
)

// PairingHandler exposes the operator API on the broadcasting side: pending
// pairs, active sessions and history, node status and the broadcast switch.
type PairingHandler struct {
	sessions  ports.SessionService
	telemetry ports.TelemetryService
	flag      ports.BroadcastFlag
	nodeName  string
	logger    *zap.SugaredLogger
}

func NewPairingHandler(
	sessions ports.SessionService,
	telemetry ports.TelemetryService,
	flag ports.BroadcastFlag,
	nodeName string,
	logger *zap.SugaredLogger,
) *PairingHandler {
	return &PairingHandler{
		sessions:  sessions,
		telemetry: telemetry,
		flag:      flag,
		nodeName:  nodeName,
		logger:    logger,
	}
}

type pairView struct {
	ID          string    `json:"pair_id"`
	Device      string    `json:"device"`
	Address     string    `json:"address"`
	RequestedAt time.Time `json:"requested_at"`
}

type sessionView struct {
	ID        string    `json:"session_id"`
	Device    string    `json:"device"`
	Address   string    `json:"address"`
	StartedAt time.Time `json:"started_at"`
}

type recordView struct {
	ID            string    `json:"session_id"`
	Device        string    `json:"device"`
	Address       string    `json:"address"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	FramesRelayed uint64    `json:"frames_relayed"`
	BytesRelayed  uint64    `json:"bytes_relayed"`
	CloseReason   string    `json:"close_reason"`
}

type telemetryView struct {
	Timestamp          time.Time `json:"timestamp"`
	FPS                float64   `json:"fps"`
	Kbps               float64   `json:"kbps"`
	DropRatio          float64   `json:"drop_ratio"`
	FramesCompleted    uint64    `json:"frames_completed"`
	FramesDropped      uint64    `json:"frames_dropped"`
	DatagramsIn        uint64    `json:"datagrams_in"`
	DatagramsOut       uint64    `json:"datagrams_out"`
	DatagramsDiscarded uint64    `json:"datagrams_discarded"`
	BytesIn            uint64    `json:"bytes_in"`
	BytesOut           uint64    `json:"bytes_out"`
	PeerTracked        bool      `json:"peer_tracked"`
	Quality            string    `json:"quality"`
}

func newTelemetryView(s domain.TelemetrySnapshot) telemetryView {
	return telemetryView{
		Timestamp:          s.Timestamp,
		FPS:                s.FPS,
		Kbps:               s.Kbps,
		DropRatio:          s.DropRatio,
		FramesCompleted:    s.FramesCompleted,
		FramesDropped:      s.FramesDropped,
		DatagramsIn:        s.DatagramsIn,
		DatagramsOut:       s.DatagramsOut,
		DatagramsDiscarded: s.DatagramsDiscarded,
		BytesIn:            s.BytesIn,
		BytesOut:           s.BytesOut,
		PeerTracked:        s.PeerTracked,
		Quality:            string(s.Quality),
	}
}

func (h *PairingHandler) ListPairs(c *gin.Context) {
	pairs, err := h.sessions.PendingPairs(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	views := make([]pairView, 0, len(pairs))
	for _, p := range pairs {
		views = append(views, pairView{
			ID:          string(p.ID),
			Device:      p.Remote.Name,
			Address:     p.Remote.Address,
			RequestedAt: p.RequestedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"pairs": views})
}

func (h *PairingHandler) AcceptPair(c *gin.Context) {
	pairID := c.Param("id")
	if err := validation.ValidatePairID(pairID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	session, err := h.sessions.Accept(c.Request.Context(), domain.PairID(pairID))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": sessionView{
			ID:        string(session.ID),
			Device:    session.Remote.Name,
			Address:   session.Remote.Address,
			StartedAt: session.StartedAt,
		},
	})
}

func (h *PairingHandler) DeclinePair(c *gin.Context) {
	pairID := c.Param("id")
	if err := validation.ValidatePairID(pairID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.sessions.Decline(c.Request.Context(), domain.PairID(pairID)); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "declined"})
}

// ListSessions returns active sessions, or closed ones with ?history=1.
func (h *PairingHandler) ListSessions(c *gin.Context) {
	if wantHistory, _ := strconv.ParseBool(c.Query("history")); wantHistory {
		h.listHistory(c)
		return
	}

	sessions, err := h.sessions.Sessions(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:        string(s.ID),
			Device:    s.Remote.Name,
			Address:   s.Remote.Address,
			StartedAt: s.StartedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

func (h *PairingHandler) listHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > 1000 {
			c.Error(errors.NewInvalidInputError("limit must be an integer between 0 and 1000"))
			return
		}
		limit = parsed
	}

	records, err := h.sessions.History(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}

	views := make([]recordView, 0, len(records))
	for _, r := range records {
		views = append(views, recordView{
			ID:            string(r.ID),
			Device:        r.Remote.Name,
			Address:       r.Remote.Address,
			StartedAt:     r.StartedAt,
			EndedAt:       r.EndedAt,
			FramesRelayed: r.FramesRelayed,
			BytesRelayed:  r.BytesRelayed,
			CloseReason:   r.CloseReason,
		})
	}

	c.JSON(http.StatusOK, gin.H{"history": views})
}

func (h *PairingHandler) EndSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := validation.ValidateSessionID(sessionID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.sessions.EndSession(c.Request.Context(), domain.SessionID(sessionID), "ended by operator"); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h *PairingHandler) Status(c *gin.Context) {
	broadcastOn, err := h.flag.Get(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	snapshot := h.telemetry.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"node":            h.nodeName,
		"pairing_code":    h.sessions.CurrentCode(),
		"broadcast":       broadcastOn,
		"active_sessions": h.sessions.ActiveCount(c.Request.Context()),
		"telemetry":       newTelemetryView(snapshot),
	})
}

type broadcastRequest struct {
	On *bool `json:"on" binding:"required"`
}

func (h *PairingHandler) SetBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("body must be {\"on\": true|false}"))
		return
	}

	if err := h.flag.Set(c.Request.Context(), *req.On); err != nil {
		c.Error(err)
		return
	}

	operator, _ := c.Get("operator")
	h.logger.Infow("broadcast flag changed", "on", *req.On, "operator", operator)

	c.JSON(http.StatusOK, gin.H{"broadcast": *req.On})
}

// RotateCode replaces the pairing code, invalidating the old one for new
// handshakes.
func (h *PairingHandler) RotateCode(c *gin.Context) {
	code := h.sessions.RotateCode()

	operator, _ := c.Get("operator")
	h.logger.Infow("pairing code rotated", "operator", operator)

	c.JSON(http.StatusOK, gin.H{"pairing_code": code})
}
