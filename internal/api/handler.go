package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/queue"
)

// Sessions is the attendance surface the handlers drive.
type Sessions interface {
	UpsertClass(ctx context.Context, c attendance.Class) (attendance.Class, error)
	CreateSession(ctx context.Context, classID string) (attendance.Session, error)
	GetSession(ctx context.Context, sessionID string) (attendance.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	TodayForStudent(ctx context.Context, studentID string) ([]attendance.TodaySession, error)
	IssueCredential(ctx context.Context, sessionID string, minutes int) (attendance.Credential, error)
	ActiveCredential(ctx context.Context, sessionID string) (attendance.Credential, error)
	CheckIn(ctx context.Context, sessionID, studentID, token string) (attendance.Record, error)
	Generate(ctx context.Context) (attendance.GenerateReport, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

type Handler struct {
	svc    Sessions
	events queue.Queue // nil disables audit publishing
	checks map[string]HealthCheck
	log    *slog.Logger
	now    func() time.Time
}

func NewHandler(svc Sessions, events queue.Queue, checks map[string]HealthCheck, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, events: events, checks: checks, log: logger, now: time.Now}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Classes ----------

// UpsertClass replaces the schedule, roster and remaining weeks of a class.
func (h *Handler) UpsertClass(c *gin.Context) {
	var req attendance.Class
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.ID = c.Param("class_id")
	class, err := h.svc.UpsertClass(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, class)
}

// ---------- Sessions ----------

type createSessionRequest struct {
	ClassID string `json:"class_id"`
}

// sessionView adds the derived credential state to a session.
type sessionView struct {
	attendance.Session
	CredentialState attendance.CredentialState `json:"credential_state"`
}

func (h *Handler) view(sess attendance.Session) sessionView {
	return sessionView{Session: sess, CredentialState: sess.CredentialState(h.now())}
}

func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.svc.CreateSession(c.Request.Context(), req.ClassID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.view(sess))
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.svc.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(sess))
}

func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.svc.DeleteSession(c.Request.Context(), c.Param("session_id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Today lists the caller's sessions for the current day.
func (h *Handler) Today(c *gin.Context) {
	id, _ := auth.FromContext(c)
	sessions, err := h.svc.TodayForStudent(c.Request.Context(), id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if sessions == nil {
		sessions = []attendance.TodaySession{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// ---------- QR credentials ----------

type issueRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

// IssueQR replaces the session credential. An empty body uses the default window.
func (h *Handler) IssueQR(c *gin.Context) {
	var req issueRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	cred, err := h.svc.IssueCredential(c.Request.Context(), c.Param("session_id"), req.DurationMinutes)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":            cred.Token,
		"expires_at":       cred.ExpiresAt,
		"duration_minutes": cred.DurationMinutes,
	})
}

// qrPayload is what a student app decodes from the QR image.
type qrPayload struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// QRImage renders the active credential as a PNG for projection.
func (h *Handler) QRImage(c *gin.Context) {
	cred, err := h.svc.ActiveCredential(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	content, err := json.Marshal(qrPayload{SessionID: cred.SessionID, Token: cred.Token})
	if err != nil {
		h.writeError(c, err)
		return
	}
	png, err := qrcode.Encode(string(content), qrcode.Medium, 256)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// ---------- Check-in ----------

type checkInRequest struct {
	Token string `json:"token"`
}

// CheckIn marks the authenticated student present. Every attempt, accepted or
// not, is published for the audit trail.
func (h *Handler) CheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, _ := auth.FromContext(c)
	sessionID := c.Param("session_id")

	rec, err := h.svc.CheckIn(c.Request.Context(), sessionID, id.UserID, req.Token)
	h.publishAudit(c.Request.Context(), attendance.NewAuditEntry(sessionID, id.UserID, err, h.now()))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "record": rec})
}

func (h *Handler) publishAudit(ctx context.Context, entry attendance.AuditEntry) {
	if h.events == nil {
		return
	}
	msg, err := queue.NewMessage(queue.TypeCheckIn, entry)
	if err != nil {
		h.log.Warn("encode audit event", "error", err)
		return
	}
	// Detached from the request so a client disconnect does not drop the event.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.events.Publish(pubCtx, msg); err != nil {
		h.log.Warn("publish audit event", "session_id", entry.SessionID, "error", err)
	}
}

// ---------- Admin ----------

// Generate runs the session generator immediately.
func (h *Handler) Generate(c *gin.Context) {
	report, err := h.svc.Generate(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
