package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/airfi/airfi-guest-portal/internal/admin"
	"github.com/airfi/airfi-guest-portal/internal/apperror"
	"github.com/airfi/airfi-guest-portal/internal/session"
)

// Handler contains all HTTP handlers for the API.
type Handler struct {
	sessions *session.Manager
	admin    *admin.Service
	devMode  bool
	logger   *zap.Logger
}

// NewHandler creates a new API handler. devMode adds admin notes to error
// responses.
func NewHandler(sessions *session.Manager, adminService *admin.Service, devMode bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		sessions: sessions,
		admin:    adminService,
		devMode:  devMode,
		logger:   logger,
	}
}

// fail writes err as a JSON error body with its mapped status.
func (h *Handler) fail(c *gin.Context, err error) {
	if apperror.KindOf(err) == apperror.KindUnknown {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(apperror.HTTPStatus(err), gin.H{
		"success": false,
		"error":   apperror.Describe(err, h.devMode),
	})
}

func (h *Handler) bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.fail(c, apperror.Wrap(apperror.KindInvalidInput, err, "malformed request body"))
		return false
	}
	return true
}

func (h *Handler) idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, apperror.Newf(apperror.KindInvalidInput, "invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

func adminUser(c *gin.Context) string {
	return c.GetString(gin.AuthUserKey)
}

// HealthCheck returns the service health status.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// LoginRequest is the login form. Captive-portal parameters may also be
// passed in the query string, as the router appends them to the portal URL.
type LoginRequest struct {
	MobileNumber string `json:"mobile_number" form:"mobile_number"`
	RoomNumber   string `json:"room_number" form:"room_number"`
	MAC          string `json:"mac" form:"mac"`
	IP           string `json:"ip" form:"ip"`
	LinkLogin    string `json:"link-login" form:"link-login"`
	LinkOrig     string `json:"link-orig" form:"link-orig"`
}

// LoginResponse is the body of an admitted login.
type LoginResponse struct {
	Success     bool              `json:"success"`
	State       session.State     `json:"state"`
	SessionID   string            `json:"session_id"`
	Token       string            `json:"token,omitempty"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Source      string            `json:"source"`
	Guest       string            `json:"guest_name,omitempty"`
	Error       *apperror.Details `json:"error,omitempty"`
}

// Login handles a login submission.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.fail(c, apperror.Wrap(apperror.KindInvalidInput, err, "malformed login form"))
		return
	}
	fromQuery(&req.MAC, c, "mac")
	fromQuery(&req.IP, c, "ip")
	fromQuery(&req.LinkLogin, c, "link-login")
	fromQuery(&req.LinkOrig, c, "link-orig")
	if req.IP == "" {
		req.IP = c.ClientIP()
	}

	out, err := h.sessions.Login(c.Request.Context(), session.LoginRequest{
		MobileNumber: req.MobileNumber,
		Secret:       req.RoomNumber,
		MACAddress:   req.MAC,
		IPAddress:    req.IP,
		LinkLogin:    req.LinkLogin,
		LinkOrig:     req.LinkOrig,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := LoginResponse{
		Success:     out.State == session.StateSessionRecorded,
		State:       out.State,
		SessionID:   out.Session.ID,
		Token:       out.Token,
		RedirectURL: out.RedirectURL,
		Source:      out.Source,
		Guest:       out.Guest,
	}
	status := http.StatusOK
	if out.State == session.StateAccessFailed {
		d := apperror.Describe(out.AccessErr, h.devMode)
		resp.Error = &d
		status = apperror.HTTPStatus(out.AccessErr)
	}
	c.JSON(status, resp)
}

func fromQuery(dst *string, c *gin.Context, key string) {
	if *dst == "" {
		*dst = c.Query(key)
	}
}

// LogoutRequest carries the session token when no Authorization header is sent.
type LogoutRequest struct {
	Token string `json:"token"`
}

// Logout ends the session named by the bearer token.
func (h *Handler) Logout(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		var req LogoutRequest
		_ = c.ShouldBindJSON(&req)
		token = req.Token
	}
	if token == "" {
		h.fail(c, apperror.New(apperror.KindInvalidInput, "missing session token"))
		return
	}

	res, err := h.sessions.Logout(c.Request.Context(), token)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "logout": res})
}

// AdminLogoutRequest names the mobile number to log out.
type AdminLogoutRequest struct {
	MobileNumber string `json:"mobile_number"`
}

// AdminLogout ends hotspot access for a mobile number without blocking
// and closes its most recent open login session.
func (h *Handler) AdminLogout(c *gin.Context) {
	var req AdminLogoutRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.MobileNumber == "" {
		h.fail(c, apperror.New(apperror.KindMissingInput, "mobile number is required"))
		return
	}
	res, err := h.sessions.LogoutMobile(c.Request.Context(), req.MobileNumber)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "logout": res})
}

// Stats returns the dashboard counters.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": h.admin.Stats(c.Request.Context())})
}

// ActiveSessions lists router sessions. A router failure still answers
// 200 with an empty list and the error rendered under router_error.
func (h *Handler) ActiveSessions(c *gin.Context) {
	sessions, err := h.admin.ActiveSessions(c.Request.Context())
	body := gin.H{"success": err == nil, "sessions": sessions}
	if err != nil {
		body["router_error"] = apperror.Describe(err, h.devMode)
	}
	c.JSON(http.StatusOK, body)
}

// DisconnectRequest names the router session id or the mobile number.
type DisconnectRequest struct {
	ID string `json:"id"`
}

// Disconnect ends a session and blocks its device.
func (h *Handler) Disconnect(c *gin.Context) {
	var req DisconnectRequest
	if !h.bindJSON(c, &req) {
		return
	}
	rev, err := h.admin.Disconnect(c.Request.Context(), req.ID, adminUser(c))
	if err != nil && rev != nil {
		c.JSON(apperror.HTTPStatus(err), gin.H{
			"success":    false,
			"error":      apperror.Describe(err, h.devMode),
			"revocation": rev,
		})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "revocation": rev})
}

// RefreshRoster forces a roster fetch.
func (h *Handler) RefreshRoster(c *gin.Context) {
	status, err := h.admin.RefreshRoster(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "roster": status})
}

// ListUsers lists identities.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.admin.Users(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": users})
}

// AddUser creates an identity.
func (h *Handler) AddUser(c *gin.Context) {
	var in admin.UserInput
	if !h.bindJSON(c, &in) {
		return
	}
	user, err := h.admin.AddUser(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": user})
}

// EditUser replaces an identity.
func (h *Handler) EditUser(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	var in admin.UserInput
	if !h.bindJSON(c, &in) {
		return
	}
	user, err := h.admin.EditUser(c.Request.Context(), id, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// BlockUser deactivates an identity and blocks its live devices.
func (h *Handler) BlockUser(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	rev, err := h.admin.BlockUser(c.Request.Context(), id, adminUser(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "revocation": rev})
}

// UnblockUser reactivates an identity and lifts its device blocks.
func (h *Handler) UnblockUser(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	released, err := h.admin.UnblockUser(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "unblocked_devices": released})
}

// DeleteUser deletes an identity and its sessions.
func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	if err := h.admin.DeleteUser(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListSessions lists login history. ?limit=N caps the result.
func (h *Handler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	sessions, err := h.admin.Sessions(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions})
}

// ListBlocked lists active block records.
func (h *Handler) ListBlocked(c *gin.Context) {
	devices, err := h.admin.BlockedDevices(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "devices": devices})
}

// UnblockDevice deactivates a block record.
func (h *Handler) UnblockDevice(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	device, err := h.admin.UnblockDevice(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "device": device})
}
