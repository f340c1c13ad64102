package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	logger      *slog.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		logger:      logger,
	}
}

func optionalProvider(s string) (core.Provider, error) {
	if s == "" {
		return "", nil
	}
	return core.ParseProvider(s)
}

// Challenge issues a message for the wallet to sign
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req struct {
		Address  string `form:"address" binding:"required"`
		Provider string `form:"provider"`
	}

	if err := c.ShouldBindQuery(&req); err != nil {
		writeError(c, h.logger, errInvalidRequest)
		return
	}

	provider, err := optionalProvider(req.Provider)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	challenge, err := h.authService.CreateChallenge(c.Request.Context(), provider, req.Address)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    challenge.Message,
		"nonce":      challenge.Nonce,
		"provider":   challenge.Provider,
		"expires_at": challenge.ExpiresAt,
	})
}

type walletProofRequest struct {
	Provider  string `json:"provider"`
	Address   string `json:"address" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	PublicKey string `json:"public_key"`
}

func (r walletProofRequest) proof() (core.WalletProof, error) {
	provider, err := optionalProvider(r.Provider)
	if err != nil {
		return core.WalletProof{}, err
	}
	return core.WalletProof{
		Provider:  provider,
		Address:   r.Address,
		Message:   r.Message,
		Signature: r.Signature,
		PublicKey: r.PublicKey,
	}, nil
}

// Verify checks a signed challenge and returns a session token
func (h *AuthHandlers) Verify(c *gin.Context) {
	var req walletProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, errInvalidRequest)
		return
	}

	proof, err := req.proof()
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	res, err := h.authService.Verify(c.Request.Context(), proof)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, newAuthView(res))
}

// Link attaches a wallet to the authenticated user
func (h *AuthHandlers) Link(c *gin.Context) {
	var req walletProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, errInvalidRequest)
		return
	}

	proof, err := req.proof()
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	identities, err := h.authService.Link(c.Request.Context(), userID(c), proof)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"linked_methods": newIdentityViews(identities),
	})
}

// Unlink removes one of the user's identities
func (h *AuthHandlers) Unlink(c *gin.Context) {
	provider, err := core.ParseProvider(c.Param("provider"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	identities, err := h.authService.Unlink(c.Request.Context(), userID(c), provider, c.Param("external_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"linked_methods": newIdentityViews(identities),
	})
}

// Identities lists the user's linked identities
func (h *AuthHandlers) Identities(c *gin.Context) {
	identities, err := h.authService.ListIdentities(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"identities": newIdentityViews(identities)})
}

// EmailSignup registers an email account
func (h *AuthHandlers) EmailSignup(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Username string `json:"username"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, errInvalidRequest)
		return
	}

	res, err := h.authService.EmailSignup(c.Request.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, newAuthView(res))
}

// EmailLogin authenticates with email and password
func (h *AuthHandlers) EmailLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, errInvalidRequest)
		return
	}

	res, err := h.authService.EmailLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, newAuthView(res))
}

// ChangePassword replaces the password of the user's email identity
func (h *AuthHandlers) ChangePassword(c *gin.Context) {
	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, errInvalidRequest)
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), userID(c), req.CurrentPassword, req.NewPassword); err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me returns the authenticated user and its identities
func (h *AuthHandlers) Me(c *gin.Context) {
	user, identities, err := h.authService.Me(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":       newUserView(*user),
		"identities": newIdentityViews(identities),
	})
}

// UpdateMe changes the display handle
func (h *AuthHandlers) UpdateMe(c *gin.Context) {
	var req struct {
		Handle string `json:"handle" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, errInvalidRequest)
		return
	}

	user, err := h.authService.UpdateHandle(c.Request.Context(), userID(c), req.Handle)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": newUserView(*user)})
}

// Deactivate soft-deactivates the authenticated account
func (h *AuthHandlers) Deactivate(c *gin.Context) {
	user, err := h.authService.Deactivate(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": newUserView(*user)})
}

// Health reports liveness
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
