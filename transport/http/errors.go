package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigil/core"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable maps domain errors to responses. The first match wins.
var errorTable = []errorMapping{
	{core.ErrInvalidAddress, http.StatusBadRequest, "InvalidAddress"},
	{core.ErrChallengeExpired, http.StatusBadRequest, "ChallengeExpired"},
	{core.ErrChallengeMismatch, http.StatusBadRequest, "ChallengeMismatch"},
	{core.ErrAlreadyLinkedToYou, http.StatusBadRequest, "AlreadyLinkedToYou"},
	{core.ErrEmailTaken, http.StatusBadRequest, "EmailTaken"},
	{core.ErrUsernameTaken, http.StatusBadRequest, "UsernameTaken"},
	{core.ErrWeakPassword, http.StatusBadRequest, "WeakPassword"},
	{core.ErrInvalidEmail, http.StatusBadRequest, "InvalidEmail"},
	{core.ErrInvalidUsername, http.StatusBadRequest, "InvalidUsername"},
	{core.ErrLastIdentity, http.StatusBadRequest, "LastIdentity"},
	{core.ErrUnknownProvider, http.StatusBadRequest, "UnknownProvider"},
	{core.ErrSignatureInvalid, http.StatusUnauthorized, "SignatureInvalid"},
	{core.ErrAccountInactive, http.StatusUnauthorized, "AccountInactive"},
	{core.ErrInvalidCredentials, http.StatusUnauthorized, "InvalidCredentials"},
	{core.ErrTokenExpired, http.StatusUnauthorized, "TokenExpired"},
	{core.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{core.ErrAlreadyLinkedToOther, http.StatusConflict, "AlreadyLinkedToOther"},
	{core.ErrConflict, http.StatusConflict, "Conflict"},
	{core.ErrNotFound, http.StatusNotFound, "NotFound"},
	{core.ErrUnavailable, http.StatusServiceUnavailable, "Unavailable"},
}

var errInvalidRequest = errors.New("invalid request")

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError aborts the request with the mapped status. Only the sentinel text is exposed,
// never the wrapped detail.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	if errors.Is(err, errInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "InvalidRequest", Message: errInvalidRequest.Error()})
		return
	}

	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				logger.Error("request failed", "path", c.FullPath(), "err", err)
			}
			if core.IsRetryable(err) {
				c.Header("Retry-After", "1")
			}
			c.AbortWithStatusJSON(m.status, errorBody{Error: m.code, Message: m.err.Error()})
			return
		}
	}

	logger.Error("request failed", "path", c.FullPath(), "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "Internal", Message: "internal error"})
}
