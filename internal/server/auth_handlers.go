package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/auth"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	identityContextKey   = "chapterhub_identity"
	collectionContextKey = "chapterhub_collection"
)

var errInvalidAuthorization = errors.New("authorization header missing or invalid")

type userPayload struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type sessionPayload struct {
	User      userPayload `json:"user"`
	Token     string      `json:"token"`
	ExpiresIn int64       `json:"expiresIn"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func newUserPayload(user users.User) userPayload {
	return userPayload{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role}
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request users.SignupInput
	if err := c.ShouldBindJSON(&request); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	user, err := h.users.Signup(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, "auth.signup", err)
		return
	}
	h.respondSession(c, http.StatusCreated, "User created successfully", user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondFailure(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(request.Email) == "" || request.Password == "" {
		respondFailure(c, http.StatusBadRequest, "Email and password are required")
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, "auth.login", err)
		return
	}
	h.respondSession(c, http.StatusOK, "Login successful", user)
}

func (h *httpHandler) respondSession(c *gin.Context, status int, message string, user users.User) {
	identity := auth.Identity{UserID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role}
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), identity)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		respondFailure(c, http.StatusInternalServerError, "Token issue failed")
		return
	}
	respondData(c, status, message, sessionPayload{
		User:      newUserPayload(user),
		Token:     token,
		ExpiresIn: expiresIn,
	})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		respondFailure(c, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}
	user, err := h.users.Get(c.Request.Context(), identity.UserID)
	if err != nil {
		h.respondError(c, "auth.me", err)
		return
	}
	respondData(c, http.StatusOK, "", newUserPayload(user))
}

// handleLogout acknowledges the request; tokens expire on their own.
func (h *httpHandler) handleLogout(c *gin.Context) {
	respondData(c, http.StatusOK, "Logged out successfully", nil)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		respondFailure(c, http.StatusUnauthorized, errInvalidAuthorization.Error())
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logTokenFailure(err)
		respondFailure(c, http.StatusUnauthorized, "Invalid token")
		return
	}
	c.Set(identityContextKey, claims.Identity())
	c.Next()
}

// optionalIdentity attaches an identity when a valid token is offered in the
// header or the access_token query parameter; anonymous viewers pass through.
func (h *httpHandler) optionalIdentity(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.Next()
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logTokenFailure(err)
		respondFailure(c, http.StatusUnauthorized, "Invalid token")
		return
	}
	c.Set(identityContextKey, claims.Identity())
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		respondFailure(c, http.StatusUnauthorized, errInvalidAuthorization.Error())
		return
	}
	if !identity.IsAdmin() {
		respondFailure(c, http.StatusForbidden, "Access denied. Admin role required.")
		return
	}
	c.Next()
}

func (h *httpHandler) logTokenFailure(err error) {
	if errors.Is(err, auth.ErrExpiredToken) {
		h.logger.Info("token validation failed", zap.Error(err))
		return
	}
	h.logger.Warn("token validation failed", zap.Error(err))
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func identityFromContext(c *gin.Context) (auth.Identity, bool) {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	return identity, ok && identity.UserID != ""
}
