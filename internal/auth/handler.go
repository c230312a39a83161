package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/media-booth-system/internal/errs"
	"github.com/media-booth-system/pkg/jwt"
	"github.com/media-booth-system/pkg/models"
	"github.com/media-booth-system/pkg/redis"
)

// UserFinder is the slice of the user store the auth handler needs.
type UserFinder interface {
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type Handler struct {
	users    UserFinder
	sessions *redis.SessionStore
}

func NewHandler(users UserFinder, sessions *redis.SessionStore) *Handler {
	return &Handler{
		users:    users,
		sessions: sessions,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/login", h.login)

		protected := auth.Group("", AuthMiddleware())
		protected.GET("/socket", h.socketToken)
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.FindUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no user was found with that email address"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "that password is incorrect"})
		return
	}

	// Bans block login entirely; banned users may still connect as guests.
	if user.Banned() {
		c.JSON(http.StatusForbidden, gin.H{"error": "you have been banned"})
		return
	}

	token, err := jwt.GenerateToken(user.ID.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	socketToken, err := h.sessions.CreateToken(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})

	c.JSON(http.StatusOK, gin.H{
		"user": user,
		"meta": gin.H{
			"jwt":          token,
			"socket_token": socketToken,
		},
	})
}

// socketToken mints a fresh single-use token so an already authenticated
// client can (re)open its real-time connection.
func (h *Handler) socketToken(c *gin.Context) {
	userID, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user"})
		return
	}

	token, err := h.sessions.CreateToken(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"socket_token": token})
}
