package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"pingme/internal/domain/user"
)

// UserHandler exposes the user directory: profile lookup by id, and handle
// resolution so clients can start a conversation from a handle.
type UserHandler struct {
	Users  user.Repository
	Logger *slog.Logger
}

// GetUser returns one profile by id.
func (h UserHandler) GetUser(c *gin.Context) {
	if _, ok := requireAuth(c); !ok {
		return
	}
	u, err := h.Users.ByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserDTO(u))
}

// ResolveHandle looks a user up by handle (?handle=alice).
func (h UserHandler) ResolveHandle(c *gin.Context) {
	if _, ok := requireAuth(c); !ok {
		return
	}
	handle := user.NormalizeHandle(c.Query("handle"))
	if handle == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "handle is required"})
		return
	}
	u, err := h.Users.ByHandle(c.Request.Context(), handle)
	if err != nil {
		h.respondUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserDTO(u))
}

func (h UserHandler) respondUserError(c *gin.Context, err error) {
	if errors.Is(err, user.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if h.Logger != nil {
		h.Logger.Error("user lookup failed", "error", err)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func toUserDTO(u *user.User) userDTO {
	return userDTO{ID: u.ID, Handle: u.Handle, CreatedAt: u.CreatedAt}
}
