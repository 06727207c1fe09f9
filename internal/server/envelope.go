package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/polls"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/users"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/validation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// envelope is the JSON body of every API response.
type envelope struct {
	Success      bool                    `json:"success"`
	Message      string                  `json:"message,omitempty"`
	Data         any                     `json:"data,omitempty"`
	Errors       []validation.FieldError `json:"errors,omitempty"`
	Pagination   *content.Pagination     `json:"pagination,omitempty"`
	DeletedCount *int64                  `json:"deletedCount,omitempty"`
	Code         string                  `json:"code,omitempty"`
}

type codedError interface {
	Code() string
}

func respondData(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func respondFailure(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Message: message})
}

// respondError maps domain errors to status codes; unknown failures are
// logged and reported without their cause.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	if validationErr, ok := validation.As(err); ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, envelope{
			Success: false,
			Message: "Validation failed",
			Errors:  validationErr.Fields,
		})
		return
	}

	switch {
	case errors.Is(err, content.ErrUnknownCollection):
		respondFailure(c, http.StatusBadRequest, "Invalid collection")
	case errors.Is(err, content.ErrNotFound):
		respondFailure(c, http.StatusNotFound, "Item not found")
	case errors.Is(err, polls.ErrPollNotFound):
		respondFailure(c, http.StatusNotFound, "Poll not found")
	case errors.Is(err, polls.ErrInvalidOption):
		respondFailure(c, http.StatusBadRequest, "Invalid option index")
	case errors.Is(err, polls.ErrPollNotActive):
		respondFailure(c, http.StatusConflict, "Poll is not accepting votes")
	case errors.Is(err, polls.ErrAlreadyVoted):
		respondFailure(c, http.StatusConflict, "You have already voted on this poll")
	case errors.Is(err, users.ErrEmailTaken):
		respondFailure(c, http.StatusConflict, "User already exists with this email")
	case errors.Is(err, users.ErrInvalidCredentials):
		respondFailure(c, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, users.ErrUserNotFound):
		respondFailure(c, http.StatusUnauthorized, "User not found")
	default:
		body := envelope{Success: false, Message: "Internal server error"}
		var coded codedError
		if errors.As(err, &coded) {
			body.Code = coded.Code()
		}
		h.logger.Error("request failed",
			zap.String("operation", operation),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, body)
	}
}
