package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/kb-bot/internal/errs"
)

const (
	msgInvalidBotID    = "Invalid bot ID"
	msgInvalidBody     = "Invalid request body"
	msgBotNotFound     = "Bot not found"
	msgInternalFailure = "Internal server error"
)

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeError maps a service error to its status and a fixed public message.
// The cause is attached to the gin context for the request logger.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	status := errs.HTTPStatus(err)
	msg := msgInternalFailure
	switch {
	case errors.Is(err, errs.ErrBotNotFound):
		msg = msgBotNotFound
	case status == http.StatusNotFound:
		msg = http.StatusText(status)
	case status == http.StatusBadRequest:
		msg = msgInvalidBody
	default:
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorResponse{Success: false, Error: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: msg})
}

// botIDParam reads :botId and rejects blank values.
func botIDParam(c *gin.Context) (string, bool) {
	botID := c.Param("botId")
	if strings.TrimSpace(botID) == "" {
		badRequest(c, msgInvalidBotID)
		return "", false
	}
	return botID, true
}
