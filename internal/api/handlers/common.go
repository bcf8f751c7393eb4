package handlers

import (
	"errors"
	"net/http"

	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"github.com/gin-gonic/gin"
)

// ExposeErrorDetailsKey is set by middleware.ErrorDetails.
const ExposeErrorDetailsKey = "expose_error_details"

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
	Detail  string     `json:"detail,omitempty"`
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	_ = c.Error(err)

	body := APIError{Code: utils.CodeInternal, Message: http.StatusText(status)}
	var ae *utils.AppError
	if errors.As(err, &ae) {
		body.Code = ae.Code
		body.Message = ae.Message
	}
	if c.GetBool(ExposeErrorDetailsKey) {
		if cause := utils.Cause(err); cause != body.Message {
			body.Detail = cause
		}
	}
	c.AbortWithStatusJSON(status, body)
}
