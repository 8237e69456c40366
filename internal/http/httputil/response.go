package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hxuan190/evm-route-engine/internal/common"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	// Code is the machine readable error kind, e.g. NO_ROUTE_FOUND.
	Code string `json:"code,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func Error(c *gin.Context, status int, err string) {
	c.JSON(status, Response{
		Success: false,
		Error:   err,
	})
}

// Fail writes an HttpError with its status and code.
func Fail(c *gin.Context, err *common.HttpError) {
	c.JSON(err.StatusCode, Response{
		Success: false,
		Error:   err.Message,
		Code:    err.Code,
	})
}

func BadRequest(c *gin.Context, err string) {
	Fail(c, common.HTTPErrorBadRequest(err))
}

// Aliases for compatibility
func HandleSuccess(c *gin.Context, data interface{}) {
	Success(c, data)
}

func HandleBadRequest(c *gin.Context, err string) {
	BadRequest(c, err)
}

// HandleRoutingError maps a routing failure onto its HTTP status.
func HandleRoutingError(c *gin.Context, err error) {
	Fail(c, common.HTTPErrorFromRouting(err))
}
