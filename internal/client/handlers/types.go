package handlers

import "github.com/gin-gonic/gin"

const (
	CodeOk                string = "OK"
	ErrCodeBadRequest     string = "ERR_BAD_REQUEST"
	ErrCodeUnknownError   string = "ERR_UNKNOWN_ERROR"
	ErrCodeUnknownAccount string = "ERR_UNKNOWN_ACCOUNT"
	ErrCodePassInProgress string = "ERR_PASS_IN_PROGRESS"
	ErrCodeUpsyncNotReady string = "ERR_UPSYNC_NOT_READY"
)

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}
