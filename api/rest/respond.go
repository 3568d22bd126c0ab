package rest

import (
	"net/http"

	"github.com/gamegems/client/gerr"
	"github.com/gin-gonic/gin"
)

// httpError maps a classified service failure onto an HTTP status. Anything
// unclassified is a plain 500.
func httpError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch gerr.KindOf(err) {
	case gerr.KindValidation, gerr.KindMalformedPayload:
		status = http.StatusBadRequest
	case gerr.KindRemoteUnavailable:
		status = http.StatusBadGateway
	case gerr.KindContractRevert:
		status = http.StatusConflict
	case gerr.KindPartialData:
		status = http.StatusPartialContent
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
