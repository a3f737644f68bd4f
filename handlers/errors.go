package handlers

import (
	"errors"
	"net/http"

	"github.com/als-computing/splash-server/internal/references"
	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/pkg/logger"
	"github.com/gin-gonic/gin"
)

// statusFor maps a service error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case "not_found", "version_not_found":
		return http.StatusNotFound
	case "archive_conflict", "restore_conflict":
		return http.StatusConflict
	case "immutable_metadata_field", "uid_present", "bad_payload":
		return http.StatusUnprocessableEntity
	case "bad_page_argument", "bad_collation_argument", "bad_sort_argument",
		"bad_archive_action", "bad_version_argument", "bad_lookup":
		return http.StatusBadRequest
	case "etag_mismatch":
		return http.StatusPreconditionFailed
	case "not_implemented":
		return http.StatusMethodNotAllowed
	}
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	if errors.Is(err, references.ErrLookupKey) {
		return "bad_lookup"
	}
	return service.Code(err)
}

// respondError writes {"error": code, "message": msg}. Etag conflicts also
// carry the stored etag and metadata so the client can reconcile.
func respondError(c *gin.Context, err error) {
	code := errorCode(err)
	status := statusFor(code)
	body := gin.H{"error": code, "message": err.Error()}

	var mismatch *service.EtagMismatchError
	if errors.As(err, &mismatch) {
		c.Header("ETag", quoteEtag(mismatch.CurrentEtag))
		body["etag"] = mismatch.CurrentEtag
		body["splash_md"] = mismatch.CurrentMetadata
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		body["message"] = "internal server error"
	}
	c.AbortWithStatusJSON(status, body)
}

// respondAck writes a mutation acknowledgement. A failed history write is
// reported in a Warning header; the mutation itself was applied.
func respondAck(c *gin.Context, status int, ack *service.Ack, err error) {
	if err != nil && !(ack != nil && errors.Is(err, service.ErrHistoryWrite)) {
		respondError(c, err)
		return
	}
	if err != nil {
		logger.Warnf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.Header("Warning", `199 - "revision history not recorded"`)
	}
	c.Header("ETag", quoteEtag(ack.Metadata.Etag))
	c.JSON(status, ack)
}

// quoteEtag formats etag as an HTTP entity-tag.
func quoteEtag(etag string) string {
	return `"` + etag + `"`
}
