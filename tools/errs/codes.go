package errs

import (
	"net/http"

	"github.com/pkg/errors"
)

const (
	ReasonUnauthorized         = "UNAUTHORIZED"
	ReasonForbidden            = "FORBIDDEN"
	ReasonVerificationRequired = "VERIFICATION_REQUIRED"
	ReasonNotParticipant       = "NOT_PARTICIPANT"
	ReasonUsageLimitExceeded   = "USAGE_LIMIT_EXCEEDED"
	ReasonRoomNotFound         = "ROOM_NOT_FOUND"
	ReasonNotFound             = "NOT_FOUND"
	ReasonValidationFailed     = "VALIDATION_FAILED"
	ReasonDuplicateMessage     = "DUPLICATE_MESSAGE"
	ReasonInternal             = "INTERNAL_ERROR"
)

var (
	ErrUnauthorized         = NewCodeError(http.StatusUnauthorized, ReasonUnauthorized, "not authenticated")
	ErrForbidden            = NewCodeError(http.StatusForbidden, ReasonForbidden, "forbidden")
	ErrVerificationRequired = NewCodeError(http.StatusForbidden, ReasonVerificationRequired, "identity verification required before sending messages")
	ErrNotParticipant       = NewCodeError(http.StatusForbidden, ReasonNotParticipant, "sender is not a participant of the room")
	ErrUsageLimitExceeded   = NewCodeError(http.StatusForbidden, ReasonUsageLimitExceeded, "chat room limit reached for the current plan")
	ErrRoomNotFound         = NewCodeError(http.StatusNotFound, ReasonRoomNotFound, "chat room not found")
	ErrNotFound             = NewCodeError(http.StatusNotFound, ReasonNotFound, "not found")
	ErrValidation           = NewCodeError(http.StatusBadRequest, ReasonValidationFailed, "invalid request")
	ErrDuplicateMessage     = NewCodeError(http.StatusConflict, ReasonDuplicateMessage, "message id already used")
	ErrInternal             = NewCodeError(http.StatusInternalServerError, ReasonInternal, "internal error")
)

// ErrGone marks a push target that no longer exists. Fanout prunes on it.
var ErrGone = errors.New("connection gone")

func init() {
	_ = DefaultCodeRelation.Add(ReasonForbidden, ReasonVerificationRequired)
	_ = DefaultCodeRelation.Add(ReasonForbidden, ReasonNotParticipant)
	_ = DefaultCodeRelation.Add(ReasonForbidden, ReasonUsageLimitExceeded)
	_ = DefaultCodeRelation.Add(ReasonNotFound, ReasonRoomNotFound)
}
