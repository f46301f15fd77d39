package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden        ErrCode = "FORBIDDEN"
	ErrAdminAccessOnly  ErrCode = "ADMIN_ACCESS_ONLY"
	ErrIdentityMismatch ErrCode = "IDENTITY_MISMATCH"
	ErrForbiddenScope   ErrCode = "FORBIDDEN_SCOPE"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation         ErrCode = "VALIDATION_ERROR"
	ErrInvalidID          ErrCode = "INVALID_ID"
	ErrInvalidPayload     ErrCode = "INVALID_PAYLOAD"
	ErrInvalidAnswerShape ErrCode = "INVALID_ANSWER_SHAPE"
	ErrContactRequired    ErrCode = "CONTACT_REQUIRED"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound            ErrCode = "NOT_FOUND"
	ErrSessionNotFound     ErrCode = "SESSION_NOT_FOUND"
	ErrQuestionSetNotFound ErrCode = "QUESTION_SET_NOT_FOUND"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrSessionNotActive ErrCode = "SESSION_NOT_ACTIVE"
	ErrAlreadyCompleted ErrCode = "ALREADY_COMPLETED"
	ErrSessionBusy      ErrCode = "SESSION_BUSY"
	ErrResultsNotReady  ErrCode = "RESULTS_NOT_READY"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrAdminAccessOnly:
		return "This resource is restricted to administrators."
	case ErrIdentityMismatch:
		return "This session belongs to a different identity."
	case ErrForbiddenScope:
		return "You may not list sessions in this scope."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed."
	case ErrInvalidID:
		return "The given ID is invalid."
	case ErrInvalidPayload:
		return "Request payload is malformed."
	case ErrInvalidAnswerShape:
		return "One or more answers do not fit the question set."
	case ErrContactRequired:
		return "A candidate email is required to submit."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrSessionNotFound:
		return "Session not found."
	case ErrQuestionSetNotFound:
		return "Question set not found."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrSessionNotActive:
		return "Session is no longer active."
	case ErrAlreadyCompleted:
		return "Session has already been completed."
	case ErrSessionBusy:
		return "Session is being updated. Please retry."
	case ErrResultsNotReady:
		return "Results are not available yet."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please slow down."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."

	default:
		return "An unknown error occurred."
	}
}
