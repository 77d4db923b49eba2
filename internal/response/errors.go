package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrBackendSession     ErrCode = "BACKEND_SESSION_EXPIRED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrOriginForbidden   ErrCode = "ORIGIN_FORBIDDEN"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotFound         ErrCode = "EXAM_NOT_FOUND"
	ErrNotOnlineExam        ErrCode = "NOT_ONLINE_EXAM"
	ErrExamNotOpen          ErrCode = "EXAM_NOT_OPEN"
	ErrWindowClosed         ErrCode = "WINDOW_CLOSED"
	ErrSessionStarted       ErrCode = "SESSION_ALREADY_STARTED"
	ErrNoSession            ErrCode = "NO_SESSION"
	ErrAlreadySubmitted     ErrCode = "ALREADY_SUBMITTED"
	ErrSubmissionInProgress ErrCode = "SUBMISSION_IN_PROGRESS"
	ErrNotAccepting         ErrCode = "SESSION_NOT_ACCEPTING"
	ErrSessionLocked        ErrCode = "SESSION_LOCKED"
	ErrInvalidAnswer        ErrCode = "INVALID_ANSWER"
	ErrIncomplete           ErrCode = "INCOMPLETE_SUBMISSION"
	ErrSubmitFailed         ErrCode = "SUBMIT_FAILED"
	ErrUnknownAction        ErrCode = "UNKNOWN_ACTION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrBackendUnavailable ErrCode = "BACKEND_UNAVAILABLE"
	ErrInternal           ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Incorrect email or password."
	case ErrSessionInvalidated:
		return "Your session has ended. Please log in again."
	case ErrBackendSession:
		return "Your login has expired. Please log in again."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "Only student accounts can take exams."
	case ErrOriginForbidden:
		return "This origin is not allowed."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "The request payload is invalid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotFound:
		return "Exam not found."
	case ErrNotOnlineExam:
		return "This exam is not taken online."
	case ErrExamNotOpen:
		return "This exam is not open yet."
	case ErrWindowClosed:
		return "The submission window for this exam has closed."
	case ErrSessionStarted:
		return "You have already started this exam."
	case ErrNoSession:
		return "You have not started this exam."
	case ErrAlreadySubmitted:
		return "You have already submitted this exam."
	case ErrSubmissionInProgress:
		return "Your exam is being submitted."
	case ErrNotAccepting:
		return "This exam no longer accepts changes."
	case ErrSessionLocked:
		return "Your exam is locked. Contact your instructor."
	case ErrInvalidAnswer:
		return "That answer does not fit the question."
	case ErrIncomplete:
		return "Every question must be answered before submitting."
	case ErrSubmitFailed:
		return "Submission failed. Please try again."
	case ErrUnknownAction:
		return "Unknown action."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrBackendUnavailable:
		return "The exam server is unavailable. Please try again shortly."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
