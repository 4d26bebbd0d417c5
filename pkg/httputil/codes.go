package httputil

// Stable machine-readable error codes returned in the `code` field
const (
	CodeUnauthorized              = "UNAUTHORIZED"
	CodeInvalidToken              = "INVALID_TOKEN"
	CodeTokenExpired              = "TOKEN_EXPIRED"
	CodeForbidden                 = "FORBIDDEN"
	CodeAccountDeactivated        = "ACCOUNT_DEACTIVATED"
	CodePermissionDenied          = "PERMISSION_DENIED"
	CodeCompanyAccessRequired     = "COMPANY_ACCESS_REQUIRED"
	CodeSuspiciousActivityBlocked = "SUSPICIOUS_ACTIVITY_BLOCKED"
	CodeAccountLocked             = "ACCOUNT_LOCKED"
	CodeRateLimitExceeded         = "RATE_LIMIT_EXCEEDED"
	CodeAuthRateLimitExceeded     = "AUTH_RATE_LIMIT_EXCEEDED"
	CodeCompanyIDRequired         = "COMPANY_ID_REQUIRED"
	CodeInvalidCredentials        = "INVALID_CREDENTIALS"
	CodeInvalidRequest            = "INVALID_REQUEST"
	CodePayloadTooLarge           = "PAYLOAD_TOO_LARGE"
	CodeNotFound                  = "NOT_FOUND"
	CodeConflict                  = "CONFLICT"
	CodeInvitationInvalid         = "INVITATION_INVALID"
	CodeInternalError             = "INTERNAL_ERROR"
	CodeServiceUnavailable        = "SERVICE_UNAVAILABLE"
)
