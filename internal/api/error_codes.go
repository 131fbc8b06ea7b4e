// internal/api/error_codes.go
package api

// API error codes not produced by AppError
const (
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorUnauthorized  = "UNAUTHORIZED"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	ErrorSessionNotFound = "SESSION_NOT_FOUND"
	ErrorSceneNotFound   = "SCENE_NOT_FOUND"
	ErrorShotNotFound    = "SHOT_NOT_FOUND"
	ErrorTaskNotFound    = "TASK_NOT_FOUND"

	ErrorTokenMissing = "TOKEN_MISSING"
	ErrorTokenInvalid = "TOKEN_INVALID"
	ErrorTokenExpired = "TOKEN_EXPIRED"
)
