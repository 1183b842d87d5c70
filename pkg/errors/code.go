package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Identity & Authorization errors
// 12000-12999: Tenant registry & onboarding errors
// 13000-13999: Script execution errors
// 14000-14999: Runtime provisioning errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008
	MethodNotAllowed    ErrorCode = 10009

	// Transport errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidContentType ErrorCode = 10301
	InvalidBody        ErrorCode = 10302
	RouteNotFound      ErrorCode = 10303

	// ========== Identity & Authorization Errors (11000-11999) ==========

	// Identity (11000-11099)
	IdentityUnresolved ErrorCode = 11000
	UserNotFound       ErrorCode = 11001
	TokenInvalid       ErrorCode = 11002

	// Authorization (11100-11199)
	NotAuthorized ErrorCode = 11100

	// ========== Tenant Registry Errors (12000-12999) ==========

	GroupLookupFailed ErrorCode = 12000
	GroupCreateFailed ErrorCode = 12001

	// ========== Script Execution Errors (13000-13999) ==========

	ScriptNotFound ErrorCode = 13000
	ScriptFailed   ErrorCode = 13001
	SpawnFailed    ErrorCode = 13002
	ScriptTimeout  ErrorCode = 13003

	// ========== Runtime Provisioning Errors (14000-14999) ==========

	RuntimeDirFailed   ErrorCode = 14000
	RuntimeBuildFailed ErrorCode = 14001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "OK",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	MethodNotAllowed:    "Method not allowed",

	// Transport
	ValidationFailed:   "Validation failed",
	InvalidContentType: "content-type must be application/json",
	InvalidBody:        "can not parse the body as json",
	RouteNotFound:      "Not found",

	// Identity
	IdentityUnresolved: "Could not identify the connecting user",
	UserNotFound:       "User not found",
	TokenInvalid:       "Invalid token",

	// Authorization
	NotAuthorized: "You are not allowed to use this service",

	// Tenant registry
	GroupLookupFailed: "Failed to read group membership",
	GroupCreateFailed: "Failed to create group",

	// Execution
	ScriptNotFound: "You don't have this script.",
	ScriptFailed:   "Failed",
	SpawnFailed:    "Failed to start script",
	ScriptTimeout:  "Script execution timed out",

	// Provisioning
	RuntimeDirFailed:   "Script directory creation failed",
	RuntimeBuildFailed: "Runtime build failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c >= 11000 && c < 11100: // Identity errors
		return 401
	case c == Forbidden, c >= 11100 && c < 11200: // Authorization errors
		return 403
	case c == NotFound, c == RouteNotFound:
		return 404
	case c == MethodNotAllowed:
		return 405
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Transport errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
