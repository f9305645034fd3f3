// Package output provides JSON output formatting and structured error handling.
package output

// Exit codes for the CLI.
const (
	ExitOK         = 0 // Success
	ExitUsage      = 1 // Invalid arguments or flags
	ExitValidation = 2 // Server rejected the request payload (400)
	ExitAuth       = 3 // Not authenticated / session expired (401)
	ExitForbidden  = 4 // Access denied (403)
	ExitRateLimit  = 5 // Rate limited (429)
	ExitNetwork    = 6 // Connection/DNS/timeout error
	ExitServer     = 7 // Server returned 5xx
	ExitUnknown    = 8 // Unclassified failure
)

// Error codes discriminating the failure kinds surfaced to callers.
const (
	CodeUsage      = "usage"
	CodeValidation = "validation"
	CodeAuth       = "authentication"
	CodeForbidden  = "authorization"
	CodeRateLimit  = "rate_limit"
	CodeNetwork    = "network"
	CodeServer     = "server"
	CodeUnknown    = "unknown"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeValidation:
		return ExitValidation
	case CodeAuth:
		return ExitAuth
	case CodeForbidden:
		return ExitForbidden
	case CodeRateLimit:
		return ExitRateLimit
	case CodeNetwork:
		return ExitNetwork
	case CodeServer:
		return ExitServer
	default:
		return ExitUnknown
	}
}
