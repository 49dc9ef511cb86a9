// Package apperrors defines the error taxonomy shared by the match coordinator.
package apperrors

// Code is a machine-readable error code sent to clients in rejections and
// failure events.
type Code string

const (
	// CodeUnknown represents an error that carries no domain code.
	CodeUnknown Code = "UNKNOWN"

	// Input and state errors
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeSessionNotReady Code = "SESSION_NOT_READY"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeResultLocked    Code = "RESULT_LOCKED"
	CodeNotLeader       Code = "NOT_LEADER"

	// Consensus errors
	CodeScoresIncomplete  Code = "SCORES_INCOMPLETE"
	CodeIntraTeamMismatch Code = "INTRA_TEAM_MISMATCH"
	CodeCrossTeamMismatch Code = "CROSS_TEAM_MISMATCH"

	// Save errors
	CodeUpstreamRejected    Code = "UPSTREAM_REJECTED"
	CodeUpstreamUnreachable Code = "UPSTREAM_UNREACHABLE"
	CodeRequestSetupFailed  Code = "REQUEST_SETUP_FAILED"
	CodeMalformedResponse   Code = "MALFORMED_RESPONSE"

	// Lifecycle errors
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeSessionExpired  Code = "SESSION_EXPIRED"
)

// IsSaveFailure reports whether the code classifies a failed save.
func (c Code) IsSaveFailure() bool {
	switch c {
	case CodeUpstreamRejected, CodeUpstreamUnreachable, CodeRequestSetupFailed, CodeMalformedResponse:
		return true
	}
	return false
}

// IsMismatch reports whether the code is a recoverable score disagreement.
func (c Code) IsMismatch() bool {
	return c == CodeIntraTeamMismatch || c == CodeCrossTeamMismatch
}

// IsGone reports whether the code means the session no longer exists.
func (c Code) IsGone() bool {
	return c == CodeSessionNotFound || c == CodeSessionExpired
}
