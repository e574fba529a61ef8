package model

// RunStatus represents the state of a batch export run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// IsTerminal checks if the RunStatus represents a terminal state.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusError, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// RecordStatus represents the state of a single call record inside a run.
type RecordStatus string

const (
	RecordStatusPending      RecordStatus = "pending"
	RecordStatusDownloading  RecordStatus = "downloading"
	RecordStatusTranscribing RecordStatus = "transcribing"
	RecordStatusCompleted    RecordStatus = "completed"
	RecordStatusSkipped      RecordStatus = "skipped"
	RecordStatusError        RecordStatus = "error"
	RecordStatusMissingAudio RecordStatus = "missing_audio"
)

// String returns the string representation of the RecordStatus.
func (s RecordStatus) String() string {
	return string(s)
}

// IsTerminal checks if the RecordStatus represents a terminal state.
// An error record is terminal until an operator resets it to pending.
func (s RecordStatus) IsTerminal() bool {
	switch s {
	case RecordStatusCompleted, RecordStatusSkipped, RecordStatusError, RecordStatusMissingAudio:
		return true
	default:
		return false
	}
}

// CallDirection indicates who initiated the call.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
	DirectionInternal CallDirection = "internal"
)

// String returns the string representation of the CallDirection.
func (d CallDirection) String() string {
	return string(d)
}

// isValidRunTransition checks if the state transition for Run is valid.
func isValidRunTransition(current, next RunStatus) bool {
	switch current {
	case RunStatusPending:
		// pending can transition to running, or straight to a terminal state when
		// the orchestration fails before any call is listed.
		return next == RunStatusRunning || next == RunStatusError || next == RunStatusCancelled
	case RunStatusRunning:
		return next == RunStatusCompleted || next == RunStatusError || next == RunStatusCancelled
	case RunStatusCompleted, RunStatusError, RunStatusCancelled:
		return false
	default:
		return false
	}
}

// isValidRecordTransition checks if the state transition for CallRecord is valid.
// error records may be manually reset to pending for a forced retry.
func isValidRecordTransition(current, next RecordStatus) bool {
	switch current {
	case RecordStatusPending:
		return next == RecordStatusDownloading || next == RecordStatusSkipped || next == RecordStatusError
	case RecordStatusDownloading:
		return next == RecordStatusTranscribing || next == RecordStatusMissingAudio ||
			next == RecordStatusSkipped || next == RecordStatusError
	case RecordStatusTranscribing:
		return next == RecordStatusCompleted || next == RecordStatusSkipped || next == RecordStatusError
	case RecordStatusError:
		return next == RecordStatusPending
	case RecordStatusCompleted, RecordStatusSkipped, RecordStatusMissingAudio:
		return false
	default:
		return false
	}
}
