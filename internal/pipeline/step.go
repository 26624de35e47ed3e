package pipeline

// severity says what a failed step means for the rest of the run.
type severity int

const (
	sevOK severity = iota
	// sevRecoverable failures are logged and the run continues.
	sevRecoverable
	// sevFatal failures end the run.
	sevFatal
)

// stepResult is returned by every side-effecting step so that each call
// site spells out whether a failure degrades or aborts the run.
type stepResult struct {
	sev severity
	err error
}

func ok() stepResult { return stepResult{sev: sevOK} }

func recoverable(err error) stepResult { return stepResult{sev: sevRecoverable, err: err} }

func fatal(err error) stepResult { return stepResult{sev: sevFatal, err: err} }

func (r stepResult) Failed() bool { return r.sev != sevOK }

func (r stepResult) IsFatal() bool { return r.sev == sevFatal }

// Stage names a position in the submission state machine.
type Stage int

const (
	StageReceived Stage = iota
	StageVerifying
	StagePersisting
	StageCompleting
	StageUpdating
	StageNotifying
	StageSucceeded
	StageFailed
)

var stageNames = [...]string{
	StageReceived:   "received",
	StageVerifying:  "verifying",
	StagePersisting: "persisting",
	StageCompleting: "completing",
	StageUpdating:   "updating",
	StageNotifying:  "notifying",
	StageSucceeded:  "succeeded",
	StageFailed:     "failed",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}
