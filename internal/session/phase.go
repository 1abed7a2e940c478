package session

// Phase is the connection lifecycle state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseListening
	PhaseBackoff
	PhaseDisconnected
)

var phaseNames = []string{"idle", "connecting", "listening", "backoff", "disconnected"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}
