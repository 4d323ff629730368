package operation

import "github.com/sophon-labs/sophon/internal/sophon"

// Kind selects which pipeline an operation runs.
type Kind int

const (
	KindInstall Kind = iota + 1
	KindVerify
	KindUpdate
	KindPredownload
)

func (k Kind) String() string {
	switch k {
	case KindInstall:
		return "install"
	case KindVerify:
		return "verify"
	case KindUpdate:
		return "update"
	case KindPredownload:
		return "predownload"
	default:
		return "unknown"
	}
}

// Phase is the orchestrator's lifecycle state.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCompleted
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseRunning:
		return "RUNNING"
	case PhaseCompleted:
		return "COMPLETED"
	case PhaseCancelled:
		return "CANCELLED"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Context carries everything one operation needs: target directories, the
// two build descriptors, the audio language selection and the pipeline kind.
type Context struct {
	GameDirectory         string
	ChunksDirectory       string
	PredownloadStatusPath string

	LocalBuild  *sophon.Build
	RemoteBuild *sophon.Build

	Audio sophon.AudioLanguages
	Kind  Kind
}
