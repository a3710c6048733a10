package tabs

// MessageKind identifies a Runtime to Worker message
type MessageKind int

const (
	MsgNavigate MessageKind = iota
	MsgExecuteScript
	MsgStop
	MsgReload
	MsgGoBack
	MsgGoForward
	MsgPing
	MsgShutdown
	MsgCapture
)

func (k MessageKind) String() string {
	switch k {
	case MsgNavigate:
		return "navigate"
	case MsgExecuteScript:
		return "execute_script"
	case MsgStop:
		return "stop"
	case MsgReload:
		return "reload"
	case MsgGoBack:
		return "go_back"
	case MsgGoForward:
		return "go_forward"
	case MsgPing:
		return "ping"
	case MsgShutdown:
		return "shutdown"
	case MsgCapture:
		return "capture"
	default:
		return "unknown"
	}
}

// Message is sent to a tab's worker. Only the fields for Kind are read.
type Message struct {
	Kind   MessageKind
	URL    string
	Script string

	// ScriptReply receives the outcome of MsgExecuteScript when set
	ScriptReply chan<- ScriptOutcome
	// CaptureReply receives the outcome of MsgCapture
	CaptureReply chan<- CaptureOutcome
}

// ScriptOutcome answers an ExecuteScript message
type ScriptOutcome struct {
	Result ScriptResult
	Err    error
}

// CaptureOutcome answers a Capture message
type CaptureOutcome struct {
	Capture Capture
	Err     error
}

// Navigate builds a navigation message
func Navigate(url string) Message { return Message{Kind: MsgNavigate, URL: url} }

// Execute builds a script message
func Execute(script string) Message { return Message{Kind: MsgExecuteScript, Script: script} }

// Simple builds a message that carries no payload
func Simple(kind MessageKind) Message { return Message{Kind: kind} }
