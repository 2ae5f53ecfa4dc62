package vault

// ExitCode is the stable result of processing one message. The numeric values
// are part of the external interface.
type ExitCode uint16

const (
	Success              ExitCode = 0
	InvalidSignature     ExitCode = 33
	Locked               ExitCode = 34
	InvalidCreatedAt     ExitCode = 35
	AlreadyExecuted      ExitCode = 36
	InvalidMessageToSend ExitCode = 37
	InvalidOp            ExitCode = 38
	InvalidSender        ExitCode = 39
	InvalidWC            ExitCode = 40
)

func (c ExitCode) OK() bool { return c == Success }

func (c ExitCode) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case InvalidSignature:
		return "INVALID_SIGNATURE"
	case Locked:
		return "LOCKED"
	case InvalidCreatedAt:
		return "INVALID_CREATED_AT"
	case AlreadyExecuted:
		return "ALREADY_EXECUTED"
	case InvalidMessageToSend:
		return "INVALID_MESSAGE_TO_SEND"
	case InvalidOp:
		return "INVALID_OP"
	case InvalidSender:
		return "INVALID_SENDER"
	case InvalidWC:
		return "INVALID_WC"
	default:
		return "UNKNOWN"
	}
}
