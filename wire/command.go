package wire

import "encoding/binary"

// Command is the closed set of multi-GPU control-plane opcodes.
type Command uint32

const (
	CmdSendFrame Command = iota
	CmdLoadMap
	CmdGetToken
	CmdEnableROS
	CmdDisableROS
	CmdIsEnabledROS
	CmdYouAlive
)

func (c Command) String() string {
	switch c {
	case CmdSendFrame:
		return "SEND_FRAME"
	case CmdLoadMap:
		return "LOAD_MAP"
	case CmdGetToken:
		return "GET_TOKEN"
	case CmdEnableROS:
		return "ENABLE_ROS"
	case CmdDisableROS:
		return "DISABLE_ROS"
	case CmdIsEnabledROS:
		return "IS_ENABLED_ROS"
	case CmdYouAlive:
		return "YOU_ALIVE"
	default:
		return "UNKNOWN_COMMAND"
	}
}

// ExpectsReply reports whether the primary must wait for a correlated
// response after sending this command to one secondary. Broadcasts
// (SEND_FRAME, LOAD_MAP) never expect one.
func (c Command) ExpectsReply() bool {
	switch c {
	case CmdGetToken, CmdEnableROS, CmdDisableROS, CmdIsEnabledROS, CmdYouAlive:
		return true
	default:
		return false
	}
}

// CommandHeaderSize is the fixed wire size of a CommandHeader: id (4) + size (4).
const CommandHeaderSize = 8

// CommandHeader prefixes every multi-GPU control message's payload.
type CommandHeader struct {
	ID   Command
	Size uint32
}

func (h CommandHeader) Encode(dst []byte) {
	_ = dst[:CommandHeaderSize]
	binary.LittleEndian.PutUint32(dst[0:4], uint32(h.ID))
	binary.LittleEndian.PutUint32(dst[4:8], h.Size)
}

func (h CommandHeader) Bytes() []byte {
	b := make([]byte, CommandHeaderSize)
	h.Encode(b)
	return b
}

func DecodeCommandHeader(src []byte) CommandHeader {
	_ = src[:CommandHeaderSize]
	return CommandHeader{
		ID:   Command(binary.LittleEndian.Uint32(src[0:4])),
		Size: binary.LittleEndian.Uint32(src[4:8]),
	}
}
