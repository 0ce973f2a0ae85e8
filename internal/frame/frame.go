// Package frame implements the tagged-variant envelope shared by the
// rendezvous and the agent on both the stream channel and the datagram
// channel (spec §4.1). Every read of a stream or datagram yields at most
// one Frame; the encoding is length-implicit and self-describing, the
// same codec on both sides of the wire — mirrors the teacher's own
// Proto.Read/Proto.Write split in internal/protocol/protocol.go, with the
// variant set and field layout drawn from the frame format in spec §4.1.
package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

// Tag identifies which frame variant follows the tag byte on the wire.
type Tag byte

const (
	TagGreeting      Tag = 0x01
	TagGreetingReply Tag = 0x02
	TagHeartbeat     Tag = 0x03
	TagData          Tag = 0x04
	TagConnection    Tag = 0x05
	TagCommand       Tag = 0x06
)

func (t Tag) String() string {
	switch t {
	case TagGreeting:
		return "Greeting"
	case TagGreetingReply:
		return "GreetingReply"
	case TagHeartbeat:
		return "Heartbeat"
	case TagData:
		return "Data"
	case TagConnection:
		return "Connection"
	case TagCommand:
		return "Command"
	default:
		return "Unknown"
	}
}

// SocketType distinguishes which local transport a Data frame's payload
// originated from or is destined for.
type SocketType byte

const (
	SocketStream   SocketType = 0x01
	SocketDatagram SocketType = 0x02
)

func (s SocketType) String() string {
	if s == SocketDatagram {
		return "datagram"
	}
	return "stream"
}

// MaxPayload bounds the Data frame's payload to what its 16-bit length
// prefix can carry, one byte under the 64 KiB read buffer (spec §4.1:
// "the buffer is 64 KiB"); names and commands are bounded to 255 bytes,
// which is ample for player names and the single defined command
// ("show_connections").
const MaxPayload = 64*1024 - 1

var (
	ErrUnknownTag  = errors.New("frame: unknown tag")
	ErrNameTooLong = errors.New("frame: name longer than 255 bytes")
	ErrPayloadSize = errors.New("frame: payload longer than 65535 bytes")
)

// Frame is the flat sum-type envelope. Only the fields relevant to Tag
// are meaningful; this mirrors the teacher's Proto struct, which also
// carries every variant's fields on one type and switches on Type.
type Frame struct {
	Tag Tag

	// Greeting
	PlayerName string
	LocalPort  uint16

	// Data / Connection
	SocketType   SocketType
	SenderName   string
	SenderPort   uint16
	ReceiverName string
	ReceiverPort uint16
	SourcePort   uint16
	Payload      []byte

	// Command
	Command string
}

// Greeting builds a Greeting frame.
func Greeting(playerName string, localPort uint16) *Frame {
	return &Frame{Tag: TagGreeting, PlayerName: playerName, LocalPort: localPort}
}

// GreetingReply builds a GreetingReply frame.
func GreetingReply() *Frame { return &Frame{Tag: TagGreetingReply} }

// Heartbeat builds a Heartbeat frame.
func Heartbeat(playerName string) *Frame {
	return &Frame{Tag: TagHeartbeat, PlayerName: playerName}
}

// Data builds a Data frame.
func Data(st SocketType, senderName string, senderPort uint16, receiverName string, receiverPort uint16, sourcePort uint16, payload []byte) *Frame {
	return &Frame{
		Tag:          TagData,
		SocketType:   st,
		SenderName:   senderName,
		SenderPort:   senderPort,
		ReceiverName: receiverName,
		ReceiverPort: receiverPort,
		SourcePort:   sourcePort,
		Payload:      payload,
	}
}

// Connection builds a Connection frame.
func Connection(senderName string, senderPort uint16, receiverName string, receiverPort uint16, sourcePort uint16) *Frame {
	return &Frame{
		Tag:          TagConnection,
		SenderName:   senderName,
		SenderPort:   senderPort,
		ReceiverName: receiverName,
		ReceiverPort: receiverPort,
		SourcePort:   sourcePort,
	}
}

// Command builds a Command frame.
func Command(command string) *Frame {
	return &Frame{Tag: TagCommand, Command: command}
}

// Write encodes f to w: a one-byte tag followed by the variant's fields.
func (f *Frame) Write(w io.Writer) error {
	if _, err := w.Write([]byte{byte(f.Tag)}); err != nil {
		return err
	}

	switch f.Tag {
	case TagGreetingReply:
		return nil
	case TagGreeting:
		if err := writeString(w, f.PlayerName); err != nil {
			return err
		}
		return writeUint16(w, f.LocalPort)
	case TagHeartbeat:
		return writeString(w, f.PlayerName)
	case TagData:
		if _, err := w.Write([]byte{byte(f.SocketType)}); err != nil {
			return err
		}
		if err := writeString(w, f.SenderName); err != nil {
			return err
		}
		if err := writeUint16(w, f.SenderPort); err != nil {
			return err
		}
		if err := writeString(w, f.ReceiverName); err != nil {
			return err
		}
		if err := writeUint16(w, f.ReceiverPort); err != nil {
			return err
		}
		if err := writeUint16(w, f.SourcePort); err != nil {
			return err
		}
		return writePayload(w, f.Payload)
	case TagConnection:
		if err := writeString(w, f.SenderName); err != nil {
			return err
		}
		if err := writeUint16(w, f.SenderPort); err != nil {
			return err
		}
		if err := writeString(w, f.ReceiverName); err != nil {
			return err
		}
		if err := writeUint16(w, f.ReceiverPort); err != nil {
			return err
		}
		return writeUint16(w, f.SourcePort)
	case TagCommand:
		return writeString(w, f.Command)
	default:
		return ErrUnknownTag
	}
}

// Read decodes a Frame from r, populating f. r yields exactly the bytes
// of one frame per call on the stream path (reads are trusted to be
// frame-aligned there); on the datagram path callers use DecodeBytes instead.
func (f *Frame) Read(r io.Reader) error {
	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return err
	}
	f.Tag = Tag(tagBuf[0])

	switch f.Tag {
	case TagGreetingReply:
		return nil
	case TagGreeting:
		name, err := readString(r)
		if err != nil {
			return err
		}
		port, err := readUint16(r)
		if err != nil {
			return err
		}
		f.PlayerName, f.LocalPort = name, port
		return nil
	case TagHeartbeat:
		name, err := readString(r)
		if err != nil {
			return err
		}
		f.PlayerName = name
		return nil
	case TagData:
		var stBuf [1]byte
		if _, err := io.ReadFull(r, stBuf[:]); err != nil {
			return err
		}
		f.SocketType = SocketType(stBuf[0])
		var err error
		if f.SenderName, err = readString(r); err != nil {
			return err
		}
		if f.SenderPort, err = readUint16(r); err != nil {
			return err
		}
		if f.ReceiverName, err = readString(r); err != nil {
			return err
		}
		if f.ReceiverPort, err = readUint16(r); err != nil {
			return err
		}
		if f.SourcePort, err = readUint16(r); err != nil {
			return err
		}
		if f.Payload, err = readPayload(r); err != nil {
			return err
		}
		return nil
	case TagConnection:
		var err error
		if f.SenderName, err = readString(r); err != nil {
			return err
		}
		if f.SenderPort, err = readUint16(r); err != nil {
			return err
		}
		if f.ReceiverName, err = readString(r); err != nil {
			return err
		}
		if f.ReceiverPort, err = readUint16(r); err != nil {
			return err
		}
		if f.SourcePort, err = readUint16(r); err != nil {
			return err
		}
		return nil
	case TagCommand:
		cmd, err := readString(r)
		if err != nil {
			return err
		}
		f.Command = cmd
		return nil
	default:
		return ErrUnknownTag
	}
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > 255 {
		return ErrNameTooLong
	}
	if _, err := w.Write([]byte{byte(len(s))}); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	buf := make([]byte, lenBuf[0])
	if len(buf) > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

func writePayload(w io.Writer, data []byte) error {
	if len(data) > MaxPayload {
		return ErrPayloadSize
	}
	if err := writeUint16(w, uint16(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.Write(data)
	return err
}

func readPayload(r io.Reader) ([]byte, error) {
	n, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
