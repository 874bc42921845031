package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind identifies the payload carried by a control packet.
type Kind uint8

const (
	KindSetSize Kind = iota
	KindIncreaseWindow
	KindChildExitStatus
)

// PacketSize is the fixed wire size of every control packet: a one byte
// kind followed by a four byte payload.
const PacketSize = 5

var ErrShortPacket = errors.New("short packet")

func (k Kind) String() string {
	switch k {
	case KindSetSize:
		return "SetSize"
	case KindIncreaseWindow:
		return "IncreaseWindow"
	case KindChildExitStatus:
		return "ChildExitStatus"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Packet is a decoded control record. Only the fields belonging to Kind are
// meaningful; a packet with an unknown kind keeps its raw payload.
type Packet struct {
	Kind Kind

	Cols uint16
	Rows uint16

	Amount int32
	Status int32

	raw [4]byte
}

func SetSize(cols, rows uint16) Packet {
	return Packet{Kind: KindSetSize, Cols: cols, Rows: rows}
}

func IncreaseWindow(amount int32) Packet {
	return Packet{Kind: KindIncreaseWindow, Amount: amount}
}

func ChildExitStatus(status int32) Packet {
	return Packet{Kind: KindChildExitStatus, Status: status}
}

// Encode writes the wire form of p into dst, which must hold PacketSize bytes.
func (p Packet) Encode(dst []byte) {
	_ = dst[PacketSize-1]
	dst[0] = byte(p.Kind)
	payload := dst[1:PacketSize]
	switch p.Kind {
	case KindSetSize:
		binary.LittleEndian.PutUint16(payload[0:2], p.Cols)
		binary.LittleEndian.PutUint16(payload[2:4], p.Rows)
	case KindIncreaseWindow:
		binary.LittleEndian.PutUint32(payload, uint32(p.Amount))
	case KindChildExitStatus:
		binary.LittleEndian.PutUint32(payload, uint32(p.Status))
	default:
		copy(payload, p.raw[:])
	}
}

func (p Packet) MarshalBinary() ([]byte, error) {
	buf := make([]byte, PacketSize)
	p.Encode(buf)
	return buf, nil
}

// Decode parses one packet from the first PacketSize bytes of src.
func Decode(src []byte) (Packet, error) {
	if len(src) < PacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(src))
	}
	p := Packet{Kind: Kind(src[0])}
	payload := src[1:PacketSize]
	switch p.Kind {
	case KindSetSize:
		p.Cols = binary.LittleEndian.Uint16(payload[0:2])
		p.Rows = binary.LittleEndian.Uint16(payload[2:4])
	case KindIncreaseWindow:
		p.Amount = int32(binary.LittleEndian.Uint32(payload))
	case KindChildExitStatus:
		p.Status = int32(binary.LittleEndian.Uint32(payload))
	default:
		copy(p.raw[:], payload)
	}
	return p, nil
}

func (p *Packet) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

func (p Packet) String() string {
	switch p.Kind {
	case KindSetSize:
		return fmt.Sprintf("SetSize{cols=%d rows=%d}", p.Cols, p.Rows)
	case KindIncreaseWindow:
		return fmt.Sprintf("IncreaseWindow{amount=%d}", p.Amount)
	case KindChildExitStatus:
		return fmt.Sprintf("ChildExitStatus{status=%d}", p.Status)
	default:
		return fmt.Sprintf("%s{raw=%x}", p.Kind, p.raw)
	}
}
