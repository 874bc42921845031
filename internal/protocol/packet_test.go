package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeLayout(t *testing.T) {
	tests := []struct {
		name     string
		packet   Packet
		expected []byte
	}{
		{
			name:     "set size",
			packet:   SetSize(80, 24),
			expected: []byte{0x00, 0x50, 0x00, 0x18, 0x00},
		},
		{
			name:     "increase window",
			packet:   IncreaseWindow(2048),
			expected: []byte{0x01, 0x00, 0x08, 0x00, 0x00},
		},
		{
			name:     "child exit status",
			packet:   ChildExitStatus(42),
			expected: []byte{0x02, 0x2a, 0x00, 0x00, 0x00},
		},
		{
			name:     "negative exit status",
			packet:   ChildExitStatus(-1),
			expected: []byte{0x02, 0xff, 0xff, 0xff, 0xff},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.packet.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary() error = %v", err)
			}
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("MarshalBinary() = %x, want %x", got, tt.expected)
			}

			decoded, err := Decode(got)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if decoded != tt.packet {
				t.Errorf("Decode() = %v, want %v", decoded, tt.packet)
			}
		})
	}
}

func TestDecodeUnknownKindKeepsPayload(t *testing.T) {
	wire := []byte{0x07, 0x01, 0x02, 0x03, 0x04}
	p, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if p.Kind != Kind(7) {
		t.Fatalf("Kind = %v, want Kind(7)", p.Kind)
	}
	if p.String() != "Kind(7){raw=01020304}" {
		t.Errorf("String() = %q", p.String())
	}

	out := make([]byte, PacketSize)
	p.Encode(out)
	if !bytes.Equal(out, wire) {
		t.Errorf("Encode() = %x, want %x", out, wire)
	}
}

func TestDecodeShortPacket(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01})
	if !errors.Is(err, ErrShortPacket) {
		t.Fatalf("Decode() error = %v, want ErrShortPacket", err)
	}
}

func TestUnmarshalBinary(t *testing.T) {
	var p Packet
	if err := p.UnmarshalBinary([]byte{0x01, 0x10, 0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}
	if p.Kind != KindIncreaseWindow || p.Amount != 16 {
		t.Errorf("UnmarshalBinary() = %v, want IncreaseWindow{amount=16}", p)
	}
}
