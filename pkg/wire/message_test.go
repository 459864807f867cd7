package wire

import (
	"encoding/binary"
	"testing"
)

func TestWire_MessageSizes(t *testing.T) {
	cases := []struct {
		msgType MsgType
		want    int
	}{
		{MsgTrade, TradeSize},
		{MsgQuote, QuoteSize},
		{MsgHeartbeat, HeartbeatSize},
		{MsgSubscribe, 0},
		{MsgType(0x42), 0},
	}

	for _, c := range cases {
		if got := MessageSize(c.msgType); got != c.want {
			t.Errorf("MessageSize(0x%02x) = %d, want %d", uint16(c.msgType), got, c.want)
		}
	}
}

func TestWire_TradeRoundTrip(t *testing.T) {
	in := Trade{
		Header: Header{
			MsgType:   MsgTrade,
			Sequence:  1,
			Timestamp: 1723051234567890123,
			SymbolID:  42,
		},
		Price:    1234.56,
		Quantity: 1000,
	}

	var buf [TradeSize]byte
	n := EncodeTrade(buf[:], in)
	if n != TradeSize {
		t.Fatalf("EncodeTrade wrote %d bytes, want %d", n, TradeSize)
	}
	if !VerifyChecksum(buf[:]) {
		t.Error("encoded trade fails checksum verification")
	}

	out := DecodeTrade(buf[:])
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestWire_QuoteRoundTrip(t *testing.T) {
	in := Quote{
		Header: Header{
			MsgType:   MsgQuote,
			Sequence:  7,
			Timestamp: 99,
			SymbolID:  65535,
		},
		BidPrice:    100.25,
		BidQuantity: 500,
		AskPrice:    100.75,
		AskQuantity: 700,
	}

	var buf [QuoteSize]byte
	// Dirty the buffer so the reserved hole is proven to be zeroed.
	for i := range buf {
		buf[i] = 0xAA
	}
	EncodeQuote(buf[:], in)

	if !VerifyChecksum(buf[:]) {
		t.Error("encoded quote fails checksum verification")
	}
	if hole := binary.LittleEndian.Uint32(buf[28:32]); hole != 0 {
		t.Errorf("reserved hole = 0x%08x, want 0", hole)
	}

	out := DecodeQuote(buf[:])
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestWire_HeartbeatRoundTrip(t *testing.T) {
	in := Heartbeat{Header: Header{MsgType: MsgHeartbeat, Sequence: 3, Timestamp: 12, SymbolID: 0}}

	var buf [HeartbeatSize]byte
	EncodeHeartbeat(buf[:], in)

	if !VerifyChecksum(buf[:]) {
		t.Error("encoded heartbeat fails checksum verification")
	}
	if out := DecodeHeartbeat(buf[:]); out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestWire_HeaderLayout(t *testing.T) {
	h := Header{MsgType: MsgTrade, Sequence: 0x04030201, Timestamp: 0x0807060504030201, SymbolID: 0x0B0A}

	var buf [HeaderSize]byte
	putHeader(buf[:], h)

	want := []byte{
		0x01, 0x00, // msg_type LE
		0x01, 0x02, 0x03, 0x04, // sequence LE
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, // timestamp LE
		0x0A, 0x0B, // symbol_id LE
	}
	for i, b := range want {
		if buf[i] != b {
			t.Fatalf("header byte %d = 0x%02x, want 0x%02x", i, buf[i], b)
		}
	}

	if got := DecodeHeader(buf[:]); got != h {
		t.Errorf("DecodeHeader = %+v, want %+v", got, h)
	}
}

func TestWire_ChecksumSelfInverse(t *testing.T) {
	body := []byte{0x01, 0x02, 0xFF, 0x10, 0x33}

	c := Checksum(body)
	doubled := append(append([]byte{}, body...), body...)
	if Checksum(doubled) != 0 {
		t.Error("XOR of a body with itself must fold to zero")
	}
	if c > 0xFF {
		t.Errorf("checksum upper 24 bits must be zero, got 0x%08x", c)
	}
}

func TestWire_ChecksumDetectsSingleBitFlips(t *testing.T) {
	in := Trade{
		Header:   Header{MsgType: MsgTrade, Sequence: 9, Timestamp: 77, SymbolID: 5},
		Price:    10.5,
		Quantity: 300,
	}

	var buf [TradeSize]byte
	EncodeTrade(buf[:], in)

	for i := 0; i < TradeSize; i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := buf
			corrupted[i] ^= 1 << bit
			if VerifyChecksum(corrupted[:]) {
				t.Fatalf("bit flip at byte %d bit %d went undetected", i, bit)
			}
		}
	}
}
