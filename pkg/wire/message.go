package wire

import (
	"encoding/binary"
	"math"
)

// MsgType identifies the record kind carried by a frame.
type MsgType uint16

const (
	MsgTrade     MsgType = 0x01
	MsgQuote     MsgType = 0x02
	MsgHeartbeat MsgType = 0x03

	// MsgSubscribe is reserved for client-side symbol filtering. The
	// server broadcasts every record to every connection and never
	// consumes it.
	MsgSubscribe MsgType = 0xFF
)

// Framed record sizes in bytes. Records are packed little-endian and
// end with a 4-byte XOR checksum; the only padding is the quote's
// 4-byte alignment hole (see EncodeQuote).
const (
	HeaderSize    = 16
	TradeSize     = 32
	QuoteSize     = 48
	HeartbeatSize = 20
	ChecksumSize  = 4
)

// Header prefixes every record on the wire.
type Header struct {
	MsgType   MsgType
	Sequence  uint32
	Timestamp uint64 // nanoseconds since epoch
	SymbolID  uint16
}

// Trade is a single execution at the current mid price.
type Trade struct {
	Header   Header
	Price    float64
	Quantity uint32
}

// Quote is a top-of-book two-sided update.
type Quote struct {
	Header      Header
	BidPrice    float64
	BidQuantity uint32
	AskPrice    float64
	AskQuantity uint32
}

// Heartbeat is a header-only keepalive record.
type Heartbeat struct {
	Header Header
}

// MessageSize returns the full framed size for a message type, zero
// when the type is unknown.
func MessageSize(t MsgType) int {
	switch t {
	case MsgTrade:
		return TradeSize
	case MsgQuote:
		return QuoteSize
	case MsgHeartbeat:
		return HeartbeatSize
	default:
		return 0
	}
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(h.MsgType))
	binary.LittleEndian.PutUint32(b[2:6], h.Sequence)
	binary.LittleEndian.PutUint64(b[6:14], h.Timestamp)
	binary.LittleEndian.PutUint16(b[14:16], h.SymbolID)
}

// DecodeHeader reads the 16-byte header at the start of b.
func DecodeHeader(b []byte) Header {
	return Header{
		MsgType:   MsgType(binary.LittleEndian.Uint16(b[0:2])),
		Sequence:  binary.LittleEndian.Uint32(b[2:6]),
		Timestamp: binary.LittleEndian.Uint64(b[6:14]),
		SymbolID:  binary.LittleEndian.Uint16(b[14:16]),
	}
}

// EncodeTrade frames t into b, which must hold at least TradeSize
// bytes, and returns the number of bytes written.
func EncodeTrade(b []byte, t Trade) int {
	putHeader(b, t.Header)
	binary.LittleEndian.PutUint64(b[16:24], math.Float64bits(t.Price))
	binary.LittleEndian.PutUint32(b[24:28], t.Quantity)
	binary.LittleEndian.PutUint32(b[28:32], Checksum(b[:28]))
	return TradeSize
}

// EncodeQuote frames q into b, which must hold at least QuoteSize
// bytes, and returns the number of bytes written. The quote payload
// carries a 4-byte alignment hole between bid_qty and ask_price; the
// hole is transmitted as zeroes and covered by the checksum.
func EncodeQuote(b []byte, q Quote) int {
	putHeader(b, q.Header)
	binary.LittleEndian.PutUint64(b[16:24], math.Float64bits(q.BidPrice))
	binary.LittleEndian.PutUint32(b[24:28], q.BidQuantity)
	binary.LittleEndian.PutUint32(b[28:32], 0)
	binary.LittleEndian.PutUint64(b[32:40], math.Float64bits(q.AskPrice))
	binary.LittleEndian.PutUint32(b[40:44], q.AskQuantity)
	binary.LittleEndian.PutUint32(b[44:48], Checksum(b[:QuoteSize-ChecksumSize]))
	return QuoteSize
}

// EncodeHeartbeat frames hb into b, which must hold at least
// HeartbeatSize bytes, and returns the number of bytes written.
func EncodeHeartbeat(b []byte, hb Heartbeat) int {
	putHeader(b, hb.Header)
	binary.LittleEndian.PutUint32(b[16:20], Checksum(b[:16]))
	return HeartbeatSize
}

// DecodeTrade reads a framed trade record. The checksum is not
// verified here, callers validate before decoding.
func DecodeTrade(b []byte) Trade {
	return Trade{
		Header:   DecodeHeader(b),
		Price:    math.Float64frombits(binary.LittleEndian.Uint64(b[16:24])),
		Quantity: binary.LittleEndian.Uint32(b[24:28]),
	}
}

// DecodeQuote reads a framed quote record.
func DecodeQuote(b []byte) Quote {
	return Quote{
		Header:      DecodeHeader(b),
		BidPrice:    math.Float64frombits(binary.LittleEndian.Uint64(b[16:24])),
		BidQuantity: binary.LittleEndian.Uint32(b[24:28]),
		AskPrice:    math.Float64frombits(binary.LittleEndian.Uint64(b[32:40])),
		AskQuantity: binary.LittleEndian.Uint32(b[40:44]),
	}
}

// DecodeHeartbeat reads a framed heartbeat record.
func DecodeHeartbeat(b []byte) Heartbeat {
	return Heartbeat{Header: DecodeHeader(b)}
}
