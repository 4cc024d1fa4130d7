package ipfix

import "time"

// MessageBuilder accumulates template and data set bytes into one IPFIX
// message up to a configured MTU, matching the original's createTemplate/
// createDataPacket split between a template buffer and a data buffer.
type MessageBuilder struct {
	mtu  int
	odid uint32
	buf  []byte
}

// NewMessageBuilder returns a builder capped at mtu bytes of payload
// (header included), exporting under the given observation domain ID.
func NewMessageBuilder(mtu int, odid uint32) *MessageBuilder {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	b := &MessageBuilder{mtu: mtu, odid: odid}
	b.reset()
	return b
}

func (b *MessageBuilder) reset() {
	b.buf = make([]byte, HeaderSize, b.mtu)
}

// Remaining reports how many more bytes of set content fit before the
// message hits its MTU.
func (b *MessageBuilder) Remaining() int {
	return b.mtu - len(b.buf)
}

// AddSet appends one complete set (header matches id, content is the
// concatenated records) to the message. Returns false without modifying
// the builder if the set would not fit; the caller is expected to Flush
// first and retry.
func (b *MessageBuilder) AddSet(id uint16, content []byte) bool {
	total := SetHeaderSize + len(content)
	if total > b.Remaining() {
		return false
	}
	start := len(b.buf)
	b.buf = append(b.buf, make([]byte, total)...)
	SetHeader{ID: id, Length: uint16(total)}.Encode(b.buf[start:])
	copy(b.buf[start+SetHeaderSize:], content)
	return true
}

// Empty reports whether nothing but the header has been added.
func (b *MessageBuilder) Empty() bool {
	return len(b.buf) == HeaderSize
}

// Finish stamps the message header (export time, sequence number) and
// returns the complete wire message, resetting the builder for reuse.
func (b *MessageBuilder) Finish(exportTime time.Time, sequenceNumber uint32) []byte {
	Header{
		Version:             Version,
		Length:              uint16(len(b.buf)),
		ExportTime:          uint32(exportTime.Unix()),
		SequenceNumber:      sequenceNumber,
		ObservationDomainID: b.odid,
	}.Encode(b.buf)
	out := b.buf
	b.reset()
	return out
}
