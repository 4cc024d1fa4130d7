package ipfix

import (
	"sync"

	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
)

// ReversePEN is the enterprise number RFC 5103 reserves for marking the
// reverse-direction twin of a forward information element.
const ReversePEN uint32 = 29305

// Base IANA element IDs used for the fixed part of every flow record. The
// encoder ships these base fields plus whatever extensions are attached.
const (
	elemProtocolIdentifier     uint16 = 4
	elemSourceIPv4Address      uint16 = 8
	elemDestinationIPv4Address uint16 = 12
	elemSourceIPv6Address      uint16 = 27
	elemDestinationIPv6Address uint16 = 28
	elemSourceTransportPort    uint16 = 7
	elemDestinationPort        uint16 = 11
	elemPacketDeltaCount       uint16 = 2
	elemOctetDeltaCount        uint16 = 1
	elemFlowStartMilliseconds  uint16 = 152
	elemFlowEndMilliseconds    uint16 = 153
	elemTCPControlBits         uint16 = 6
)

// baseFields returns the fixed-field template shared by every flow of the
// given IP version, in the exact order EncodeRecord writes them.
func baseFields(ipv4 bool) []flow.IPFIXField {
	fields := make([]flow.IPFIXField, 0, 10)
	if ipv4 {
		fields = append(fields,
			flow.IPFIXField{ElementID: elemSourceIPv4Address, Length: 4},
			flow.IPFIXField{ElementID: elemDestinationIPv4Address, Length: 4},
		)
	} else {
		fields = append(fields,
			flow.IPFIXField{ElementID: elemSourceIPv6Address, Length: 16},
			flow.IPFIXField{ElementID: elemDestinationIPv6Address, Length: 16},
		)
	}
	fields = append(fields,
		flow.IPFIXField{ElementID: elemProtocolIdentifier, Length: 1},
		flow.IPFIXField{ElementID: elemSourceTransportPort, Length: 2},
		flow.IPFIXField{ElementID: elemDestinationPort, Length: 2},
		flow.IPFIXField{ElementID: elemFlowStartMilliseconds, Length: 8},
		flow.IPFIXField{ElementID: elemFlowEndMilliseconds, Length: 8},
		flow.IPFIXField{ElementID: elemPacketDeltaCount, Length: 8},
		flow.IPFIXField{ElementID: elemOctetDeltaCount, Length: 8},
		flow.IPFIXField{ElementID: elemTCPControlBits, Length: 1},
		flow.IPFIXField{EnterpriseNumber: ReversePEN, ElementID: elemPacketDeltaCount, Length: 8},
		flow.IPFIXField{EnterpriseNumber: ReversePEN, ElementID: elemOctetDeltaCount, Length: 8},
		flow.IPFIXField{EnterpriseNumber: ReversePEN, ElementID: elemTCPControlBits, Length: 1},
	)
	return fields
}

// Template is one negotiated IPFIX template: its assigned ID, the ordered
// field list, and a pre-encoded template record ready to copy into a
// template set.
type Template struct {
	ID      uint16
	Fields  []flow.IPFIXField
	Record  []byte
	IPv4    bool
	ExtBits uint64

	// exported tracks whether this template's record has been sent on
	// the current collector connection at least once. Cleared on
	// reconnect so a fresh connection sees every template as unsent,
	// matching the original's per-template `exported` flag rather than
	// one global "have we ever sent anything" gate.
	exported bool
}

// key identifies a template by the two axes that determine its field
// list: IP version and the attached-extension bitset.
type key struct {
	ipv4    bool
	extBits uint64
}

// Manager allocates and caches Templates, assigning IDs starting at
// FirstTemplateID and increasing monotonically, matching the original's
// template_t linked list behaviour without ever reusing an ID.
type Manager struct {
	mu        sync.Mutex
	templates map[key]*Template
	nextID    uint16
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		templates: make(map[key]*Template),
		nextID:    FirstTemplateID,
	}
}

// TemplateFor returns the Template matching rec's IP version and attached
// extensions, building and caching a new one (with a freshly allocated ID)
// the first time a given combination is seen.
func (m *Manager) TemplateFor(rec *flow.Record) *Template {
	ipv4 := rec.IPVersion == 4
	extBits := rec.ExtensionBits()
	k := key{ipv4: ipv4, extBits: extBits}

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.templates[k]; ok {
		return t
	}

	fields := baseFields(ipv4)
	for _, ext := range rec.Extensions() {
		fields = append(fields, ext.IPFIXTemplate()...)
	}

	t := &Template{
		ID:      m.nextID,
		Fields:  fields,
		IPv4:    ipv4,
		ExtBits: extBits,
		Record:  encodeTemplateRecord(m.nextID, fields),
	}
	m.nextID++
	m.templates[k] = t
	return t
}

// All returns every template registered so far, for retransmission on UDP
// template refresh.
func (m *Manager) All() []*Template {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Template, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	return out
}

// ResetExported marks every registered template as not yet sent on the
// current connection, forcing EnsureTemplate to retransmit each one
// before its next data set. Called on reconnect.
func (m *Manager) ResetExported() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.templates {
		t.exported = false
	}
}

// encodeTemplateRecord builds the wire form of a template record: template
// ID, field count, then 4 or 8 bytes per field (8 when enterprise-specific).
func encodeTemplateRecord(id uint16, fields []flow.IPFIXField) []byte {
	size := 4
	for _, f := range fields {
		if f.EnterpriseNumber != 0 {
			size += 8
		} else {
			size += 4
		}
	}
	buf := make([]byte, size)
	be16(buf[0:2], id)
	be16(buf[2:4], uint16(len(fields)))
	off := 4
	for _, f := range fields {
		eid := f.ElementID
		length := f.Length
		var wireLength uint16
		if length < 0 {
			wireLength = 0xFFFF
		} else {
			wireLength = uint16(length)
		}
		if f.EnterpriseNumber != 0 {
			be16(buf[off:off+2], eid|0x8000)
			be16(buf[off+2:off+4], wireLength)
			be32(buf[off+4:off+8], f.EnterpriseNumber)
			off += 8
		} else {
			be16(buf[off:off+2], eid)
			be16(buf[off+2:off+4], wireLength)
			off += 4
		}
	}
	return buf
}
