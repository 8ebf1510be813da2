package wire

import "encoding/binary"

// QueryKind selects how Reply interprets the answer section: an A-request
// collects up to four IPv4 addresses, a PTR-request decodes the rdata of
// the first PTR record as a name.
type QueryKind int

const (
	KindA QueryKind = iota
	KindPTR
)

// Reply is the result of parsing a resolver reply relevant to the
// originating query.
type Reply struct {
	ID        uint16
	Rcode     uint8
	Truncated bool

	Addresses [][4]byte // populated for KindA, at most 4 entries
	PTRName   string    // populated for KindPTR

	TTL uint32 // minimum TTL observed across matched records
}

const maxAddresses = 4

// ParseReply parses a DNS reply message, collecting the answer data
// relevant to kind. Questions are skipped rather than validated against the
// original query; the caller correlates by transaction id. AAAA records
// and any other unrecognised type are skipped cleanly.
func ParseReply(msg []byte, kind QueryKind) (*Reply, error) {
	h, err := DecodeHeader(msg)
	if err != nil {
		return nil, err
	}

	r := &Reply{ID: h.ID, Rcode: h.Rcode, Truncated: h.TC}

	offset := HeaderSize
	for i := 0; i < int(h.QDCount); i++ {
		_, next, err := DecodeName(msg, offset)
		if err != nil {
			return nil, err
		}
		offset = next + 4 // QTYPE + QCLASS
		if offset > len(msg) {
			return nil, ErrMessageTooShort
		}
	}

	minTTL := ^uint32(0)
	haveTTL := false

	for i := 0; i < int(h.ANCount); i++ {
		if offset >= len(msg) {
			return nil, ErrMessageTooShort
		}
		_, next, err := DecodeName(msg, offset)
		if err != nil {
			return nil, err
		}
		offset = next
		if offset+10 > len(msg) {
			return nil, ErrMessageTooShort
		}
		rtype := binary.BigEndian.Uint16(msg[offset : offset+2])
		rclass := binary.BigEndian.Uint16(msg[offset+2 : offset+4])
		ttl := binary.BigEndian.Uint32(msg[offset+4 : offset+8])
		rdlen := int(binary.BigEndian.Uint16(msg[offset+8 : offset+10]))
		offset += 10
		if offset+rdlen > len(msg) {
			return nil, ErrMessageTooShort
		}
		rdata := msg[offset : offset+rdlen]
		offset += rdlen

		switch {
		case kind == KindA && rtype == TypeA && rclass == ClassINET:
			if len(rdata) == 4 && len(r.Addresses) < maxAddresses {
				var a [4]byte
				copy(a[:], rdata)
				r.Addresses = append(r.Addresses, a)
				if ttl < minTTL {
					minTTL = ttl
				}
				haveTTL = true
			}
		case kind == KindPTR && rtype == TypePTR && rclass == ClassINET:
			if r.PTRName == "" {
				name, _, err := DecodeName(msg, offset-rdlen)
				if err != nil {
					return nil, err
				}
				r.PTRName = name
				minTTL = ttl
				haveTTL = true
			}
		case rtype == TypeAAAA:
			// skipped cleanly: AAAA decoding is out of scope
		default:
			// any other type: skip
		}
	}

	if haveTTL {
		r.TTL = minTTL
	}

	return r, nil
}
