package wire

import "encoding/binary"

// Record is one resource record awaiting encoding into a response. Exactly
// one of RData or RDName should be set: RDName is used for record types
// whose rdata is itself a compressible domain name (PTR, CNAME); RData
// carries raw rdata bytes otherwise (A, AAAA, and anything else the caller
// already has in wire form).
type Record struct {
	Name   string
	Type   uint16
	Class  uint16
	TTL    uint32
	RData  []byte
	RDName string
}

// Question is a single question-section entry.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// EncodeResponse assembles a complete response message with name
// compression shared across the question and every record section. flags
// should already carry QR/AA/RA/RD/Rcode as appropriate; QDCount/AN/NS/AR
// counts are computed from the supplied slices.
func EncodeResponse(id uint16, flags Header, question *Question, answer, authority, additional []Record) ([]byte, error) {
	h := flags
	h.ID = id
	if question != nil {
		h.QDCount = 1
	}
	h.ANCount = uint16(len(answer))
	h.NSCount = uint16(len(authority))
	h.ARCount = uint16(len(additional))

	buf := make([]byte, HeaderSize, 512)
	EncodeHeader(buf, h)

	table := &CompressionTable{}
	var err error

	if question != nil {
		buf, err = EncodeName(buf, question.Name, table)
		if err != nil {
			return nil, err
		}
		var tail [4]byte
		binary.BigEndian.PutUint16(tail[0:2], question.Type)
		binary.BigEndian.PutUint16(tail[2:4], question.Class)
		buf = append(buf, tail[:]...)
	}

	for _, section := range [][]Record{answer, authority, additional} {
		for _, rr := range section {
			buf, err = encodeRecord(buf, rr, table)
			if err != nil {
				return nil, err
			}
		}
	}

	return buf, nil
}

func encodeRecord(buf []byte, rr Record, table *CompressionTable) ([]byte, error) {
	var err error
	buf, err = EncodeName(buf, rr.Name, table)
	if err != nil {
		return nil, err
	}

	var head [8]byte
	binary.BigEndian.PutUint16(head[0:2], rr.Type)
	binary.BigEndian.PutUint16(head[2:4], rr.Class)
	binary.BigEndian.PutUint32(head[4:8], rr.TTL)
	buf = append(buf, head[:]...)

	// Reserve RDLENGTH, fill in once the rdata (possibly a compressed name)
	// has been written.
	rdlenAt := len(buf)
	buf = append(buf, 0, 0)
	rdataStart := len(buf)

	if rr.RDName != "" {
		buf, err = EncodeName(buf, rr.RDName, table)
		if err != nil {
			return nil, err
		}
	} else {
		buf = append(buf, rr.RData...)
	}

	rdlen := len(buf) - rdataStart
	binary.BigEndian.PutUint16(buf[rdlenAt:rdlenAt+2], uint16(rdlen))

	return buf, nil
}
