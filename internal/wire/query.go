package wire

import "encoding/binary"

// BuildQuery encodes a single-question query: a 12-byte header with the
// recursion-desired bit set and QDCount=1, followed by the encoded
// question name, qtype, and class IN.
func BuildQuery(id uint16, name string, qtype uint16) ([]byte, error) {
	buf := make([]byte, HeaderSize, HeaderSize+len(name)+8)
	h := Header{ID: id, RD: true, QDCount: 1}
	EncodeHeader(buf, h)

	var err error
	buf, err = EncodeName(buf, name, nil)
	if err != nil {
		return nil, err
	}

	var tail [4]byte
	binary.BigEndian.PutUint16(tail[0:2], qtype)
	binary.BigEndian.PutUint16(tail[2:4], ClassINET)
	buf = append(buf, tail[:]...)

	return buf, nil
}

// PTRName builds the "d.c.b.a.in-addr.arpa." name for a reverse lookup of
// the IPv4 address given as four octets in network order.
func PTRName(addr [4]byte) string {
	return itoa(addr[3]) + "." + itoa(addr[2]) + "." + itoa(addr[1]) + "." + itoa(addr[0]) + ".in-addr.arpa."
}

func itoa(b byte) string {
	if b == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for b > 0 {
		i--
		buf[i] = '0' + b%10
		b /= 10
	}
	return string(buf[i:])
}
