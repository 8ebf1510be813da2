// Package responder implements the server-side half of the resolver: a
// bound UDP port that parses inbound queries, lets the caller assemble an
// answer with add-reply style builder calls, and writes back a
// compressed response.
package responder

import (
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/dnsasync/resolver/internal/loop"
	"github.com/dnsasync/resolver/internal/wire"
)

// Section names which record list a reply record is appended to.
type Section int

const (
	Answer Section = iota
	Authority
	Additional
)

// Handler is invoked once per inbound query with a populated ServerRequest.
type Handler func(req *ServerRequest)

// ServerRequest is one inbound query awaiting a response.
type ServerRequest struct {
	ID       uint16
	Peer     *net.UDPAddr
	Question wire.Question

	answer, authority, additional []wire.Record

	port *ServerPort
	buf  []byte
}

// AddReply appends one resource record to the named section. data carries
// raw rdata (A/AAAA); rdName is used instead for record types whose rdata
// is itself a compressible name (PTR, CNAME) and should be left empty
// otherwise.
func (r *ServerRequest) AddReply(section Section, name string, rtype, class uint16, ttl uint32, data []byte, rdName string) {
	rec := wire.Record{Name: name, Type: rtype, Class: class, TTL: ttl, RData: data, RDName: rdName}
	switch section {
	case Answer:
		r.answer = append(r.answer, rec)
	case Authority:
		r.authority = append(r.authority, rec)
	case Additional:
		r.additional = append(r.additional, rec)
	}
}

// Respond encodes the accumulated sections with name compression and
// writes the response to the peer. flags should set QR/AA/RA/Rcode as
// needed; Respond sets the ID.
func (r *ServerRequest) Respond(flags wire.Header) error {
	q := r.Question
	packet, err := wire.EncodeResponse(r.ID, flags, &q, r.answer, r.authority, r.additional)
	if err != nil {
		return err
	}
	r.buf = packet
	return r.port.send(r)
}

// ServerPort owns one bound UDP socket and reads inbound queries.
type ServerPort struct {
	conn    *net.UDPConn
	reader  *loop.Reader
	handler Handler

	limiter *rate.Limiter
	exempt  []*net.IPNet
}

// Config controls optional per-port rate limiting (one limiter shared by
// every peer of the port); zero value disables it (QueriesPerSecond <= 0).
type Config struct {
	QueriesPerSecond float64
	Burst            int
}

// AddServerPort binds conn (already listening) and starts reading
// queries on l, invoking handler for each one that passes rate limiting.
func AddServerPort(l *loop.Loop, conn *net.UDPConn, cfg Config, handler Handler) *ServerPort {
	p := &ServerPort{conn: conn, handler: handler}
	if cfg.QueriesPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.QueriesPerSecond)
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), burst)
	}
	p.reader = loop.StartReader(l, conn, 65535, func(data []byte, from *net.UDPAddr) {
		p.onDatagram(data, from)
	})
	return p
}

func (p *ServerPort) onDatagram(data []byte, from *net.UDPAddr) {
	if p.limiter != nil && !p.limiter.AllowN(time.Now(), 1) {
		return
	}

	h, err := wire.DecodeHeader(data)
	if err != nil || h.QDCount < 1 {
		return
	}
	name, next, err := wire.DecodeName(data, wire.HeaderSize)
	if err != nil || next+4 > len(data) {
		return
	}
	qtype := uint16(data[next])<<8 | uint16(data[next+1])
	qclass := uint16(data[next+2])<<8 | uint16(data[next+3])

	req := &ServerRequest{
		ID:       h.ID,
		Peer:     from,
		Question: wire.Question{Name: name, Type: qtype, Class: qclass},
		port:     p,
	}
	if p.handler != nil {
		p.handler(req)
	}
}

// send writes req.buf to its peer. A write on net.UDPConn blocks until the runtime's netpoller reports the socket writable, so
// there is no observable "would block" state to queue behind; any error
// returned here is a genuine send failure.
func (p *ServerPort) send(req *ServerRequest) error {
	_, err := p.conn.WriteToUDP(req.buf, req.Peer)
	return err
}

// Close stops reading and closes the underlying socket.
func (p *ServerPort) Close() error {
	return p.conn.Close()
}
