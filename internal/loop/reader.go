package loop

import (
	"net"

	"github.com/dnsasync/resolver/internal/bufpool"
)

// Reader runs a dedicated goroutine blocking in ReadFromUDP on conn and
// posts each received datagram to the loop via onPacket, which always runs
// on the loop goroutine. The goroutine exits once conn is closed (any read
// error stops the reader).
type Reader struct {
	conn *net.UDPConn
	done chan struct{}
}

// StartReader begins reading conn on a new goroutine. bufSize bounds a
// single datagram; DNS over UDP never exceeds 65535 bytes. Each datagram
// is copied into a pooled buffer for the trip to the loop goroutine and
// returned to the pool once onPacket has consumed it; onPacket must not
// retain data past its call.
func StartReader(l *Loop, conn *net.UDPConn, bufSize int, onPacket func(data []byte, from *net.UDPAddr)) *Reader {
	r := &Reader{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		buf := make([]byte, bufSize)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			pooled := bufpool.GetMaxBuffer()
			copy(pooled, buf[:n])
			data := pooled[:n]
			l.Post(func() {
				onPacket(data, from)
				bufpool.PutMaxBuffer(pooled)
			})
		}
	}()
	return r
}

// Wait blocks until the reader goroutine has exited (i.e. after the socket
// is closed).
func (r *Reader) Wait() {
	<-r.done
}
