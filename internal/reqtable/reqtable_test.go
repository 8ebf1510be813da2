package reqtable

import (
	"encoding/binary"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnsasync/resolver/internal/entropy"
	"github.com/dnsasync/resolver/internal/loop"
	"github.com/dnsasync/resolver/internal/nameserver"
	"github.com/dnsasync/resolver/internal/search"
	"github.com/dnsasync/resolver/internal/wire"
)

// mockServer is a bare UDP responder a test drives by hand: it decodes
// just enough of each query (id + question name) to let the handler
// craft a realistic reply.
type mockServer struct {
	conn *net.UDPConn
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	return &mockServer{conn: conn}
}

func (m *mockServer) addrPort(t *testing.T) ([4]byte, int) {
	t.Helper()
	addr := m.conn.LocalAddr().(*net.UDPAddr)
	var a [4]byte
	copy(a[:], addr.IP.To4())
	return a, addr.Port
}

// serve runs handler once per received datagram until the test closes the
// socket.
func (m *mockServer) serve(handler func(query []byte, from *net.UDPAddr)) {
	go func() {
		buf := make([]byte, 512)
		for {
			n, from, err := m.conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			handler(data, from)
		}
	}()
}

func aReply(id uint16, name string, rcode uint8, ttl uint32, ip [4]byte) []byte {
	buf := make([]byte, wire.HeaderSize)
	wire.EncodeHeader(buf, wire.Header{ID: id, QR: true, RA: true, QDCount: 1, ANCount: 1, Rcode: rcode})
	buf, _ = wire.EncodeName(buf, name, nil)
	var qtail [4]byte
	binary.BigEndian.PutUint16(qtail[0:2], wire.TypeA)
	binary.BigEndian.PutUint16(qtail[2:4], wire.ClassINET)
	buf = append(buf, qtail[:]...)

	if rcode != 0 {
		return buf
	}

	buf, _ = wire.EncodeName(buf, name, nil)
	var head [10]byte
	binary.BigEndian.PutUint16(head[0:2], wire.TypeA)
	binary.BigEndian.PutUint16(head[2:4], wire.ClassINET)
	binary.BigEndian.PutUint32(head[4:8], ttl)
	binary.BigEndian.PutUint16(head[8:10], 4)
	buf = append(buf, head[:]...)
	buf = append(buf, ip[:]...)
	return buf
}

func decodeQuery(data []byte) (id uint16, name string) {
	h, err := wire.DecodeHeader(data)
	if err != nil {
		return 0, ""
	}
	name, _, err = wire.DecodeName(data, wire.HeaderSize)
	if err != nil {
		return 0, ""
	}
	return h.ID, name
}

type harness struct {
	l   *loop.Loop
	reg *nameserver.Registry
	tbl *Table
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := loop.New()
	go l.Run()
	t.Cleanup(l.Close)

	reg := nameserver.New(l)
	tbl := New(l, reg, entropy.Default(), search.New())
	return &harness{l: l, reg: reg, tbl: tbl}
}

func (h *harness) addServer(t *testing.T, m *mockServer) *nameserver.Nameserver {
	t.Helper()
	addr, port := m.addrPort(t)
	var ns *nameserver.Nameserver
	done := make(chan struct{})
	h.l.Post(func() {
		var err error
		ns, err = h.reg.Add(addr, port, h.tbl.OnDatagram)
		require.NoError(t, err)
		close(done)
	})
	<-done
	return ns
}

func TestResolveHappyPathA(t *testing.T) {
	m := newMockServer(t)
	defer m.conn.Close()
	m.serve(func(query []byte, from *net.UDPAddr) {
		id, name := decodeQuery(query)
		reply := aReply(id, name, 0, 300, [4]byte{93, 184, 216, 34})
		m.conn.WriteToUDP(reply, from)
	})

	h := newHarness(t)
	h.addServer(t, m)

	result := make(chan Result, 1)
	var got *wire.Reply
	h.l.Post(func() {
		err := h.tbl.Resolve("example.com.", FlagNoSearch, func(r Result, reply *wire.Reply, ctx any) {
			got = reply
			result <- r
		}, nil)
		require.NoError(t, err)
	})

	select {
	case r := <-result:
		require.Equal(t, None, r)
		require.NotNil(t, got)
		require.Equal(t, [4]byte{93, 184, 216, 34}, got.Addresses[0])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestInflightCap(t *testing.T) {
	m := newMockServer(t)
	defer m.conn.Close()
	// Never reply; this test only checks queue placement, not completion.
	m.serve(func(query []byte, from *net.UDPAddr) {})

	h := newHarness(t)
	h.addServer(t, m)
	h.tbl.Cap = 2

	done := make(chan struct{})
	h.l.Post(func() {
		for i := 0; i < 5; i++ {
			_ = h.tbl.Resolve("example.com.", FlagNoSearch, func(Result, *wire.Reply, any) {}, nil)
		}
		close(done)
	})
	<-done

	waitFor(t, func() bool {
		c := make(chan bool, 1)
		h.l.Post(func() { c <- h.tbl.InflightCount() == 2 && h.tbl.WaitingCount() == 3 })
		return <-c
	})
}

func TestSearchSuffixWalk(t *testing.T) {
	m := newMockServer(t)
	defer m.conn.Close()
	m.serve(func(query []byte, from *net.UDPAddr) {
		id, name := decodeQuery(query)
		switch name {
		case "www.corp.example.", "www.example.com.":
			m.conn.WriteToUDP(aReply(id, name, 3, 0, [4]byte{}), from) // NXDOMAIN
		default:
			m.conn.WriteToUDP(aReply(id, name, 0, 60, [4]byte{1, 2, 3, 4}), from)
		}
	})

	h := newHarness(t)
	h.addServer(t, m)
	h.tbl.search.Ndots = 2
	h.tbl.search.Suffixes = []string{"corp.example", "example.com"}

	result := make(chan Result, 1)
	h.l.Post(func() {
		err := h.tbl.Resolve("www", 0, func(r Result, reply *wire.Reply, ctx any) {
			result <- r
		}, nil)
		require.NoError(t, err)
	})

	select {
	case r := <-result:
		require.Equal(t, None, r)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestRetransmitThenSucceed(t *testing.T) {
	m := newMockServer(t)
	defer m.conn.Close()

	var seen int32
	var sawID uint16
	var idsMatch = true
	m.serve(func(query []byte, from *net.UDPAddr) {
		id, name := decodeQuery(query)
		n := atomic.AddInt32(&seen, 1)
		if n == 1 {
			sawID = id
		} else if id != sawID {
			idsMatch = false
		}
		if n < 3 {
			return // drop the first two
		}
		m.conn.WriteToUDP(aReply(id, name, 0, 60, [4]byte{1, 2, 3, 4}), from)
	})

	h := newHarness(t)
	h.addServer(t, m)
	h.l.Post(func() {
		h.tbl.GlobalTimeout = 100 * time.Millisecond
		h.tbl.MaxRetransmits = 3
	})

	result := make(chan Result, 1)
	h.l.Post(func() {
		err := h.tbl.Resolve("example.com.", FlagNoSearch, func(r Result, reply *wire.Reply, ctx any) {
			result <- r
		}, nil)
		require.NoError(t, err)
	})

	select {
	case r := <-result:
		require.Equal(t, None, r)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
	}

	waitFor(t, func() bool { return atomic.LoadInt32(&seen) == 3 })
	require.True(t, idsMatch, "retransmits must reuse the original transaction id")
}

func TestFailoverOnServfail(t *testing.T) {
	bad := newMockServer(t)
	defer bad.conn.Close()
	badIDs := make(chan uint16, 4)
	bad.serve(func(query []byte, from *net.UDPAddr) {
		id, name := decodeQuery(query)
		badIDs <- id
		bad.conn.WriteToUDP(aReply(id, name, 2, 0, [4]byte{}), from) // SERVFAIL
	})

	good := newMockServer(t)
	defer good.conn.Close()
	goodIDs := make(chan uint16, 4)
	good.serve(func(query []byte, from *net.UDPAddr) {
		id, name := decodeQuery(query)
		goodIDs <- id
		good.conn.WriteToUDP(aReply(id, name, 0, 60, [4]byte{5, 6, 7, 8}), from)
	})

	h := newHarness(t)
	badNS := h.addServer(t, bad)
	h.addServer(t, good)
	h.l.Post(func() { h.tbl.MaxReissues = 1 })

	result := make(chan Result, 1)
	h.l.Post(func() {
		err := h.tbl.Resolve("example.com.", FlagNoSearch, func(r Result, reply *wire.Reply, ctx any) {
			result <- r
		}, nil)
		require.NoError(t, err)
	})

	select {
	case r := <-result:
		require.Equal(t, None, r)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
	}

	select {
	case gid := <-goodIDs:
		require.NotEqual(t, <-badIDs, gid, "reissued query must carry a fresh transaction id")
	case <-time.After(time.Second):
		t.Fatal("good nameserver never received the reissued query")
	}

	waitFor(t, func() bool {
		c := make(chan bool, 1)
		h.l.Post(func() { c <- badNS.State == nameserver.Down })
		return <-c
	})
}

func TestClearAndSuspendOrdering(t *testing.T) {
	stall := newMockServer(t)
	defer stall.conn.Close()
	stall.serve(func(query []byte, from *net.UDPAddr) {}) // never replies

	h := newHarness(t)
	h.addServer(t, stall)
	h.l.Post(func() { h.tbl.Cap = 2 })

	done := make(chan struct{})
	h.l.Post(func() {
		for _, name := range []string{"a.example.com.", "b.example.com.", "c.example.com.", "d.example.com."} {
			_ = h.tbl.Resolve(name, FlagNoSearch, func(Result, *wire.Reply, any) {}, nil)
		}
		close(done)
	})
	<-done

	waitFor(t, func() bool {
		c := make(chan bool, 1)
		h.l.Post(func() { c <- h.tbl.InflightCount() == 2 && h.tbl.WaitingCount() == 2 })
		return <-c
	})

	h.l.Post(func() { h.tbl.ClearAndSuspend() })

	resumed := newMockServer(t)
	defer resumed.conn.Close()
	var order []string
	arrived := make(chan string, 4)
	resumed.serve(func(query []byte, from *net.UDPAddr) {
		id, name := decodeQuery(query)
		arrived <- name
		resumed.conn.WriteToUDP(aReply(id, name, 0, 60, [4]byte{9, 9, 9, 9}), from)
	})
	h.addServer(t, resumed)
	h.l.Post(func() { h.tbl.Resume() })

	for i := 0; i < 4; i++ {
		select {
		case name := <-arrived:
			order = append(order, name)
		case <-time.After(2 * time.Second):
			t.Fatalf("only saw %d of 4 retransmissions after resume", i)
		}
	}

	require.Equal(t, []string{
		"a.example.com.", "b.example.com.", "c.example.com.", "d.example.com.",
	}, order)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
