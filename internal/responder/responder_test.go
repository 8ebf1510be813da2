package responder

import (
	"net"
	"testing"
	"time"

	"github.com/dnsasync/resolver/internal/loop"
	"github.com/dnsasync/resolver/internal/wire"
)

func TestServerPortAnswersQuery(t *testing.T) {
	l := loop.New()
	go l.Run()
	defer l.Close()

	serverConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer serverConn.Close()

	got := make(chan *ServerRequest, 1)
	AddServerPort(l, serverConn, Config{}, func(req *ServerRequest) {
		req.AddReply(Answer, req.Question.Name, wire.TypeA, wire.ClassINET, 60, []byte{10, 0, 0, 1}, "")
		if err := req.Respond(wire.Header{QR: true, RA: true}); err != nil {
			t.Error(err)
		}
		got <- req
	})

	clientConn, err := net.DialUDP("udp4", nil, serverConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer clientConn.Close()

	query, err := wire.BuildQuery(42, "example.com.", wire.TypeA)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := clientConn.Write(query); err != nil {
		t.Fatal(err)
	}

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	buf := make([]byte, 512)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}

	reply, err := wire.ParseReply(buf[:n], wire.KindA)
	if err != nil {
		t.Fatalf("ParseReply: %v", err)
	}
	if len(reply.Addresses) != 1 || reply.Addresses[0] != [4]byte{10, 0, 0, 1} {
		t.Fatalf("addresses = %v", reply.Addresses)
	}
}

func TestRateLimiterDropsExcess(t *testing.T) {
	l := loop.New()
	go l.Run()
	defer l.Close()

	serverConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer serverConn.Close()

	calls := make(chan struct{}, 10)
	AddServerPort(l, serverConn, Config{QueriesPerSecond: 1, Burst: 1}, func(req *ServerRequest) {
		calls <- struct{}{}
	})

	clientConn, err := net.DialUDP("udp4", nil, serverConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer clientConn.Close()

	query, _ := wire.BuildQuery(1, "example.com.", wire.TypeA)
	for i := 0; i < 5; i++ {
		clientConn.Write(query)
	}

	time.Sleep(200 * time.Millisecond)
	if len(calls) >= 5 {
		t.Fatalf("expected rate limiting to drop some queries, handler ran %d times", len(calls))
	}
}
