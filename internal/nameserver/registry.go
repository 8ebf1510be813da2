// Package nameserver tracks the set of configured recursive nameservers:
// a circular list with round-robin selection, per-server health state
// (up/down), and exponential-backoff probing of down servers.
//
// All methods are intended to run on the resolver's single event-loop
// goroutine; there is no internal locking.
package nameserver

import (
	"errors"
	"log"
	"net"
	"time"

	"github.com/dnsasync/resolver/internal/loop"
)

// State is a nameserver's health state.
type State int

const (
	Up State = iota
	Down
)

// backoffSeconds indexes consecutive failed probes to a retry delay; the
// last value repeats for any index beyond the table.
var backoffSeconds = [...]int{10, 60, 300, 900, 3600}

var ErrDuplicate = errors.New("nameserver: address already registered")

// ID is a stable handle for a Nameserver, used by requests to refer back to
// their assigned server without holding a raw pointer that registry
// removal could invalidate.
type ID uint64

// Nameserver is one upstream recursive resolver.
type Nameserver struct {
	id    ID
	Addr  [4]byte // IPv4, network byte order
	Conn  *net.UDPConn

	State               State
	ConsecutiveTimeouts int
	FailedProbes        int

	probeTimer loop.Timer
	reader     *loop.Reader

	next, prev *Nameserver
}

// ID returns the stable handle for this nameserver.
func (n *Nameserver) ID() ID { return n.id }

// Registry owns the circular list of configured nameservers.
type Registry struct {
	head      *Nameserver
	count     int
	goodCount int
	nextID    ID

	byAddr map[[4]byte]*Nameserver
	byID   map[ID]*Nameserver

	loop       *loop.Loop
	onProbeDue func(ns *Nameserver)
}

// New creates an empty registry driven by the given loop.
func New(l *loop.Loop) *Registry {
	return &Registry{
		byAddr: make(map[[4]byte]*Nameserver),
		byID:   make(map[ID]*Nameserver),
		loop:   l,
	}
}

// Count returns the number of registered nameservers.
func (r *Registry) Count() int { return r.count }

// GoodCount returns the number of nameservers currently marked up. This
// must always equal the number of entries with State == Up.
func (r *Registry) GoodCount() int { return r.goodCount }

// ByID resolves a stable handle to its nameserver, or nil if it has been
// removed (e.g. by ClearAndSuspend).
func (r *Registry) ByID(id ID) *Nameserver { return r.byID[id] }

// Add dials a connected UDP socket to addr and inserts it at the tail of
// the circular list. Returns ErrDuplicate if addr is already registered.
func (r *Registry) Add(addr [4]byte, port int, onReadable func(ns *Nameserver, data []byte, from *net.UDPAddr)) (*Nameserver, error) {
	if _, ok := r.byAddr[addr]; ok {
		return nil, ErrDuplicate
	}

	ip := net.IPv4(addr[0], addr[1], addr[2], addr[3])
	raddr := &net.UDPAddr{IP: ip, Port: port}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, err
	}

	r.nextID++
	ns := &Nameserver{
		id:    r.nextID,
		Addr:  addr,
		Conn:  conn,
		State: Up,
	}
	ns.reader = loop.StartReader(r.loop, conn, 65535, func(data []byte, from *net.UDPAddr) {
		onReadable(ns, data, from)
	})

	r.insertTail(ns)
	r.byAddr[addr] = ns
	r.byID[ns.id] = ns
	r.goodCount++

	return ns, nil
}

func (r *Registry) insertTail(ns *Nameserver) {
	if r.head == nil {
		ns.next, ns.prev = ns, ns
		r.head = ns
	} else {
		tail := r.head.prev
		tail.next = ns
		ns.prev = tail
		ns.next = r.head
		r.head.prev = ns
	}
	r.count++
}

func (r *Registry) remove(ns *Nameserver) {
	if ns.probeTimer != nil {
		ns.probeTimer.Stop()
	}
	_ = ns.Conn.Close()

	if r.count == 1 {
		r.head = nil
	} else {
		ns.prev.next = ns.next
		ns.next.prev = ns.prev
		if r.head == ns {
			r.head = ns.next
		}
	}
	r.count--
	if ns.State == Up {
		r.goodCount--
	}
	delete(r.byAddr, ns.Addr)
	delete(r.byID, ns.id)
}

// AddrFromString parses a dotted-quad IPv4 literal into the 4-byte form Add
// expects.
func AddrFromString(s string) ([4]byte, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return [4]byte{}, errors.New("nameserver: invalid IPv4 address")
	}
	v4 := ip.To4()
	if v4 == nil {
		return [4]byte{}, errors.New("nameserver: not an IPv4 address")
	}
	var out [4]byte
	copy(out[:], v4)
	return out, nil
}

// ClearAll tears down every nameserver: closes its socket, stops its probe
// timer, and empties the registry. Used by the resolver's suspend/clear
// operation.
func (r *Registry) ClearAll() {
	for r.head != nil {
		r.remove(r.head)
	}
}

// Pick rotates the list head one step and returns the previous head if it
// is up. If not, rotation continues until an up nameserver is found or one
// full revolution completes, in which case the current (final) head is
// returned regardless of its state.
//
// This reproduces an intentional asymmetry: when a server is found
// immediately the head only advances once, but when every server is down
// the head advances all the way around the ring before Pick returns. The
// next call in the all-down case therefore starts from the same server it
// just tried, rather than the one after it — biasing retries toward
// hammering the first down server instead of round-robining through dead
// ones. See DESIGN.md for the decision to preserve this behaviour.
func (r *Registry) Pick() *Nameserver {
	if r.count == 0 {
		return nil
	}

	prev := r.head
	r.head = r.head.next
	if prev.State == Up {
		return prev
	}

	candidate := r.head
	for i := 1; i < r.count; i++ {
		if candidate.State == Up {
			return candidate
		}
		r.head = r.head.next
		candidate = r.head
	}
	return r.head
}

// SetProbeHandler registers the callback invoked when a down nameserver's
// backoff timer expires and it should be sent a probe query. The resolver
// wires this to issue a synthetic A query (traditionally www.google.com)
// through the normal request path, using the probing nameserver directly
// rather than Pick.
func (r *Registry) SetProbeHandler(f func(ns *Nameserver)) {
	r.onProbeDue = f
}

// MarkTimeout records a request timeout against ns. Once the consecutive
// timeout count reaches downThreshold the server transitions to Down and
// probing begins. A single reply from ns resets the counter (see
// MarkReplied).
func (r *Registry) MarkTimeout(ns *Nameserver, downThreshold int) {
	ns.ConsecutiveTimeouts++
	if ns.ConsecutiveTimeouts >= downThreshold {
		r.MarkDown(ns)
	}
}

// MarkReplied resets ns's consecutive-timeout count on any successful
// reply, including one that carries a semantic error like SERVFAIL.
func (r *Registry) MarkReplied(ns *Nameserver) {
	ns.ConsecutiveTimeouts = 0
}

// MarkDown transitions ns to Down (a no-op if already down), stops
// counting it among GoodCount, and arms its exponential-backoff probe
// timer. Callers are responsible for re-homing any requests already
// assigned to ns onto a different server.
func (r *Registry) MarkDown(ns *Nameserver) {
	if ns.State == Down {
		return
	}
	ns.State = Down
	r.goodCount--
	log.Printf("nameserver: %s marked down (good=%d/%d)", ns.addrString(), r.goodCount, r.count)
	if r.goodCount == 0 {
		log.Printf("nameserver: all nameservers are down")
	}
	r.scheduleProbe(ns)
}

// MarkUp transitions ns back to Up following a clean probe reply (NOERROR
// or NXDOMAIN; any reply at all demonstrates reachability) and clears its
// failure counters.
func (r *Registry) MarkUp(ns *Nameserver) {
	if ns.State == Up {
		return
	}
	ns.State = Up
	ns.ConsecutiveTimeouts = 0
	ns.FailedProbes = 0
	r.goodCount++
	log.Printf("nameserver: %s back up (good=%d/%d)", ns.addrString(), r.goodCount, r.count)
}

// ProbeFailed is called when a probe to a still-down nameserver itself
// times out: it increments the failure count and re-arms the backoff
// timer at the next (or final, repeating) delay.
func (r *Registry) ProbeFailed(ns *Nameserver) {
	ns.FailedProbes++
	r.scheduleProbe(ns)
}

func (r *Registry) scheduleProbe(ns *Nameserver) {
	idx := ns.FailedProbes
	if idx >= len(backoffSeconds) {
		idx = len(backoffSeconds) - 1
	}
	delay := time.Duration(backoffSeconds[idx]) * time.Second
	ns.probeTimer = r.loop.AfterFunc(delay, func() {
		if ns.State == Up || r.onProbeDue == nil {
			return
		}
		r.onProbeDue(ns)
	})
}

func (ns *Nameserver) addrString() string {
	return net.IPv4(ns.Addr[0], ns.Addr[1], ns.Addr[2], ns.Addr[3]).String()
}
