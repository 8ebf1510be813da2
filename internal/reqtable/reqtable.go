// Package reqtable owns the request lifecycle: the inflight and waiting
// circular lists, transaction-id allocation, transmission, timeout and
// retransmit handling, reissue on semantic server errors, and dispatch of
// decoded replies back to per-query callbacks.
package reqtable

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/dnsasync/resolver/internal/entropy"
	"github.com/dnsasync/resolver/internal/loop"
	"github.com/dnsasync/resolver/internal/nameserver"
	"github.com/dnsasync/resolver/internal/search"
	"github.com/dnsasync/resolver/internal/wire"
)

// sentinelID marks a request as not currently assigned a transaction id
// (i.e. it is on the waiting list, or has not yet been enqueued).
const sentinelID uint16 = 0xFFFF

// maxTransportRetries bounds the transmit-failure retry loop so a run of
// permanently broken sockets cannot recurse unbounded.
const maxTransportRetries = 8

// Flags control per-query behaviour.
type Flags uint32

// FlagNoSearch disables the search-suffix engine for one query.
const FlagNoSearch Flags = 1 << 0

// Result is the outcome reported to a query's callback.
type Result int

const (
	None Result = iota
	Format
	ServerFailed
	NotExist
	NotImpl
	Refused
	Truncated
	Unknown
	Timeout
	Shutdown
)

func (r Result) String() string {
	switch r {
	case None:
		return "NONE"
	case Format:
		return "FORMAT"
	case ServerFailed:
		return "SERVERFAILED"
	case NotExist:
		return "NOTEXIST"
	case NotImpl:
		return "NOTIMPL"
	case Refused:
		return "REFUSED"
	case Truncated:
		return "TRUNCATED"
	case Timeout:
		return "TIMEOUT"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Callback receives the outcome of a resolved (or finally failed) query.
// reply is nil for Timeout and Shutdown.
type Callback func(result Result, reply *wire.Reply, ctx any)

// MetricsSink is the optional observability hook a resolver wires in;
// nil-safe, so callers that don't care about metrics can ignore it.
type MetricsSink interface {
	IncRetransmit()
	IncReissue()
	IncTimeout()
	SetInflight(n int)
	SetWaiting(n int)
}

// Request is one user query, in flight or waiting.
type Request struct {
	transID      uint16
	packet       []byte
	kind         wire.QueryKind
	txCount      int
	reissueCount int
	transmitMe   bool
	ns           *nameserver.Nameserver
	timeout      loop.Timer
	onWaiting    bool

	// search-chain fields: set only for queries routed through the search
	// engine. Each attempt is its own Request; only the last one invokes
	// userCB.
	candidates   []string
	candidateIdx int

	// isProbe marks a synthetic health-check query force-inserted by the
	// nameserver registry; it never calls userCB.
	isProbe bool

	userCB  Callback
	userCtx any

	next, prev *Request
}

// newRequest builds an unqueued request encoding name/kind. The transaction id
// is left at the sentinel until the request is promoted to inflight.
func newRequest(name string, kind wire.QueryKind) (*Request, error) {
	qtype := wire.TypeA
	if kind == wire.KindPTR {
		qtype = wire.TypePTR
	}
	packet, err := wire.BuildQuery(0, name, qtype)
	if err != nil {
		return nil, err
	}
	return &Request{packet: packet, kind: kind, transID: sentinelID}, nil
}

// Table is the global request/queue state: inflight and waiting circular
// lists, their counts and cap, and the timing/retry policy applied to
// every request. All methods are intended to run on the owning event
// loop's goroutine.
type Table struct {
	inflightHead, waitingHead   *Request
	inflightCount, waitingCount int

	Cap                    int
	GlobalTimeout          time.Duration
	MaxRetransmits         int
	MaxReissues            int
	MaxConsecutiveTimeouts int

	registry *nameserver.Registry
	sched    loop.Scheduler
	entropy  entropy.Source
	search   *search.State
	metrics  MetricsSink
}

// New creates a Table with the spec's default policy: cap 64, 5s global
// timeout, 3 retransmits, 1 reissue, 3 consecutive timeouts before a
// server is marked down.
func New(sched loop.Scheduler, reg *nameserver.Registry, src entropy.Source, srch *search.State) *Table {
	t := &Table{
		Cap:                    64,
		GlobalTimeout:          5 * time.Second,
		MaxRetransmits:         3,
		MaxReissues:            1,
		MaxConsecutiveTimeouts: 3,
		registry:               reg,
		sched:                  sched,
		entropy:                src,
		search:                 srch,
	}
	reg.SetProbeHandler(t.onProbeDue)
	return t
}

// SetMetrics installs an observability sink. Pass nil to disable.
func (t *Table) SetMetrics(m MetricsSink) { t.metrics = m }

// InflightCount reports the number of requests currently transmitted or
// awaiting reply.
func (t *Table) InflightCount() int { return t.inflightCount }

// WaitingCount reports the number of requests queued behind the cap.
func (t *Table) WaitingCount() int { return t.waitingCount }

// Resolve issues an A query for name, applying the search engine unless
// FlagNoSearch is set or no suffixes are configured.
func (t *Table) Resolve(name string, flags Flags, cb Callback, ctx any) error {
	candidates := t.candidatesFor(name, flags)
	req, err := newRequest(candidates[0], wire.KindA)
	if err != nil {
		return err
	}
	req.candidates = candidates
	req.userCB = cb
	req.userCtx = ctx
	t.enqueue(req)
	return nil
}

// ResolveReverse issues a PTR query for addr. The search engine never
// applies to reverse lookups.
func (t *Table) ResolveReverse(addr [4]byte, cb Callback, ctx any) error {
	req, err := newRequest(wire.PTRName(addr), wire.KindPTR)
	if err != nil {
		return err
	}
	req.userCB = cb
	req.userCtx = ctx
	t.enqueue(req)
	return nil
}

func (t *Table) candidatesFor(name string, flags Flags) []string {
	if flags&FlagNoSearch != 0 || t.search == nil || len(t.search.Suffixes) == 0 {
		return []string{search.Qualify(name)}
	}
	return t.search.Candidates(name)
}

// enqueue places a freshly built request: promoted immediately to
// inflight if there is capacity, otherwise appended to the waiting list.
func (t *Table) enqueue(req *Request) {
	if t.inflightCount < t.Cap {
		t.promote(req)
	} else {
		t.spliceWaitingTail(req)
	}
	t.updateGauges()
}

// PumpWaiting promotes requests from waiting to inflight while capacity
// allows, preserving FIFO order.
func (t *Table) PumpWaiting() {
	for t.inflightCount < t.Cap && t.waitingHead != nil {
		req := t.waitingHead
		t.removeWaiting(req)
		t.promote(req)
	}
	t.updateGauges()
}

func (t *Table) promote(req *Request) {
	ns := t.registry.Pick()
	if ns == nil {
		t.spliceWaitingHead(req)
		return
	}
	req.ns = ns
	req.transID = t.pickTransID()
	binary.BigEndian.PutUint16(req.packet[0:2], req.transID)
	t.spliceInflightTail(req)
	req.transmitMe = true
	t.transmitAttempt(req, 0)
}

// pickTransID draws from the configured entropy source, rejects the
// sentinel, and linearly scans the inflight list for a collision.
func (t *Table) pickTransID() uint16 {
	for {
		id := t.entropy.Uint16()
		if id == sentinelID {
			continue
		}
		if t.findInflightByID(id) == nil {
			return id
		}
	}
}

func (t *Table) findInflightByID(id uint16) *Request {
	if t.inflightHead == nil {
		return nil
	}
	node := t.inflightHead
	for i := 0; i < t.inflightCount; i++ {
		if node.transID == id {
			return node
		}
		node = node.next
	}
	return nil
}

// transmit writes req's packet to its assigned nameserver and arms the
// global timeout on success.
func (t *Table) transmit(req *Request) { t.transmitAttempt(req, 0) }

// transmitAttempt writes req's packet to its assigned nameserver. A
// connected net.UDPConn's Write blocks until the runtime's netpoller
// reports the socket writable, so unlike a raw non-blocking socket it
// never returns EWOULDBLOCK for Go code to react to; any error here is a
// genuine transport failure, handled the same way regardless of depth.
func (t *Table) transmitAttempt(req *Request, depth int) {
	req.transmitMe = false
	_, err := req.ns.Conn.Write(req.packet)
	if err != nil {
		t.handleServerDown(req.ns)
		if depth >= maxTransportRetries {
			t.finish(req, ServerFailed, nil)
			return
		}
		if newNS := t.registry.Pick(); newNS != nil {
			req.ns = newNS
			t.transmitAttempt(req, depth+1)
			return
		}
		t.finish(req, ServerFailed, nil)
		return
	}
	req.txCount++
	req.timeout = t.sched.AfterFunc(t.GlobalTimeout, func() { t.onTimeout(req) })
}

// handleServerDown marks ns down and re-homes any inflight request
// assigned to it that has not yet transmitted a single packet. The walk is
// skipped when no nameserver is left up.
func (t *Table) handleServerDown(ns *nameserver.Nameserver) {
	t.registry.MarkDown(ns)
	if t.inflightHead == nil || t.registry.GoodCount() == 0 {
		return
	}
	node := t.inflightHead
	for i := 0; i < t.inflightCount; i++ {
		next := node.next
		if node.ns == ns && node.txCount == 0 {
			if newNS := t.registry.Pick(); newNS != nil {
				node.ns = newNS
				if node.transmitMe {
					t.transmit(node)
				}
			}
		}
		node = next
	}
}

// onTimeout is the per-request timeout callback.
func (t *Table) onTimeout(req *Request) {
	req.timeout = nil

	if req.isProbe {
		ns := req.ns
		t.detach(req)
		if ns.State != nameserver.Up {
			t.registry.ProbeFailed(ns)
		}
		return
	}

	ns := req.ns
	t.registry.MarkTimeout(ns, t.MaxConsecutiveTimeouts)
	if ns.State == nameserver.Down {
		t.rehomeInflightFor(ns)
	}
	if t.metrics != nil {
		t.metrics.IncTimeout()
	}

	if req.txCount >= t.MaxRetransmits {
		t.finish(req, Timeout, nil)
		return
	}

	if ns.State == nameserver.Down {
		if newNS := t.registry.Pick(); newNS != nil {
			req.ns = newNS
		}
	}
	if t.metrics != nil {
		t.metrics.IncRetransmit()
	}
	req.transmitMe = true
	t.transmit(req)
}

func (t *Table) rehomeInflightFor(ns *nameserver.Nameserver) {
	if t.inflightHead == nil {
		return
	}
	node := t.inflightHead
	for i := 0; i < t.inflightCount; i++ {
		if node.ns == ns && node.txCount == 0 {
			if newNS := t.registry.Pick(); newNS != nil {
				node.ns = newNS
			}
		}
		node = node.next
	}
}

// onProbeDue synthesises a www.google.com A query with search disabled,
// force-inserts it into the inflight list regardless of cap, and pins it
// to the nameserver being probed.
func (t *Table) onProbeDue(ns *nameserver.Nameserver) {
	req, err := newRequest("www.google.com.", wire.KindA)
	if err != nil {
		return
	}
	req.isProbe = true
	req.ns = ns
	req.transID = t.pickTransID()
	binary.BigEndian.PutUint16(req.packet[0:2], req.transID)
	t.spliceInflightTail(req)
	t.transmit(req)
}

// OnDatagram is invoked by the nameserver registry's reader for every
// datagram received on ns's socket.
func (t *Table) OnDatagram(ns *nameserver.Nameserver, data []byte, from *net.UDPAddr) {
	if len(data) < 2 {
		return
	}
	id := binary.BigEndian.Uint16(data[0:2])
	req := t.findInflightByID(id)
	if req == nil {
		return // stray or duplicate reply; drop
	}

	reply, err := wire.ParseReply(data, req.kind)
	if err != nil {
		return // malformed packet: leave the timeout path to fire
	}

	t.registry.MarkReplied(ns)
	if req.timeout != nil {
		req.timeout.Stop()
		req.timeout = nil
	}

	result := mapRcode(reply.Rcode)
	if reply.Truncated && result == None {
		result = Truncated
	}

	switch result {
	case ServerFailed, NotImpl, Refused:
		t.handleServerDown(ns)
		if req.reissueCount < t.MaxReissues {
			if newNS := t.registry.Pick(); newNS != nil && newNS != ns {
				req.ns = newNS
				req.transID = t.pickTransID()
				binary.BigEndian.PutUint16(req.packet[0:2], req.transID)
				req.txCount = 0
				req.reissueCount++
				req.transmitMe = true
				if t.metrics != nil {
					t.metrics.IncReissue()
				}
				t.transmit(req)
				return
			}
		}
		t.finish(req, result, reply)
	default:
		t.finish(req, result, reply)
	}
}

func mapRcode(code uint8) Result {
	switch code {
	case 0:
		return None
	case 1:
		return Format
	case 2:
		return ServerFailed
	case 3:
		return NotExist
	case 4:
		return NotImpl
	case 5:
		return Refused
	default:
		return Unknown
	}
}

// finish retires req: detaches it from whichever list holds it, advances
// a search chain on any non-success result, and otherwise invokes the
// user callback exactly once.
func (t *Table) finish(req *Request, result Result, reply *wire.Reply) {
	ns := req.ns
	t.detach(req)
	t.PumpWaiting()

	if req.isProbe {
		if result == None || result == NotExist {
			t.registry.MarkUp(ns)
		} else {
			t.registry.ProbeFailed(ns)
		}
		return
	}

	if len(req.candidates) > 0 && result != None && req.candidateIdx+1 < len(req.candidates) {
		t.spawnNextAttempt(req, result)
		return
	}

	if req.userCB != nil {
		req.userCB(result, reply, req.userCtx)
	}
}

func (t *Table) spawnNextAttempt(prev *Request, fallback Result) {
	idx := prev.candidateIdx + 1
	next, err := newRequest(prev.candidates[idx], prev.kind)
	if err != nil {
		if prev.userCB != nil {
			prev.userCB(fallback, nil, prev.userCtx)
		}
		return
	}
	next.candidates = prev.candidates
	next.candidateIdx = idx
	next.userCB = prev.userCB
	next.userCtx = prev.userCtx
	t.enqueue(next)
}

// ClearAndSuspend closes every nameserver socket and splices every
// inflight request back onto the waiting list head, preserving the
// relative order so previously-inflight entries precede previously
// waiting ones. Resume (via PumpWaiting) reassigns nameservers and
// transaction ids and retransmits.
func (t *Table) ClearAndSuspend() {
	t.registry.ClearAll()

	for t.inflightHead != nil {
		req := t.inflightHead.prev // current tail
		t.removeInflight(req)
		if req.timeout != nil {
			req.timeout.Stop()
			req.timeout = nil
		}
		req.transID = sentinelID
		req.ns = nil
		t.spliceWaitingHead(req)
	}
	t.updateGauges()
}

// Resume re-runs PumpWaiting, typically after the caller has added new
// nameservers following ClearAndSuspend.
func (t *Table) Resume() { t.PumpWaiting() }

// Shutdown tears down every queued request. If failRequests is set, each
// request still carrying a user callback is invoked once with Shutdown
// before the lists are emptied; probe requests never had a user callback
// and are simply dropped.
func (t *Table) Shutdown(failRequests bool) {
	t.drainList(&t.inflightHead, &t.inflightCount, failRequests)
	t.drainList(&t.waitingHead, &t.waitingCount, failRequests)
	t.updateGauges()
}

func (t *Table) drainList(head **Request, count *int, failRequests bool) {
	for *head != nil {
		req := *head
		removeNode(head, count, req)
		if req.timeout != nil {
			req.timeout.Stop()
			req.timeout = nil
		}
		if failRequests && !req.isProbe && req.userCB != nil {
			req.userCB(Shutdown, nil, req.userCtx)
		}
	}
}

func (t *Table) detach(req *Request) {
	if req.timeout != nil {
		req.timeout.Stop()
		req.timeout = nil
	}
	if req.transID != sentinelID {
		t.removeInflight(req)
		req.transID = sentinelID
	} else if req.onWaiting {
		t.removeWaiting(req)
	}
	req.ns = nil
	t.updateGauges()
}

func (t *Table) updateGauges() {
	if t.metrics == nil {
		return
	}
	t.metrics.SetInflight(t.inflightCount)
	t.metrics.SetWaiting(t.waitingCount)
}

func (t *Table) spliceInflightTail(req *Request) {
	insertTail(&t.inflightHead, &t.inflightCount, req)
}

func (t *Table) removeInflight(req *Request) {
	removeNode(&t.inflightHead, &t.inflightCount, req)
}

func (t *Table) spliceWaitingTail(req *Request) {
	insertTail(&t.waitingHead, &t.waitingCount, req)
	req.onWaiting = true
}

func (t *Table) spliceWaitingHead(req *Request) {
	insertHead(&t.waitingHead, &t.waitingCount, req)
	req.onWaiting = true
}

func (t *Table) removeWaiting(req *Request) {
	removeNode(&t.waitingHead, &t.waitingCount, req)
	req.onWaiting = false
}

func insertTail(head **Request, count *int, req *Request) {
	if *head == nil {
		req.next, req.prev = req, req
		*head = req
	} else {
		tail := (*head).prev
		tail.next = req
		req.prev = tail
		req.next = *head
		(*head).prev = req
	}
	*count++
}

func insertHead(head **Request, count *int, req *Request) {
	insertTail(head, count, req)
	*head = req
}

func removeNode(head **Request, count *int, req *Request) {
	if *count == 1 {
		*head = nil
	} else {
		req.prev.next = req.next
		req.next.prev = req.prev
		if *head == req {
			*head = req.next
		}
	}
	req.next, req.prev = nil, nil
	*count--
}
