// Package resolver is the public API surface: an async DNS resolver
// running its own cooperative event loop, fronting the internal
// nameserver registry, request table, and search engine.
package resolver

import (
	"net"
	"time"

	"github.com/dnsasync/resolver/internal/config"
	"github.com/dnsasync/resolver/internal/entropy"
	"github.com/dnsasync/resolver/internal/loop"
	"github.com/dnsasync/resolver/internal/metrics"
	"github.com/dnsasync/resolver/internal/nameserver"
	"github.com/dnsasync/resolver/internal/reqtable"
	"github.com/dnsasync/resolver/internal/responder"
	"github.com/dnsasync/resolver/internal/search"
	"github.com/dnsasync/resolver/internal/wire"
)

// DefaultPort is the standard DNS port used when adding nameservers.
const DefaultPort = 53

// Result and Callback mirror the request table's, re-exported so callers
// never need to import internal/reqtable directly.
type Result = reqtable.Result

const (
	None         = reqtable.None
	Format       = reqtable.Format
	ServerFailed = reqtable.ServerFailed
	NotExist     = reqtable.NotExist
	NotImpl      = reqtable.NotImpl
	Refused      = reqtable.Refused
	Truncated    = reqtable.Truncated
	Unknown      = reqtable.Unknown
	Timeout      = reqtable.Timeout
	Shutdown     = reqtable.Shutdown
)

// Callback receives the outcome of a resolved query. reply is nil for
// Timeout and Shutdown.
type Callback = reqtable.Callback

// Reply is the decoded answer passed to a Callback on success.
type Reply = wire.Reply

// Resolver owns one cooperative event loop, the nameserver registry, and
// the request table. All resolver callbacks run on that loop's goroutine;
// callers may invoke Resolver's methods from any goroutine; each call is
// marshalled onto the loop so resolver state itself stays lock-free.
type Resolver struct {
	loop     *loop.Loop
	registry *nameserver.Registry
	table    *reqtable.Table
	search   *search.State
	metrics  *metrics.Recorder
}

// New creates a Resolver and starts its event loop. Call Shutdown to stop
// it.
func New() *Resolver {
	l := loop.New()
	go l.Run()

	reg := nameserver.New(l)
	srch := search.New()
	tbl := reqtable.New(l, reg, entropy.Default(), srch)

	return &Resolver{loop: l, registry: reg, table: tbl, search: srch}
}

// EnableMetrics registers prometheus instrumentation for this resolver.
func (r *Resolver) EnableMetrics(rec *metrics.Recorder) {
	done := make(chan struct{})
	r.loop.Post(func() {
		r.metrics = rec
		r.table.SetMetrics(rec)
		close(done)
	})
	<-done
}

// ResolveIPv4 issues an A query for name. noSearch disables the
// search-suffix engine for this call only.
func (r *Resolver) ResolveIPv4(name string, noSearch bool, cb Callback, ctx any) error {
	errCh := make(chan error, 1)
	r.loop.Post(func() {
		var flags reqtable.Flags
		if noSearch {
			flags = reqtable.FlagNoSearch
		}
		errCh <- r.table.Resolve(name, flags, cb, ctx)
	})
	return <-errCh
}

// ResolveReverse constructs the d.c.b.a.in-addr.arpa name for addr and
// issues a PTR query. The search engine never applies to reverse
// lookups.
func (r *Resolver) ResolveReverse(addr [4]byte, cb Callback, ctx any) error {
	errCh := make(chan error, 1)
	r.loop.Post(func() {
		errCh <- r.table.ResolveReverse(addr, cb, ctx)
	})
	return <-errCh
}

// NameserverAdd registers a recursive nameserver by its raw IPv4 bytes.
func (r *Resolver) NameserverAdd(addr [4]byte) error {
	errCh := make(chan error, 1)
	r.loop.Post(func() {
		_, err := r.registry.Add(addr, DefaultPort, r.table.OnDatagram)
		r.reportNameserverCounts()
		errCh <- err
	})
	return <-errCh
}

// NameserverIPAdd parses a dotted-quad IPv4 literal and delegates to
// NameserverAdd.
func (r *Resolver) NameserverIPAdd(ip string) error {
	addr, err := nameserver.AddrFromString(ip)
	if err != nil {
		return err
	}
	return r.NameserverAdd(addr)
}

// CountNameservers returns the number of configured nameservers.
func (r *Resolver) CountNameservers() int {
	c := make(chan int, 1)
	r.loop.Post(func() { c <- r.registry.Count() })
	return <-c
}

// ClearNameserversAndSuspend closes every nameserver socket and moves all
// inflight requests back onto the waiting list, preserving order.
func (r *Resolver) ClearNameserversAndSuspend() {
	done := make(chan struct{})
	r.loop.Post(func() {
		r.table.ClearAndSuspend()
		r.reportNameserverCounts()
		close(done)
	})
	<-done
}

// Resume re-promotes waiting requests to inflight, typically after the
// caller has added new nameservers following
// ClearNameserversAndSuspend.
func (r *Resolver) Resume() {
	done := make(chan struct{})
	r.loop.Post(func() {
		r.table.Resume()
		close(done)
	})
	<-done
}

// SearchClear removes every configured search suffix.
func (r *Resolver) SearchClear() {
	done := make(chan struct{})
	r.loop.Post(func() {
		r.search.Clear()
		close(done)
	})
	<-done
}

// SearchAdd appends a suffix domain to the search list.
func (r *Resolver) SearchAdd(domain string) {
	done := make(chan struct{})
	r.loop.Post(func() {
		r.search.Add(domain)
		close(done)
	})
	<-done
}

// SearchNdotsSet sets the ndots threshold.
func (r *Resolver) SearchNdotsSet(n int) {
	done := make(chan struct{})
	r.loop.Post(func() {
		r.search.Ndots = n
		close(done)
	})
	<-done
}

// ResolvConfParseResult mirrors config.Parsed plus the status code, so
// callers don't need to import internal/config for the status type.
type ResolvConfParseResult struct {
	config.Parsed
	Status config.Status
}

// ResolvConfParse reads path and applies nameservers/search/options
// according to flags. If the file cannot be opened, it installs the
// documented fallback: a loopback nameserver plus a search domain
// derived from the local hostname (see config.DefaultParsed).
func (r *Resolver) ResolvConfParse(flags config.ParseFlags, path string) ResolvConfParseResult {
	parsed, status := config.ResolvConfParse(flags, path)

	done := make(chan struct{})
	r.loop.Post(func() {
		for _, ns := range parsed.Nameservers {
			if addr, err := nameserver.AddrFromString(ns); err == nil {
				r.registry.Add(addr, DefaultPort, r.table.OnDatagram)
			}
		}
		for _, d := range parsed.Search {
			r.search.Add(d)
		}
		if parsed.Ndots > 0 {
			r.search.Ndots = parsed.Ndots
		}
		if parsed.Timeout > 0 {
			r.table.GlobalTimeout = time.Duration(parsed.Timeout) * time.Second
		}
		if parsed.Attempts > 0 {
			r.table.MaxRetransmits = parsed.Attempts
		}
		r.reportNameserverCounts()
		close(done)
	})
	<-done

	return ResolvConfParseResult{Parsed: parsed, Status: status}
}

// Shutdown tears down the resolver. If failRequests is true, every
// queued request's callback is invoked once with Shutdown before
// teardown.
func (r *Resolver) Shutdown(failRequests bool) {
	done := make(chan struct{})
	r.loop.Post(func() {
		r.table.Shutdown(failRequests)
		r.registry.ClearAll()
		close(done)
	})
	<-done
	r.loop.Close()
}

// AddServerPort binds the server-side responder path to an
// already-listening UDP socket.
func (r *Resolver) AddServerPort(conn *net.UDPConn, cfg responder.Config, handler responder.Handler) *responder.ServerPort {
	return responder.AddServerPort(r.loop, conn, cfg, handler)
}

func (r *Resolver) reportNameserverCounts() {
	if r.metrics == nil {
		return
	}
	up := r.registry.GoodCount()
	down := r.registry.Count() - up
	r.metrics.SetNameserverCounts(up, down)
}
