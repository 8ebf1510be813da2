// Command dnsresolved is a thin demonstration front end for the resolver
// package: it parses resolv.conf (or explicit flags), issues a handful of
// lookups, and prints the results. It exists to exercise the public API
// end to end, not as a production tool.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dnsasync/resolver/internal/config"
	"github.com/dnsasync/resolver/internal/nameserver"
	"github.com/dnsasync/resolver/resolver"
)

var (
	resolvConfPath = flag.String("resolv-conf", "/etc/resolv.conf", "resolv.conf path to parse for nameservers and search domains")
	nameserverFlag = flag.String("nameserver", "", "explicit nameserver IPv4 address (a single address), added to any nameservers read from resolv.conf rather than replacing them")
	queryName      = flag.String("query", "", "name to resolve; if empty, reads one name per line from stdin")
	reverse        = flag.Bool("reverse", false, "treat -query as a dotted-quad IPv4 address and issue a PTR lookup")
	timeout        = flag.Duration("wait", 5*time.Second, "how long to wait for the query before giving up")
)

func main() {
	flag.Parse()

	fmt.Println("dnsresolved - async DNS resolver demo")

	r := resolver.New()
	defer r.Shutdown(true)

	res := r.ResolvConfParse(config.FlagAll, *resolvConfPath)
	fmt.Printf("resolv.conf: status=%d nameservers=%v search=%v ndots=%d\n",
		res.Status, res.Nameservers, res.Search, res.Ndots)

	if *nameserverFlag != "" {
		addr, err := nameserver.AddrFromString(*nameserverFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -nameserver: %v\n", err)
			os.Exit(1)
		}
		if err := r.NameserverAdd(addr); err != nil {
			fmt.Fprintf(os.Stderr, "adding nameserver: %v\n", err)
			os.Exit(1)
		}
	}

	if r.CountNameservers() == 0 {
		fmt.Fprintln(os.Stderr, "no nameservers configured; pass -nameserver or provide a readable resolv.conf")
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down")
		r.Shutdown(true)
		os.Exit(0)
	}()

	if *queryName != "" {
		runQuery(r, *queryName, *reverse, *timeout)
		return
	}

	fmt.Println("enter names to resolve, one per line (Ctrl-D to stop):")
	var name string
	for {
		_, err := fmt.Scanln(&name)
		if err != nil {
			break
		}
		runQuery(r, name, *reverse, *timeout)
	}
}

func runQuery(r *resolver.Resolver, name string, rev bool, wait time.Duration) {
	var wg sync.WaitGroup
	wg.Add(1)

	start := time.Now()
	cb := func(result resolver.Result, reply *resolver.Reply, ctx any) {
		defer wg.Done()
		elapsed := time.Since(start)
		if result != resolver.None {
			fmt.Printf("%-30s %-12s (%s)\n", name, result, elapsed)
			return
		}
		if reply.PTRName != "" {
			fmt.Printf("%-30s -> %s (%s)\n", name, reply.PTRName, elapsed)
			return
		}
		fmt.Printf("%-30s -> %v (%s)\n", name, reply.Addresses, elapsed)
	}

	var err error
	if rev {
		addr, perr := nameserver.AddrFromString(name)
		if perr != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, perr)
			return
		}
		err = r.ResolveReverse(addr, cb, nil)
	} else {
		err = r.ResolveIPv4(name, false, cb, nil)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		return
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(wait + time.Second):
		fmt.Printf("%-30s %-12s (gave up waiting)\n", name, "NoReply")
	}
}

