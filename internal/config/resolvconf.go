// Package config adapts platform nameserver/search configuration into
// calls on the resolver: a resolv.conf line parser for POSIX systems, a
// Windows registry nameserver discovery adapter, and a supplementary
// YAML options file for settings resolv.conf has no syntax for.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// ParseFlags selects which directive classes ResolvConfParse honours.
type ParseFlags int

const (
	FlagSearch ParseFlags = 1 << iota
	FlagNameservers
	FlagMisc
	FlagAll = FlagSearch | FlagNameservers | FlagMisc
)

// Status mirrors the spec's resolv_conf_parse return codes.
type Status int

const (
	StatusOK Status = iota
	StatusOpenFailed
	StatusStatFailed
	StatusFileTooLarge
	StatusOutOfMemory
	StatusShortRead
)

// maxResolvConfSize bounds the file size accepted, matching the spec's
// "file >65535 bytes" rejection.
const maxResolvConfSize = 65535

// Parsed holds everything ResolvConfParse extracted, filtered by the
// requested flags. Search domains keep their file order, so the first
// `search` entry listed in the file is tried first.
type Parsed struct {
	Nameservers []string
	Domain      string
	Search      []string
	Ndots       int
	Timeout     int
	Attempts    int
}

// DefaultParsed is installed by the caller when ResolvConfParse fails to
// open the file: a loopback nameserver plus a search domain derived from
// the local hostname, matching the spec's documented fallback (and
// eventdns.c's search_set_from_hostname, called from the same
// open-failure path in the original).
func DefaultParsed() Parsed {
	p := Parsed{Nameservers: []string{"127.0.0.1"}}
	if dom := hostnameSearchDomain(); dom != "" {
		p.Search = []string{dom}
	}
	return p
}

// hostnameSearchDomain derives a single search suffix from the local
// hostname, matching eventdns.c's search_set_from_hostname.
func hostnameSearchDomain() string {
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return domainAfterFirstDot(host)
}

// domainAfterFirstDot returns everything in host after its first dot,
// with any further leading dots stripped. Returns "" if host has no dot
// (e.g. "localhost"), matching eventdns.c's search_set_from_hostname,
// which silently adds nothing in that case.
func domainAfterFirstDot(host string) string {
	i := strings.IndexByte(host, '.')
	if i < 0 {
		return ""
	}
	return strings.TrimLeft(host[i+1:], ".")
}

// ResolvConfParse reads and parses a resolv.conf-formatted file at path,
// honouring only the directive classes set in flags. Recognised
// directives: "nameserver <ip>", "domain <dom>", "search <dom ...>",
// "options ndots:N timeout:N attempts:N". Unrecognised directives are
// ignored.
func ResolvConfParse(flags ParseFlags, path string) (Parsed, Status) {
	info, err := os.Stat(path)
	if err != nil {
		return DefaultParsed(), StatusOpenFailed
	}
	if info.Size() > maxResolvConfSize {
		return Parsed{}, StatusFileTooLarge
	}

	f, err := os.Open(path)
	if err != nil {
		return DefaultParsed(), StatusOpenFailed
	}
	defer f.Close()

	var p Parsed
	var searchDomains []string // accumulated in file order

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		directive := fields[0]
		args := fields[1:]

		switch directive {
		case "nameserver":
			if flags&FlagNameservers != 0 && len(args) == 1 {
				p.Nameservers = append(p.Nameservers, args[0])
			}
		case "domain":
			if flags&FlagSearch != 0 && len(args) == 1 {
				p.Domain = args[0]
			}
		case "search":
			if flags&FlagSearch != 0 {
				searchDomains = append(searchDomains, args...)
			}
		case "options":
			if flags&FlagMisc == 0 {
				continue
			}
			for _, opt := range args {
				parseOption(&p, opt)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return DefaultParsed(), StatusShortRead
	}

	// `search a b c` means "try a, then b, then c"; unlike the reference
	// implementation this parser does not push domains onto a stack, so
	// no reversal is needed to keep the first-listed domain tried first.
	p.Search = searchDomains

	return p, StatusOK
}

func parseOption(p *Parsed, opt string) {
	kv := strings.SplitN(opt, ":", 2)
	if len(kv) != 2 {
		return
	}
	n, err := strconv.Atoi(kv[1])
	if err != nil {
		return
	}
	switch kv[0] {
	case "ndots":
		p.Ndots = n
	case "timeout":
		p.Timeout = n
	case "attempts":
		p.Attempts = n
	}
}
