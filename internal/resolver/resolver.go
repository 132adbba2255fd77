// Package resolver implements asynchronous hostname resolution with an
// /etc/hosts override and A+AAAA merge (§4.3).
package resolver

import (
	"bufio"
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Endpoint is one resolved address suitable for "try in sequence" connect.
type Endpoint struct {
	IP   net.IP
	Port int
}

// Resolver resolves hostnames via /etc/hosts then concurrent A/AAAA DNS.
type Resolver struct {
	hostsPath string
	netRes    *net.Resolver
	group     singleflight.Group

	mu    sync.Mutex
	hosts map[string][]net.IP // lowercase name -> addresses, loaded lazily
}

// New returns a Resolver reading overrides from /etc/hosts.
func New() *Resolver {
	return &Resolver{hostsPath: "/etc/hosts", netRes: net.DefaultResolver}
}

// NewWithHostsFile is used by tests to point at a fixture hosts file.
func NewWithHostsFile(path string) *Resolver {
	return &Resolver{hostsPath: path, netRes: net.DefaultResolver}
}

// Resolve implements the §4.3 ordering: numeric parse, then /etc/hosts,
// then concurrent A+AAAA DNS. onSuccess/onError are invoked exactly once.
func (r *Resolver) Resolve(ctx context.Context, hostname string, port int, onSuccess func([]Endpoint), onError func(error)) {
	go func() {
		eps, err := r.resolveSync(ctx, hostname, port)
		if err != nil {
			onError(err)
			return
		}
		onSuccess(eps)
	}()
}

func (r *Resolver) resolveSync(ctx context.Context, hostname string, port int) ([]Endpoint, error) {
	if ip := net.ParseIP(hostname); ip != nil {
		return []Endpoint{{IP: ip, Port: port}}, nil
	}

	if ips := r.lookupHostsFile(hostname); len(ips) > 0 {
		eps := make([]Endpoint, len(ips))
		for i, ip := range ips {
			eps[i] = Endpoint{IP: ip, Port: port}
		}
		return eps, nil
	}

	v, err, _ := r.group.Do(hostname, func() (any, error) {
		return r.lookupDNS(ctx, hostname)
	})
	if err != nil {
		return nil, err
	}
	ips := v.([]net.IP)
	eps := make([]Endpoint, len(ips))
	for i, ip := range ips {
		eps[i] = Endpoint{IP: ip, Port: port}
	}
	return eps, nil
}

// lookupDNS issues concurrent A and AAAA queries and merges whichever
// records were obtained; total failure reports the DNS error text.
func (r *Resolver) lookupDNS(ctx context.Context, hostname string) ([]net.IP, error) {
	type result struct {
		ips []net.IP
		err error
	}
	aCh := make(chan result, 1)
	aaaaCh := make(chan result, 1)

	go func() {
		addrs, err := r.netRes.LookupIP(ctx, "ip4", hostname)
		aCh <- result{addrs, err}
	}()
	go func() {
		addrs, err := r.netRes.LookupIP(ctx, "ip6", hostname)
		aaaaCh <- result{addrs, err}
	}()

	a := <-aCh
	aaaa := <-aaaaCh

	var merged []net.IP
	merged = append(merged, a.ips...)
	merged = append(merged, aaaa.ips...)

	if len(merged) == 0 {
		if a.err != nil {
			return nil, a.err
		}
		return nil, aaaa.err
	}
	return merged, nil
}

// lookupHostsFile parses /etc/hosts: whitespace-separated tokens, '#'
// starts a comment, first token is the address, remaining tokens are
// names, matched case-sensitively.
func (r *Resolver) lookupHostsFile(hostname string) []net.IP {
	f, err := os.Open(r.hostsPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	var ips []net.IP
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i != -1 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		addr := net.ParseIP(fields[0])
		if addr == nil {
			continue
		}
		for _, name := range fields[1:] {
			if name == hostname {
				ips = append(ips, addr)
			}
		}
	}
	return ips
}

// FormatAddr is a small helper for building "host:port" dial strings.
func FormatAddr(ep Endpoint) string {
	return net.JoinHostPort(ep.IP.String(), strconv.Itoa(ep.Port))
}
