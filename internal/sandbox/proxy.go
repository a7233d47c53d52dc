package sandbox

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/skillcore/sandbox/internal/auditlog"
)

// DomainProxy is a loopback-only proxy — HTTP CONNECT on one port, SOCKS5
// on another — that only allows connections to a whitelisted set of
// domains. It is the single place network_outbound is checked. Only the
// macOS Seatbelt profile confines the child's outbound traffic to loopback,
// and only to the HTTP CONNECT port; linux.go describes what the Linux
// backends do.
type DomainProxy struct {
	listener      net.Listener
	socksListener net.Listener
	server        *http.Server
	domains       map[string]bool // exact matches
	wildcards     []string        // wildcard patterns like "*.anthropic.com"
	mu            sync.Mutex
	closed        bool

	skill    string
	auditLog *auditlog.Log
}

// StartProxy starts an HTTP CONNECT proxy and a SOCKS5 proxy on localhost,
// both scoped to the given domain allowlist. Supports exact domains
// ("api.anthropic.com") and wildcards ("*.anthropic.com"). Denied connection
// attempts are written to auditLog (which may be nil) as outbound_denied
// entries attributed to skill.
func StartProxy(domains []string, skill string, auditLog *auditlog.Log) (*DomainProxy, error) {
	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return nil, fmt.Errorf("proxy listen: %w", err)
	}
	socksLis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		lis.Close()
		return nil, fmt.Errorf("socks5 listen: %w", err)
	}

	p := &DomainProxy{
		listener:      lis,
		socksListener: socksLis,
		domains:       make(map[string]bool),
		skill:         skill,
		auditLog:      auditLog,
	}
	for _, d := range domains {
		if strings.HasPrefix(d, "*.") {
			p.wildcards = append(p.wildcards, d[1:]) // store ".anthropic.com"
		} else {
			p.domains[d] = true
		}
	}

	p.server = &http.Server{Handler: p}
	go func() {
		if err := p.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Printf("domain proxy: serve error: %v", err)
		}
	}()
	go p.serveSOCKS5()

	log.Printf("domain proxy: CONNECT on %s, SOCKS5 on %s, %d domains, %d wildcards",
		lis.Addr(), socksLis.Addr(), len(p.domains), len(p.wildcards))
	return p, nil
}

// Port returns the port the HTTP CONNECT proxy is listening on.
func (p *DomainProxy) Port() int {
	return p.listener.Addr().(*net.TCPAddr).Port
}

// SOCKS5Port returns the port the SOCKS5 proxy is listening on.
func (p *DomainProxy) SOCKS5Port() int {
	return p.socksListener.Addr().(*net.TCPAddr).Port
}

// Close stops both proxies.
func (p *DomainProxy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.server.Close()
	p.socksListener.Close()
}

// denyAudit records a blocked outbound connection attempt. It always logs
// via the package logger and, when an audit log is attached, also writes a
// structured outbound_denied entry keyed on the skill name.
func (p *DomainProxy) denyAudit(host string) {
	log.Printf("domain proxy: BLOCKED %s", host)
	if p.auditLog == nil {
		return
	}
	_ = p.auditLog.Write(auditlog.Entry{
		Event:  "outbound_denied",
		Skill:  p.skill,
		Detail: map[string]any{"host": host},
	})
}

// allowed checks if a domain is in the allowlist.
func (p *DomainProxy) allowed(host string) bool {
	// Strip port if present
	domain := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		domain = h
	}

	if p.domains[domain] {
		return true
	}
	for _, w := range p.wildcards {
		if strings.HasSuffix(domain, w) {
			return true
		}
	}
	return false
}

// ServeHTTP handles HTTP CONNECT requests for the proxy.
func (p *DomainProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "only CONNECT supported", http.StatusMethodNotAllowed)
		return
	}

	if !p.allowed(r.Host) {
		p.denyAudit(r.Host)
		http.Error(w, "domain not allowed", http.StatusForbidden)
		return
	}

	// Dial the target
	target, err := net.Dial("tcp", r.Host)
	if err != nil {
		http.Error(w, fmt.Sprintf("dial: %v", err), http.StatusBadGateway)
		return
	}

	// Hijack the client connection
	hj, ok := w.(http.Hijacker)
	if !ok {
		target.Close()
		http.Error(w, "hijack not supported", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	client, _, err := hj.Hijack()
	if err != nil {
		target.Close()
		return
	}

	// Bidirectional copy
	go func() {
		io.Copy(target, client)
		target.Close()
	}()
	go func() {
		io.Copy(client, target)
		client.Close()
	}()
}
