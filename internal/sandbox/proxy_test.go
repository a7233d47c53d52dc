package sandbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skillcore/sandbox/internal/auditlog"
)

func startEchoServer(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			c, err := lis.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				buf := make([]byte, 1024)
				n, _ := c.Read(buf)
				c.Write(buf[:n])
			}()
		}
	}()
	t.Cleanup(func() { lis.Close() })
	return lis.Addr().String()
}

func TestProxyAllowedExactAndWildcard(t *testing.T) {
	p := &DomainProxy{domains: map[string]bool{"api.example.com": true}, wildcards: []string{".example.org"}}

	if !p.allowed("api.example.com:443") {
		t.Error("exact match should be allowed")
	}
	if !p.allowed("sub.example.org:443") {
		t.Error("wildcard match should be allowed")
	}
	if p.allowed("evil.com:443") {
		t.Error("non-listed domain should be blocked")
	}
}

func TestSOCKS5ConnectToAllowedTarget(t *testing.T) {
	target := startEchoServer(t)
	host, port, _ := net.SplitHostPort(target)
	_ = host

	proxy, err := StartProxy([]string{"localhost"}, "test-skill", nil)
	if err != nil {
		t.Fatalf("start proxy: %v", err)
	}
	defer proxy.Close()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", proxy.SOCKS5Port()), time.Second)
	if err != nil {
		t.Fatalf("dial socks5: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte{0x05, 0x01, 0x00})
	resp := make([]byte, 2)
	io.ReadFull(conn, resp)
	if resp[0] != 0x05 || resp[1] != 0x00 {
		t.Fatalf("bad greeting reply: %v", resp)
	}

	domain := "localhost"
	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len(domain))}
	req = append(req, domain...)
	var portBytes [2]byte
	var portNum int
	fmt.Sscanf(port, "%d", &portNum)
	portBytes[0] = byte(portNum >> 8)
	portBytes[1] = byte(portNum)
	req = append(req, portBytes[:]...)
	conn.Write(req)

	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatalf("read connect reply: %v", err)
	}
	if reply[1] != 0x00 {
		t.Fatalf("connect reply code = %d, want 0", reply[1])
	}

	conn.Write([]byte("hello"))
	rd := bufio.NewReader(conn)
	buf := make([]byte, 5)
	io.ReadFull(rd, buf)
	if string(buf) != "hello" {
		t.Errorf("echo = %q, want hello", buf)
	}
}

func TestSOCKS5BlocksDisallowedDomain(t *testing.T) {
	proxy, err := StartProxy([]string{"allowed.example.com"}, "test-skill", nil)
	if err != nil {
		t.Fatalf("start proxy: %v", err)
	}
	defer proxy.Close()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", proxy.SOCKS5Port()), time.Second)
	if err != nil {
		t.Fatalf("dial socks5: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte{0x05, 0x01, 0x00})
	resp := make([]byte, 2)
	io.ReadFull(conn, resp)

	domain := "evil.com"
	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len(domain))}
	req = append(req, domain...)
	req = append(req, 0x01, 0xbb) // port 443
	conn.Write(req)

	reply := make([]byte, 10)
	io.ReadFull(conn, reply)
	if reply[1] != 0x02 {
		t.Fatalf("expected 'not allowed by ruleset' (0x02), got %d", reply[1])
	}
}

func TestHTTPConnectBlocksDisallowedDomain(t *testing.T) {
	proxy, err := StartProxy([]string{"allowed.example.com"}, "test-skill", nil)
	if err != nil {
		t.Fatalf("start proxy: %v", err)
	}
	defer proxy.Close()

	req, _ := http.NewRequest(http.MethodConnect, "http://evil.com:443", nil)
	req.Host = "evil.com:443"
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", proxy.Port()), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	req.Write(conn)

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestHTTPConnectDeniedDomainWritesAuditRecord(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.jsonl")
	auditLog, err := auditlog.Open(logPath)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer auditLog.Close()

	proxy, err := StartProxy([]string{"allowed.example.com"}, "evil-skill", auditLog)
	if err != nil {
		t.Fatalf("start proxy: %v", err)
	}
	defer proxy.Close()

	req, _ := http.NewRequest(http.MethodConnect, "http://evil.example.net:443", nil)
	req.Host = "evil.example.net:443"
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", proxy.Port()), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	req.Write(conn)

	if _, err := http.ReadResponse(bufio.NewReader(conn), req); err != nil {
		t.Fatalf("read response: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var entry auditlog.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal audit entry: %v\n%s", err, data)
	}
	if entry.Event != "outbound_denied" {
		t.Errorf("event = %q, want outbound_denied", entry.Event)
	}
	if entry.Skill != "evil-skill" {
		t.Errorf("skill = %q, want evil-skill", entry.Skill)
	}
}
