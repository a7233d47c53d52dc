package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skillcore/sandbox/internal/orchestrator"
	"github.com/skillcore/sandbox/internal/runtime"
)

func TestResultResponseMapsExpiredToWireCode2003(t *testing.T) {
	res := orchestrator.ExecutionResult{
		Outcome:    orchestrator.OutcomeDenied,
		DenyReason: orchestrator.DenyExpired,
		Reason:     "scan record expired",
	}
	resp := resultResponse(json.RawMessage("1"), res)
	if resp.Error == nil || resp.Error.Code != 2003 {
		t.Fatalf("got error = %+v, want code 2003", resp.Error)
	}
}

func writeEchoSkill(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	skill := "---\nname: echo-skill\ndescription: echoes its input back to stdout\n---\n# echo-skill\n"
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(skill), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte("#!/bin/sh\ncat\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	prov, err := runtime.Open(t.TempDir(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("open provisioner: %v", err)
	}
	t.Cleanup(func() { prov.Close() })
	return orchestrator.New(prov, nil, slog.New(slog.NewTextHandler(os.Stderr, nil)), false)
}

func serveLines(t *testing.T, svc *Service, lines ...string) []response {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	if err := svc.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("serve: %v", err)
	}

	var resps []response
	dec := json.NewDecoder(&out)
	for dec.More() {
		var r response
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		resps = append(resps, r)
	}
	return resps
}

func findByID(t *testing.T, resps []response, id int) response {
	t.Helper()
	for _, r := range resps {
		var got int
		if json.Unmarshal(r.ID, &got) == nil && got == id {
			return r
		}
	}
	t.Fatalf("no response with id %d among %d responses", id, len(resps))
	return response{}
}

func TestServeRunSucceedsAtLevelNone(t *testing.T) {
	dir := writeEchoSkill(t)
	svc := New(newTestOrchestrator(t))

	req := fmt.Sprintf(`{"id":1,"method":"run","params":{"skill_dir":%q,"input":"hello","options":{"sandbox_level":1}}}`, dir)
	resps := serveLines(t, svc, req)
	resp := findByID(t, resps, 1)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestServeInfoReturnsManifest(t *testing.T) {
	dir := writeEchoSkill(t)
	svc := New(newTestOrchestrator(t))

	req := fmt.Sprintf(`{"id":2,"method":"info","params":{"skill_dir":%q}}`, dir)
	resps := serveLines(t, svc, req)
	resp := findByID(t, resps, 2)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestServeUnknownMethodReturnsParseFamilyError(t *testing.T) {
	svc := New(newTestOrchestrator(t))
	resps := serveLines(t, svc, `{"id":3,"method":"bogus","params":{}}`)
	resp := findByID(t, resps, 3)
	if resp.Error == nil || resp.Error.Code != 1003 {
		t.Fatalf("expected code 1003, got %+v", resp.Error)
	}
}

func TestServeMalformedLineReturnsNullID(t *testing.T) {
	svc := New(newTestOrchestrator(t))
	in := strings.NewReader("not json\n")
	var out bytes.Buffer
	if err := svc.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("serve: %v", err)
	}

	var resp response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != 1000 {
		t.Fatalf("expected parse error code 1000, got %+v", resp.Error)
	}
	if string(resp.ID) != "null" {
		t.Fatalf("expected null id, got %s", resp.ID)
	}
}

func TestServeScanMissingManifestReturnsError(t *testing.T) {
	dir := t.TempDir()
	svc := New(newTestOrchestrator(t))
	resps := serveLines(t, svc, fmt.Sprintf(`{"id":4,"method":"scan","params":{"skill_dir":%q}}`, dir))
	resp := findByID(t, resps, 4)
	if resp.Error == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestServeConcurrentRequestsAllAnswered(t *testing.T) {
	dir := writeEchoSkill(t)
	svc := New(newTestOrchestrator(t)).WithWorkers(4)

	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf(`{"id":%d,"method":"info","params":{"skill_dir":%q}}`, i, dir))
	}
	resps := serveLines(t, svc, lines...)
	if len(resps) != 10 {
		t.Fatalf("expected 10 responses, got %d", len(resps))
	}
}
