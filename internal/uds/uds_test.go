package uds

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Sockets live under /tmp directly; the macOS sun_path limit (104 bytes)
// makes t.TempDir paths too long on darwin runners.
func newTestServer(t *testing.T) (*Server, *Client, string) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "missiond-uds-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	sockPath := filepath.Join(dir, "t.sock")
	server := NewServer(sockPath, nil)
	server.SetConnTimeout(5 * time.Second)
	client := NewClient(sockPath)
	client.SetTimeout(5 * time.Second)
	return server, client, sockPath
}

func TestFraming_RoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("/tmp", "missiond-uds-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	sockPath := filepath.Join(dir, "f.sock")

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			t.Errorf("server ReadFrame: %v", err)
			return
		}
		if req.Command != "ping" {
			t.Errorf("command = %q, want ping", req.Command)
		}
		if err := WriteFrame(conn, SuccessResponse(map[string]string{"status": "ok"})); err != nil {
			t.Errorf("server WriteFrame: %v", err)
		}
	}()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := NewRequest("ping", nil)
	if err := WriteFrame(conn, req); err != nil {
		t.Fatalf("client WriteFrame: %v", err)
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		t.Fatalf("client ReadFrame: %v", err)
	}
	if !resp.Success {
		t.Error("expected success response")
	}
	<-done
}

func TestReadFrame_RejectsOversizedHeader(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 64<<20)
		client.Write(header[:])
	}()

	var v any
	err := ReadFrame(server, &v)
	if err == nil || !strings.Contains(err.Error(), "frame too large") {
		t.Errorf("err = %v, want frame too large", err)
	}
}

func TestServer_LargeMissionListPayload(t *testing.T) {
	server, client, _ := newTestServer(t)

	big := make([]map[string]string, 2000)
	for i := range big {
		big[i] = map[string]string{
			"id":    fmt.Sprintf("mission_%04d", i),
			"title": strings.Repeat("x", 256),
		}
	}
	server.Handle("mission_list", func(req *Request) *Response {
		return SuccessResponse(map[string]any{"missions": big})
	})
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop()

	resp, err := client.SendCommand("mission_list", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	var payload struct {
		Missions []map[string]string `json:"missions"`
	}
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(payload.Missions) != 2000 {
		t.Errorf("missions = %d, want 2000", len(payload.Missions))
	}
}

func TestServer_ProtocolVersionMismatch(t *testing.T) {
	server, client, _ := newTestServer(t)
	server.Handle("ping", func(req *Request) *Response {
		return SuccessResponse(nil)
	})
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop()

	resp, err := client.Send(&Request{ProtocolVersion: 999, Command: "ping"})
	if err != nil {
		t.Fatalf("client send: %v", err)
	}
	if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeProtocolMismatch {
		t.Errorf("response = %+v, want %s error", resp, ErrCodeProtocolMismatch)
	}
}

func TestServer_UnknownCommand(t *testing.T) {
	server, client, _ := newTestServer(t)
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop()

	resp, err := client.SendCommand("mission_teleport", nil)
	if err != nil {
		t.Fatalf("client send: %v", err)
	}
	if resp.Success || resp.Error.Code != ErrCodeUnknownCommand {
		t.Errorf("response = %+v, want %s error", resp, ErrCodeUnknownCommand)
	}
}

func TestServer_HandlerExecution(t *testing.T) {
	server, client, _ := newTestServer(t)

	server.Handle("echo", func(req *Request) *Response {
		var params map[string]string
		json.Unmarshal(req.Params, &params)
		return SuccessResponse(params)
	})

	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop()

	resp, err := client.SendCommand("echo", map[string]string{"title": "Read"})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if !resp.Success {
		t.Error("echo: expected success")
	}
	var data map[string]string
	json.Unmarshal(resp.Data, &data)
	if data["title"] != "Read" {
		t.Errorf("echo payload = %q", data["title"])
	}
}

func TestServer_HandlerPanicBecomesInternalError(t *testing.T) {
	server, client, _ := newTestServer(t)
	server.Handle("explode", func(req *Request) *Response {
		panic("boom")
	})
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop()

	resp, err := client.SendCommand("explode", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeInternal {
		t.Errorf("response = %+v, want %s error", resp, ErrCodeInternal)
	}

	// The server must survive the panic and keep answering.
	server.Handle("ping", func(req *Request) *Response {
		return SuccessResponse(nil)
	})
	if resp, err := client.SendCommand("ping", nil); err != nil || !resp.Success {
		t.Errorf("ping after panic: resp=%+v err=%v", resp, err)
	}
}

func TestServer_MultipleClients(t *testing.T) {
	server, _, sockPath := newTestServer(t)
	server.Handle("ping", func(req *Request) *Response {
		return SuccessResponse(map[string]string{"status": "ok"})
	})
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop()

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			c := NewClient(sockPath)
			c.SetTimeout(5 * time.Second)
			_, err := c.SendCommand("ping", nil)
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-errs; err != nil {
			t.Errorf("client %d: %v", i, err)
		}
	}
}

func TestClient_DaemonNotRunning(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "nonexistent.sock"))
	client.SetTimeout(1 * time.Second)

	_, err := client.SendCommand("ping", nil)
	if err == nil {
		t.Fatal("expected error when daemon not running")
	}
	if !strings.Contains(err.Error(), "failed to connect to daemon") {
		t.Errorf("expected connection error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "missiond daemon") {
		t.Errorf("expected start hint, got: %v", err)
	}
}

func TestServer_SocketPermissions(t *testing.T) {
	server, _, sockPath := newTestServer(t)
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop()

	info, err := os.Stat(sockPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %04o, want 0600", perm)
	}
}

func TestServer_StopCleansUpSocket(t *testing.T) {
	server, _, sockPath := newTestServer(t)
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	if _, err := os.Stat(sockPath); err != nil {
		t.Fatalf("socket should exist: %v", err)
	}

	server.Stop()

	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Error("socket should be removed after stop")
	}
}

func TestResponseHelpers(t *testing.T) {
	errResp := ErrorResponse(ErrCodeNotFound, "mission missing")
	if errResp.Success || errResp.Error.Code != ErrCodeNotFound {
		t.Errorf("error response = %+v", errResp)
	}

	okResp := SuccessResponse(map[string]int{"count": 42})
	var data map[string]int
	json.Unmarshal(okResp.Data, &data)
	if !okResp.Success || data["count"] != 42 {
		t.Errorf("success response = %+v", okResp)
	}

	if resp := SuccessResponse(nil); resp.Data != nil {
		t.Errorf("nil data response carries payload: %s", resp.Data)
	}
}
