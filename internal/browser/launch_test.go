//go:build unix

package browser

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devtoolsPageText = "Alex Kim 09:15 AM\nLeak under the sink"

type devtoolsRequest struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// devtoolsServer speaks just enough of the DevTools protocol for chromedp to
// attach to a single page and evaluate expressions on it.
func devtoolsServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go serveDevtools(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/devtools/browser/test"
}

func serveDevtools(conn net.Conn) {
	defer conn.Close()
	write := func(v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			return false
		}
		return wsutil.WriteServerText(conn, data) == nil
	}
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req devtoolsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}

		result := map[string]any{}
		var event map[string]any
		switch req.Method {
		case "Target.setDiscoverTargets":
			event = map[string]any{
				"method": "Target.targetCreated",
				"params": map[string]any{"targetInfo": map[string]any{
					"targetId": "page-1",
					"type":     "page",
					"title":    "",
					"url":      "about:blank",
					"attached": false,
				}},
			}
		case "Target.attachToTarget":
			result["sessionId"] = "session-1"
		case "Runtime.evaluate":
			var params struct {
				Expression string `json:"expression"`
			}
			_ = json.Unmarshal(req.Params, &params)
			if params.Expression == "self" {
				result["result"] = map[string]any{"type": "object", "className": "Window"}
			} else {
				result["result"] = map[string]any{"type": "string", "value": devtoolsPageText}
			}
		}

		reply := map[string]any{"id": req.ID, "result": result}
		if req.SessionID != "" {
			reply["sessionId"] = req.SessionID
		}
		if !write(reply) {
			return
		}
		if event != nil && !write(event) {
			return
		}
	}
}

// fakeChrome writes an executable that records its PID, optionally announces
// the DevTools endpoint and then idles like a browser would.
func fakeChrome(t *testing.T, wsURL string) (execPath, pidFile string) {
	t.Helper()
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available")
	}
	dir := t.TempDir()
	pidFile = filepath.Join(dir, "chrome.pid")
	script := "#!/bin/sh\necho $$ > " + pidFile + "\n"
	if wsURL != "" {
		script += "echo \"DevTools listening on " + wsURL + "\"\n"
	}
	script += "exec sleep 600\n"
	execPath = filepath.Join(dir, "chrome")
	require.NoError(t, os.WriteFile(execPath, []byte(script), 0o755))
	return execPath, pidFile
}

func readPID(t *testing.T, pidFile string) int {
	t.Helper()
	var pid int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	return pid
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func TestLaunchKeepsBrowserAlive(t *testing.T) {
	execPath, pidFile := fakeChrome(t, devtoolsServer(t))
	l := NewLauncher(Config{Headless: true, ExecPath: execPath, NavigationTimeout: 5 * time.Second}, nil)

	launchCtx, cancelLaunch := context.WithCancel(context.Background())
	got, err := l.Launch(launchCtx)
	require.NoError(t, err)
	b := got.(*Browser)
	t.Cleanup(func() { _ = b.Close() })

	// The caller's context ends with the launch; the browser must not.
	cancelLaunch()
	pid := readPID(t, pidFile)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.browserCtx.Err())
	assert.True(t, processAlive(pid), "chrome exited after Launch returned")

	text, err := b.Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, devtoolsPageText, text)

	require.NoError(t, b.Close())
	assert.Eventually(t, func() bool { return !processAlive(pid) }, 5*time.Second, 20*time.Millisecond)
}

func TestLaunchTimesOutWithoutDevtools(t *testing.T) {
	execPath, pidFile := fakeChrome(t, "")
	l := NewLauncher(Config{Headless: true, ExecPath: execPath, NavigationTimeout: 200 * time.Millisecond}, nil)

	start := time.Now()
	_, err := l.Launch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "unexpected error: %v", err)
	assert.Less(t, time.Since(start), 10*time.Second)

	pid := readPID(t, pidFile)
	assert.Eventually(t, func() bool { return !processAlive(pid) }, 5*time.Second, 20*time.Millisecond)
}

func TestLaunchHonorsCanceledContext(t *testing.T) {
	execPath, _ := fakeChrome(t, "")
	l := NewLauncher(Config{Headless: true, ExecPath: execPath, NavigationTimeout: 5 * time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := l.Launch(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
