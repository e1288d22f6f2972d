package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hejijunhao/asa-audit/internal/config"
	"github.com/hejijunhao/asa-audit/internal/output/multi"
)

func fakeASA(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining", "77")
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"bearer_token":"tok"}`))
			return
		}
		fmt.Fprintf(w, `{"list":[{"id":"e1","timestamp":%q}],"related_objects":{}}`,
			time.Now().UTC().Add(-time.Minute).Format(time.RFC3339))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setEnv(t *testing.T, srv *httptest.Server, outFile string) {
	t.Setenv(lambdaRuntimeEnv, "")
	t.Setenv("ASA_TEAM", "acme")
	t.Setenv("ASA_BASE_URL", srv.URL+"/v1/")
	t.Setenv("ASA_SECRET_STORE", "env")
	t.Setenv("ASA_API_KEY_PATH", "ASA_TEST_KEY_ID")
	t.Setenv("ASA_API_SECRET_PATH", "ASA_TEST_KEY_SECRET")
	t.Setenv("ASA_TEST_KEY_ID", "kid")
	t.Setenv("ASA_TEST_KEY_SECRET", "ksecret")
	t.Setenv("ASA_OUTPUT_FILE", outFile)
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("TIME_INTERVAL", "")
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestRunCommand_WritesRecordsToFile(t *testing.T) {
	srv := fakeASA(t)
	outFile := filepath.Join(t.TempDir(), "audit.log")
	setEnv(t, srv, outFile)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"run", "--window", "60", "--output", "file", "--log-level", "error"})
	require.NoError(t, cmd.Execute())

	lines := readLines(t, outFile)
	require.Len(t, lines, 2)
	assert.Equal(t, "event", lines[0]["event_type"])
	assert.Equal(t, "collect_audit_logs", lines[0]["method"])
	assert.Equal(t, "test", lines[0]["env"])
	assert.Equal(t, "api_ratelimit_remaining", lines[1]["event_type"])
	assert.Equal(t, "API requests left: 77", lines[1]["message"])
	assert.Equal(t, "run", lines[1]["method"])
}

func TestRunCommand_WindowFromEnvironment(t *testing.T) {
	srv := fakeASA(t)
	outFile := filepath.Join(t.TempDir(), "audit.log")
	setEnv(t, srv, outFile)
	t.Setenv("TIME_INTERVAL", "30")
	t.Setenv("ASA_OUTPUT", "file")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"run", "--log-level", "error"})
	require.NoError(t, cmd.Execute())
	assert.Len(t, readLines(t, outFile), 2)
}

func TestRunCommand_MissingWindow(t *testing.T) {
	srv := fakeASA(t)
	setEnv(t, srv, filepath.Join(t.TempDir(), "audit.log"))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"run"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLambdaHandler_RunsOnce(t *testing.T) {
	srv := fakeASA(t)
	outFile := filepath.Join(t.TempDir(), "audit.log")
	setEnv(t, srv, outFile)
	t.Setenv("TIME_INTERVAL", "15")
	t.Setenv("ASA_OUTPUT", "file")
	t.Setenv("ASA_LOG_LEVEL", "error")

	v := newRootViper()
	require.NoError(t, handler(v)(context.Background(), json.RawMessage(`{"source":"aws.events"}`)))
	assert.Len(t, readLines(t, outFile), 2)
}

func TestLambdaHandler_ReturnsRunError(t *testing.T) {
	srv := fakeASA(t)
	setEnv(t, srv, filepath.Join(t.TempDir(), "audit.log"))
	t.Setenv("TIME_INTERVAL", "15")
	t.Setenv("ASA_OUTPUT", "file")
	t.Setenv("ASA_TEST_KEY_SECRET", "")

	err := handler(newRootViper())(context.Background(), nil)
	require.Error(t, err)
}

func TestNewOutput(t *testing.T) {
	cfg := config.Config{Output: config.OutputConfig{
		Kinds:            []string{config.OutputStdout, config.OutputFile, config.OutputWebhook},
		FilePath:         filepath.Join(t.TempDir(), "audit.log"),
		WebhookURL:       "http://127.0.0.1:1/hook",
		WebhookBatchSize: 10,
	}}
	out, err := newOutput(cfg, zap.NewNop())
	require.NoError(t, err)

	m, ok := out.(*multi.Multi)
	require.True(t, ok)
	assert.Equal(t, 3, m.Len())
	require.NoError(t, out.Close())

	cfg.Output.Kinds = []string{config.OutputStdout}
	out, err = newOutput(cfg, zap.NewNop())
	require.NoError(t, err)
	_, isMulti := out.(*multi.Multi)
	assert.False(t, isMulti)

	cfg.Output.Kinds = []string{"kafka"}
	_, err = newOutput(cfg, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func rejectingWebhook(t *testing.T, posts *atomic.Int32, headers chan<- http.Header) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		select {
		case headers <- r.Header.Clone():
		default:
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLambdaHandler_WebhookDeliveryFailureFailsInvocation(t *testing.T) {
	srv := fakeASA(t)
	setEnv(t, srv, filepath.Join(t.TempDir(), "audit.log"))

	var posts atomic.Int32
	headers := make(chan http.Header, 1)
	hook := rejectingWebhook(t, &posts, headers)
	t.Setenv("TIME_INTERVAL", "15")
	t.Setenv("ASA_OUTPUT", "webhook")
	t.Setenv("ASA_WEBHOOK_URL", hook.URL)
	t.Setenv("ASA_WEBHOOK_HEADERS", "X-Source=asa-audit")
	t.Setenv("ASA_MAX_RETRIES", "0")
	t.Setenv("ASA_LOG_LEVEL", "error")

	err := handler(newRootViper())(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close outputs")
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Equal(t, int32(1), posts.Load())
	assert.Equal(t, "asa-audit", (<-headers).Get("X-Source"))
}

func TestRunCommand_WebhookDeliveryFailureFailsRun(t *testing.T) {
	srv := fakeASA(t)
	setEnv(t, srv, filepath.Join(t.TempDir(), "audit.log"))

	var posts atomic.Int32
	hook := rejectingWebhook(t, &posts, make(chan http.Header, 1))
	t.Setenv("ASA_WEBHOOK_URL", hook.URL)
	t.Setenv("ASA_MAX_RETRIES", "0")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"run", "--window", "60", "--output", "webhook", "--log-level", "error"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close outputs")
	assert.Equal(t, int32(1), posts.Load())
}
