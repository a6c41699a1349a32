package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

type fakeSandbox struct {
	t        *testing.T
	polls    atomic.Int32
	pending  int32
	final    map[string]any
	received submitRequest
}

func (f *fakeSandbox) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submissions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "true", r.URL.Query().Get("base64_encoded"))
		assert.Equal(f.t, "secret", r.Header.Get("X-Auth-Token"))
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.received))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("GET /submissions/tok-1", func(w http.ResponseWriter, r *http.Request) {
		n := f.polls.Add(1)
		if n <= f.pending {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": map[string]any{"id": StatusProcessing, "description": "Processing"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(f.final)
	})
	return mux
}

func newTestClient(t *testing.T, url string, maxPolls int) *Client {
	t.Helper()
	client, err := NewClient(config.SandboxConfig{
		BaseURL:      url,
		AuthToken:    "secret",
		PollInterval: time.Millisecond,
		MaxPolls:     maxPolls,
	})
	require.NoError(t, err)
	return client
}

func TestRunPollsUntilTerminal(t *testing.T) {
	fake := &fakeSandbox{
		t:       t,
		pending: 2,
		final: map[string]any{
			"status": map[string]any{"id": StatusAccepted, "description": "Accepted"},
			"stdout": b64("42\n"),
			"time":   "0.012",
			"memory": 2048,
		},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, 20)
	result, err := client.Run(context.Background(), Request{
		SourceCode:     "print(42)",
		LanguageID:     71,
		Stdin:          "",
		ExpectedOutput: "42\n",
		CPUTimeLimit:   2,
		MemoryLimitKB:  128000,
	})
	require.NoError(t, err)

	assert.True(t, result.Accepted())
	assert.Equal(t, types.VerdictAccepted, result.Verdict())
	assert.Equal(t, "42\n", result.Stdout)
	assert.InDelta(t, 0.012, result.TimeSeconds, 1e-9)
	assert.Equal(t, 2048, result.MemoryKB)
	assert.EqualValues(t, 3, fake.polls.Load())

	assert.Equal(t, b64("print(42)"), fake.received.SourceCode)
	assert.Equal(t, b64("42\n"), fake.received.ExpectedOutput)
	assert.Equal(t, 71, fake.received.LanguageID)
	assert.Equal(t, 128000, fake.received.MemoryLimit)
}

func TestRunTimesOutAfterPollBudget(t *testing.T) {
	fake := &fakeSandbox{t: t, pending: 1000}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := newTestClient(t, srv.URL, 4)
	_, err := client.Run(context.Background(), Request{SourceCode: "x", LanguageID: 71})
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.EqualValues(t, 4, fake.polls.Load())
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	fake := &fakeSandbox{t: t, pending: 1000}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client, err := NewClient(config.SandboxConfig{
		BaseURL:      srv.URL,
		AuthToken:    "secret",
		PollInterval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Run(ctx, Request{SourceCode: "x", LanguageID: 71})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 0, fake.polls.Load())
}

func TestFetchDecodesWrappedBase64(t *testing.T) {
	long := strings.Repeat("error line\n", 20)
	encoded := b64(long)
	var wrapped strings.Builder
	for i := 0; i < len(encoded); i += 60 {
		end := i + 60
		if end > len(encoded) {
			end = len(encoded)
		}
		wrapped.WriteString(encoded[i:end])
		wrapped.WriteString("\n")
	}

	fake := &fakeSandbox{
		t: t,
		final: map[string]any{
			"status":         map[string]any{"id": StatusCompilationError, "description": "Compilation Error"},
			"compile_output": wrapped.String(),
		},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	result, err := newTestClient(t, srv.URL, 1).Fetch(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, long, result.CompileOutput)
	assert.Equal(t, long, result.ErrorText())
	assert.Equal(t, types.VerdictCompilationError, result.Verdict())
}

func TestSubmitSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 1).Submit(context.Background(), Request{SourceCode: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestVerdictMapping(t *testing.T) {
	cases := []struct {
		result Result
		want   types.Verdict
	}{
		{Result{StatusID: StatusWrongAnswer}, types.VerdictWrongAnswer},
		{Result{StatusID: StatusTimeLimitExceeded}, types.VerdictTimeLimitExceeded},
		{Result{StatusID: 11, StatusDescription: "Runtime Error (NZEC)"}, types.VerdictRuntimeError},
		{Result{StatusID: 7, StatusDescription: "Runtime Error (SIGSEGV)", Message: "memory limit exceeded"}, types.VerdictMemoryLimitExceeded},
		{Result{StatusID: StatusInternalError}, types.VerdictSystemError},
		{Result{StatusID: 99}, types.VerdictInternalError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.result.Verdict(), "status %d", tc.result.StatusID)
	}
}

func TestLanguageCatalog(t *testing.T) {
	lang, ok := LookupLanguage(" Python3 ")
	require.True(t, ok)
	assert.Equal(t, "python", lang.Name)
	assert.Equal(t, 71, lang.SandboxID)

	_, ok = LookupLanguage("cobol")
	assert.False(t, ok)

	names := LanguageNames()
	assert.Contains(t, names, "go")
	assert.IsIncreasing(t, names)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(config.SandboxConfig{})
	assert.Error(t, err)
}
