// Package sandbox talks to the remote code execution service. Requests and
// results use the service's JSON contract with base64 encoded text fields.
package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hirelab/assessor/config"
	"github.com/hirelab/assessor/types"
)

// Remote status ids.
const (
	StatusInQueue           = 1
	StatusProcessing        = 2
	StatusAccepted          = 3
	StatusWrongAnswer       = 4
	StatusTimeLimitExceeded = 5
	StatusCompilationError  = 6
	StatusRuntimeErrorFirst = 7
	StatusRuntimeErrorLast  = 12
	StatusInternalError     = 13
	StatusExecFormatError   = 14
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxPolls       = 20
	defaultRequestTimeout = 10 * time.Second
	maxResponseBody       = 1 << 20

	memoryLimitExceededSignal = "memory"
)

// ErrPollTimeout is returned when a submission is still running after the
// configured number of polls.
var ErrPollTimeout = errors.New("sandbox did not finish in time")

// Request is one program run against one input.
type Request struct {
	SourceCode     string
	LanguageID     int
	Stdin          string
	ExpectedOutput string
	// CPUTimeLimit is in seconds.
	CPUTimeLimit float64
	// MemoryLimitKB is in kilobytes.
	MemoryLimitKB int
}

// Result is the decoded terminal state of a submission.
type Result struct {
	StatusID          int
	StatusDescription string
	Stdout            string
	Stderr            string
	CompileOutput     string
	Message           string
	TimeSeconds       float64
	MemoryKB          int
}

// Accepted reports whether the sandbox matched the expected output.
func (r Result) Accepted() bool {
	return r.StatusID == StatusAccepted
}

// Verdict maps the remote status onto our verdict set.
func (r Result) Verdict() types.Verdict {
	switch {
	case r.StatusID == StatusInQueue:
		return types.VerdictPending
	case r.StatusID == StatusProcessing:
		return types.VerdictJudging
	case r.StatusID == StatusAccepted:
		return types.VerdictAccepted
	case r.StatusID == StatusWrongAnswer:
		return types.VerdictWrongAnswer
	case r.StatusID == StatusTimeLimitExceeded:
		return types.VerdictTimeLimitExceeded
	case r.StatusID == StatusCompilationError:
		return types.VerdictCompilationError
	case r.StatusID >= StatusRuntimeErrorFirst && r.StatusID <= StatusRuntimeErrorLast:
		if strings.Contains(strings.ToLower(r.StatusDescription+" "+r.Message), memoryLimitExceededSignal) {
			return types.VerdictMemoryLimitExceeded
		}
		return types.VerdictRuntimeError
	case r.StatusID == StatusInternalError, r.StatusID == StatusExecFormatError:
		return types.VerdictSystemError
	default:
		return types.VerdictInternalError
	}
}

// ErrorText returns the most specific diagnostic the sandbox produced.
func (r Result) ErrorText() string {
	for _, s := range []string{r.CompileOutput, r.Stderr, r.Message} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	if !r.Accepted() && r.StatusID != StatusWrongAnswer {
		return r.StatusDescription
	}
	return ""
}

// Client is an HTTP client for the sandbox service.
type Client struct {
	baseURL      string
	authToken    string
	http         *http.Client
	pollInterval time.Duration
	maxPolls     int
}

// NewClient constructs a sandbox client from config.
func NewClient(cfg config.SandboxConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("sandbox base url is required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}

	return &Client{
		baseURL:      baseURL,
		authToken:    cfg.AuthToken,
		http:         &http.Client{Timeout: timeout},
		pollInterval: interval,
		maxPolls:     maxPolls,
	}, nil
}

type submitRequest struct {
	SourceCode     string  `json:"source_code"`
	LanguageID     int     `json:"language_id"`
	Stdin          string  `json:"stdin"`
	ExpectedOutput string  `json:"expected_output"`
	CPUTimeLimit   float64 `json:"cpu_time_limit,omitempty"`
	MemoryLimit    int     `json:"memory_limit,omitempty"`
}

type submitResponse struct {
	Token string `json:"token"`
}

type pollResponse struct {
	Status struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	Time          *string `json:"time"`
	Memory        *int    `json:"memory"`
}

// Submit queues a run and returns its correlation token.
func (c *Client) Submit(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(submitRequest{
		SourceCode:     encode(req.SourceCode),
		LanguageID:     req.LanguageID,
		Stdin:          encode(req.Stdin),
		ExpectedOutput: encode(req.ExpectedOutput),
		CPUTimeLimit:   req.CPUTimeLimit,
		MemoryLimit:    req.MemoryLimitKB,
	})
	if err != nil {
		return "", err
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/submissions?base64_encoded=true&wait=false", body, &resp); err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", errors.New("submit: sandbox returned no token")
	}
	return resp.Token, nil
}

// Fetch reads the current state of a submission once.
func (c *Client) Fetch(ctx context.Context, token string) (Result, error) {
	path := "/submissions/" + token + "?base64_encoded=true&fields=status,stdout,stderr,compile_output,message,time,memory"
	var resp pollResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Result{}, fmt.Errorf("poll: %w", err)
	}

	result := Result{
		StatusID:          resp.Status.ID,
		StatusDescription: resp.Status.Description,
	}
	var decodeErr error
	result.Stdout, decodeErr = decodeField(resp.Stdout, decodeErr)
	result.Stderr, decodeErr = decodeField(resp.Stderr, decodeErr)
	result.CompileOutput, decodeErr = decodeField(resp.CompileOutput, decodeErr)
	result.Message, decodeErr = decodeField(resp.Message, decodeErr)
	if decodeErr != nil {
		return Result{}, fmt.Errorf("poll: decode output: %w", decodeErr)
	}
	if resp.Time != nil {
		if seconds, err := strconv.ParseFloat(*resp.Time, 64); err == nil {
			result.TimeSeconds = seconds
		}
	}
	if resp.Memory != nil {
		result.MemoryKB = *resp.Memory
	}
	return result, nil
}

// Run submits req and polls until the sandbox reports a terminal status,
// the poll budget runs out, or ctx is done.
func (c *Client) Run(ctx context.Context, req Request) (Result, error) {
	token, err := c.Submit(ctx, req)
	if err != nil {
		return Result{}, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for poll := 0; poll < c.maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}

		result, err := c.Fetch(ctx, token)
		if err != nil {
			return Result{}, err
		}
		if result.StatusID != StatusInQueue && result.StatusID != StatusProcessing {
			return result, nil
		}
	}
	return Result{}, ErrPollTimeout
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("X-Auth-Token", c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sandbox returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// decodeField decodes one base64 field, carrying the first error forward.
// The sandbox wraps long values with newlines.
func decodeField(value *string, prev error) (string, error) {
	if prev != nil || value == nil {
		return "", prev
	}
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, *value)
	decoded, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
