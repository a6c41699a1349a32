package types

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ExecutionResult is the outcome of running candidate code against the
// test cases of one coding question.
type ExecutionResult struct {
	// Success is true only when every test case was accepted.
	Success bool `json:"success"`

	// Status is the overall verdict: the first non-accepted verdict, or AC.
	Status Verdict `json:"status"`

	// Output is the stdout of the first visible test case on a dry run.
	Output string `json:"output"`

	// Error is the first compile/runtime/sandbox error, truncated.
	Error string `json:"error,omitempty"`

	TestResults []TestResult `json:"testResults"`

	// PointsEarned is set for submissions only.
	PointsEarned *int `json:"pointsEarned,omitempty"`

	PassedTests int `json:"passedTests"`
	TotalTests  int `json:"totalTests"`

	// ExecutionTimeMs is the sum of per-case times.
	ExecutionTimeMs int64 `json:"executionTimeMs"`

	// MemoryUsedMb is the peak per-case memory.
	MemoryUsedMb float64 `json:"memoryUsedMb"`
}

// TestResult is the result of executing a single test case.
type TestResult struct {
	// TestCaseID identifies the test case that was executed.
	TestCaseID uuid.UUID `json:"testCaseId"`

	Passed   bool `json:"passed"`
	IsHidden bool `json:"isHidden"`

	// Verdict and MemoryUsedMb are cleared for hidden cases. A finished run
	// never leaves a visible case pending, so the zero verdict is omitted.
	Verdict Verdict `json:"verdict,omitempty"`

	// Input, ExpectedOutput and ActualOutput are omitted for hidden cases
	// and for every case of a submission.
	Input          string `json:"input,omitempty"`
	ExpectedOutput string `json:"expectedOutput,omitempty"`
	ActualOutput   string `json:"actualOutput,omitempty"`

	// Error contains compile, runtime or sandbox errors, if any.
	Error string `json:"error,omitempty"`

	ExecutionTimeMs int64   `json:"executionTimeMs"`
	MemoryUsedMb    float64 `json:"memoryUsedMb,omitempty"`
}

// Language is a programming language the sandbox can run.
type Language struct {
	// Name is the identifier clients send, e.g. "python".
	Name string `json:"name"`

	// SandboxID is the remote sandbox's numeric language id.
	SandboxID int `json:"-"`

	// Version is the compiler or interpreter version.
	Version string `json:"version"`
}

// Verdict represents the outcome of judging a test case.
type Verdict int

// Supported verdict values.
const (
	// VerdictPending indicates the case is queued in the sandbox.
	VerdictPending Verdict = iota

	// VerdictJudging indicates the case is currently running.
	VerdictJudging

	// VerdictAccepted indicates the sandbox matched the expected output.
	VerdictAccepted

	// VerdictWrongAnswer indicates the program produced incorrect output.
	VerdictWrongAnswer

	// VerdictTimeLimitExceeded indicates the program exceeded the time limit.
	VerdictTimeLimitExceeded

	// VerdictMemoryLimitExceeded indicates the program exceeded the memory limit.
	VerdictMemoryLimitExceeded

	// VerdictRuntimeError indicates a runtime error occurred during execution.
	VerdictRuntimeError

	// VerdictCompilationError indicates the program failed to compile.
	VerdictCompilationError

	// VerdictSystemError indicates the sandbox reported an internal failure.
	VerdictSystemError

	// VerdictInternalError indicates the sandbox could not be reached or
	// did not finish in time.
	VerdictInternalError
)

// String returns the compact string representation of the verdict
// used in API responses and logs.
func (v Verdict) String() string {
	switch v {
	case VerdictPending:
		return "PENDING"
	case VerdictJudging:
		return "JUDGING"
	case VerdictAccepted:
		return "AC"
	case VerdictWrongAnswer:
		return "WA"
	case VerdictTimeLimitExceeded:
		return "TLE"
	case VerdictMemoryLimitExceeded:
		return "MLE"
	case VerdictRuntimeError:
		return "RE"
	case VerdictCompilationError:
		return "CE"
	case VerdictSystemError:
		return "SE"
	case VerdictInternalError:
		return "IE"
	default:
		return "UNKNOWN"
	}
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON accepts the compact string form written by MarshalJSON.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for candidate := VerdictPending; candidate <= VerdictInternalError; candidate++ {
		if candidate.String() == s {
			*v = candidate
			return nil
		}
	}
	*v = VerdictInternalError
	return nil
}
