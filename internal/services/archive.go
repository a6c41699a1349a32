package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hirelab/assessor/types"
)

// ObjectWriter is satisfied by *storage.Storage.
type ObjectWriter interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// ExecutionReport is the archived record of one run or submission.
type ExecutionReport struct {
	ExecutionID  uuid.UUID             `json:"executionId"`
	AttemptID    uuid.UUID             `json:"attemptId"`
	QuestionID   uuid.UUID             `json:"questionId"`
	CandidateID  uuid.UUID             `json:"candidateId"`
	Language     string                `json:"language"`
	IsSubmission bool                  `json:"isSubmission"`
	Result       types.ExecutionResult `json:"result"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// ReportArchive stores execution reports in object storage. A nil archive
// stores nothing.
type ReportArchive struct {
	objects ObjectWriter
}

func NewReportArchive(objects ObjectWriter) *ReportArchive {
	return &ReportArchive{objects: objects}
}

// ExecutionReportKey is the object key of an execution report.
func ExecutionReportKey(attemptID, executionID uuid.UUID) string {
	return fmt.Sprintf("executions/%s/%s.json", attemptID, executionID)
}

func (a *ReportArchive) Save(ctx context.Context, report ExecutionReport) error {
	if a == nil || a.objects == nil {
		return nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	key := ExecutionReportKey(report.AttemptID, report.ExecutionID)
	return a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json")
}
