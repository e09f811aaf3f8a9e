package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const runRecordTTL = 7 * 24 * time.Hour

// ErrRunNotFound indicates no run record exists for a job id.
var ErrRunNotFound = errors.New("pipeline: run record not found")

// RunRecorder keeps a short-lived record of each finished job.
type RunRecorder interface {
	Record(ctx context.Context, run RunRecord) error
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// RunRecord is the terminal state of one job.
type RunRecord struct {
	JobID          string   `dynamodbav:"jobId" json:"jobId"`
	Source         string   `dynamodbav:"source" json:"source"`
	InstanceKey    string   `dynamodbav:"instanceKey" json:"instanceKey"`
	ConversationID string   `dynamodbav:"conversationId" json:"conversationId"`
	MessageID      string   `dynamodbav:"messageId" json:"messageId"`
	State          string   `dynamodbav:"state" json:"state"`
	FailedStage    string   `dynamodbav:"failedStage,omitempty" json:"failedStage,omitempty"`
	Reason         string   `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
	ErrorMessage   string   `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	Provider       string   `dynamodbav:"provider,omitempty" json:"provider,omitempty"`
	Model          string   `dynamodbav:"model,omitempty" json:"model,omitempty"`
	LatencyMs      int64    `dynamodbav:"latencyMs" json:"latencyMs"`
	DurationMs     int64    `dynamodbav:"durationMs" json:"durationMs"`
	OutboundID     string   `dynamodbav:"outboundId,omitempty" json:"outboundId,omitempty"`
	Attempt        int      `dynamodbav:"attempt" json:"attempt"`
	Warnings       []string `dynamodbav:"warnings,omitempty" json:"warnings,omitempty"`
	FinishedAt     string   `dynamodbav:"finishedAt" json:"finishedAt"`
	ExpiresAt      int64    `dynamodbav:"expiresAt,omitempty" json:"-"`
}

func newRunRecord(job Job, out Outcome, elapsed time.Duration, finishedAt time.Time) RunRecord {
	return RunRecord{
		JobID:          job.ID,
		Source:         job.Source,
		InstanceKey:    job.InstanceKey,
		ConversationID: job.ConversationID.String(),
		MessageID:      job.MessageID.String(),
		State:          string(out.State),
		FailedStage:    string(out.FailedStage),
		Reason:         out.Reason,
		ErrorMessage:   errString(out.Err),
		Provider:       out.Provider,
		Model:          out.Model,
		LatencyMs:      out.Latency.Milliseconds(),
		DurationMs:     elapsed.Milliseconds(),
		OutboundID:     out.OutboundID,
		Attempt:        job.Attempt,
		Warnings:       out.Warnings,
		FinishedAt:     finishedAt.UTC().Format(time.RFC3339Nano),
		ExpiresAt:      finishedAt.Add(runRecordTTL).Unix(),
	}
}

// RunStore persists run records to DynamoDB.
type RunStore struct {
	client    dynamoAPI
	tableName string
}

var _ RunRecorder = (*RunStore)(nil)

// NewRunStore builds a store backed by the provided DynamoDB client.
func NewRunStore(client dynamoAPI, tableName string) *RunStore {
	if client == nil {
		panic("pipeline: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("pipeline: table name cannot be empty")
	}
	return &RunStore{client: client, tableName: tableName}
}

// Record writes run, replacing any earlier record for the same job id.
func (s *RunStore) Record(ctx context.Context, run RunRecord) error {
	if run.JobID == "" {
		return errors.New("pipeline: run job id required")
	}
	item, err := attributevalue.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("pipeline: failed to marshal run: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("pipeline: failed to persist run: %w", err)
	}
	return nil
}

// Get fetches a run by job id.
func (s *RunStore) Get(ctx context.Context, jobID string) (*RunRecord, error) {
	if jobID == "" {
		return nil, errors.New("pipeline: job id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to fetch run: %w", err)
	}
	if out.Item == nil {
		return nil, ErrRunNotFound
	}
	var run RunRecord
	if err := attributevalue.UnmarshalMap(out.Item, &run); err != nil {
		return nil, fmt.Errorf("pipeline: failed to decode run: %w", err)
	}
	return &run, nil
}
