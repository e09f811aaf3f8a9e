package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

type mockDynamo struct {
	putInput *dynamodb.PutItemInput
	getItem  map[string]types.AttributeValue
	err      error
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.putInput = params
	m.getItem = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &dynamodb.GetItemOutput{Item: m.getItem}, nil
}

func TestRunStore_RecordAndGet(t *testing.T) {
	mock := &mockDynamo{}
	store := NewRunStore(mock, "pipeline_runs")
	finished := time.Date(2026, 10, 1, 9, 0, 6, 0, time.UTC)

	job := testJob()
	job.ID = "job-1"
	job.Source = SourceWebhook
	out := Outcome{State: StateFailed, FailedStage: StateSent, Err: errors.New("boom"), Provider: "openai", Model: "gpt-4o-mini", Latency: 900 * time.Millisecond}
	run := newRunRecord(job, out, 2*time.Second, finished)

	if err := store.Record(context.Background(), run); err != nil {
		t.Fatalf("record: %v", err)
	}
	if *mock.putInput.TableName != "pipeline_runs" {
		t.Fatalf("unexpected table %s", *mock.putInput.TableName)
	}

	var stored RunRecord
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stored.State != "Failed" || stored.FailedStage != "Sent" || stored.ErrorMessage != "boom" {
		t.Fatalf("unexpected stored run %+v", stored)
	}
	if stored.LatencyMs != 900 || stored.DurationMs != 2000 {
		t.Fatalf("unexpected timings %+v", stored)
	}
	if stored.ExpiresAt != finished.Add(7*24*time.Hour).Unix() {
		t.Fatalf("unexpected ttl %d", stored.ExpiresAt)
	}

	got, err := store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MessageID != job.MessageID.String() {
		t.Fatalf("unexpected message id %s", got.MessageID)
	}
}

func TestRunStore_Errors(t *testing.T) {
	store := NewRunStore(&mockDynamo{}, "pipeline_runs")
	if err := store.Record(context.Background(), RunRecord{}); err == nil {
		t.Fatal("expected error without job id")
	}
	if _, err := store.Get(context.Background(), uuid.NewString()); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	failing := NewRunStore(&mockDynamo{err: errors.New("throttled")}, "pipeline_runs")
	if err := failing.Record(context.Background(), RunRecord{JobID: "job-1"}); err == nil {
		t.Fatal("expected put error")
	}
}
