package archive_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gantryci/gantry/internal/gantry/archive"
	"github.com/gantryci/gantry/pkg/config"
)

// stubDynamo records inputs and returns canned outputs for each operation.
type stubDynamo struct {
	putInputs []*dynamodb.PutItemInput
	putErr    error

	getInputs []*dynamodb.GetItemInput
	getOutput *dynamodb.GetItemOutput
	getErr    error

	scanInputs []*dynamodb.ScanInput
	scanOutput *dynamodb.ScanOutput
	scanErr    error

	batchInputs []*dynamodb.BatchWriteItemInput
	batchErr    error

	describeErr error
}

func (s *stubDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	s.putInputs = append(s.putInputs, in)
	if s.putErr != nil {
		return nil, s.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (s *stubDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	s.getInputs = append(s.getInputs, in)
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.getOutput != nil {
		return s.getOutput, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (s *stubDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	s.scanInputs = append(s.scanInputs, in)
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	if s.scanOutput != nil {
		return s.scanOutput, nil
	}
	return &dynamodb.ScanOutput{}, nil
}

func (s *stubDynamo) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	s.batchInputs = append(s.batchInputs, in)
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (s *stubDynamo) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if s.describeErr != nil {
		return nil, s.describeErr
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   in.TableName,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}

func testDynamoConfig() config.DynamoDBConfig {
	return config.DynamoDBConfig{
		TableName:    "test-table",
		TTLEnabled:   true,
		TTLAttribute: "expiresAt",
		TTLDays:      30,
		BatchSize:    25,
	}
}

func TestDynamoPutWritesConditionalItem(t *testing.T) {
	client := &stubDynamo{}
	backend := archive.NewDynamoDBBackendWithClient(client, testDynamoConfig(), nil)

	rec := &archive.RunRecord{
		RunID:      "run-1",
		Pipeline:   "web",
		State:      "SUCCESS",
		FinishedAt: time.Now(),
		JobsTotal:  2,
	}

	if err := backend.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if len(client.putInputs) != 1 {
		t.Fatalf("expected 1 PutItem call, got %d", len(client.putInputs))
	}
	input := client.putInputs[0]

	if *input.TableName != "test-table" {
		t.Errorf("table = %s, want test-table", *input.TableName)
	}
	if *input.ConditionExpression != "attribute_not_exists(runId)" {
		t.Errorf("condition = %s, want attribute_not_exists(runId)", *input.ConditionExpression)
	}

	id, ok := input.Item["runId"].(*types.AttributeValueMemberS)
	if !ok || id.Value != "run-1" {
		t.Error("expected runId attribute run-1")
	}
	if _, ok := input.Item["expiresAt"].(*types.AttributeValueMemberN); !ok {
		t.Error("expected TTL attribute on archived item")
	}
}

func TestDynamoPutDuplicate(t *testing.T) {
	client := &stubDynamo{
		putErr: &types.ConditionalCheckFailedException{
			Message: aws.String("The conditional request failed"),
		},
	}
	backend := archive.NewDynamoDBBackendWithClient(client, testDynamoConfig(), nil)

	err := backend.Put(context.Background(), &archive.RunRecord{RunID: "run-1", State: "SUCCESS"})
	if err != archive.ErrRecordExists {
		t.Errorf("Put() error = %v, want ErrRecordExists", err)
	}
}

func TestDynamoGetDecodesItem(t *testing.T) {
	client := &stubDynamo{
		getOutput: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"runId":      &types.AttributeValueMemberS{Value: "run-9"},
				"pipeline":   &types.AttributeValueMemberS{Value: "web"},
				"runState":   &types.AttributeValueMemberS{Value: "FAILED"},
				"jobsTotal":  &types.AttributeValueMemberN{Value: "4"},
				"jobsFailed": &types.AttributeValueMemberN{Value: "1"},
				"finishedAt": &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339)},
			},
		},
	}
	backend := archive.NewDynamoDBBackendWithClient(client, testDynamoConfig(), nil)

	rec, err := backend.Get(context.Background(), "run-9")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if rec.RunID != "run-9" || rec.Pipeline != "web" || rec.State != "FAILED" {
		t.Errorf("Get() = %s/%s/%s, want run-9/web/FAILED", rec.RunID, rec.Pipeline, rec.State)
	}
	if rec.JobsTotal != 4 || rec.JobsFailed != 1 {
		t.Errorf("counters = %d/%d, want 4/1", rec.JobsTotal, rec.JobsFailed)
	}

	if len(client.getInputs) != 1 {
		t.Fatalf("expected 1 GetItem call, got %d", len(client.getInputs))
	}
	key, ok := client.getInputs[0].Key["runId"].(*types.AttributeValueMemberS)
	if !ok || key.Value != "run-9" {
		t.Error("expected key runId=run-9")
	}
}

func TestDynamoGetNotFound(t *testing.T) {
	client := &stubDynamo{getOutput: &dynamodb.GetItemOutput{Item: nil}}
	backend := archive.NewDynamoDBBackendWithClient(client, testDynamoConfig(), nil)

	if _, err := backend.Get(context.Background(), "ghost"); err != archive.ErrRecordNotFound {
		t.Errorf("Get() error = %v, want ErrRecordNotFound", err)
	}
}

func TestDynamoListBuildsFilterExpression(t *testing.T) {
	client := &stubDynamo{
		scanOutput: &dynamodb.ScanOutput{
			Items: []map[string]types.AttributeValue{
				{
					"runId":    &types.AttributeValueMemberS{Value: "run-1"},
					"pipeline": &types.AttributeValueMemberS{Value: "web"},
					"runState": &types.AttributeValueMemberS{Value: "FAILED"},
				},
				{
					"runId":    &types.AttributeValueMemberS{Value: "run-2"},
					"pipeline": &types.AttributeValueMemberS{Value: "web"},
					"runState": &types.AttributeValueMemberS{Value: "FAILED"},
				},
			},
			Count: 2,
		},
	}
	backend := archive.NewDynamoDBBackendWithClient(client, testDynamoConfig(), nil)

	records, err := backend.List(context.Background(), &archive.Filter{
		State:    "FAILED",
		Pipeline: "web",
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("List() returned %d records, want 2", len(records))
	}

	if len(client.scanInputs) != 1 {
		t.Fatalf("expected 1 Scan call, got %d", len(client.scanInputs))
	}
	input := client.scanInputs[0]

	want := "runState = :state AND pipeline = :pipeline"
	if input.FilterExpression == nil || *input.FilterExpression != want {
		t.Errorf("filter expression = %v, want %q", input.FilterExpression, want)
	}
	state, ok := input.ExpressionAttributeValues[":state"].(*types.AttributeValueMemberS)
	if !ok || state.Value != "FAILED" {
		t.Error("expected :state value FAILED")
	}
	if input.Limit == nil || *input.Limit != 10 {
		t.Error("expected limit 10")
	}
}

func TestDynamoListWithoutFilter(t *testing.T) {
	client := &stubDynamo{scanOutput: &dynamodb.ScanOutput{}}
	backend := archive.NewDynamoDBBackendWithClient(client, testDynamoConfig(), nil)

	if _, err := backend.List(context.Background(), nil); err != nil {
		t.Fatalf("List() error = %v", err)
	}

	input := client.scanInputs[0]
	if input.FilterExpression != nil {
		t.Error("expected no filter expression for nil filter")
	}
	if input.Limit != nil {
		t.Error("expected no limit for nil filter")
	}
}

func TestDynamoExportSplitsBatches(t *testing.T) {
	client := &stubDynamo{}
	backend := archive.NewDynamoDBBackendWithClient(client, testDynamoConfig(), nil)

	records := make([]*archive.RunRecord, 60)
	for i := range records {
		records[i] = &archive.RunRecord{
			RunID:    fmt.Sprintf("run-%d", i),
			Pipeline: "web",
			State:    "SUCCESS",
		}
	}

	if err := backend.Export(context.Background(), records); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if len(client.batchInputs) != 3 {
		t.Fatalf("expected 3 BatchWriteItem calls, got %d", len(client.batchInputs))
	}
	sizes := []int{25, 25, 10}
	for i, want := range sizes {
		got := len(client.batchInputs[i].RequestItems["test-table"])
		if got != want {
			t.Errorf("batch %d has %d items, want %d", i, got, want)
		}
	}
}

func TestDynamoHealthCheckTableMissing(t *testing.T) {
	client := &stubDynamo{
		describeErr: &types.ResourceNotFoundException{
			Message: aws.String("Table not found"),
		},
	}
	backend := archive.NewDynamoDBBackendWithClient(client, testDynamoConfig(), nil)

	err := backend.HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected error for missing table")
	}

	var storageErr *archive.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %T", err)
	}
	if storageErr.Code != "TABLE_NOT_FOUND" {
		t.Errorf("code = %s, want TABLE_NOT_FOUND", storageErr.Code)
	}
}
