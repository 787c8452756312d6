package archive

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/gantryci/gantry/pkg/config"
	"github.com/gantryci/gantry/pkg/logger"
)

//counterfeiter:generate . DynamoDBAPI

// DynamoDBAPI captures the DynamoDB operations the backend uses
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// dynamoBackend implements Backend using AWS DynamoDB
type dynamoBackend struct {
	client DynamoDBAPI
	cfg    config.DynamoDBConfig
	logger *logger.Logger
}

// NewDynamoDBBackend creates a new DynamoDB archive backend
func NewDynamoDBBackend(cfg config.DynamoDBConfig, log *logger.Logger) (Backend, error) {
	if log == nil {
		log = logger.New()
	}
	log = log.WithField("component", "archive-dynamodb")

	if cfg.TableName == "" {
		return nil, &StorageError{Code: "INVALID_CONFIG", Message: "DynamoDB table name is required"}
	}

	ctx := context.Background()

	awsCfg, err := loadAWSConfig(ctx, cfg.Region, log)
	if err != nil {
		return nil, &StorageError{Code: "AWS_CONFIG", Message: "failed to load AWS configuration", Err: err}
	}

	backend := &dynamoBackend{
		client: dynamodb.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: log,
	}

	// Verify table exists before accepting writes
	if err := backend.HealthCheck(ctx); err != nil {
		return nil, err
	}

	log.Info("DynamoDB archive initialized", "table", cfg.TableName, "region", awsCfg.Region)

	return backend, nil
}

// NewDynamoDBBackendWithClient creates a DynamoDB backend with an injected client (for testing)
func NewDynamoDBBackendWithClient(client DynamoDBAPI, cfg config.DynamoDBConfig, log *logger.Logger) Backend {
	if log == nil {
		log = logger.New()
	}
	return &dynamoBackend{
		client: client,
		cfg:    cfg,
		logger: log.WithField("component", "archive-dynamodb"),
	}
}

func (d *dynamoBackend) Put(ctx context.Context, rec *RunRecord) error {
	item := recordToItem(rec, d.ttlAttribute(), d.ttlDays())

	// PutItem with condition: archived runs are immutable
	input := &dynamodb.PutItemInput{
		TableName:           aws.String(d.cfg.TableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(runId)"),
	}

	if _, err := d.client.PutItem(ctx, input); err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			return ErrRecordExists
		}
		return &StorageError{Code: "DYNAMODB_ERROR", Message: "failed to archive run", Err: err}
	}

	return nil
}

func (d *dynamoBackend) Get(ctx context.Context, runID string) (*RunRecord, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(d.cfg.TableName),
		Key: map[string]types.AttributeValue{
			"runId": &types.AttributeValueMemberS{Value: runID},
		},
	}

	result, err := d.client.GetItem(ctx, input)
	if err != nil {
		return nil, &StorageError{Code: "DYNAMODB_ERROR", Message: "failed to get run record", Err: err}
	}

	if result.Item == nil {
		return nil, ErrRecordNotFound
	}

	rec, err := itemToRecord(result.Item)
	if err != nil {
		return nil, &StorageError{Code: "UNMARSHAL_ERROR", Message: "failed to unmarshal run record", Err: err}
	}

	return rec, nil
}

func (d *dynamoBackend) List(ctx context.Context, filter *Filter) ([]*RunRecord, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(d.cfg.TableName),
	}

	// Apply filter expression for state and pipeline
	var clauses []string
	values := make(map[string]types.AttributeValue)
	if filter != nil && filter.State != "" {
		clauses = append(clauses, "runState = :state")
		values[":state"] = &types.AttributeValueMemberS{Value: filter.State}
	}
	if filter != nil && filter.Pipeline != "" {
		clauses = append(clauses, "pipeline = :pipeline")
		values[":pipeline"] = &types.AttributeValueMemberS{Value: filter.Pipeline}
	}
	if len(clauses) > 0 {
		input.FilterExpression = aws.String(strings.Join(clauses, " AND "))
		input.ExpressionAttributeValues = values
	}

	if filter != nil && filter.Limit > 0 {
		input.Limit = aws.Int32(int32(filter.Limit))
	}

	result, err := d.client.Scan(ctx, input)
	if err != nil {
		return nil, &StorageError{Code: "DYNAMODB_ERROR", Message: "failed to scan run records", Err: err}
	}

	var records []*RunRecord
	for _, item := range result.Items {
		rec, err := itemToRecord(item)
		if err != nil {
			d.logger.Debug("skipping malformed archive item", "error", err)
			continue
		}
		records = append(records, rec)
	}

	if filter != nil && filter.SortBy != "" {
		sortRecords(records, filter.SortBy, filter.SortDesc)
	}

	return records, nil
}

func (d *dynamoBackend) Export(ctx context.Context, records []*RunRecord) error {
	// BatchWriteItem accepts at most 25 items per request
	batchSize := d.cfg.BatchSize
	if batchSize <= 0 || batchSize > 25 {
		batchSize = 25
	}

	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}

		if err := d.writeBatch(ctx, records[i:end]); err != nil {
			return err
		}
	}

	return nil
}

func (d *dynamoBackend) writeBatch(ctx context.Context, records []*RunRecord) error {
	writeRequests := make([]types.WriteRequest, 0, len(records))

	for _, rec := range records {
		item := recordToItem(rec, d.ttlAttribute(), d.ttlDays())
		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{
				Item: item,
			},
		})
	}

	input := &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			d.cfg.TableName: writeRequests,
		},
	}

	if _, err := d.client.BatchWriteItem(ctx, input); err != nil {
		return &StorageError{Code: "DYNAMODB_ERROR", Message: "failed to batch write run records", Err: err}
	}

	return nil
}

func (d *dynamoBackend) Close() error {
	// No cleanup needed for the DynamoDB client
	return nil
}

func (d *dynamoBackend) HealthCheck(ctx context.Context) error {
	input := &dynamodb.DescribeTableInput{
		TableName: aws.String(d.cfg.TableName),
	}

	if _, err := d.client.DescribeTable(ctx, input); err != nil {
		return &StorageError{Code: "TABLE_NOT_FOUND", Message: "DynamoDB table not accessible", Err: err}
	}

	return nil
}

func (d *dynamoBackend) ttlDays() int {
	if !d.cfg.TTLEnabled {
		return 0
	}
	return d.cfg.TTLDays
}

func (d *dynamoBackend) ttlAttribute() string {
	if d.cfg.TTLAttribute == "" {
		return "expiresAt"
	}
	return d.cfg.TTLAttribute
}

// Helper functions

func loadAWSConfig(ctx context.Context, region string, log *logger.Logger) (aws.Config, error) {
	// Auto-detect region from EC2 metadata if not specified
	if region == "" {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err == nil {
			client := imds.NewFromConfig(cfg)
			resp, err := client.GetRegion(ctx, &imds.GetRegionInput{})
			if err == nil {
				region = resp.Region
				log.Info("auto-detected AWS region from EC2 metadata", "region", region)
			} else {
				log.Warn("failed to auto-detect AWS region, relying on the default chain", "error", err)
			}
		}
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func recordToItem(rec *RunRecord, ttlAttr string, ttlDays int) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"runId":     &types.AttributeValueMemberS{Value: rec.RunID},
		"pipeline":  &types.AttributeValueMemberS{Value: rec.Pipeline},
		"runState":  &types.AttributeValueMemberS{Value: rec.State},
		"jobsTotal": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.JobsTotal)},
	}

	if rec.Ref != "" {
		item["ref"] = &types.AttributeValueMemberS{Value: rec.Ref}
	}
	if rec.Source != "" {
		item["source"] = &types.AttributeValueMemberS{Value: rec.Source}
	}

	// Timestamps
	if !rec.CreatedAt.IsZero() {
		item["createdAt"] = &types.AttributeValueMemberS{Value: rec.CreatedAt.Format(time.RFC3339)}
	}
	if !rec.StartedAt.IsZero() {
		item["startedAt"] = &types.AttributeValueMemberS{Value: rec.StartedAt.Format(time.RFC3339)}
	}
	if !rec.FinishedAt.IsZero() {
		item["finishedAt"] = &types.AttributeValueMemberS{Value: rec.FinishedAt.Format(time.RFC3339)}
	}

	// Job counters, absent means zero
	if rec.JobsSucceeded > 0 {
		item["jobsSucceeded"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.JobsSucceeded)}
	}
	if rec.JobsFailed > 0 {
		item["jobsFailed"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.JobsFailed)}
	}
	if rec.JobsSkipped > 0 {
		item["jobsSkipped"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.JobsSkipped)}
	}

	if rec.FailureSummary != "" {
		item["failureSummary"] = &types.AttributeValueMemberS{Value: rec.FailureSummary}
	}

	// TTL attribute (unix timestamp when the item should expire)
	if ttlDays > 0 {
		expiresAt := time.Now().Add(time.Duration(ttlDays) * 24 * time.Hour).Unix()
		item[ttlAttr] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt)}
	}

	return item
}

func itemToRecord(item map[string]types.AttributeValue) (*RunRecord, error) {
	id, ok := item["runId"].(*types.AttributeValueMemberS)
	if !ok || id.Value == "" {
		return nil, fmt.Errorf("item is missing the runId attribute")
	}

	rec := &RunRecord{RunID: id.Value}

	if v, ok := item["pipeline"].(*types.AttributeValueMemberS); ok {
		rec.Pipeline = v.Value
	}
	if v, ok := item["runState"].(*types.AttributeValueMemberS); ok {
		rec.State = v.Value
	}
	if v, ok := item["ref"].(*types.AttributeValueMemberS); ok {
		rec.Ref = v.Value
	}
	if v, ok := item["source"].(*types.AttributeValueMemberS); ok {
		rec.Source = v.Value
	}

	// Parse timestamps
	if v, ok := item["createdAt"].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			rec.CreatedAt = t
		}
	}
	if v, ok := item["startedAt"].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			rec.StartedAt = t
		}
	}
	if v, ok := item["finishedAt"].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			rec.FinishedAt = t
		}
	}

	// Parse job counters
	if v, ok := item["jobsTotal"].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.Atoi(v.Value); err == nil {
			rec.JobsTotal = n
		}
	}
	if v, ok := item["jobsSucceeded"].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.Atoi(v.Value); err == nil {
			rec.JobsSucceeded = n
		}
	}
	if v, ok := item["jobsFailed"].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.Atoi(v.Value); err == nil {
			rec.JobsFailed = n
		}
	}
	if v, ok := item["jobsSkipped"].(*types.AttributeValueMemberN); ok {
		if n, err := strconv.Atoi(v.Value); err == nil {
			rec.JobsSkipped = n
		}
	}

	if v, ok := item["failureSummary"].(*types.AttributeValueMemberS); ok {
		rec.FailureSummary = v.Value
	}

	return rec, nil
}
