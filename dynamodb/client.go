//nolint:nilnil
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/docmgr/docstore/store"
	"go.uber.org/zap"
)

var _ store.Store = (*Client)(nil)

// Client is a DynamoDB-backed implementation of [store.Store]. It uses a
// single-table design keyed by PK/SK with two Global Secondary Indexes,
// [store.IndexGSI1] and [store.IndexGSI2].
//
// Use [New] to create a Client, [Client.Connect] to initialize the underlying
// DynamoDB connection, and [Client.Init] to validate the table schema.
type Client struct {
	client    API
	tableName string
	awsCfg    *aws.Config
	opts      *Options
}

// New creates a new Client configured with the given AWS config, table name,
// and optional options. Call [Client.Connect] on the returned client before use.
func New(awsCfg *aws.Config, tableName string, opts ...Option) *Client {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	return &Client{
		awsCfg:    awsCfg,
		tableName: tableName,
		opts:      options,
	}
}

// Connect initializes the DynamoDB client from the AWS config provided to [New].
// It must be called before any other Client methods, and must complete before
// the Client is used concurrently.
//
// The SDK client retries throttling and other retryable errors with the
// standard retryer, bounded by [WithMaxAttempts] and [WithMaxBackoff].
func (c *Client) Connect() error {
	if err := c.opts.validate(); err != nil {
		return fmt.Errorf("invalid DynamoDB options: %w", err)
	}

	if c.tableName == "" {
		return errors.New("table name cannot be empty")
	}

	// Use injected DynamoDB API if provided (useful for testing).
	if c.opts.dynamoDBAPI != nil {
		c.client = c.opts.dynamoDBAPI
		return nil
	}

	if c.awsCfg == nil {
		return errors.New("AWS config cannot be nil")
	}

	c.client = dynamodb.NewFromConfig(*c.awsCfg, func(o *dynamodb.Options) {
		o.Retryer = retry.AddWithMaxBackoffDelay(
			retry.AddWithMaxAttempts(retry.NewStandard(), c.opts.maxAttempts),
			c.opts.maxBackoff,
		)

		if c.opts.endpoint != "" {
			o.BaseEndpoint = aws.String(c.opts.endpoint)
		}
	})

	return nil
}

// Init validates the DynamoDB table schema. It checks that the table exists,
// has the correct partition key (PK) and sort key (SK), has TTL enabled on the
// TTL attribute, and that both Global Secondary Indexes ([store.IndexGSI1]
// and [store.IndexGSI2]) are present, active and project all attributes.
//
// Pass skipSchemaValidation true to skip all checks and return immediately,
// which is useful when schema validation is managed separately.
func (c *Client) Init(ctx context.Context, skipSchemaValidation bool) error {
	if skipSchemaValidation {
		return nil
	}

	input := &dynamodb.DescribeTableInput{
		TableName: aws.String(c.tableName),
	}

	response, err := c.client.DescribeTable(ctx, input)
	if err != nil {
		var notFoundError *dynamodbtypes.ResourceNotFoundException
		if errors.As(err, &notFoundError) {
			return fmt.Errorf("table %s does not exist", c.tableName)
		}
		return fmt.Errorf("failed to describe table %s: %w", c.tableName, err)
	}

	if response.Table == nil || len(response.Table.KeySchema) < 1 {
		return fmt.Errorf("table %s has no key schema", c.tableName)
	}

	if aws.ToString(response.Table.KeySchema[0].AttributeName) != store.PartitionKey {
		return fmt.Errorf("table %s has partition key %s, expected %s", c.tableName, aws.ToString(response.Table.KeySchema[0].AttributeName), store.PartitionKey)
	}

	if len(response.Table.KeySchema) < 2 {
		return fmt.Errorf("table %s has a simple primary key, expected composite", c.tableName)
	}

	if aws.ToString(response.Table.KeySchema[1].AttributeName) != store.SortKey {
		return fmt.Errorf("table %s has sort key %s, expected %s", c.tableName, aws.ToString(response.Table.KeySchema[1].AttributeName), store.SortKey)
	}

	if response.Table.TableStatus != dynamodbtypes.TableStatusActive {
		return fmt.Errorf("table %s is not active (status: %s)", c.tableName, response.Table.TableStatus)
	}

	ttlInput := &dynamodb.DescribeTimeToLiveInput{
		TableName: aws.String(c.tableName),
	}

	ttlResponse, err := c.client.DescribeTimeToLive(ctx, ttlInput)
	if err != nil {
		return fmt.Errorf("failed to describe TTL of table %s: %w", c.tableName, err)
	}

	if ttlResponse.TimeToLiveDescription == nil {
		return fmt.Errorf("table %s has no TTL description", c.tableName)
	}

	if ttlResponse.TimeToLiveDescription.TimeToLiveStatus != dynamodbtypes.TimeToLiveStatusEnabled {
		return fmt.Errorf("table %s has TTL status %s (expected %s)", c.tableName, ttlResponse.TimeToLiveDescription.TimeToLiveStatus, dynamodbtypes.TimeToLiveStatusEnabled)
	}

	if aws.ToString(ttlResponse.TimeToLiveDescription.AttributeName) != store.TTLAttr {
		return fmt.Errorf("TTL attribute name for table %s is %s, expected %s", c.tableName, aws.ToString(ttlResponse.TimeToLiveDescription.AttributeName), store.TTLAttr)
	}

	// Exact tag matches and queued actions.
	if err := verifySecondaryIndex(response.Table, string(store.IndexGSI1), store.GSI1PartitionKey, store.GSI1SortKey); err != nil {
		return err
	}

	// Tag values by key and actions by status.
	if err := verifySecondaryIndex(response.Table, string(store.IndexGSI2), store.GSI2PartitionKey, store.GSI2SortKey); err != nil {
		return err
	}

	return nil
}

// DropAllData deletes every item from the DynamoDB table. It scans the table
// in pages and removes each page using BatchWriteItem with exponential backoff
// for unprocessed items.
//
// This method is intended for use in tests only. Do not call it in production.
func (c *Client) DropAllData(ctx context.Context) error {
	input := &dynamodb.ScanInput{
		TableName: aws.String(c.tableName),
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		output, err := c.client.Scan(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to scan DynamoDB table %s: %w", c.tableName, err)
		}

		requests := make([]dynamodbtypes.WriteRequest, 0, len(output.Items))

		for _, item := range output.Items {
			requests = append(requests, deleteRequest(store.Item(item).Key()))
		}

		if err := c.batchWrite(ctx, requests, "drop all data"); err != nil {
			return err
		}

		if output.LastEvaluatedKey == nil {
			break
		}

		input.ExclusiveStartKey = output.LastEvaluatedKey
	}

	return nil
}

// Get returns the item with the given key, or (nil, nil) if it does not exist.
func (c *Client) Get(ctx context.Context, key store.Key) (store.Item, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	input := &dynamodb.GetItemInput{
		TableName:      &c.tableName,
		Key:            key.Item(),
		ConsistentRead: aws.Bool(c.opts.consistentRead),
	}

	output, err := c.client.GetItem(ctx, input)
	if err != nil {
		return nil, c.wrap("get item", err)
	}

	if len(output.Item) == 0 {
		return nil, nil
	}

	return output.Item, nil
}

// Exists reports whether an item with the given key exists. Only the
// partition key is read.
func (c *Client) Exists(ctx context.Context, key store.Key) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	expr, err := expression.NewBuilder().
		WithProjection(expression.NamesList(expression.Name(store.PartitionKey))).
		Build()
	if err != nil {
		return false, fmt.Errorf("failed to build projection expression: %w", err)
	}

	input := &dynamodb.GetItemInput{
		TableName:                &c.tableName,
		Key:                      key.Item(),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
		ConsistentRead:           aws.Bool(c.opts.consistentRead),
	}

	output, err := c.client.GetItem(ctx, input)
	if err != nil {
		return false, c.wrap("get item", err)
	}

	return len(output.Item) > 0, nil
}

// BatchGet returns the items that exist for the given keys. Unprocessed keys
// are resubmitted with exponential backoff.
func (c *Client) BatchGet(ctx context.Context, keys []store.Key) ([]store.Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	if len(keys) > store.MaxBatchGetKeys {
		return nil, fmt.Errorf("batch get accepts at most %d keys, got %d", store.MaxBatchGetKeys, len(keys))
	}

	requestKeys := make([]map[string]dynamodbtypes.AttributeValue, 0, len(keys))

	for _, key := range keys {
		if err := validateKey(key); err != nil {
			return nil, err
		}

		requestKeys = append(requestKeys, key.Item())
	}

	input := &dynamodb.BatchGetItemInput{
		RequestItems: map[string]dynamodbtypes.KeysAndAttributes{
			c.tableName: {
				Keys:           requestKeys,
				ConsistentRead: aws.Bool(c.opts.consistentRead),
			},
		},
	}

	items := make([]store.Item, 0, len(keys))
	backoff := c.opts.unprocessedBackoff

	for attempt := 0; ; attempt++ {
		output, err := c.client.BatchGetItem(ctx, input)
		if err != nil {
			return nil, c.wrap("batch get items", err)
		}

		for _, item := range output.Responses[c.tableName] {
			items = append(items, item)
		}

		unprocessed := len(output.UnprocessedKeys[c.tableName].Keys)
		if unprocessed == 0 {
			return items, nil
		}

		if attempt == c.opts.unprocessedRetries {
			return nil, fmt.Errorf("%w: %d unprocessed keys after %d retries", store.ErrTransient, unprocessed, c.opts.unprocessedRetries)
		}

		c.opts.logger.Debug("Retrying unprocessed batch get keys",
			zap.String("table", c.tableName),
			zap.Int("count", unprocessed),
			zap.Int("attempt", attempt+1),
		)

		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}

		backoff = min(backoff*2, c.opts.maxBackoff)
		input.RequestItems = output.UnprocessedKeys
	}
}

// Put unconditionally writes the item.
func (c *Client) Put(ctx context.Context, item store.Item) error {
	if err := validateKey(item.Key()); err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName: &c.tableName,
		Item:      item,
	}

	if _, err := c.client.PutItem(ctx, input); err != nil {
		return c.wrap("put item", err)
	}

	return nil
}

// PutBatch writes the items in groups of up to 25 using BatchWriteItem, with
// exponential backoff for any unprocessed items. A single item is written
// with PutItem.
func (c *Client) PutBatch(ctx context.Context, items []store.Item) error {
	if len(items) == 0 {
		return nil
	}

	if len(items) == 1 {
		return c.Put(ctx, items[0])
	}

	requests := make([]dynamodbtypes.WriteRequest, 0, len(items))

	for _, item := range items {
		if err := validateKey(item.Key()); err != nil {
			return err
		}

		requests = append(requests, dynamodbtypes.WriteRequest{
			PutRequest: &dynamodbtypes.PutRequest{Item: item},
		})
	}

	return c.batchWrite(ctx, requests, "batch write items")
}

// PutIf writes the item only if cond holds for the current item.
func (c *Client) PutIf(ctx context.Context, item store.Item, cond store.Condition) error {
	if err := validateKey(item.Key()); err != nil {
		return err
	}

	expr, err := conditionExpression(cond)
	if err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName:                 &c.tableName,
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	if _, err := c.client.PutItem(ctx, input); err != nil {
		return c.wrap("conditionally put item", err)
	}

	return nil
}

// Increment atomically adds delta to a numeric attribute with an ADD update
// expression, which creates the item when it does not exist.
func (c *Client) Increment(ctx context.Context, key store.Key, attr string, delta int64) (int64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}

	expr, err := expression.NewBuilder().
		WithUpdate(expression.Add(expression.Name(attr), expression.Value(delta))).
		Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build update expression: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 &c.tableName,
		Key:                       key.Item(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              dynamodbtypes.ReturnValueUpdatedNew,
	}

	output, err := c.client.UpdateItem(ctx, input)
	if err != nil {
		return 0, c.wrap("increment counter", err)
	}

	n, ok := output.Attributes[attr].(*dynamodbtypes.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("counter %s of %s missing from update result", attr, key)
	}

	value, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse counter %s of %s: %w", attr, key, err)
	}

	return value, nil
}

// Delete removes the item. It is a no-op if the item does not exist.
func (c *Client) Delete(ctx context.Context, key store.Key) error {
	if err := validateKey(key); err != nil {
		return err
	}

	input := &dynamodb.DeleteItemInput{
		TableName: &c.tableName,
		Key:       key.Item(),
	}

	if _, err := c.client.DeleteItem(ctx, input); err != nil {
		return c.wrap("delete item", err)
	}

	return nil
}

// DeleteIf removes the item only if cond holds for the current item.
func (c *Client) DeleteIf(ctx context.Context, key store.Key, cond store.Condition) error {
	if err := validateKey(key); err != nil {
		return err
	}

	expr, err := conditionExpression(cond)
	if err != nil {
		return err
	}

	input := &dynamodb.DeleteItemInput{
		TableName:                 &c.tableName,
		Key:                       key.Item(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	if _, err := c.client.DeleteItem(ctx, input); err != nil {
		return c.wrap("conditionally delete item", err)
	}

	return nil
}

// DeleteBatch removes the items in groups of up to 25 using BatchWriteItem.
func (c *Client) DeleteBatch(ctx context.Context, keys []store.Key) error {
	requests := make([]dynamodbtypes.WriteRequest, 0, len(keys))

	for _, key := range keys {
		if err := validateKey(key); err != nil {
			return err
		}

		requests = append(requests, deleteRequest(key))
	}

	return c.batchWrite(ctx, requests, "batch delete items")
}

// DeleteBeginsWith enumerates every item of partition pk whose sort key
// starts with skPrefix, then deletes them in batches.
func (c *Client) DeleteBeginsWith(ctx context.Context, pk, skPrefix string) error {
	q := store.Query{PK: pk}
	if skPrefix != "" {
		q = store.BeginsWith(pk, skPrefix)
	}

	var keys []store.Key

	for {
		page, err := c.Query(ctx, q)
		if err != nil {
			return err
		}

		for _, item := range page.Items {
			keys = append(keys, item.Key())
		}

		if page.LastEvaluatedKey == nil {
			break
		}

		q.StartKey = page.LastEvaluatedKey
	}

	return c.DeleteBatch(ctx, keys)
}

// Query returns one page of a partition of the table or of a secondary index.
func (c *Client) Query(ctx context.Context, q store.Query) (*store.Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	pkAttr, skAttr := q.Index.KeyAttributes()

	keyCond := expression.Key(pkAttr).Equal(expression.Value(q.PK))

	switch q.SortOp {
	case store.SortEqual:
		keyCond = keyCond.And(expression.Key(skAttr).Equal(expression.Value(q.SK)))
	case store.SortBeginsWith:
		keyCond = keyCond.And(expression.Key(skAttr).BeginsWith(q.SK))
	case store.SortBetween:
		keyCond = keyCond.And(expression.Key(skAttr).Between(expression.Value(q.SK), expression.Value(q.SKHigh)))
	case store.SortAny:
	}

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build key condition: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 &c.tableName,
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ExclusiveStartKey:         q.StartKey,
		Limit:                     aws.Int32(q.EffectiveLimit()),
		ScanIndexForward:          aws.Bool(!q.Descending),
	}

	if q.Index == store.IndexTable {
		input.ConsistentRead = aws.Bool(c.opts.consistentRead)
	} else {
		input.IndexName = aws.String(string(q.Index))
	}

	output, err := c.client.Query(ctx, input)
	if err != nil {
		return nil, c.wrap("query", err)
	}

	page := &store.Page{Items: make([]store.Item, 0, len(output.Items))}

	for _, item := range output.Items {
		page.Items = append(page.Items, item)
	}

	if len(output.LastEvaluatedKey) > 0 {
		page.LastEvaluatedKey = output.LastEvaluatedKey
	}

	return page, nil
}

func (c *Client) batchWrite(ctx context.Context, requests []dynamodbtypes.WriteRequest, op string) error {
	for start := 0; start < len(requests); start += store.MaxBatchWriteItems {
		end := min(start+store.MaxBatchWriteItems, len(requests))

		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]dynamodbtypes.WriteRequest{
				c.tableName: requests[start:end],
			},
		}

		// Retry with exponential backoff for unprocessed items.
		backoff := c.opts.unprocessedBackoff

		for attempt := 0; ; attempt++ {
			result, err := c.client.BatchWriteItem(ctx, input)
			if err != nil {
				return c.wrap(op, err)
			}

			unprocessed := len(result.UnprocessedItems[c.tableName])
			if unprocessed == 0 {
				break
			}

			if attempt == c.opts.unprocessedRetries {
				return fmt.Errorf("%w: %d unprocessed items after %d retries in %s", store.ErrTransient, unprocessed, c.opts.unprocessedRetries, op)
			}

			c.opts.logger.Debug("Retrying unprocessed batch write items",
				zap.String("table", c.tableName),
				zap.String("operation", op),
				zap.Int("count", unprocessed),
				zap.Int("attempt", attempt+1),
			)

			if err := sleep(ctx, backoff); err != nil {
				return err
			}

			backoff = min(backoff*2, c.opts.maxBackoff)
			input.RequestItems = result.UnprocessedItems
		}
	}

	return nil
}

// wrap adds table context to an API error and classifies it. Condition
// failures become [store.ErrPreconditionFailed]; errors that survived the SDK
// retryer become [store.ErrTransient].
func (c *Client) wrap(op string, err error) error {
	var conditionFailed *dynamodbtypes.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return fmt.Errorf("%w: failed to %s in DynamoDB table %s: %w", store.ErrPreconditionFailed, op, c.tableName, err)
	}

	if isTransient(err) {
		c.opts.logger.Warn("DynamoDB retry budget exhausted",
			zap.String("table", c.tableName),
			zap.String("operation", op),
			zap.Error(err),
		)

		return fmt.Errorf("%w: failed to %s in DynamoDB table %s: %w", store.ErrTransient, op, c.tableName, err)
	}

	return fmt.Errorf("failed to %s in DynamoDB table %s: %w", op, c.tableName, err)
}

func isTransient(err error) bool {
	var maxAttempts *retry.MaxAttemptsError
	if errors.As(err, &maxAttempts) {
		return true
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.ErrorCode() {
	case "ProvisionedThroughputExceededException",
		"ThrottlingException",
		"RequestLimitExceeded",
		"InternalServerError",
		"ServiceUnavailable",
		"TransactionConflictException":
		return true
	default:
		return false
	}
}

func conditionExpression(cond store.Condition) (expression.Expression, error) {
	builder, err := conditionBuilder(cond)
	if err != nil {
		return expression.Expression{}, err
	}

	expr, err := expression.NewBuilder().WithCondition(builder).Build()
	if err != nil {
		return expression.Expression{}, fmt.Errorf("failed to build condition expression: %w", err)
	}

	return expr, nil
}

func conditionBuilder(cond store.Condition) (expression.ConditionBuilder, error) {
	switch cond.Op {
	case store.OpAttributeExists:
		return expression.Name(cond.Attr).AttributeExists(), nil
	case store.OpAttributeNotExists:
		return expression.Name(cond.Attr).AttributeNotExists(), nil
	case store.OpEqual:
		return expression.Name(cond.Attr).Equal(expression.Value(cond.Value)), nil
	case store.OpLessThan:
		return expression.Name(cond.Attr).LessThan(expression.Value(cond.Value)), nil
	case store.OpAnd, store.OpOr:
		if len(cond.Terms) == 0 {
			return expression.ConditionBuilder{}, errors.New("condition has no terms")
		}

		terms := make([]expression.ConditionBuilder, 0, len(cond.Terms))

		for _, t := range cond.Terms {
			b, err := conditionBuilder(t)
			if err != nil {
				return expression.ConditionBuilder{}, err
			}

			terms = append(terms, b)
		}

		if len(terms) == 1 {
			return terms[0], nil
		}

		if cond.Op == store.OpAnd {
			return expression.And(terms[0], terms[1], terms[2:]...), nil
		}

		return expression.Or(terms[0], terms[1], terms[2:]...), nil
	default:
		return expression.ConditionBuilder{}, fmt.Errorf("unknown condition operator %d", cond.Op)
	}
}

func verifySecondaryIndex(table *dynamodbtypes.TableDescription, indexName, partitionKey, sortKey string) error {
	for _, index := range table.GlobalSecondaryIndexes {
		if aws.ToString(index.IndexName) != indexName {
			continue
		}

		if len(index.KeySchema) == 0 || aws.ToString(index.KeySchema[0].AttributeName) != partitionKey {
			return fmt.Errorf("global secondary index %s has unexpected partition key, expected %s", indexName, partitionKey)
		}

		if len(index.KeySchema) != 2 {
			return fmt.Errorf("global secondary index %s has a simple primary key, expected a composite primary key", indexName)
		}

		if aws.ToString(index.KeySchema[1].AttributeName) != sortKey {
			return fmt.Errorf("global secondary index %s has sort key %s, expected %s", indexName, aws.ToString(index.KeySchema[1].AttributeName), sortKey)
		}

		if index.IndexStatus != dynamodbtypes.IndexStatusActive {
			return fmt.Errorf("global secondary index %s is not active (status: %s)", indexName, index.IndexStatus)
		}

		if index.Projection == nil || index.Projection.ProjectionType != dynamodbtypes.ProjectionTypeAll {
			return fmt.Errorf("global secondary index %s must project all attributes", indexName)
		}

		return nil
	}

	return fmt.Errorf("global secondary index %s not found", indexName)
}

func validateKey(key store.Key) error {
	if key.PK == "" || key.SK == "" {
		return fmt.Errorf("%w: %s and %s cannot be empty", store.ErrInvalidKey, store.PartitionKey, store.SortKey)
	}

	return nil
}

func deleteRequest(key store.Key) dynamodbtypes.WriteRequest {
	return dynamodbtypes.WriteRequest{
		DeleteRequest: &dynamodbtypes.DeleteRequest{Key: key.Item()},
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
