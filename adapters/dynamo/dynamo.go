// Package dynamo provides a store.Adapter backed by a single DynamoDB table
// keyed by a string hash key.
//
// Filtering, search, sorting and pagination run client-side over Scan
// results. Items whose TTL attribute has passed are hidden from every read,
// so setting the TTL through an update is a soft delete.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/strata/internal/match"
	"github.com/jacentio/strata/store"
)

// batchSize is the BatchWriteItem request limit.
const batchSize = 25

// API is the subset of the DynamoDB client the adapter uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error)
}

// Config holds configuration for the Adapter.
type Config struct {
	Client API
	Table  string

	// IDField is the table's hash key.
	// Default: "id"
	IDField string

	// TTLField holds the expiry as Unix seconds.
	// Default: "ttl"
	TTLField string

	// Now is used for TTL checks. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) validate() {
	if c.IDField == "" {
		c.IDField = "id"
	}
	if c.TTLField == "" {
		c.TTLField = "ttl"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Adapter implements store.Adapter over one DynamoDB table.
type Adapter struct {
	config Config
}

// New creates a new Adapter.
func New(config Config) *Adapter {
	config.validate()
	return &Adapter{config: config}
}

// NewClient builds a DynamoDB client from the default AWS configuration
// chain. An empty region or endpoint keeps the SDK default.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Connect verifies the table exists.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.config.Client == nil {
		return errors.New("dynamo: no client configured")
	}
	_, err := a.config.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(a.config.Table),
	})
	if err != nil {
		return fmt.Errorf("describe table %s: %w", a.config.Table, err)
	}
	return nil
}

// Find scans the table and applies the query client-side.
func (a *Adapter) Find(ctx context.Context, q *store.Query) ([]store.Entity, error) {
	docs, err := a.scan(ctx, q)
	if err != nil {
		return nil, err
	}
	match.Sort(docs, q.Sort)
	return match.Page(docs, q.Offset, q.Limit), nil
}

// FindOne returns the first matching entity, or nil. A filter on the hash
// key alone becomes a GetItem.
func (a *Adapter) FindOne(ctx context.Context, filter store.Filter) (store.Entity, error) {
	if id, ok := a.keyOnly(filter); ok {
		return a.get(ctx, id)
	}
	docs, err := a.scan(ctx, &store.Query{Filter: filter, Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// keyOnly reports whether filter is a plain equality on the hash key.
func (a *Adapter) keyOnly(filter store.Filter) (any, bool) {
	if len(filter) != 1 {
		return nil, false
	}
	id, ok := filter[a.config.IDField]
	if !ok || id == nil {
		return nil, false
	}
	if _, isOp := id.(map[string]any); isOp {
		return nil, false
	}
	return id, true
}

func (a *Adapter) get(ctx context.Context, id any) (store.Entity, error) {
	key, err := a.key(id)
	if err != nil {
		return nil, err
	}
	out, err := a.config.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(a.config.Table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if out.Item == nil || IsExpired(out.Item, a.config.TTLField, a.config.Now()) {
		return nil, nil
	}
	return unmarshal(out.Item)
}

// FindStream streams scan pages lazily. Sorted queries are materialized
// first since order is only known after the full scan.
func (a *Adapter) FindStream(ctx context.Context, q *store.Query) (store.Cursor, error) {
	if len(q.Sort) > 0 {
		docs, err := a.Find(ctx, q)
		if err != nil {
			return nil, err
		}
		return store.NewSliceCursor(docs), nil
	}
	return &scanCursor{
		adapter:   a,
		query:     q,
		paginator: dynamodb.NewScanPaginator(a.config.Client, a.scanInput()),
	}, nil
}

// Count returns the number of visible entities matching q. Unfiltered
// counts use Select COUNT.
func (a *Adapter) Count(ctx context.Context, q *store.Query) (int64, error) {
	if len(q.Filter) > 0 || q.Search != "" {
		docs, err := a.scan(ctx, &store.Query{Filter: q.Filter, Search: q.Search, SearchFields: q.SearchFields})
		return int64(len(docs)), err
	}
	input := a.scanInput()
	input.Select = types.SelectCount
	var total int64
	paginator := dynamodb.NewScanPaginator(a.config.Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("scan: %w", err)
		}
		total += int64(page.Count)
	}
	return total, nil
}

// Insert writes e, generating a UUID id when missing.
func (a *Adapter) Insert(ctx context.Context, e store.Entity) (store.Entity, error) {
	doc := a.withID(e)
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	_, err = a.config.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(a.config.Table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": a.config.IDField},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, fmt.Errorf("%w: %v", store.ErrAlreadyExists, doc[a.config.IDField])
		}
		return nil, fmt.Errorf("put item: %w", err)
	}
	return doc, nil
}

// InsertMany writes es in BatchWriteItem chunks. Batch writes carry no
// conditions, so existing ids are overwritten.
func (a *Adapter) InsertMany(ctx context.Context, es []store.Entity) ([]store.Entity, error) {
	docs := make([]store.Entity, len(es))
	requests := make([]types.WriteRequest, len(es))
	for i, e := range es {
		docs[i] = a.withID(e)
		item, err := attributevalue.MarshalMap(docs[i])
		if err != nil {
			return nil, fmt.Errorf("marshal item %d: %w", i, err)
		}
		requests[i] = types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}
	}
	if err := a.batchWrite(ctx, requests); err != nil {
		return nil, err
	}
	return docs, nil
}

// UpdateByID merges patch into the stored item.
func (a *Adapter) UpdateByID(ctx context.Context, id any, patch store.Entity) (store.Entity, error) {
	key, err := a.key(id)
	if err != nil {
		return nil, err
	}

	// Build SET expression from patch attributes
	var setClauses []string
	exprNames := map[string]string{"#id": a.config.IDField}
	exprValues := map[string]types.AttributeValue{}
	i := 0
	for k, v := range patch {
		if k == a.config.IDField {
			continue
		}
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", k, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		exprNames[nameKey] = k
		exprValues[valueKey] = av
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
		i++
	}
	if len(setClauses) == 0 {
		doc, err := a.get(ctx, id)
		if err == nil && doc == nil {
			err = fmt.Errorf("%w: %v", store.ErrNotFound, id)
		}
		return doc, err
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(a.config.Table),
		Key:                       key,
		UpdateExpression:          aws.String("SET " + strings.Join(setClauses, ", ")),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
		ReturnValues:              types.ReturnValueAllNew,
	}
	out, err := a.config.Client.UpdateItem(ctx, input)
	if err != nil {
		return nil, a.writeErr("update item", id, err)
	}
	return unmarshal(out.Attributes)
}

// ReplaceByID overwrites the stored item, keeping its id.
func (a *Adapter) ReplaceByID(ctx context.Context, id any, e store.Entity) (store.Entity, error) {
	doc := e.Clone()
	if doc == nil {
		doc = store.Entity{}
	}
	doc[a.config.IDField] = id
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	_, err = a.config.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(a.config.Table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": a.config.IDField},
	})
	if err != nil {
		return nil, a.writeErr("put item", id, err)
	}
	return doc, nil
}

// RemoveByID deletes the item and returns its last state.
func (a *Adapter) RemoveByID(ctx context.Context, id any) (store.Entity, error) {
	key, err := a.key(id)
	if err != nil {
		return nil, err
	}
	out, err := a.config.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(a.config.Table),
		Key:                      key,
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": a.config.IDField},
		ReturnValues:             types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, a.writeErr("delete item", id, err)
	}
	return unmarshal(out.Attributes)
}

// Clear deletes every item, expired ones included.
func (a *Adapter) Clear(ctx context.Context) (int64, error) {
	paginator := dynamodb.NewScanPaginator(a.config.Client, &dynamodb.ScanInput{
		TableName:                aws.String(a.config.Table),
		ProjectionExpression:     aws.String("#id"),
		ExpressionAttributeNames: map[string]string{"#id": a.config.IDField},
	})
	var requests []types.WriteRequest
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("scan: %w", err)
		}
		for _, item := range page.Items {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{a.config.IDField: item[a.config.IDField]},
				},
			})
		}
	}
	if err := a.batchWrite(ctx, requests); err != nil {
		return 0, err
	}
	return int64(len(requests)), nil
}

// CreateIndex adds a global secondary index over the first one or two
// fields. DynamoDB cannot enforce uniqueness, so Unique is ignored.
func (a *Adapter) CreateIndex(ctx context.Context, idx store.Index) error {
	if len(idx.Fields) == 0 || len(idx.Fields) > 2 {
		return fmt.Errorf("dynamo: index needs one or two fields, got %d", len(idx.Fields))
	}
	name := idx.Name
	if name == "" {
		name = strings.Join(idx.Fields, "_") + "_index"
	}

	desc, err := a.config.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(a.config.Table),
	})
	if err != nil {
		return fmt.Errorf("describe table %s: %w", a.config.Table, err)
	}
	if desc.Table != nil {
		for _, gsi := range desc.Table.GlobalSecondaryIndexes {
			if aws.ToString(gsi.IndexName) == name {
				return nil
			}
		}
	}

	var (
		defs   []types.AttributeDefinition
		schema []types.KeySchemaElement
	)
	for i, field := range idx.Fields {
		keyType := types.KeyTypeHash
		if i == 1 {
			keyType = types.KeyTypeRange
		}
		defs = append(defs, types.AttributeDefinition{
			AttributeName: aws.String(field),
			AttributeType: types.ScalarAttributeTypeS,
		})
		schema = append(schema, types.KeySchemaElement{
			AttributeName: aws.String(field),
			KeyType:       keyType,
		})
	}

	_, err = a.config.Client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName:            aws.String(a.config.Table),
		AttributeDefinitions: defs,
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Create: &types.CreateGlobalSecondaryIndexAction{
				IndexName:  aws.String(name),
				KeySchema:  schema,
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// scanInput returns a Scan over visible items.
func (a *Adapter) scanInput() *dynamodb.ScanInput {
	return &dynamodb.ScanInput{
		TableName:                 aws.String(a.config.Table),
		FilterExpression:          aws.String(ttlFilterExpr),
		ExpressionAttributeNames:  mergeExprNames(ttlFilterNames(a.config.TTLField)),
		ExpressionAttributeValues: ttlFilterValues(a.config.Now()),
		ConsistentRead:            aws.Bool(true),
	}
}

// scan returns every visible entity matching q's filter and search.
func (a *Adapter) scan(ctx context.Context, q *store.Query) ([]store.Entity, error) {
	var docs []store.Entity
	paginator := dynamodb.NewScanPaginator(a.config.Client, a.scanInput())
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for _, item := range page.Items {
			doc, ok, err := a.decode(item, q)
			if err != nil {
				return nil, err
			}
			if ok {
				docs = append(docs, doc)
			}
		}
	}
	return docs, nil
}

// decode unmarshals item and reports whether it matches q.
func (a *Adapter) decode(item map[string]types.AttributeValue, q *store.Query) (store.Entity, bool, error) {
	if IsExpired(item, a.config.TTLField, a.config.Now()) {
		return nil, false, nil
	}
	doc, err := unmarshal(item)
	if err != nil {
		return nil, false, err
	}
	ok, err := match.Matches(doc, q.Filter)
	if err != nil || !ok {
		return nil, false, err
	}
	return doc, match.Search(doc, q.Search, q.SearchFields), nil
}

// batchWrite sends requests in chunks, resubmitting unprocessed items.
func (a *Adapter) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += batchSize {
		end := min(start+batchSize, len(requests))
		pending := map[string][]types.WriteRequest{a.config.Table: requests[start:end]}
		for len(pending[a.config.Table]) > 0 {
			out, err := a.config.Client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return fmt.Errorf("batch write: %w", err)
			}
			pending = out.UnprocessedItems
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Adapter) writeErr(op string, id any, err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, id)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (a *Adapter) key(id any) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id %v: %v", store.ErrInvalidParams, id, err)
	}
	return map[string]types.AttributeValue{a.config.IDField: av}, nil
}

func (a *Adapter) withID(e store.Entity) store.Entity {
	doc := e.Clone()
	if doc == nil {
		doc = store.Entity{}
	}
	if id, ok := doc[a.config.IDField]; !ok || id == nil || id == "" {
		doc[a.config.IDField] = uuid.NewString()
	}
	return doc
}

func unmarshal(item map[string]types.AttributeValue) (store.Entity, error) {
	if item == nil {
		return nil, nil
	}
	doc := store.Entity{}
	if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return doc, nil
}

// scanCursor pulls scan pages on demand and applies offset and limit as it
// goes.
type scanCursor struct {
	adapter   *Adapter
	query     *store.Query
	paginator *dynamodb.ScanPaginator

	buf     []map[string]types.AttributeValue
	current store.Entity
	skipped int
	emitted int
	err     error
	closed  bool
}

func (c *scanCursor) Next(ctx context.Context) bool {
	for !c.closed && c.err == nil {
		if c.query.Limit > 0 && c.emitted >= c.query.Limit {
			return false
		}
		if len(c.buf) == 0 {
			if !c.paginator.HasMorePages() {
				return false
			}
			page, err := c.paginator.NextPage(ctx)
			if err != nil {
				c.err = fmt.Errorf("scan: %w", err)
				return false
			}
			c.buf = page.Items
			continue
		}
		item := c.buf[0]
		c.buf = c.buf[1:]
		doc, ok, err := c.adapter.decode(item, c.query)
		if err != nil {
			c.err = err
			return false
		}
		if !ok {
			continue
		}
		if c.skipped < c.query.Offset {
			c.skipped++
			continue
		}
		c.current = doc
		c.emitted++
		return true
	}
	return false
}

func (c *scanCursor) Entity() store.Entity { return c.current }

func (c *scanCursor) Err() error { return c.err }

func (c *scanCursor) Close(context.Context) error {
	c.closed = true
	c.buf = nil
	return nil
}
