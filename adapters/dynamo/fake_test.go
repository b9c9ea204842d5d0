package dynamo_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory stand-in for the subset of DynamoDB the
// adapter calls. It understands the exact expressions the adapter builds.
type fakeDynamo struct {
	mu       sync.Mutex
	hashKey  string
	items    map[string]map[string]types.AttributeValue
	pageSize int
	indexes  []string
	scans    int
	batches  int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		hashKey:  "id",
		items:    make(map[string]map[string]types.AttributeValue),
		pageSize: 2,
	}
}

func keyString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return fmt.Sprint(av)
}

func (f *fakeDynamo) check(cond *string, names map[string]string, exists bool) error {
	if cond == nil {
		return nil
	}
	switch aws.ToString(cond) {
	case "attribute_not_exists(#id)":
		if exists {
			return &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case "attribute_exists(#id)":
		if !exists {
			return &types.ConditionalCheckFailedException{Message: aws.String("missing")}
		}
	}
	return nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyString(in.Key[f.hashKey])]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keyString(in.Item[f.hashKey])
	_, exists := f.items[key]
	if err := f.check(in.ConditionExpression, in.ExpressionAttributeNames, exists); err != nil {
		return nil, err
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keyString(in.Key[f.hashKey])
	item, exists := f.items[key]
	if err := f.check(in.ConditionExpression, in.ExpressionAttributeNames, exists); err != nil {
		return nil, err
	}
	expr := strings.TrimPrefix(aws.ToString(in.UpdateExpression), "SET ")
	updated := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		updated[k] = v
	}
	for _, clause := range strings.Split(expr, ", ") {
		parts := strings.SplitN(clause, " = ", 2)
		if len(parts) != 2 {
			return nil, errors.New("fake: unsupported update expression")
		}
		updated[in.ExpressionAttributeNames[parts[0]]] = in.ExpressionAttributeValues[parts[1]]
	}
	f.items[key] = updated
	return &dynamodb.UpdateItemOutput{Attributes: updated}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := keyString(in.Key[f.hashKey])
	item, exists := f.items[key]
	if err := f.check(in.ConditionExpression, in.ExpressionAttributeNames, exists); err != nil {
		return nil, err
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{Attributes: item}, nil
}

// Scan pages through items in key order, pageSize at a time.
func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++

	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		last := keyString(in.ExclusiveStartKey[f.hashKey])
		start = sort.SearchStrings(keys, last) + 1
	}
	end := min(start+f.pageSize, len(keys))

	out := &dynamodb.ScanOutput{}
	for _, k := range keys[start:end] {
		item := f.items[k]
		if in.FilterExpression != nil && f.expired(item, in) {
			continue
		}
		out.Count++
		if in.Select != types.SelectCount {
			out.Items = append(out.Items, item)
		}
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			f.hashKey: &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}

// expired evaluates the TTL filter expression.
func (f *fakeDynamo) expired(item map[string]types.AttributeValue, in *dynamodb.ScanInput) bool {
	ttl, ok := item[in.ExpressionAttributeNames["#ttl"]].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	now, _ := strconv.ParseInt(in.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
	v, _ := strconv.ParseInt(ttl.Value, 10, 64)
	return v <= now
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	for _, requests := range in.RequestItems {
		if len(requests) > 25 {
			return nil, errors.New("fake: too many items in batch")
		}
		for _, r := range requests {
			switch {
			case r.PutRequest != nil:
				f.items[keyString(r.PutRequest.Item[f.hashKey])] = r.PutRequest.Item
			case r.DeleteRequest != nil:
				delete(f.items, keyString(r.DeleteRequest.Key[f.hashKey]))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	desc := &types.TableDescription{TableName: in.TableName}
	for _, name := range f.indexes {
		desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, types.GlobalSecondaryIndexDescription{
			IndexName: aws.String(name),
		})
	}
	return &dynamodb.DescribeTableOutput{Table: desc}, nil
}

func (f *fakeDynamo) UpdateTable(_ context.Context, in *dynamodb.UpdateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range in.GlobalSecondaryIndexUpdates {
		if u.Create != nil {
			f.indexes = append(f.indexes, aws.ToString(u.Create.IndexName))
		}
	}
	return &dynamodb.UpdateTableOutput{}, nil
}
