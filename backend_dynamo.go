package callcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/goforj/callcache/cachecore"
)

// DynamoAPI captures the subset of DynamoDB client methods used by the backend.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Items are keyed by the string attribute k. Values set with Set live in the
// binary attribute v, counters in the number attribute n and lists in the list
// attribute l (one item per list, so a list is bounded by the 400 KB item limit).
const (
	dynamoAppendExpr    = "SET l = list_append(if_not_exists(l, :empty), :x)"
	dynamoIncrExpr      = "ADD n :one"
	dynamoNoTextValue   = "attribute_not_exists(v)"
	dynamoTextUnchanged = "v = :old"
	dynamoScopeFilter   = "begins_with(k, :p)"

	dynamoCASAttempts            = 16
	dynamoBatchSize              = 25
	dynamoEnsureTableMaxAttempts = 20
	dynamoEnsureTableRetryDelay  = 150 * time.Millisecond
)

type dynamoBackend struct {
	client DynamoAPI
	table  string
	prefix string
}

func newDynamoBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if cfg.DynamoClient == nil {
		client, err := newDynamoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cfg.DynamoClient = client
	}
	if err := ensureDynamoTable(ctx, cfg.DynamoClient, cfg.DynamoTable); err != nil {
		return nil, err
	}
	return &dynamoBackend{
		client: cfg.DynamoClient,
		table:  cfg.DynamoTable,
		prefix: cfg.Prefix,
	}, nil
}

func newDynamoClient(ctx context.Context, cfg BackendConfig) (*dynamodb.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.DynamoRegion)}
	if cfg.DynamoEndpoint != "" {
		// DynamoDB Local accepts any static credentials.
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.DynamoEndpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.DynamoEndpoint, HostnameImmutable: true}, nil
		})
		if _, err := resolver.ResolveEndpoint("dynamodb", cfg.DynamoRegion); err != nil {
			return nil, err
		}
		awsCfg.EndpointResolverWithOptions = resolver
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

func (s *dynamoBackend) Driver() Driver { return DriverDynamo }

func (s *dynamoBackend) Ready(ctx context.Context) error {
	if s.client == nil {
		return errDynamoUnavailable
	}
	if _, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}); err != nil {
		return fmt.Errorf("dynamodb ready: %w", err)
	}
	return nil
}

func (s *dynamoBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client == nil {
		return nil, false, errDynamoUnavailable
	}
	item, err := s.getItem(ctx, s.valueKey(key))
	if err != nil {
		return nil, false, err
	}
	switch {
	case item["n"] != nil:
		n, ok := item["n"].(*types.AttributeValueMemberN)
		if !ok {
			return nil, false, errors.New("dynamodb counter is not a number")
		}
		return []byte(n.Value), true, nil
	case item["v"] != nil:
		v, ok := item["v"].(*types.AttributeValueMemberB)
		if !ok {
			return nil, false, errors.New("dynamodb item missing binary value")
		}
		return cloneBytes(v.Value), true, nil
	default:
		return nil, false, nil
	}
}

func (s *dynamoBackend) Set(ctx context.Context, key string, value []byte) error {
	if s.client == nil {
		return errDynamoUnavailable
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"k": &types.AttributeValueMemberS{Value: s.valueKey(key)},
			"v": &types.AttributeValueMemberB{Value: cloneBytes(value)},
		},
	})
	return err
}

// RPush appends with a single list_append update, which DynamoDB applies atomically.
func (s *dynamoBackend) RPush(ctx context.Context, key string, value []byte) (int64, error) {
	if s.client == nil {
		return 0, errDynamoUnavailable
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              dynamoKey(s.listKey(key)),
		UpdateExpression: aws.String(dynamoAppendExpr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":x": &types.AttributeValueMemberL{Value: []types.AttributeValue{
				&types.AttributeValueMemberB{Value: cloneBytes(value)},
			}},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, err
	}
	list, ok := out.Attributes["l"].(*types.AttributeValueMemberL)
	if !ok {
		return 0, errors.New("dynamodb list append returned no list")
	}
	return int64(len(list.Value)), nil
}

func (s *dynamoBackend) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if s.client == nil {
		return nil, errDynamoUnavailable
	}
	item, err := s.getItem(ctx, s.listKey(key))
	if err != nil {
		return nil, err
	}
	list, _ := item["l"].(*types.AttributeValueMemberL)
	if list == nil {
		return [][]byte{}, nil
	}
	lo, hi, ok := cachecore.RangeBounds(int64(len(list.Value)), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, hi-lo)
	for _, entry := range list.Value[lo:hi] {
		b, ok := entry.(*types.AttributeValueMemberB)
		if !ok {
			return nil, fmt.Errorf("dynamodb list %q holds a non-binary entry", key)
		}
		out = append(out, cloneBytes(b.Value))
	}
	return out, nil
}

// Incr uses an atomic ADD on the number attribute. A value written by Set is
// parsed once and swapped for a counter with a conditional put; losing that race
// retries from a fresh read.
func (s *dynamoBackend) Incr(ctx context.Context, key string) (int64, error) {
	if s.client == nil {
		return 0, errDynamoUnavailable
	}
	itemKey := s.valueKey(key)
	for attempt := 0; attempt < dynamoCASAttempts; attempt++ {
		item, err := s.getItem(ctx, itemKey)
		if err != nil {
			return 0, err
		}
		text, isText := item["v"].(*types.AttributeValueMemberB)
		if !isText {
			out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:           aws.String(s.table),
				Key:                 dynamoKey(itemKey),
				UpdateExpression:    aws.String(dynamoIncrExpr),
				ConditionExpression: aws.String(dynamoNoTextValue),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":one": &types.AttributeValueMemberN{Value: "1"},
				},
				ReturnValues: types.ReturnValueUpdatedNew,
			})
			if isDynamoConditionFailed(err) {
				continue
			}
			if err != nil {
				return 0, err
			}
			n, ok := out.Attributes["n"].(*types.AttributeValueMemberN)
			if !ok {
				return 0, errors.New("dynamodb increment returned no counter")
			}
			return strconv.ParseInt(n.Value, 10, 64)
		}

		var current int64
		if len(text.Value) > 0 {
			parsed, parseErr := strconv.ParseInt(string(text.Value), 10, 64)
			if parseErr != nil {
				return 0, fmt.Errorf("callcache: key %q does not contain a numeric value", key)
			}
			current = parsed
		}
		next := current + 1
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item: map[string]types.AttributeValue{
				"k": &types.AttributeValueMemberS{Value: itemKey},
				"n": &types.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)},
			},
			ConditionExpression: aws.String(dynamoTextUnchanged),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":old": &types.AttributeValueMemberB{Value: text.Value},
			},
		})
		if isDynamoConditionFailed(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return next, nil
	}
	return 0, errors.New("dynamodb increment exceeded retry limit")
}

// Flush deletes every item in the table when no prefix is configured,
// otherwise only the items under prefix.
func (s *dynamoBackend) Flush(ctx context.Context) error {
	if s.client == nil {
		return errDynamoUnavailable
	}
	input := &dynamodb.ScanInput{
		TableName:            aws.String(s.table),
		ProjectionExpression: aws.String("k"),
	}
	if s.prefix != "" {
		input.FilterExpression = aws.String(dynamoScopeFilter)
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: s.scopePrefix()},
		}
	}
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(out.Items))
		for _, item := range out.Items {
			if k, ok := item["k"].(*types.AttributeValueMemberS); ok {
				keys = append(keys, k.Value)
			}
		}
		if err := s.deleteKeys(ctx, keys); err != nil {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *dynamoBackend) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += dynamoBatchSize {
		end := min(start+dynamoBatchSize, len(keys))
		writes := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			writes = append(writes, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: dynamoKey(key)},
			})
		}
		pending := map[string][]types.WriteRequest{s.table: writes}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt == dynamoCASAttempts {
				return errors.New("dynamodb flush left unprocessed deletes")
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return err
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func (s *dynamoBackend) getItem(ctx context.Context, itemKey string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            dynamoKey(itemKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return out.Item, nil
}

func (s *dynamoBackend) valueKey(key string) string {
	return s.scopePrefix() + "v:" + key
}

func (s *dynamoBackend) listKey(key string) string {
	return s.scopePrefix() + "l:" + key
}

func (s *dynamoBackend) scopePrefix() string {
	if s.prefix == "" {
		return ""
	}
	return s.prefix + ":"
}

func dynamoKey(itemKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"k": &types.AttributeValueMemberS{Value: itemKey}}
}

func isDynamoConditionFailed(err error) bool {
	var cce *types.ConditionalCheckFailedException
	return errors.As(err, &cce)
}

func ensureDynamoTable(ctx context.Context, client DynamoAPI, table string) error {
	var lastErr error
	for attempt := 1; attempt <= dynamoEnsureTableMaxAttempts; attempt++ {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err == nil {
			return nil
		}

		var rnfe *types.ResourceNotFoundException
		if errors.As(err, &rnfe) {
			_, createErr := client.CreateTable(ctx, &dynamodb.CreateTableInput{
				TableName: aws.String(table),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("k"), KeyType: types.KeyTypeHash},
				},
				AttributeDefinitions: []types.AttributeDefinition{
					{AttributeName: aws.String("k"), AttributeType: types.ScalarAttributeTypeS},
				},
				BillingMode: types.BillingModePayPerRequest,
			})
			if createErr == nil {
				return nil
			}
			var inUse *types.ResourceInUseException
			if errors.As(createErr, &inUse) {
				return nil
			}
			if !isDynamoStartupRetryable(createErr) {
				return createErr
			}
			lastErr = createErr
		} else {
			if !isDynamoStartupRetryable(err) {
				return err
			}
			lastErr = err
		}

		if attempt == dynamoEnsureTableMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dynamoEnsureTableRetryDelay):
		}
	}
	return fmt.Errorf("ensure dynamodb table %q: %w", table, lastErr)
}

// isDynamoStartupRetryable matches transport failures seen while DynamoDB Local boots.
func isDynamoStartupRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"request send failed", "connection reset by peer", "connection refused", "timeout", "eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var errDynamoUnavailable = fmt.Errorf("dynamodb: %w", ErrBackendUnavailable)
