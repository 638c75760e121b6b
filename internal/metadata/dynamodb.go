package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute names of the table key.
const (
	dynamoPartitionKey = "file_hash"
	dynamoSortKey      = "chunk_index"
)

// Dynamo is a Store backed by a DynamoDB table with partition key file_hash
// and sort key chunk_index.
type Dynamo struct {
	client    *dynamodb.Client
	tableName string
}

// OpenDynamo opens the table named by the host of u.
// Query parameters: region, endpoint, create.
func OpenDynamo(ctx context.Context, u *url.URL) (*Dynamo, error) {
	table := u.Host
	if table == "" {
		return nil, errors.New("metadata: dynamodb url needs a table name")
	}
	q := u.Query()

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := q.Get("region"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("metadata: load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint := q.Get("endpoint"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	d := NewDynamo(client, table)
	if create, _ := strconv.ParseBool(q.Get("create")); create {
		if err := d.EnsureTable(ctx); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// NewDynamo wraps an existing client.
func NewDynamo(client *dynamodb.Client, tableName string) *Dynamo {
	return &Dynamo{client: client, tableName: tableName}
}

// EnsureTable creates the table with on-demand billing if it does not exist.
func (d *Dynamo) EnsureTable(ctx context.Context) error {
	if err := d.Ping(ctx); err == nil {
		return nil
	}
	_, err := d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(dynamoPartitionKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(dynamoSortKey), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(dynamoPartitionKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(dynamoSortKey), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("metadata: create table %s: %w", d.tableName, err)
	}
	return nil
}

func (d *Dynamo) key(fileHash string, index int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoPartitionKey: &types.AttributeValueMemberS{Value: fileHash},
		dynamoSortKey:      &types.AttributeValueMemberN{Value: strconv.Itoa(index)},
	}
}

func (d *Dynamo) Put(ctx context.Context, r Record) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("metadata: marshal record: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("metadata: dynamodb put %s: %w", r.Hash, err)
	}
	return nil
}

func (d *Dynamo) Find(ctx context.Context, fileHash string) ([]Record, error) {
	p := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("#h = :h"),
		ExpressionAttributeNames: map[string]string{
			"#h": dynamoPartitionKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberS{Value: fileHash},
		},
		ConsistentRead: aws.Bool(true),
	})

	var records []Record
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("metadata: dynamodb find %s: %w", fileHash, err)
		}
		var page []Record
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("metadata: decode %s: %w", fileHash, err)
		}
		records = append(records, page...)
	}
	sortByIndex(records)
	return records, nil
}

func (d *Dynamo) Delete(ctx context.Context, fileHash string, index int) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(fileHash, index),
	})
	if err != nil {
		return fmt.Errorf("metadata: dynamodb delete %s/%d: %w", fileHash, index, err)
	}
	return nil
}

func (d *Dynamo) DeleteAll(ctx context.Context, fileHash string) (int, error) {
	records, err := d.Find(ctx, fileHash)
	if err != nil {
		return 0, err
	}

	// BatchWriteItem accepts at most 25 requests.
	const batch = 25
	for start := 0; start < len(records); start += batch {
		end := start + batch
		if end > len(records) {
			end = len(records)
		}
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, r := range records[start:end] {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: d.key(fileHash, r.Index)},
			})
		}
		if err := d.batchWrite(ctx, reqs); err != nil {
			return 0, fmt.Errorf("metadata: dynamodb delete all %s: %w", fileHash, err)
		}
	}
	return len(records), nil
}

func (d *Dynamo) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{d.tableName: reqs}
	for attempt := 0; len(pending[d.tableName]) > 0; attempt++ {
		if attempt == 5 {
			return fmt.Errorf("%d unprocessed deletes", len(pending[d.tableName]))
		}
		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		pending = out.UnprocessedItems
	}
	return nil
}

func (d *Dynamo) Sessions(ctx context.Context) ([]string, error) {
	p := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:                aws.String(d.tableName),
		ProjectionExpression:     aws.String("#h"),
		ExpressionAttributeNames: map[string]string{"#h": dynamoPartitionKey},
	})

	seen := make(map[string]struct{})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("metadata: dynamodb sessions: %w", err)
		}
		for _, item := range out.Items {
			if v, ok := item[dynamoPartitionKey].(*types.AttributeValueMemberS); ok {
				seen[v.Value] = struct{}{}
			}
		}
	}

	hashes := make([]string, 0, len(seen))
	for h := range seen {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (d *Dynamo) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err != nil {
		return fmt.Errorf("metadata: describe table %s: %w", d.tableName, err)
	}
	return nil
}

func (d *Dynamo) Close() error {
	return nil
}
