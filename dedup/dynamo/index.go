// Package dynamo implements a dedup.Index on Amazon DynamoDB, so several
// builders on different machines can share one content index and one blob id
// allocator.
//
// Table schema:
//   - Partition key: pk (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name slicemap-dedup \
//	  --attribute-definitions AttributeName=pk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/slicemap/dedup"
	"github.com/hupe1980/slicemap/internal/hash"
	"github.com/hupe1980/slicemap/model"
)

// Client is the subset of the DynamoDB API used by Index.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

const (
	attrKey   = "pk"
	attrBlob  = "blob"
	attrStart = "start"
	attrEnd   = "end"
	attrNext  = "next_blob"
)

// ErrMalformedItem is returned when an item read from the table lacks the
// expected attributes.
var ErrMalformedItem = errors.New("dynamo: malformed item")

var _ dedup.Index = (*Index)(nil)

// Index is a dedup.Index stored in a DynamoDB table. Several repositories
// can share a table by using distinct namespaces.
type Index struct {
	client    Client
	table     string
	namespace string
}

// New creates an Index using the default AWS credential chain.
func New(ctx context.Context, table, namespace string) (*Index, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return NewIndex(dynamodb.NewFromConfig(cfg), table, namespace), nil
}

// NewIndex creates an Index on an existing client.
func NewIndex(client Client, table, namespace string) *Index {
	return &Index{client: client, table: table, namespace: namespace}
}

func (x *Index) digestKey(d hash.Digest) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: x.namespace + "#digest#" + d.String()},
	}
}

func (x *Index) counterKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: x.namespace + "#next-blob"},
	}
}

// Lookup implements dedup.Index.
func (x *Index) Lookup(ctx context.Context, digest hash.Digest) (model.SliceLocation, bool, error) {
	out, err := x.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(x.table),
		Key:            x.digestKey(digest),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.SliceLocation{}, false, fmt.Errorf("dynamo: get %s: %w", digest, err)
	}
	if len(out.Item) == 0 {
		return model.SliceLocation{}, false, nil
	}
	loc, err := decodeLocation(out.Item)
	if err != nil {
		return model.SliceLocation{}, false, err
	}
	return loc, true, nil
}

// LookupOrInsert implements dedup.Index with a conditional put. When another
// writer won the race, the stored location is returned.
func (x *Index) LookupOrInsert(ctx context.Context, digest hash.Digest, loc model.SliceLocation) (model.SliceLocation, bool, error) {
	item := x.digestKey(digest)
	item[attrBlob] = number(uint64(loc.BlobID))
	item[attrStart] = number(loc.Start)
	item[attrEnd] = number(loc.End)

	_, err := x.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(x.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(" + attrKey + ")"),
	})
	if err == nil {
		return loc, false, nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return model.SliceLocation{}, false, fmt.Errorf("dynamo: put %s: %w", digest, err)
	}

	existing, ok, err := x.Lookup(ctx, digest)
	if err != nil {
		return model.SliceLocation{}, false, err
	}
	if !ok {
		return model.SliceLocation{}, false, fmt.Errorf("%w: %s vanished after conditional failure", ErrMalformedItem, digest)
	}
	return existing, true, nil
}

// NextBlobID implements dedup.Index with an atomic counter.
func (x *Index) NextBlobID(ctx context.Context) (model.BlobID, error) {
	out, err := x.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(x.table),
		Key:              x.counterKey(),
		UpdateExpression: aws.String("ADD " + attrNext + " :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": number(1),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamo: allocate blob id: %w", err)
	}
	n, err := readNumber(out.Attributes, attrNext)
	if err != nil {
		return 0, err
	}
	// The counter starts at 1 after the first ADD.
	return dedup.FirstBlobID + model.BlobID(n-1), nil
}

func number(v uint64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatUint(v, 10)}
}

func readNumber(item map[string]types.AttributeValue, name string) (uint64, error) {
	av, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrMalformedItem, name)
	}
	v, err := strconv.ParseUint(av.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrMalformedItem, name, err)
	}
	return v, nil
}

func decodeLocation(item map[string]types.AttributeValue) (model.SliceLocation, error) {
	blob, err := readNumber(item, attrBlob)
	if err != nil {
		return model.SliceLocation{}, err
	}
	start, err := readNumber(item, attrStart)
	if err != nil {
		return model.SliceLocation{}, err
	}
	end, err := readNumber(item, attrEnd)
	if err != nil {
		return model.SliceLocation{}, err
	}
	return model.SliceLocation{BlobID: model.BlobID(blob), Start: start, End: end}, nil
}
