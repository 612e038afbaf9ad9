package endpoint

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Table layout shared with the topology.
const (
	keyAttribute  = "EndpointId"
	userAttribute = "UserId"
	userIndex     = "byUserId"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the Endpoint Store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ DynamoDBAPI = (*dynamodb.Client)(nil)

// DynamoRepository implements Repository on a DynamoDB table keyed by
// EndpointId with a byUserId global secondary index.
type DynamoRepository struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoRepository creates a repository over table.
func NewDynamoRepository(client DynamoDBAPI, table string) *DynamoRepository {
	return &DynamoRepository{client: client, table: table}
}

func (r *DynamoRepository) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{keyAttribute: &types.AttributeValueMemberS{Value: id}}
}

// Get retrieves an endpoint by id.
func (r *DynamoRepository) Get(ctx context.Context, id string) (*Endpoint, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            r.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting endpoint item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrEndpointNotFound
	}
	var e Endpoint
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, fmt.Errorf("unmarshalling endpoint item: %w", err)
	}
	return &e, nil
}

// Put creates or replaces an endpoint.
func (r *DynamoRepository) Put(ctx context.Context, e *Endpoint) error {
	if err := ValidateEndpoint(e); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		existing, err := r.Get(ctx, e.EndpointID)
		switch {
		case err == nil:
			e.CreatedAt = existing.CreatedAt
		case !errors.Is(err, ErrEndpointNotFound):
			return err
		}
	}
	stamp(e, time.Now().UTC().Truncate(time.Second))

	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("marshalling endpoint item: %w", err)
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting endpoint item: %w", err)
	}
	return nil
}

// Delete removes an endpoint by id.
func (r *DynamoRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.table),
		Key:                 r.key(id),
		ConditionExpression: aws.String("attribute_exists(#k)"),
		ExpressionAttributeNames: map[string]string{
			"#k": keyAttribute,
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrEndpointNotFound
		}
		return fmt.Errorf("deleting endpoint item: %w", err)
	}
	return nil
}

// ListByUser queries the byUserId index.
func (r *DynamoRepository) ListByUser(ctx context.Context, userID string) ([]Endpoint, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(userIndex),
		KeyConditionExpression: aws.String("#u = :u"),
		ExpressionAttributeNames: map[string]string{
			"#u": userAttribute,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: userID},
		},
	})

	endpoints := []Endpoint{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying endpoints by user: %w", err)
		}
		var batch []Endpoint
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshalling endpoint items: %w", err)
		}
		endpoints = append(endpoints, batch...)
	}
	sortByID(endpoints)
	return endpoints, nil
}

// List scans the table.
func (r *DynamoRepository) List(ctx context.Context) ([]Endpoint, error) {
	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:      aws.String(r.table),
		ConsistentRead: aws.Bool(true),
	})

	endpoints := []Endpoint{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning endpoints: %w", err)
		}
		var batch []Endpoint
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshalling endpoint items: %w", err)
		}
		endpoints = append(endpoints, batch...)
	}
	sortByID(endpoints)
	return endpoints, nil
}

// UpdateState merges state into the stored state. The merge happens on a
// consistent read and is written back only if the item still exists.
func (r *DynamoRepository) UpdateState(ctx context.Context, id string, state State) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	merged := MergeState(current.State, state)

	stateAV, err := attributevalue.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}
	nowAV, err := attributevalue.Marshal(time.Now().UTC().Truncate(time.Second))
	if err != nil {
		return fmt.Errorf("marshalling timestamp: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 r.key(id),
		ConditionExpression: aws.String("attribute_exists(#k)"),
		UpdateExpression:    aws.String("SET #s = :s, #su = :now, #u = :now"),
		ExpressionAttributeNames: map[string]string{
			"#k":  keyAttribute,
			"#s":  "State",
			"#su": "StateUpdatedAt",
			"#u":  "UpdatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":   stateAV,
			":now": nowAV,
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrEndpointNotFound
		}
		return fmt.Errorf("updating endpoint state: %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func sortByID(endpoints []Endpoint) {
	slices.SortFunc(endpoints, func(a, b Endpoint) int {
		return strings.Compare(a.EndpointID, b.EndpointID)
	})
}
