package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const keyAttribute = "UserId"

// DynamoDBAPI is the subset of the DynamoDB client used by the Identity Store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

var _ DynamoDBAPI = (*dynamodb.Client)(nil)

// DynamoRepository implements Repository on a DynamoDB table keyed by UserId.
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

// Get retrieves a user by id.
func (r *DynamoRepository) Get(ctx context.Context, id string) (*User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            r.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting user item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrUserNotFound
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshalling user item: %w", err)
	}
	return &u, nil
}

// Put creates or replaces a user. The stored CreatedAt is kept when the
// caller did not supply one.
func (r *DynamoRepository) Put(ctx context.Context, u *User) error {
	if err := Validate(u); err != nil {
		return err
	}
	if u.CreatedAt.IsZero() {
		existing, err := r.Get(ctx, u.UserID)
		switch {
		case err == nil:
			u.CreatedAt = existing.CreatedAt
		case !errors.Is(err, ErrUserNotFound):
			return err
		}
	}
	stamp(u, time.Now().UTC().Truncate(time.Second))

	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshalling user item: %w", err)
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("putting user item: %w", err)
	}
	return nil
}

// Exists reports whether a user record is present.
func (r *DynamoRepository) Exists(ctx context.Context, id string) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(r.table),
		Key:                  r.key(id),
		ProjectionExpression: aws.String(keyAttribute),
	})
	if err != nil {
		return false, fmt.Errorf("checking user item: %w", err)
	}
	return len(out.Item) > 0, nil
}
