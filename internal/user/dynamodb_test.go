package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDynamo struct {
	mock.Mock
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func keyIs(id string) any {
	return mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		v, ok := in.Key[keyAttribute].(*types.AttributeValueMemberS)
		return ok && v.Value == id && *in.TableName == "Users"
	})
}

func TestDynamoRepository_Get(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	item, err := attributevalue.MarshalMap(User{UserID: "u1", AccessToken: "at", CreatedAt: created, UpdatedAt: created})
	require.NoError(t, err)

	m := &mockDynamo{}
	m.On("GetItem", ctx, keyIs("u1")).Return(&dynamodb.GetItemOutput{Item: item}, nil)
	m.On("GetItem", ctx, keyIs("missing")).Return(&dynamodb.GetItemOutput{}, nil)

	repo := NewDynamoRepository(m, "Users")

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.True(t, got.CreatedAt.Equal(created))

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	ok, err := repo.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	m.AssertExpectations(t)
}

func TestDynamoRepository_PutKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	existing, err := attributevalue.MarshalMap(User{UserID: "u1", CreatedAt: created, UpdatedAt: created})
	require.NoError(t, err)

	m := &mockDynamo{}
	m.On("GetItem", ctx, keyIs("u1")).Return(&dynamodb.GetItemOutput{Item: existing}, nil)
	m.On("PutItem", ctx, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		var u User
		if err := attributevalue.UnmarshalMap(in.Item, &u); err != nil {
			return false
		}
		return *in.TableName == "Users" && u.UserID == "u1" && u.AccessToken == "new" && u.CreatedAt.Equal(created)
	})).Return(&dynamodb.PutItemOutput{}, nil)

	repo := NewDynamoRepository(m, "Users")
	require.NoError(t, repo.Put(ctx, &User{UserID: "u1", AccessToken: "new"}))
	m.AssertExpectations(t)
}

func TestDynamoRepository_Errors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("throttled")

	m := &mockDynamo{}
	m.On("GetItem", ctx, mock.Anything).Return(nil, boom)

	repo := NewDynamoRepository(m, "Users")

	_, err := repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, boom)

	err = repo.Put(ctx, &User{UserID: "u1"})
	assert.ErrorIs(t, err, boom)
	m.AssertNotCalled(t, "PutItem", mock.Anything, mock.Anything)

	assert.ErrorIs(t, repo.Put(ctx, &User{}), ErrInvalidUser)
}
