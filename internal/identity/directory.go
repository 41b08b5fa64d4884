// Package identity resolves callers and reads or updates the user records that own carts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/quickcart-orderflow/internal/aws"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID    string `dynamodbav:"user_id"`
	Name  string `dynamodbav:"name"`
	Email string `dynamodbav:"email"`
}

// Directory is the user side of the identity collaborator.
type Directory interface {
	FindUser(ctx context.Context, userID string) (*User, error)
	ClearCart(ctx context.Context, userID string) error
}

// DynamoDirectory reads users from the users table. Carts live on the user
// item as a cart_items map.
type DynamoDirectory struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewDynamoDirectory(client aws.DynamoDBAPI, tableName string) *DynamoDirectory {
	return &DynamoDirectory{client: client, tableName: tableName, nowFunc: time.Now}
}

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

// FindUser returns ErrUserNotFound when the user has no record.
func (d *DynamoDirectory) FindUser(ctx context.Context, userID string) (*User, error) {
	out, err := d.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:            &d.tableName,
		Key:                  userKey(userID),
		ProjectionExpression: awsString("user_id, #n, email"),
		ExpressionAttributeNames: map[string]string{
			"#n": "name",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrUserNotFound
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// ClearCart empties the user's cart.
func (d *DynamoDirectory) ClearCart(ctx context.Context, userID string) error {
	_, err := d.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &d.tableName,
		Key:                 userKey(userID),
		UpdateExpression:    awsString("SET cart_items = :empty, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(user_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
			":ua":    &types.AttributeValueMemberS{Value: d.nowFunc().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrUserNotFound
		}
		return fmt.Errorf("clear cart %s: %w", userID, err)
	}
	return nil
}

func awsString(s string) *string { return &s }
