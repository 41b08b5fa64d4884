package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/quickcart-orderflow/internal/aws"
)

var (
	ErrNotFound    = errors.New("order not found")
	ErrPersistence = errors.New("order persistence failed")
	// ErrInvalidTransition is returned for disallowed or lost status changes.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DynamoDB caps a single TransactWriteItems call at 100 actions.
const maxTransactItems = 100

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
	newID     func() string
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// orderRecord is the item shape in the orders table.
type orderRecord struct {
	OrderID   string       `dynamodbav:"order_id"` // PK
	UserID    string       `dynamodbav:"user_id"`
	Items     []itemRecord `dynamodbav:"items"`
	Amount    int64        `dynamodbav:"amount"`
	Address   Address      `dynamodbav:"address"`
	Status    string       `dynamodbav:"status"`
	Date      time.Time    `dynamodbav:"date"`
	UpdatedAt time.Time    `dynamodbav:"updated_at"`
}

// Prices are stored as decimal strings so they round-trip exactly.
type itemRecord struct {
	ProductRef string `dynamodbav:"product_ref"`
	Name       string `dynamodbav:"name"`
	UnitPrice  string `dynamodbav:"unit_price"`
	Quantity   int    `dynamodbav:"quantity"`
}

func toRecord(o Order) orderRecord {
	items := make([]itemRecord, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemRecord{
			ProductRef: it.ProductRef,
			Name:       it.Name,
			UnitPrice:  it.UnitPrice.String(),
			Quantity:   it.Quantity,
		})
	}
	return orderRecord{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Items:     items,
		Amount:    o.Amount,
		Address:   o.Address,
		Status:    o.Status,
		Date:      o.Date,
		UpdatedAt: o.UpdatedAt,
	}
}

func (r orderRecord) toOrder() (*Order, error) {
	items := make([]Item, 0, len(r.Items))
	for _, it := range r.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("order %s: bad unit price %q: %w", r.OrderID, it.UnitPrice, err)
		}
		items = append(items, Item{
			ProductRef: it.ProductRef,
			Name:       it.Name,
			UnitPrice:  price,
			Quantity:   it.Quantity,
		})
	}
	return &Order{
		ID:        r.OrderID,
		UserID:    r.UserID,
		Items:     items,
		Amount:    r.Amount,
		Address:   r.Address,
		Status:    r.Status,
		Date:      r.Date,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (s *Store) materialize(d Draft) Order {
	now := s.nowFunc()
	date := d.Date
	if date.IsZero() {
		date = now
	}
	return Order{
		ID:        s.newID(),
		UserID:    d.UserID,
		Items:     d.Items,
		Amount:    d.Amount,
		Address:   d.Address,
		Status:    StatusPlaced,
		Date:      date,
		UpdatedAt: now,
	}
}

// Create assigns an id to d and writes it with a single conditional put.
func (s *Store) Create(ctx context.Context, d Draft) (*Order, error) {
	o := s.materialize(d)
	item, err := attributevalue.MarshalMap(toRecord(o))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal order: %w", ErrPersistence, err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: put item: %w", ErrPersistence, err)
	}
	return &o, nil
}

// BulkCreate writes all drafts in one transaction: either every order is stored or
// none is. The returned orders are in draft order.
func (s *Store) BulkCreate(ctx context.Context, drafts []Draft) ([]Order, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	if len(drafts) > maxTransactItems {
		return nil, fmt.Errorf("%w: %d orders exceeds transaction limit of %d", ErrPersistence, len(drafts), maxTransactItems)
	}

	created := make([]Order, 0, len(drafts))
	transactItems := make([]types.TransactWriteItem, 0, len(drafts))
	for _, d := range drafts {
		o := s.materialize(d)
		item, err := attributevalue.MarshalMap(toRecord(o))
		if err != nil {
			return nil, fmt.Errorf("%w: marshal order: %w", ErrPersistence, err)
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                item,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		})
		created = append(created, o)
	}

	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return nil, fmt.Errorf("%w: transaction canceled: %w", ErrPersistence, err)
		}
		return nil, fmt.Errorf("%w: transact write: %w", ErrPersistence, err)
	}
	return created, nil
}

// FindByID fetches an order by order_id. Returns ErrNotFound if absent.
func (s *Store) FindByID(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       orderKey(orderID),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get item: %w", ErrPersistence, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var rec orderRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return rec.toOrder()
}

// UpdateStatus moves an order from status `from` to `to` and returns the updated
// order. The write only applies while the stored status is still `from`, so two
// concurrent transitions cannot both win. A missing order is ErrNotFound; an
// order whose status changed underneath is ErrInvalidTransition.
// Whether from -> to is allowed is the caller's concern; see CanTransition.
func (s *Store) UpdateStatus(ctx context.Context, orderID, from, to string) (*Order, error) {
	now := s.nowFunc()
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(order_id) AND #s = :from"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":  &types.AttributeValueMemberS{Value: to},
			":from": &types.AttributeValueMemberS{Value: from},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, ErrNotFound
			}
			current := ""
			if v, ok := ccf.Item["status"].(*types.AttributeValueMemberS); ok {
				current = v.Value
			}
			return nil, fmt.Errorf("%w: order %s is %q, not %q", ErrInvalidTransition, orderID, current, from)
		}
		return nil, fmt.Errorf("%w: update item: %w", ErrPersistence, err)
	}
	var rec orderRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return rec.toOrder()
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }
