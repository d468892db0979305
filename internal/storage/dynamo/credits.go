package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// EnsureBalance creates the balance item with grant if it is missing and
// returns the stored balance, in one UpdateItem.
func (c *Client) EnsureBalance(ctx context.Context, userID string, grant int) (int, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              c.key(pkUser+userID, skBalance),
		UpdateExpression: aws.String("SET balance = if_not_exists(balance, :grant)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":grant": num(grant),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamo: EnsureBalance: %w", err)
	}
	bal, err := intAttr(out.Attributes, "balance")
	if err != nil {
		return 0, fmt.Errorf("dynamo: EnsureBalance decode: %w", err)
	}
	return bal, nil
}

// DeductIfAvailable relies on a condition expression so the check and the
// subtraction are evaluated by DynamoDB as one write.
func (c *Client) DeductIfAvailable(ctx context.Context, userID string, amount, grant int) (int, bool, error) {
	if _, err := c.EnsureBalance(ctx, userID, grant); err != nil {
		return 0, false, err
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 c.key(pkUser+userID, skBalance),
		UpdateExpression:    aws.String("SET balance = balance - :amt"),
		ConditionExpression: aws.String("balance >= :amt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":amt": num(amount),
		},
		ReturnValues:                        types.ReturnValueUpdatedNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if bal, derr := intAttr(ccf.Item, "balance"); derr == nil {
			return bal, false, nil
		}
		bal, err := c.readBalance(ctx, userID)
		return bal, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("dynamo: DeductIfAvailable: %w", err)
	}
	bal, err := intAttr(out.Attributes, "balance")
	if err != nil {
		return 0, false, fmt.Errorf("dynamo: DeductIfAvailable decode: %w", err)
	}
	return bal, true, nil
}

func (c *Client) AddBalance(ctx context.Context, userID string, amount, grant int) (int, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              c.key(pkUser+userID, skBalance),
		UpdateExpression: aws.String("SET balance = if_not_exists(balance, :grant) + :amt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":grant": num(grant),
			":amt":   num(amount),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamo: AddBalance: %w", err)
	}
	bal, err := intAttr(out.Attributes, "balance")
	if err != nil {
		return 0, fmt.Errorf("dynamo: AddBalance decode: %w", err)
	}
	return bal, nil
}

// ApplyPurchase writes the payment marker and the balance increment in one
// transaction. The marker's attribute_not_exists condition rejects replays.
func (c *Client) ApplyPurchase(ctx context.Context, userID, paymentID string, amount, grant int) (int, bool, error) {
	payment := c.key(pkPayment+paymentID, skPayment)
	payment["userId"] = str(userID)
	payment["amount"] = num(amount)
	payment["createdAt"] = str(c.timestamp())

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                payment,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Update: &types.Update{
					TableName:        aws.String(c.tableName),
					Key:              c.key(pkUser+userID, skBalance),
					UpdateExpression: aws.String("SET balance = if_not_exists(balance, :grant) + :amt"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":grant": num(grant),
						":amt":   num(amount),
					},
				},
			},
		},
	})
	if isPaymentReplay(err) {
		bal, err := c.EnsureBalance(ctx, userID, grant)
		return bal, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("dynamo: ApplyPurchase: %w", err)
	}

	bal, err := c.readBalance(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	return bal, true, nil
}

func (c *Client) readBalance(ctx context.Context, userID string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(pkUser+userID, skBalance),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("dynamo: reading balance: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, fmt.Errorf("dynamo: balance for %s disappeared", userID)
	}
	return intAttr(out.Item, "balance")
}

// isPaymentReplay reports whether a purchase transaction was cancelled
// because the payment marker (the first item) already exists.
func isPaymentReplay(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || len(tce.CancellationReasons) == 0 {
		return false
	}
	return aws.ToString(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed"
}
