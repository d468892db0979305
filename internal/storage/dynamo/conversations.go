package dynamo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kalambet/karmgyan/internal/conversation"
)

// A conversation is one item holding the JSON-encoded turns and a version
// counter. Appends are read-modify-write with a condition on the version,
// retried when another writer got there first, which serializes appends per
// key without a lock.

// Append adds turns to key and keeps the newest maxTurns.
func (c *Client) Append(ctx context.Context, key string, turns []conversation.Turn, maxTurns int) error {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		current, version, err := c.readTurns(ctx, key)
		if err != nil {
			return err
		}

		next := append(current, turns...)
		if over := len(next) - maxTurns; over > 0 {
			next = next[over:]
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("dynamo: encoding turns: %w", err)
		}

		item := c.key(pkConv+key, skTurns)
		item["turns"] = str(string(encoded))
		item["version"] = num(version + 1)
		item["updatedAt"] = str(c.timestamp())

		in := &dynamodb.PutItemInput{
			TableName: aws.String(c.tableName),
			Item:      item,
		}
		if version == 0 {
			in.ConditionExpression = aws.String("attribute_not_exists(PK)")
		} else {
			in.ConditionExpression = aws.String("version = :v")
			in.ExpressionAttributeValues = map[string]types.AttributeValue{":v": num(version)}
		}

		_, err = c.api.PutItem(ctx, in)
		if isConditionFailed(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("dynamo: Append: %w", err)
		}
		return nil
	}
	return fmt.Errorf("dynamo: Append: conversation %s kept changing after %d attempts", key, maxAppendAttempts)
}

func (c *Client) Read(ctx context.Context, key string) ([]conversation.Turn, error) {
	turns, _, err := c.readTurns(ctx, key)
	return turns, err
}

func (c *Client) Clear(ctx context.Context, key string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.key(pkConv+key, skTurns),
	})
	if err != nil {
		return fmt.Errorf("dynamo: Clear: %w", err)
	}
	return nil
}

// readTurns returns the stored turns and version; version 0 means absent.
func (c *Client) readTurns(ctx context.Context, key string) ([]conversation.Turn, int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(pkConv+key, skTurns),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("dynamo: reading conversation: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return []conversation.Turn{}, 0, nil
	}

	raw, err := strAttr(out.Item, "turns")
	if err != nil {
		return nil, 0, err
	}
	version, err := intAttr(out.Item, "version")
	if err != nil {
		return nil, 0, err
	}
	var turns []conversation.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, 0, fmt.Errorf("dynamo: decoding turns: %w", err)
	}
	return turns, version, nil
}
