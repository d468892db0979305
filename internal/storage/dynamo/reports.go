package dynamo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kalambet/karmgyan/internal/reports"
)

func (c *Client) Insert(ctx context.Context, r reports.Report) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                c.reportItem(r),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if isConditionFailed(err) {
		return reports.ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("dynamo: Insert: %w", err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, id string) (reports.Report, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.key(pkReport+id, skReport),
	})
	if err != nil {
		return reports.Report{}, fmt.Errorf("dynamo: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return reports.Report{}, reports.ErrNotFound
	}
	return itemToReport(out.Item)
}

// ListByUser pages through the user index newest first.
func (c *Client) ListByUser(ctx context.Context, userID string) ([]reports.Report, error) {
	var results []reports.Report
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			IndexName:              aws.String(c.userIndex),
			KeyConditionExpression: aws.String("userId = :u"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":u": str(userID),
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo: ListByUser query: %w", err)
		}
		for _, item := range out.Items {
			r, err := itemToReport(item)
			if err != nil {
				return nil, fmt.Errorf("dynamo: ListByUser unmarshal: %w", err)
			}
			results = append(results, r)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return results, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (c *Client) reportItem(r reports.Report) map[string]types.AttributeValue {
	item := c.key(pkReport+r.ID, skReport)
	item["id"] = str(r.ID)
	item["userId"] = str(r.UserID)
	item["reportType"] = str(r.ReportType)
	item["content"] = str(r.Content)
	item["model"] = str(r.Model)
	item["createdAt"] = str(r.CreatedAt.UTC().Format(timeLayout))
	if len(r.ChartData) > 0 {
		item["chartData"] = str(string(r.ChartData))
	}
	if len(r.Usage) > 0 {
		item["usage"] = str(string(r.Usage))
	}
	return item
}

func itemToReport(item map[string]types.AttributeValue) (reports.Report, error) {
	var r reports.Report
	var err error
	if r.ID, err = strAttr(item, "id"); err != nil {
		return reports.Report{}, err
	}
	if r.UserID, err = strAttr(item, "userId"); err != nil {
		return reports.Report{}, err
	}
	if r.ReportType, err = strAttr(item, "reportType"); err != nil {
		return reports.Report{}, err
	}
	if r.Content, err = strAttr(item, "content"); err != nil {
		return reports.Report{}, err
	}
	createdAt, err := strAttr(item, "createdAt")
	if err != nil {
		return reports.Report{}, err
	}
	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return reports.Report{}, fmt.Errorf("dynamo: parse createdAt: %w", err)
	}
	r.Model = optStrAttr(item, "model")
	if v := optStrAttr(item, "chartData"); v != "" {
		r.ChartData = json.RawMessage(v)
	}
	if v := optStrAttr(item, "usage"); v != "" {
		r.Usage = json.RawMessage(v)
	}
	return r, nil
}
