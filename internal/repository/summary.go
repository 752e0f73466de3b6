package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chatsync/internal/domain"
)

// GetSummaryIndex reads a user's whole summary list. A missing document is
// returned with Found=false and Version 0.
func (c *Client) GetSummaryIndex(ctx context.Context, userID string) (domain.SummaryIndex, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(userPK(userID), skSummaries),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.SummaryIndex{}, fmt.Errorf("repository: GetSummaryIndex get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.SummaryIndex{UserID: userID}, nil
	}

	idx, err := itemToSummaryIndex(userID, out.Item)
	if err != nil {
		return domain.SummaryIndex{}, fmt.Errorf("repository: GetSummaryIndex decode: %w", err)
	}
	return idx, nil
}

// PutSummaryIndex overwrites the whole summary document without checking
// what is stored. Concurrent writers race and the last one wins.
func (c *Client) PutSummaryIndex(ctx context.Context, idx domain.SummaryIndex) (domain.SummaryIndex, error) {
	if idx.UserID == "" {
		return domain.SummaryIndex{}, errors.New("repository: PutSummaryIndex: user id is required")
	}
	next := idx
	next.Version = idx.Version + 1
	next.Found = true

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.summaryItem(next),
	})
	if err != nil {
		return domain.SummaryIndex{}, fmt.Errorf("repository: PutSummaryIndex: %w", err)
	}
	return next, nil
}

// CompareAndPutSummaryIndex writes the summary document only if the stored
// version still equals idx.Version (or the document is still absent when
// idx.Found is false). A lost race yields ErrVersionConflict.
func (c *Client) CompareAndPutSummaryIndex(ctx context.Context, idx domain.SummaryIndex) (domain.SummaryIndex, error) {
	if idx.UserID == "" {
		return domain.SummaryIndex{}, errors.New("repository: CompareAndPutSummaryIndex: user id is required")
	}
	next := idx
	next.Version = idx.Version + 1
	next.Found = true

	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.summaryItem(next),
	}
	if idx.Found {
		in.ConditionExpression = aws.String("version = :v")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": numValue(int64(idx.Version)),
		}
	} else {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	}

	if _, err := c.api.PutItem(ctx, in); err != nil {
		if isConditionFailed(err) {
			return domain.SummaryIndex{}, fmt.Errorf("repository: CompareAndPutSummaryIndex %q: %w", idx.UserID, ErrVersionConflict)
		}
		return domain.SummaryIndex{}, fmt.Errorf("repository: CompareAndPutSummaryIndex: %w", err)
	}
	return next, nil
}

func (c *Client) summaryItem(idx domain.SummaryIndex) map[string]types.AttributeValue {
	chats := make([]types.AttributeValue, 0, len(idx.Chats))
	for _, s := range idx.Chats {
		chats = append(chats, summaryAttr(s))
	}
	item := itemKey(userPK(idx.UserID), skSummaries)
	item["userId"] = &types.AttributeValueMemberS{Value: idx.UserID}
	item["chats"] = &types.AttributeValueMemberL{Value: chats}
	item["version"] = numValue(int64(idx.Version))
	item["updatedAt"] = &types.AttributeValueMemberS{Value: formatTime(c.now())}
	return item
}

func summaryAttr(s domain.ConversationSummary) *types.AttributeValueMemberM {
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"chatId":      &types.AttributeValueMemberS{Value: s.ConversationID},
		"receiverId":  &types.AttributeValueMemberS{Value: s.ReceiverID},
		"lastMessage": &types.AttributeValueMemberS{Value: s.LastMessage},
		"isSeen":      &types.AttributeValueMemberBOOL{Value: s.IsSeen},
		"updatedAt":   &types.AttributeValueMemberN{Value: strconv.FormatInt(s.UpdatedAt.UnixMilli(), 10)},
	}}
}

func itemToSummary(item map[string]types.AttributeValue) (domain.ConversationSummary, error) {
	chatID, err := strAttr(item, "chatId")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	s := domain.ConversationSummary{
		ConversationID: chatID,
		ReceiverID:     optStrAttr(item, "receiverId"),
		LastMessage:    optStrAttr(item, "lastMessage"),
		IsSeen:         boolAttr(item, "isSeen"),
	}
	if _, ok := item["updatedAt"]; ok {
		ms, err := intAttr(item, "updatedAt")
		if err != nil {
			return domain.ConversationSummary{}, err
		}
		s.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return s, nil
}

func itemToSummaryIndex(userID string, item map[string]types.AttributeValue) (domain.SummaryIndex, error) {
	idx := domain.SummaryIndex{UserID: userID, Found: true}
	if _, ok := item["version"]; ok {
		v, err := intAttr(item, "version")
		if err != nil {
			return domain.SummaryIndex{}, err
		}
		idx.Version = int(v)
	}

	raw, err := listAttr(item, "chats")
	if err != nil {
		return domain.SummaryIndex{}, err
	}
	idx.Chats = make([]domain.ConversationSummary, 0, len(raw))
	for _, v := range raw {
		m, err := mapValue(v, "chats")
		if err != nil {
			return domain.SummaryIndex{}, err
		}
		s, err := itemToSummary(m)
		if err != nil {
			return domain.SummaryIndex{}, err
		}
		idx.Chats = append(idx.Chats, s)
	}
	return idx, nil
}
