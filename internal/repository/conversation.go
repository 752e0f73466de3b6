package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chatsync/internal/domain"
)

// CreateConversation writes an empty conversation document for exactly two
// participants. It never overwrites an existing document.
func (c *Client) CreateConversation(ctx context.Context, conversationID string, participants []string, createdAt time.Time) error {
	if conversationID == "" {
		return errors.New("repository: CreateConversation: conversation id is required")
	}
	if len(participants) != 2 || participants[0] == "" || participants[1] == "" {
		return errors.New("repository: CreateConversation: exactly two participants are required")
	}

	item := itemKey(convPK(conversationID), skConversation)
	item["conversationId"] = &types.AttributeValueMemberS{Value: conversationID}
	item["participants"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{
		&types.AttributeValueMemberS{Value: participants[0]},
		&types.AttributeValueMemberS{Value: participants[1]},
	}}
	item["createdAt"] = &types.AttributeValueMemberS{Value: formatTime(createdAt)}
	item["messages"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{}}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: CreateConversation %q: %w", conversationID, ErrConversationExists)
		}
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return nil
}

// AppendMessage atomically appends msg to the end of the conversation log and
// returns the document as committed by that write. The sender and receiverID
// must both be participants of the conversation.
func (c *Client) AppendMessage(ctx context.Context, conversationID string, msg domain.Message, receiverID string) (domain.Snapshot, error) {
	if conversationID == "" {
		return domain.Snapshot{}, errors.New("repository: AppendMessage: conversation id is required")
	}
	if msg.ID == "" || msg.SenderID == "" || receiverID == "" {
		return domain.Snapshot{}, errors.New("repository: AppendMessage: message id, sender and receiver are required")
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 itemKey(convPK(conversationID), skConversation),
		UpdateExpression:    aws.String("SET messages = list_append(if_not_exists(messages, :empty), :msg)"),
		ConditionExpression: aws.String("attribute_exists(PK) AND contains(participants, :sender) AND contains(participants, :receiver)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty":    &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":msg":      &types.AttributeValueMemberL{Value: []types.AttributeValue{messageAttr(msg)}},
			":sender":   &types.AttributeValueMemberS{Value: msg.SenderID},
			":receiver": &types.AttributeValueMemberS{Value: receiverID},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// The old item comes back only when the document exists.
			if len(ccf.Item) > 0 {
				return domain.Snapshot{}, fmt.Errorf("repository: AppendMessage %q between %q and %q: %w", conversationID, msg.SenderID, receiverID, ErrNotParticipant)
			}
			return domain.Snapshot{}, fmt.Errorf("repository: AppendMessage %q: %w", conversationID, ErrConversationNotFound)
		}
		return domain.Snapshot{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.Snapshot{}, errors.New("repository: AppendMessage: empty update result")
	}

	snap, err := itemToSnapshot(conversationID, out.Attributes)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("repository: AppendMessage decode: %w", err)
	}
	return snap, nil
}

// GetConversation returns the full ordered message log. A missing
// conversation is reported through Snapshot.Found, not as an error.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (domain.Snapshot, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(convPK(conversationID), skConversation),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Snapshot{ConversationID: conversationID}, nil
	}

	snap, err := itemToSnapshot(conversationID, out.Item)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	return snap, nil
}

func messageAttr(m domain.Message) *types.AttributeValueMemberM {
	v := map[string]types.AttributeValue{
		"id":        &types.AttributeValueMemberS{Value: m.ID},
		"senderId":  &types.AttributeValueMemberS{Value: m.SenderID},
		"text":      &types.AttributeValueMemberS{Value: m.Text},
		"createdAt": &types.AttributeValueMemberS{Value: formatTime(m.CreatedAt)},
	}
	if m.AttachmentURL != "" {
		v["img"] = &types.AttributeValueMemberS{Value: m.AttachmentURL}
	}
	return &types.AttributeValueMemberM{Value: v}
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := strAttr(item, "senderId")
	if err != nil {
		return domain.Message{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:            id,
		SenderID:      sender,
		Text:          optStrAttr(item, "text"),
		AttachmentURL: optStrAttr(item, "img"),
		CreatedAt:     createdAt,
	}, nil
}

func itemToSnapshot(conversationID string, item map[string]types.AttributeValue) (domain.Snapshot, error) {
	snap := domain.Snapshot{ConversationID: conversationID, Found: true}

	if id := optStrAttr(item, "conversationId"); id != "" {
		snap.ConversationID = id
	}
	if raw := optStrAttr(item, "createdAt"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("repository: parse attribute %q: %w", "createdAt", err)
		}
		snap.CreatedAt = t
	}

	participants, err := listAttr(item, "participants")
	if err != nil {
		return domain.Snapshot{}, err
	}
	for _, p := range participants {
		if s, ok := p.(*types.AttributeValueMemberS); ok {
			snap.Participants = append(snap.Participants, s.Value)
		}
	}

	raw, err := listAttr(item, "messages")
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap.Messages = make([]domain.Message, 0, len(raw))
	for _, v := range raw {
		m, err := mapValue(v, "messages")
		if err != nil {
			return domain.Snapshot{}, err
		}
		msg, err := itemToMessage(m)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.Messages = append(snap.Messages, msg)
	}
	return snap, nil
}
