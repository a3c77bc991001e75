package kafka

import (
	"context"
	"encoding/json"
	"time"

	"MeetChat/module/chat/model"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

const EventMessageAppended = "message.appended"

// MessageEvent is published once per appended message, keyed by room id.
type MessageEvent struct {
	Event       string            `json:"event"`
	MessageID   string            `json:"messageId"`
	ChatRoomID  string            `json:"chatRoomId"`
	SenderID    string            `json:"senderId"`
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"messageType"`
	CreatedAt   string            `json:"createdAt"`
	Timestamp   int64             `json:"timestamp"`
	SequenceKey string            `json:"sequenceKey"`
}

// MessageSink publishes appended messages for downstream consumers (notifications, search).
type MessageSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewMessageSink(producer sarama.SyncProducer, topic string) *MessageSink {
	if topic == "" {
		topic = "chat.message.appended"
	}
	return &MessageSink{producer: producer, topic: topic}
}

func (s *MessageSink) MessageAppended(ctx context.Context, m *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(MessageEvent{
		Event:       EventMessageAppended,
		MessageID:   m.MessageID,
		ChatRoomID:  m.RoomID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		MessageType: m.MessageType,
		CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339Nano),
		Timestamp:   m.Timestamp,
		SequenceKey: m.SequenceKey,
	})
	if err != nil {
		return errors.Wrap(err, "encode message event")
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(m.RoomID),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(EventMessageAppended)},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "publish message=%s", m.MessageID)
	}
	return nil
}

func (s *MessageSink) Close() error { return s.producer.Close() }
