package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"MeetChat/module/chat/model"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageSinkPublishesKeyedEvent(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	var got MessageEvent
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		return json.Unmarshal(val, &got)
	})

	sink := NewMessageSink(p, "")
	m := model.NewMessage("m-1", "room-1", "alice", "hello", time.UnixMilli(1700000000000))
	require.NoError(t, sink.MessageAppended(context.Background(), m))
	require.NoError(t, sink.Close())

	assert.Equal(t, EventMessageAppended, got.Event)
	assert.Equal(t, "m-1", got.MessageID)
	assert.Equal(t, "room-1", got.ChatRoomID)
	assert.Equal(t, int64(1700000000000), got.Timestamp)
	assert.Equal(t, m.SequenceKey, got.SequenceKey)
}

func TestMessageSinkReportsFailure(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewMessageSink(p, "events")
	err := sink.MessageAppended(context.Background(), model.NewMessage("m-2", "room-1", "alice", "x", time.Now()))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestBuildConfig(t *testing.T) {
	cfg, err := BuildConfig(Config{Compression: "lz4", Version: "2.8.0"})
	require.NoError(t, err)
	assert.Equal(t, sarama.CompressionLZ4, cfg.Producer.Compression)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 5, cfg.Producer.Retry.Max)
	assert.True(t, cfg.Producer.Return.Successes)

	_, err = BuildConfig(Config{Version: "not-a-version"})
	assert.Error(t, err)
}
