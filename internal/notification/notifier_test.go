package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"registration-service/internal/models"
)

type recordingProducer struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
	err     error
}

func (p *recordingProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	p.topic, p.key, p.value, p.headers = topic, key, value, headers
	return p.err
}

func TestKafkaNotifierPublishesJSON(t *testing.T) {
	producer := &recordingProducer{}
	n := NewKafkaNotifier(producer, "registration.notifications")

	msg := Message{Kind: KindOTP, Channel: models.ChannelSMS, Destination: "6281234567890", Secret: "123456", Purpose: models.PurposeRegister}
	require.NoError(t, n.Deliver(context.Background(), msg))

	assert.Equal(t, "registration.notifications", producer.topic)
	assert.Equal(t, []byte("6281234567890"), producer.key)
	assert.Equal(t, "otp", producer.headers["kind"])
	assert.Equal(t, "SMS", producer.headers["channel"])
	assert.NotEmpty(t, producer.headers["message_id"])

	var decoded Message
	require.NoError(t, json.Unmarshal(producer.value, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestKafkaNotifierWrapsProducerError(t *testing.T) {
	producer := &recordingProducer{err: errors.New("broker down")}
	n := NewKafkaNotifier(producer, "t")

	err := n.Deliver(context.Background(), Message{Kind: KindOTP})
	assert.ErrorContains(t, err, "broker down")
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zaptest.NewLogger(t))
	assert.NoError(t, n.Deliver(context.Background(), Message{Kind: KindEmailVerification, Destination: "ada@example.com"}))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "62*********90", Mask("6281234567890"))
	assert.Equal(t, "***", Mask("abc"))
}
