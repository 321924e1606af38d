package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_SendMessage(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"event":"giftcard.locked"}` {
			return errors.New("unexpected payload")
		}
		return nil
	})

	p := NewPublisher(producer)
	require.NoError(t, p.SendMessage("giftcard_event", "5", `{"event":"giftcard.locked"}`))
	require.NoError(t, p.Close())
}

func TestPublisher_SendMessageFails(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisher(producer)
	err := p.SendMessage("giftcard_event", "5", "{}")
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
