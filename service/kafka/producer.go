package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

// SendSync 同步发送；key 用租户ID，保证同租户消息进同一分区
func SendSync(topic, key string, value []byte) error {
	if Producer == nil {
		return errors.New("kafka producer not initialized")
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	_, _, err := Producer.SendMessage(msg)
	return errors.WithStack(err)
}
