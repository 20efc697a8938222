package kafka

import (
	"context"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

type ConsumerGroupHandler struct{}

func (h *ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	glog.Info("consumer group setup")
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	glog.Info("consumer group cleanup")
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		handler, err := GetHandler(msg.Topic)
		if err != nil {
			glog.Warningf("no handler for topic %s: %v", msg.Topic, err)
		} else if err := handler(msg.Topic, msg.Key, msg.Value); err != nil {
			// 单条消息失败不中断消费，标记后继续
			glog.Errorf("handler error topic=%s partition=%d offset=%d: %v",
				msg.Topic, msg.Partition, msg.Offset, err)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// StartConsumerGroup 拉起消费组，ctx 取消时退出
func StartConsumerGroup(ctx context.Context, brokers []string, groupID string, topics []string) error {
	group, err := sarama.NewConsumerGroupFromClient(groupID, KafkaClient)
	if err != nil {
		group, err = sarama.NewConsumerGroup(brokers, groupID, buildBaseConfig())
		if err != nil {
			return err
		}
	}

	go func() {
		for err := range group.Errors() {
			glog.Errorf("consumer group error: %v", err)
		}
	}()

	handler := &ConsumerGroupHandler{}
	for {
		select {
		case <-ctx.Done():
			return group.Close()
		default:
		}
		if err := group.Consume(ctx, topics, handler); err != nil {
			glog.Errorf("consume error: %v", err)
		}
	}
}
