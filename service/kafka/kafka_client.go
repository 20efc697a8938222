package kafka

import (
	"time"

	"github.com/Shopify/sarama"
)

// 消息投递 topic 约定
const (
	TopicMessageIngest = "harbor_message_ingest"
	DefaultGroupID     = "harbor-flow-consumer"
)

var (
	KafkaClient sarama.Client
	Producer    sarama.SyncProducer
)

func buildBaseConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区：同租户同分区保序

	// Consumer
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// InitKafkaClient 初始化客户端
func InitKafkaClient(brokers []string) error {
	c, err := sarama.NewClient(brokers, buildBaseConfig())
	if err != nil {
		return err
	}
	KafkaClient = c
	return nil
}

// InitSyncProducerFromClient 同步生产者
func InitSyncProducerFromClient() error {
	p, err := sarama.NewSyncProducerFromClient(KafkaClient)
	if err != nil {
		return err
	}
	Producer = p
	return nil
}

// Initialized 生产者是否可用（API 节点可在 kafka 缺位时直接落库）
func Initialized() bool { return Producer != nil }
