package kafka

import (
	"MeetChat/logger"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EnsureTopic creates the topic when missing and grows its partitions when below the wanted count.
// Kafka can only add partitions, never remove them.
func EnsureTopic(admin sarama.ClusterAdmin, topic string, partitions int32, rf int16) error {
	log := logger.L("kafka")
	descs, err := admin.DescribeTopics([]string{topic})
	if err != nil {
		return errors.Wrapf(err, "describe topic %s", topic)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	if !exists {
		minISR := "1"
		if rf >= 3 {
			minISR = "2"
		}
		td := &sarama.TopicDetail{
			NumPartitions:     partitions,
			ReplicationFactor: rf,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(topic, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				log.Info("topic exists (race)", zap.String("topic", topic))
				return nil
			}
			return errors.Wrapf(err, "create topic %s", topic)
		}
		log.Info("topic created", zap.String("topic", topic), zap.Int32("partitions", partitions), zap.Int16("rf", rf))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if partitions > cur {
		if err := admin.CreatePartitions(topic, partitions, nil, false); err != nil {
			return errors.Wrapf(err, "expand partitions %s from %d to %d", topic, cur, partitions)
		}
		log.Info("topic partitions expanded", zap.String("topic", topic), zap.Int32("from", cur), zap.Int32("to", partitions))
	}
	return nil
}

func strPtr(s string) *string { return &s }
