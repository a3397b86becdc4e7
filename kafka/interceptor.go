package kafka

import (
	"github.com/IBM/sarama"
)

type ChatEventInterceptor struct {
}

func (i *ChatEventInterceptor) OnSend(msg *sarama.ProducerMessage) {
	msg.Headers = append(msg.Headers, sarama.RecordHeader{
		Key:   []byte("source"),
		Value: []byte("shopdesk-chat"),
	})
}

func NewChatEventInterceptor() *ChatEventInterceptor {
	return &ChatEventInterceptor{}
}
