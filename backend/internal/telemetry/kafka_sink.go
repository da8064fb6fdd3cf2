package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"

	"collabEngine/backend/internal/collab"
)

// KafkaSink：本地有界队列 + worker 异步发送 + 有限重试。
// 目标：
// - 不阻塞主协作流程（Track 只负责入队，队列满直接丢弃）
// - Kafka 短暂阻塞时靠队列吸收，后台慢慢补发
// - 重试打满后降级丢弃，避免内存无限增长
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string

	queue chan Event

	// sem 限制并发的 SendMessage 数量。
	sem *collab.SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type KafkaSinkOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaSink(producer sarama.SyncProducer, topic string, sem *collab.SemaphoreControl, opt KafkaSinkOptions) *KafkaSink {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 10_000
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	s := &KafkaSink{
		producer:    producer,
		topic:       topic,
		queue:       make(chan Event, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	s.start()
	return s
}

// Track 入队即返回；队列满了就丢，核心流程感知不到 kafka 的任何状态。
func (s *KafkaSink) Track(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	select {
	case s.queue <- evt:
	default:
		// 丢弃。telemetry 不要求强一致，不是每个事件都必须送达。
	}
}

func (s *KafkaSink) start() {
	for i := 0; i < s.workers; i++ {
		go s.workerLoop(i)
	}
}

func (s *KafkaSink) workerLoop(workerID int) {
	for evt := range s.queue {
		s.sendWithRetry(workerID, evt)
	}
}

func (s *KafkaSink) sendWithRetry(workerID int, evt Event) {
	for attempt := 0; attempt <= s.maxRetry; attempt++ {
		if s.sem != nil {
			// worker 允许一直等待（不会影响主链路）
			_ = s.sem.Acquire(context.Background())
		}

		err := s.sendOnce(evt)

		if s.sem != nil {
			_ = s.sem.Release()
		}

		if err == nil {
			return
		}

		if attempt == s.maxRetry {
			log.Printf("telemetry send failed, drop event action=%s user=%s worker=%d err=%v",
				evt.Action, evt.UserID, workerID, err)
			return
		}

		// 退避，每次退避时间X2
		backoff := s.baseBackoff * time.Duration(1<<attempt)
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (s *KafkaSink) sendOnce(evt Event) error {
	if s.producer == nil || s.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(evt.UserID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = s.producer.SendMessage(msg)
	return err
}
