package status

import (
	"context"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Topics below the queue prefix.
const (
	TopicStatus = "status"
	TopicOnline = "online"
)

// Queue publishes messages, implemented by mqtt.Queue.
type Queue interface {
	Pub(topic string, payload []byte, retain bool) paho.Token
}

// Publisher publishes snapshots as retained protobuf messages. Only
// the most recent snapshot waits for publishing.
type Publisher struct {
	Queue Queue

	pending chan Snapshot
}

// NewPublisher creates a Publisher.
func NewPublisher(q Queue) *Publisher {
	return &Publisher{Queue: q, pending: make(chan Snapshot, 1)}
}

// Name implements framework.Named.
func (p *Publisher) Name() string {
	return "status-publisher"
}

// Publish queues s without blocking, replacing an unpublished one.
func (p *Publisher) Publish(s Snapshot) {
	for {
		select {
		case p.pending <- s:
			return
		default:
		}
		select {
		case <-p.pending:
		default:
		}
	}
}

// Run implements framework.Runnable.
func (p *Publisher) Run(ctx context.Context) error {
	p.Queue.Pub(TopicOnline, []byte("1"), true)
	defer p.Queue.Pub(TopicOnline, []byte("0"), true)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-p.pending:
			data, err := s.Marshal()
			if err != nil {
				glog.Errorf("status: encode: %v", err)
				continue
			}
			p.Queue.Pub(TopicStatus, data, true)
		}
	}
}
