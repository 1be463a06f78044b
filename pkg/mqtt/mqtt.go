// Package mqtt wraps a paho client with a topic prefix and local
// subscription routing.
package mqtt

import (
	"net/url"
	"strings"
	"sync"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// AppID scopes the machine id used in topics and client ids.
const AppID = "nodecore"

// Handler is the callback when a message is received.
type Handler = func(topic string, payload []byte)

// Client is the part of paho.Client the Queue uses.
type Client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// Queue publishes and subscribes below TopicPrefix.
type Queue struct {
	Client      Client
	TopicPrefix string

	subsLock sync.RWMutex
	subs     map[string][]Handler
}

// NodeID returns the identity of this machine, stable across restarts.
func NodeID() string {
	id, err := machineid.ProtectedID(AppID)
	if err != nil {
		glog.Warningf("machine id: %v", err)
		return "unknown"
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

// MatchTopic matches topic with pattern.
func MatchTopic(topic, pattern string) bool {
	tokensT, tokensP := strings.Split(topic, "/"), strings.Split(pattern, "/")
	if len(tokensP) > len(tokensT) {
		return false
	}
	for i, token := range tokensP {
		if token == "#" && i+1 == len(tokensP) {
			return true
		}
		if token != "+" && token != tokensT[i] {
			return false
		}
	}
	return len(tokensP) == len(tokensT)
}

// ClientOptionsFromURL creates ClientOptions from URL, the URL path is
// the topic prefix. "{id}" in the path is replaced with NodeID.
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}

	topicPrefix := strings.TrimPrefix(u.Path, "/")
	if strings.Contains(topicPrefix, "{id}") {
		topicPrefix = strings.Replace(topicPrefix, "{id}", NodeID(), -1)
	}
	if topicPrefix != "" && !strings.HasSuffix(topicPrefix, "/") {
		topicPrefix += "/"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	clientID := u.Query().Get("client-id")
	if clientID == "" {
		clientID = AppID + "-" + NodeID()
	}
	opts.SetClientID(clientID)
	return opts, topicPrefix, nil
}

// NewQueue creates a Queue with a paho client.
func NewQueue(options *paho.ClientOptions, topicPrefix string) *Queue {
	q := &Queue{TopicPrefix: topicPrefix}
	options.SetOnConnectHandler(func(paho.Client) {
		glog.Info("mqtt: connected")
		q.resubscribe()
	})
	options.SetConnectionLostHandler(func(c paho.Client, err error) {
		glog.Warningf("mqtt: connection lost: %v", err)
	})
	q.Client = paho.NewClient(options)
	return q
}

// NewQueueFromURL creates Queue from URL.
func NewQueueFromURL(brokerURL string) (*Queue, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return NewQueue(opts, topicPrefix), nil
}

// Connect connects the client.
func (q *Queue) Connect() error {
	token := q.Client.Connect()
	token.Wait()
	return token.Error()
}

// Close implements io.Closer.
func (q *Queue) Close() error {
	q.Client.Disconnect(250)
	return nil
}

// Pub publishes to a topic below the prefix.
func (q *Queue) Pub(topic string, payload []byte, retain bool) paho.Token {
	glog.V(3).Infof("mqtt: PUB %q %d bytes", q.TopicPrefix+topic, len(payload))
	return q.Client.Publish(q.TopicPrefix+topic, 0, retain, payload)
}

// Sub subscribes a topic pattern below the prefix.
func (q *Queue) Sub(pattern string, handler Handler) {
	q.subsLock.Lock()
	if q.subs == nil {
		q.subs = make(map[string][]Handler)
	}
	first := len(q.subs[pattern]) == 0
	q.subs[pattern] = append(q.subs[pattern], handler)
	q.subsLock.Unlock()
	if first {
		glog.V(2).Infof("mqtt: SUB %q", q.TopicPrefix+pattern)
		q.Client.Subscribe(q.TopicPrefix+pattern, 0, q.dispatch)
	}
}

func (q *Queue) resubscribe() {
	q.subsLock.RLock()
	patterns := make([]string, 0, len(q.subs))
	for pattern := range q.subs {
		patterns = append(patterns, pattern)
	}
	q.subsLock.RUnlock()
	for _, pattern := range patterns {
		q.Client.Subscribe(q.TopicPrefix+pattern, 0, q.dispatch)
	}
}

func (q *Queue) dispatch(c paho.Client, msg paho.Message) {
	q.Deliver(msg.Topic(), msg.Payload())
}

// Deliver routes a message received on the full topic to the
// matching handlers.
func (q *Queue) Deliver(topic string, payload []byte) {
	if !strings.HasPrefix(topic, q.TopicPrefix) {
		return
	}
	topic = topic[len(q.TopicPrefix):]
	glog.V(3).Infof("mqtt: RCV %q", topic)
	var handlers []Handler
	q.subsLock.RLock()
	for pattern, subs := range q.subs {
		if MatchTopic(topic, pattern) {
			handlers = append(handlers, subs...)
		}
	}
	q.subsLock.RUnlock()
	for _, h := range handlers {
		h(topic, payload)
	}
}
