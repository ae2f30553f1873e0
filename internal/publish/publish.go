// Package publish forwards location updates to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/banshee-data/rssi.locate/internal/localization"
	"github.com/banshee-data/rssi.locate/internal/monitoring"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "rssi"

// Config describes the broker connection.
type Config struct {
	// Broker is host:port, optionally with a tcp:// or mqtt:// scheme.
	Broker      string
	ClientID    string
	TopicPrefix string
	KeepAlive   uint16        // seconds; 0 means 30
	Timeout     time.Duration // per publish; 0 means 5s
	QueueSize   int           // 0 means 32
}

// Publisher publishes each LocationUpdate, retained at QoS 1, to
// <prefix>/<sphereID>/location. Updates are queued so the engine worker
// never waits on the network; when the queue is full the update is
// dropped.
type Publisher struct {
	client  *paho.Client
	prefix  string
	timeout time.Duration
	queue   chan localization.LocationUpdate

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the broker.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	addr, err := brokerAddress(cfg.Broker)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial mqtt broker %s: %w", addr, err)
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "rssi-locate"
	}
	client := paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     conn,
		OnClientError: func(err error) {
			monitoring.Logf("[publish] mqtt client error: %v", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			monitoring.Logf("[publish] broker disconnected: reason=%d", d.ReasonCode)
		},
	})

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30
	}
	if _, err := client.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		KeepAlive:  keepAlive,
		CleanStart: true,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", addr, err)
	}

	p := &Publisher{
		client:  client,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		timeout: cfg.Timeout,
		done:    make(chan struct{}),
	}
	if p.prefix == "" {
		p.prefix = DefaultTopicPrefix
	}
	if p.timeout <= 0 {
		p.timeout = 5 * time.Second
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 32
	}
	p.queue = make(chan localization.LocationUpdate, size)
	monitoring.Logf("[publish] connected to %s as %s, topic prefix %q", addr, clientID, p.prefix)
	return p, nil
}

func brokerAddress(broker string) (string, error) {
	if broker == "" {
		return "", errors.New("empty mqtt broker address")
	}
	if strings.Contains(broker, "://") {
		u, err := url.Parse(broker)
		if err != nil {
			return "", fmt.Errorf("invalid mqtt broker url %q: %w", broker, err)
		}
		switch u.Scheme {
		case "tcp", "mqtt":
		default:
			return "", fmt.Errorf("unsupported mqtt scheme %q", u.Scheme)
		}
		broker = u.Host
	}
	if _, _, err := net.SplitHostPort(broker); err != nil {
		broker = net.JoinHostPort(broker, "1883")
	}
	return broker, nil
}

// Topic returns the topic updates for sphereID are published to. MQTT
// wildcard and separator characters in the id are replaced.
func (p *Publisher) Topic(sphereID string) string {
	return p.prefix + "/" + topicSegment(sphereID) + "/location"
}

func topicSegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// Publish sends one update and waits for the broker's acknowledgement.
func (p *Publisher) Publish(ctx context.Context, u localization.LocationUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	_, err = p.client.Publish(ctx, &paho.Publish{
		Topic:   p.Topic(u.SphereID),
		QoS:     1,
		Retain:  true,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.Topic(u.SphereID), err)
	}
	return nil
}

// Enqueue queues u for Run. It never blocks.
func (p *Publisher) Enqueue(u localization.LocationUpdate) {
	select {
	case p.queue <- u:
	default:
		monitoring.Logf("[publish] queue full, dropping update for sphere %s", u.SphereID)
	}
}

// Callback returns a localization callback that enqueues updates.
func (p *Publisher) Callback() localization.Callback {
	return p.Enqueue
}

// Run publishes queued updates until ctx is done or Close is called.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case u := <-p.queue:
			if err := p.Publish(ctx, u); err != nil {
				monitoring.Logf("[publish] %v", err)
			}
		}
	}
}

// Close stops Run and disconnects from the broker.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	})
	return err
}
