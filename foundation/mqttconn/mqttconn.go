// Package mqttconn wraps the paho MQTT client with the connection behavior
// the services share: generated client ids, 60 second keepalive and
// automatic reconnection with a 5 second retry interval. Subscriptions are
// replayed after every reconnect.
package mqttconn

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	keepAlive      = 60 * time.Second
	reconnectDelay = 5 * time.Second
	connectTimeout = 30 * time.Second
)

// Config is the required properties to reach the broker.
type Config struct {
	Broker string
	Port   int
	// ClientIDPrefix prefixes the generated client id so broker logs can
	// tell the services apart.
	ClientIDPrefix string
}

// MessageHandler receives inbound messages for a subscription.
type MessageHandler func(topic string, payload []byte)

// Conn is a connected MQTT client.
type Conn struct {
	log    *log.Logger
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and blocks until the first connection succeeds or
// the connect timeout expires.
func Connect(log *log.Logger, cfg Config) (*Conn, error) {
	conn := Conn{
		log:  log,
		subs: make(map[string]subscription),
	}

	clientID := fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, uuid.NewString())
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(clientID)
	opts.SetKeepAlive(keepAlive)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(reconnectDelay)
	opts.SetConnectRetryInterval(reconnectDelay)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt connection lost, reconnecting: %v", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("mqtt connected as %s", clientID)
		conn.resubscribe(client)
	})

	conn.client = mqtt.NewClient(opts)
	token := conn.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("timed out connecting to mqtt broker %s:%d", cfg.Broker, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker %s:%d: %w", cfg.Broker, cfg.Port, err)
	}
	return &conn, nil
}

// Publish sends payload to topic and waits for broker acknowledgment.
func (c *Conn) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic. The subscription survives
// reconnects.
func (c *Conn) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}

func (c *Conn) resubscribe(client mqtt.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, sub := range c.subs {
		handler := sub.handler
		token := client.Subscribe(topic, sub.qos, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Printf("unable to restore subscription to %s: %v", topic, err)
		}
	}
}

// Close disconnects from the broker, allowing a short drain for in-flight
// messages.
func (c *Conn) Close() {
	c.client.Disconnect(250)
}
