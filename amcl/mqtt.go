package amcl

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient manages the broker connection and wires inbound topics to the
// estimator and the transform buffer.
type MQTTClient struct {
	client      mqtt.Client
	cfg         *MQTTConfig
	node        *Node
	tfBuffer    *TransformBuffer
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT connects to the broker and subscribes the estimator's inbound
// topics. Returns nil with no error when no broker is configured.
func InitMQTT(cfg *MQTTConfig, node *Node, tfBuffer *TransformBuffer) (*MQTTClient, error) {
	if cfg.Broker == "" {
		log.Println("MQTT disabled: no broker configured")
		return nil, nil
	}
	if node == nil {
		return nil, fmt.Errorf("MQTT enabled but no estimator provided")
	}

	c := &MQTTClient{cfg: cfg, node: node, tfBuffer: tfBuffer}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "amcl"
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Scans must reach the filter in arrival order.
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)

	go c.connectWithRetry()

	return c, nil
}

func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	subscribe := func(topic string, handler mqtt.MessageHandler) {
		if topic == "" {
			return
		}
		token := client.Subscribe(topic, 0, handler)
		go func() {
			token.Wait()
			if token.Error() != nil {
				log.Printf("failed to subscribe to %s: %v", topic, token.Error())
				return
			}
			log.Printf("subscribed to %s", topic)
		}()
	}

	subscribe(c.cfg.MapTopic, c.onMap)
	subscribe(c.cfg.ScanTopic, c.onScan)
	subscribe(c.cfg.InitialPoseTopic, c.onInitialPose)
	subscribe(c.cfg.OdomTopic, c.onOdom)
	subscribe(c.cfg.CommandTopic, c.onCommand)
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection lost: %v", err)
	c.setConnected(false)
}

func (c *MQTTClient) onMap(_ mqtt.Client, msg mqtt.Message) {
	var grid OccupancyGridMsg
	if err := json.Unmarshal(msg.Payload(), &grid); err != nil {
		log.Printf("bad map payload on %s: %v", msg.Topic(), err)
		return
	}
	c.node.HandleMap(&grid)
}

func (c *MQTTClient) onScan(_ mqtt.Client, msg mqtt.Message) {
	var scan LaserScanMsg
	if err := json.Unmarshal(msg.Payload(), &scan); err != nil {
		log.Printf("bad scan payload on %s: %v", msg.Topic(), err)
		return
	}
	c.node.HandleScan(&scan)
}

func (c *MQTTClient) onInitialPose(_ mqtt.Client, msg mqtt.Message) {
	var pose PoseWithCovarianceMsg
	if err := json.Unmarshal(msg.Payload(), &pose); err != nil {
		log.Printf("bad initial pose payload on %s: %v", msg.Topic(), err)
		return
	}
	c.node.HandleInitialPose(&pose)
}

func (c *MQTTClient) onOdom(_ mqtt.Client, msg mqtt.Message) {
	if c.tfBuffer == nil {
		return
	}
	var t TransformMsg
	if err := json.Unmarshal(msg.Payload(), &t); err != nil {
		log.Printf("bad transform payload on %s: %v", msg.Topic(), err)
		return
	}
	c.tfBuffer.Set(t.Parent, t.Child, t.Stamp, t.Pose())
}

func (c *MQTTClient) onCommand(_ mqtt.Client, msg mqtt.Message) {
	var cmd CommandMsg
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		log.Printf("bad command payload on %s: %v", msg.Topic(), err)
		return
	}
	c.node.HandleCommand(&cmd)
}

// IsConnected reports the broker connection state.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected && c.client != nil && c.client.IsConnected()
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Client exposes the underlying paho client for the publisher.
func (c *MQTTClient) Client() mqtt.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// Disconnect closes the broker connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.setConnected(false)
}
