package amcl

import (
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// cloudMsg is the particle cloud payload.
type cloudMsg struct {
	FrameID string    `json:"frameId"`
	Stamp   time.Time `json:"stamp"`
	Poses   []Pose    `json:"poses"`
}

// Publisher sends estimator outputs to MQTT. A nil client disables
// publishing, which tests rely on.
type Publisher struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// NewPublisher creates a publisher under the given topic prefix.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "amcl"
	}
	return &Publisher{client: client, prefix: prefix}
}

func (p *Publisher) publish(topic string, retain bool, v interface{}) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal %s payload: %v", topic, err)
		return
	}
	token := p.client.Publish(topic, p.qos, retain, payload)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Printf("failed to publish to %s: %v", topic, token.Error())
		}
	}()
}

// PublishPose publishes the best-hypothesis pose, retained so late joiners
// see the latest estimate.
func (p *Publisher) PublishPose(est *PoseEstimate) {
	p.publish(p.prefix+"/pose", true, est)
}

// PublishCloud publishes the particle cloud for visualization.
func (p *Publisher) PublishCloud(frameID string, stamp time.Time, poses []Pose) {
	p.publish(p.prefix+"/particlecloud", false, &cloudMsg{FrameID: frameID, Stamp: stamp, Poses: poses})
}

// PublishTransform broadcasts the map->odom correction with its expiration
// carried in the stamp.
func (p *Publisher) PublishTransform(t *TransformMsg) {
	p.publish(p.prefix+"/tf", true, t)
}
