package lynx

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CommandPublisher pushes write values to the Lynx MQTT broker. Function
// write topics live on the installation's client prefix, not on the bridge's
// own namespace.
type CommandPublisher interface {
	Connect(continuation func(error), timeout time.Duration)
	PublishValue(topic string, value float64, continuation func(error), timeout time.Duration)
	Disconnect(timeout time.Duration)
	TopicPrefix() string
}

type MQTTCommandPublisher struct {
	client mqtt.Client
	prefix string
}

var boxUsernameRegexp = regexp.MustCompile(`^[a-z]+:([0-9]+)$`)

// TopicPrefixFromUsername derives the publish prefix from gateway style
// usernames ("box:2086" publishes under "2086/..."). Returns "" when the
// username carries no client id.
func TopicPrefixFromUsername(username string) string {
	matches := boxUsernameRegexp.FindStringSubmatch(username)
	if len(matches) == 2 {
		return matches[1]
	}
	return ""
}

// CreateCommandPublisher connects with the API key as password, the way the
// Lynx broker authenticates API users. fallbackPrefix is used when the
// username does not embed a client id.
func CreateCommandPublisher(broker string, username string, apiKey string,
	fallbackPrefix string, onConnectionLost func(error)) (*MQTTCommandPublisher, error) {

	if broker == "" {
		return nil, errors.New("lynx: mqtt broker must not be empty")
	}
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	prefix := TopicPrefixFromUsername(username)
	if prefix == "" {
		prefix = fallbackPrefix
	}
	if prefix == "" {
		return nil, errors.New("lynx: cannot derive a topic prefix, set a client id")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("lynx2mqtt_cmd_%d", rand.IntN(1000)))
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(apiKey)
	}
	if onConnectionLost != nil {
		opts.OnConnectionLost = func(_ mqtt.Client, err error) {
			onConnectionLost(err)
		}
	}

	return &MQTTCommandPublisher{
		client: mqtt.NewClient(opts),
		prefix: prefix,
	}, nil
}

func (p *MQTTCommandPublisher) TopicPrefix() string {
	return p.prefix
}

func (p *MQTTCommandPublisher) Connect(continuation func(error), timeout time.Duration) {
	token := p.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

// PublishValue sends the `{"value": N}` JSON payload Lynx function consumers
// expect.
func (p *MQTTCommandPublisher) PublishValue(topic string, value float64, continuation func(error), timeout time.Duration) {
	payload, err := json.Marshal(struct {
		Value float64 `json:"value"`
	}{value})
	if err != nil {
		continuation(err)
		return
	}
	token := p.client.Publish(topic, 1, false, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (p *MQTTCommandPublisher) Disconnect(timeout time.Duration) {
	p.client.Disconnect(uint(timeout.Milliseconds()))
}
