// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqttpub forwards decoded channel frames and link telemetry to an
// MQTT broker.
package mqttpub

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Thermoquad/ibuslink/pkg/ibus"
)

const (
	// DefaultInterval limits channel publications to 20 per second.
	DefaultInterval = 50 * time.Millisecond

	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
)

// Client is the part of paho.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Options configure a Publisher.
type Options struct {
	Broker      string
	TopicPrefix string
	ClientID    string
	QoS         byte
	Interval    time.Duration // minimum spacing of channel publications
	Logger      *zerolog.Logger
}

// ChannelMessage is the payload published on <prefix>/channels.
type ChannelMessage struct {
	Time     int64    `json:"time_us"`
	Channels []uint16 `json:"channels"`
}

// SensorMessage is the payload published on <prefix>/sensors/<index>.
type SensorMessage struct {
	Index uint8  `json:"index"`
	Type  uint16 `json:"type"`
	Value uint32 `json:"value"`
	Text  string `json:"text"`
}

// StatsMessage is the payload published on <prefix>/stats.
type StatsMessage struct {
	Direction string          `json:"direction"`
	Stats     ibus.Statistics `json:"stats"`
	Dropped   uint64          `json:"dropped"`
}

type frameMsg struct {
	at    time.Time
	frame ibus.ChannelFrame
}

// Publisher implements ibus.ControlLaw. Frames are handed to a background
// goroutine without blocking; frames arriving while the queue is full are
// counted and dropped.
type Publisher struct {
	client   Client
	prefix   string
	qos      byte
	interval time.Duration
	log      zerolog.Logger

	frames  chan frameMsg
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	once    sync.Once
}

// DefaultClientID derives a stable client id from the host's machine id.
func DefaultClientID() string {
	id, err := machineid.ProtectedID("ibuslink")
	if err != nil || len(id) < 12 {
		return fmt.Sprintf("ibuslink-%d", os.Getpid())
	}
	return "ibuslink-" + id[:12]
}

// Dial connects to the broker and returns a running Publisher.
func Dial(opts Options) (*Publisher, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = DefaultClientID()
	}

	co := paho.NewClientOptions()
	co.AddBroker(opts.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true)

	logger := loggerFor(opts)
	co.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn().Err(err).Msg("connection lost")
	})
	co.SetOnConnectHandler(func(paho.Client) {
		logger.Info().Str("broker", opts.Broker).Str("client_id", clientID).Msg("connected")
	})

	client := paho.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", opts.Broker, err)
	}
	return New(client, opts), nil
}

// New starts a Publisher on an already connected client.
func New(client Client, opts Options) *Publisher {
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	p := &Publisher{
		client:   client,
		prefix:   opts.TopicPrefix,
		qos:      opts.QoS,
		interval: interval,
		log:      loggerFor(opts),
		frames:   make(chan frameMsg, 1),
		done:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func loggerFor(opts Options) zerolog.Logger {
	if opts.Logger != nil {
		return opts.Logger.With().Str("component", "mqtt").Logger()
	}
	return log.Logger.With().Str("component", "mqtt").Logger()
}

// ApplyChannelFrame implements ibus.ControlLaw.
func (p *Publisher) ApplyChannelFrame(frame ibus.ChannelFrame) {
	select {
	case p.frames <- frameMsg{at: time.Now(), frame: frame}:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns the number of frames discarded because the queue was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Topic joins name onto the publisher's prefix.
func (p *Publisher) Topic(name string) string {
	return path.Join(p.prefix, name)
}

func (p *Publisher) run() {
	defer p.wg.Done()
	var last time.Time
	for {
		select {
		case <-p.done:
			return
		case m := <-p.frames:
			if !last.IsZero() && m.at.Sub(last) < p.interval {
				continue
			}
			last = m.at
			msg := ChannelMessage{Time: m.at.UnixMicro(), Channels: m.frame[:]}
			if err := p.publish("channels", msg); err != nil {
				p.log.Warn().Err(err).Msg("channel publish failed")
			}
		}
	}
}

// PublishSensor publishes one sensor reading.
func (p *Publisher) PublishSensor(index uint8, typ ibus.SensorType, value uint32) error {
	return p.publish(fmt.Sprintf("sensors/%d", index), SensorMessage{
		Index: index,
		Type:  uint16(typ),
		Value: value,
		Text:  ibus.FormatSensorValue(typ, value),
	})
}

// PublishSnapshot publishes the link direction and counters.
func (p *Publisher) PublishSnapshot(s ibus.Snapshot) error {
	return p.publish("stats", StatsMessage{
		Direction: ibus.FormatDirection(s.Direction),
		Stats:     s.Stats,
		Dropped:   p.Dropped(),
	})
}

func (p *Publisher) publish(name string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.Topic(name), p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish %s timed out", p.Topic(name))
	}
	return token.Error()
}

// Close stops the publisher and disconnects the client.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.client.Disconnect(250)
	})
	return nil
}
