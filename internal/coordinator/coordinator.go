// Package coordinator implements the Host Coordinator: MQTT client
// lifecycle, the Host's own STATE birth/death certificate, the
// NBIRTH/NDEATH/NDATA/DBIRTH/DDATA/DDEATH/STATE dispatch table, and
// command publication, wiring together the Ordering Engine and
// Liveness Tracker.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sparklernet/hostcore/internal/config"
	"github.com/sparklernet/hostcore/internal/hosterrors"
	"github.com/sparklernet/hostcore/internal/liveness"
	"github.com/sparklernet/hostcore/internal/metrics"
	"github.com/sparklernet/hostcore/internal/ordering"
	"github.com/sparklernet/hostcore/internal/sparkplug"
)

// Handlers are the user-supplied asynchronous callbacks the Coordinator
// dispatches decoded messages to. Any field left nil is simply skipped.
type Handlers struct {
	EdgeNodeBirth func(msg sparkplug.Message)
	EdgeNodeDeath func(msg sparkplug.Message)
	NodeData      func(msg sparkplug.Message)
	DeviceBirth   func(msg sparkplug.Message)
	DeviceData    func(msg sparkplug.Message)
	DeviceDeath   func(msg sparkplug.Message)
	HostState     func(msg sparkplug.Message)
	Unsupported   func(topic string, payload []byte, err error)
}

const namespace = "spBv1.0"

// Coordinator is the Host Coordinator: it owns the MQTT session, the
// STATE birth/death certificate, the dispatch table, and command
// publication.
type Coordinator struct {
	cfg      config.Config
	handlers Handlers

	ordering *ordering.Engine
	liveness *liveness.Tracker
	metrics  *metrics.Set

	client        mqttClient
	clientFactory func(*mqtt.ClientOptions) mqttClient

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	// bdSeq is the Host's own process-local birth/death sequence number,
	// a counter mod 256 bumped on every STATE transition this Coordinator
	// publishes.
	bdSeq atomic.Uint32

	hostStateTopic string
}

// mqttClient is the slice of paho's mqtt.Client the Coordinator actually
// calls. Any concrete type satisfying paho's (much larger) mqtt.Client
// interface automatically satisfies this one too; tests substitute a
// fake via NewWithClientFactory instead of dialing a real broker.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// New constructs a Coordinator. metrics may be nil to disable Prometheus
// wiring entirely (e.g. in tests).
func New(cfg config.Config, handlers Handlers, m *metrics.Set) *Coordinator {
	return NewWithClientFactory(cfg, handlers, m, func(opts *mqtt.ClientOptions) mqttClient {
		return mqtt.NewClient(opts)
	})
}

// NewWithClientFactory is New with an injectable paho client factory, for
// tests that want to exercise Start/dispatch/Stop against a fake client
// instead of a real broker.
func NewWithClientFactory(cfg config.Config, handlers Handlers, m *metrics.Set, factory func(*mqtt.ClientOptions) mqttClient) *Coordinator {
	c := &Coordinator{
		cfg:            cfg,
		handlers:       handlers,
		metrics:        m,
		clientFactory:  factory,
		hostStateTopic: namespace + "/STATE/" + cfg.Host.ApplicationID,
	}

	sendRebirth := true
	if cfg.Ordering.SendRebirthOnTimeout != nil {
		sendRebirth = *cfg.Ordering.SendRebirthOnTimeout
	}
	c.ordering = ordering.New(ordering.Config{
		ReorderTimeout:       time.Duration(cfg.Ordering.SeqReorderTimeoutMs) * time.Millisecond,
		SeqCacheExpiration:   time.Duration(cfg.Ordering.SeqCacheExpirationMinutes) * time.Minute,
		SendRebirthOnTimeout: sendRebirth,
		OnRebirthRequested:   c.onRebirthRequested,
		OnPendingFlush:       c.onPendingFlush,
		Metrics:              m,
	})
	c.liveness = liveness.New()

	return c
}

// Ordering exposes the Coordinator's Ordering Engine, e.g. for tests
// that want to seed or inspect state directly.
func (c *Coordinator) Ordering() *ordering.Engine { return c.ordering }

// BdSeq returns the Host's current birth/death sequence counter, as
// last bumped by a STATE birth or death publish.
func (c *Coordinator) BdSeq() uint32 { return c.bdSeq.Load() }

// nextBdSeq atomically bumps the counter mod 256 and returns the new
// value.
func (c *Coordinator) nextBdSeq() uint32 {
	for {
		old := c.bdSeq.Load()
		next := (old + 1) % 256
		if c.bdSeq.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Liveness exposes the Coordinator's Liveness Tracker. DBIRTH/DDEATH are
// not auto-applied to device liveness by the dispatch table (only
// edge-node liveness is updated there); callers drive device
// liveness explicitly from their DeviceBirth/DeviceDeath handlers via
// this accessor.
func (c *Coordinator) Liveness() *liveness.Tracker { return c.liveness }

// Start runs the startup sequence: set the LWT, connect,
// then (inside the connect handler) subscribe and publish the Host's own
// STATE birth certificate.
func (c *Coordinator) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.group = new(errgroup.Group)
	c.group.SetLimit(runtime.GOMAXPROCS(0))

	clientID := c.cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "hostcore-" + uuid.NewString()
	}

	death := sparkplug.EncodeStatePayload(false, time.Now().UnixMilli())

	opts := mqtt.NewClientOptions().AddBroker(c.cfg.MQTT.Broker)
	opts.SetClientID(clientID)
	opts.SetKeepAlive(time.Duration(c.cfg.MQTT.KeepAliveSecs) * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetWill(c.hostStateTopic, string(death), 1, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("hostcore: %s err=%v", tag("disconnect", colYellow), err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Printf("hostcore: %s", tag("reconnecting", colYellow))
	})

	c.client = c.clientFactory(opts)
	tok := c.client.Connect()
	if !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		return hosterrors.Wrap(hosterrors.ErrTransport, fmt.Sprintf("connect: %v", tok.Error()))
	}
	return nil
}

// onConnect ignores the mqtt.Client paho hands it and instead uses
// c.client, the same value the Coordinator's own factory produced, so
// tests can drive it directly without a real connected paho client.
func (c *Coordinator) onConnect(mqtt.Client) {
	log.Printf("hostcore: %s broker=%s", tag("connect", colBlue), c.cfg.MQTT.Broker)

	wildcard := namespace + "/#"
	if tok := c.client.Subscribe(wildcard, 1, c.onMessage); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		log.Printf("hostcore: %s topic=%s err=%v", tag("error", colRed), wildcard, tok.Error())
	}
	for _, filter := range c.cfg.Subscriptions {
		if tok := c.client.Subscribe(filter, 1, c.onMessage); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
			log.Printf("hostcore: %s topic=%s err=%v", tag("error", colRed), filter, tok.Error())
		}
	}

	birth := sparkplug.EncodeStatePayload(true, time.Now().UnixMilli())
	if tok := c.client.Publish(c.hostStateTopic, 1, true, birth); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		log.Printf("hostcore: %s err=%v", tag("error", colRed), tok.Error())
	}
	bdSeq := c.nextBdSeq()
	log.Printf("hostcore: %s bdseq=%d", tag("state_birth", colBlue), bdSeq)
}

// onMessage is the shared paho subscribe callback. Topic parsing,
// payload decoding, the per-key ordering/liveness work and user handler
// invocation are all handed to the worker pool for backpressure.
func (c *Coordinator) onMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case <-c.ctx.Done():
		return
	default:
	}
	topic := msg.Topic()
	raw := msg.Payload()
	c.group.Go(func() error {
		c.dispatch(topic, raw)
		return nil
	})
}

func (c *Coordinator) dispatch(topic string, raw []byte) {
	parsed, err := sparkplug.ParseTopic(topic)
	if err != nil {
		c.reportUnsupported(topic, raw, err)
		return
	}
	payload, err := sparkplug.DecodePayload(parsed.Type, raw)
	if err != nil {
		c.reportUnsupported(topic, raw, err)
		return
	}

	c.route(sparkplug.Message{
		Version:          parsed.Version,
		Type:             parsed.Type,
		GroupID:          parsed.Group,
		EdgeNodeID:       parsed.EdgeNodeID,
		DeviceID:         parsed.DeviceID,
		Payload:          payload,
		ReceivedAtMillis: time.Now().UnixMilli(),
	})
}

// route implements the message dispatch table.
func (c *Coordinator) route(msg sparkplug.Message) {
	switch msg.Type {
	case sparkplug.NBIRTH:
		bdSeq := sparkplug.ExtractBdSeq(msg.Payload)
		if err := c.liveness.UpdateEdgeNode(msg.GroupID, msg.EdgeNodeID, true, bdSeq, msg.Payload.Timestamp); err != nil {
			log.Printf("hostcore: %s err=%v", tag("liveness_error", colRed), err)
		}
		if c.cfg.Ordering.Enabled {
			c.ordering.Reset(msg.GroupID, msg.EdgeNodeID)
			c.ordering.Seed(msg.GroupID, msg.EdgeNodeID, msg.Payload.Seq)
		}
		c.countDispatch(msg.Type)
		if c.handlers.EdgeNodeBirth != nil {
			c.handlers.EdgeNodeBirth(msg)
		}

	case sparkplug.NDEATH:
		bdSeq := sparkplug.ExtractBdSeq(msg.Payload)
		if err := c.liveness.UpdateEdgeNode(msg.GroupID, msg.EdgeNodeID, false, bdSeq, msg.Payload.Timestamp); err != nil {
			log.Printf("hostcore: %s err=%v", tag("liveness_error", colRed), err)
		}
		if c.cfg.Ordering.Enabled {
			c.ordering.Reset(msg.GroupID, msg.EdgeNodeID)
		}
		c.countDispatch(msg.Type)
		if c.handlers.EdgeNodeDeath != nil {
			c.handlers.EdgeNodeDeath(msg)
		}

	case sparkplug.NDATA, sparkplug.DBIRTH, sparkplug.DDATA, sparkplug.DDEATH:
		if !c.cfg.Ordering.Enabled {
			c.countDispatch(msg.Type)
			c.invokeForType(msg)
			return
		}
		out, err := c.ordering.Process(msg)
		if err != nil {
			c.reportUnsupported("", nil, err)
			return
		}
		for _, m := range out {
			c.countDispatch(m.Type)
			c.invokeForType(m)
		}

	case sparkplug.STATE:
		c.countDispatch(msg.Type)
		if c.handlers.HostState != nil {
			c.handlers.HostState(msg)
		}

	default:
		c.reportUnsupported("", nil, hosterrors.Wrap(hosterrors.ErrUnsupportedTopic, string(msg.Type)))
	}
}

// invokeForType routes a single ordering-delivered message (whether
// returned synchronously from process or flushed asynchronously by the
// reorder timer) to its corresponding handler.
func (c *Coordinator) invokeForType(m sparkplug.Message) {
	switch m.Type {
	case sparkplug.NDATA:
		if c.handlers.NodeData != nil {
			c.handlers.NodeData(m)
		}
	case sparkplug.DBIRTH:
		if c.handlers.DeviceBirth != nil {
			c.handlers.DeviceBirth(m)
		}
	case sparkplug.DDATA:
		if c.handlers.DeviceData != nil {
			c.handlers.DeviceData(m)
		}
	case sparkplug.DDEATH:
		if c.handlers.DeviceDeath != nil {
			c.handlers.DeviceDeath(m)
		}
	}
}

// onPendingFlush is the Ordering Engine's reorder-timeout callback: the
// messages it hands back never passed through dispatch's synchronous
// path, so they need the same handler routing applied here.
func (c *Coordinator) onPendingFlush(msgs []sparkplug.Message) {
	for _, m := range msgs {
		c.countDispatch(m.Type)
		c.invokeForType(m)
	}
}

// onRebirthRequested wires the Ordering Engine's timeout callback
// directly to the rebirth command convenience form.
func (c *Coordinator) onRebirthRequested(groupID, edgeNodeID string) {
	if err := c.RequestNodeRebirth(groupID, edgeNodeID); err != nil {
		log.Printf("hostcore: %s group=%s edge=%s err=%v", tag("rebirth_error", colRed), groupID, edgeNodeID, err)
	}
}

func (c *Coordinator) reportUnsupported(topic string, raw []byte, err error) {
	if c.handlers.Unsupported != nil {
		c.handlers.Unsupported(topic, raw, err)
	}
}

func (c *Coordinator) countDispatch(mt sparkplug.MessageType) {
	if c.metrics != nil {
		c.metrics.MessagesDispatchedTotal.WithLabelValues(string(mt)).Inc()
	}
}

// Stop runs the shutdown sequence: publish the STATE
// death certificate, clear both engines, drain the worker pool, then
// disconnect.
func (c *Coordinator) Stop(_ context.Context) error {
	death := sparkplug.EncodeStatePayload(false, time.Now().UnixMilli())
	if tok := c.client.Publish(c.hostStateTopic, 1, true, death); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		log.Printf("hostcore: %s err=%v", tag("error", colRed), tok.Error())
	}
	bdSeq := c.nextBdSeq()
	log.Printf("hostcore: %s bdseq=%d", tag("state_death", colYellow), bdSeq)

	c.ordering.ClearAll()
	c.liveness.ClearAll()

	if c.cancel != nil {
		c.cancel()
	}
	if c.group != nil {
		_ = c.group.Wait()
	}

	c.client.Disconnect(250)
	return nil
}
