package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/osm-bridge/internal/entity"
	"github.com/nerrad567/osm-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/osm-bridge/internal/osm"
)

const (
	// commandTimeout bounds one Set call against OSM.
	commandTimeout = 10 * time.Second

	defaultPollInterval = 30 * time.Second

	qosAtLeastOnce = 1
)

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("homeassistant: bridge stopped")

// MQTTClient is the broker surface the bridge uses. *mqtt.Client satisfies it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	MQTTClient MQTTClient
	Topics     mqtt.Topics
	Entities   []entity.Entity

	// PollInterval is the per-entity refresh cadence. Default 30s.
	PollInterval time.Duration

	HealthInterval time.Duration
	Version        string
	OSMHost        string
	Logger         Logger
}

// binding pairs an entity with its topic-safe object ID.
type binding struct {
	objectID string
	entity   entity.Entity
}

// published is the last value sent for an entity.
type published struct {
	state        string
	hasState     bool
	availability string
}

// Bridge exposes entities to Home Assistant over MQTT.
//
// It owns the entity lifecycle: one goroutine per entity attaches it,
// publishes, and then refreshes on the poll interval. Number writes arrive
// on command topics. All methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	topics   mqtt.Topics
	interval time.Duration
	version  string
	health   *HealthReporter

	bindings []*binding
	byObject map[string]*binding

	cache   map[string]published
	cacheMu sync.Mutex

	// publishMu orders publishes per bridge so a command refresh and a
	// poll refresh cannot interleave their cache updates.
	publishMu sync.Mutex

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge validates opts and builds a bridge. Call Start to run it.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Topics.Prefix == "" || opts.Topics.DiscoveryPrefix == "" {
		return nil, fmt.Errorf("topic prefixes are required")
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		mqtt:      opts.MQTTClient,
		topics:    opts.Topics,
		interval:  interval,
		version:   opts.Version,
		byObject:  make(map[string]*binding, len(opts.Entities)),
		cache:     make(map[string]published, len(opts.Entities)),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}

	for _, e := range opts.Entities {
		objectID := mqtt.ObjectID(e.UniqueID())
		if _, dup := b.byObject[objectID]; dup {
			cancel()
			return nil, fmt.Errorf("entities %q collide on object ID %q", e.UniqueID(), objectID)
		}
		bd := &binding{objectID: objectID, entity: e}
		b.bindings = append(b.bindings, bd)
		b.byObject[objectID] = bd
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		OSMHost:   opts.OSMHost,
		Topic:     opts.Topics.BridgeHealth(),
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Stats:     b.entityStats,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start publishes discovery, subscribes to commands and launches the
// entity loops. Cancelling ctx has the same effect as Stop on the loops.
func (b *Bridge) Start(ctx context.Context) error {
	if b.ctx.Err() != nil {
		return ErrStopped
	}

	var err error
	b.startOnce.Do(func() {
		err = b.start(ctx)
	})
	return err
}

func (b *Bridge) start(ctx context.Context) error {
	context.AfterFunc(ctx, b.ctxCancel)

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.publishDiscovery()

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, qosAtLeastOnce, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(b.ctx)

	for i, bd := range b.bindings {
		b.wg.Add(1)
		go b.runEntity(bd, pollOffset(i, len(b.bindings), b.interval))
	}

	b.logInfo("bridge started", "entities", len(b.bindings), "poll_interval", b.interval)
	return nil
}

// Stop cancels the entity loops, waits for them and publishes a stopping
// health status. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()

		if b.mqtt.IsConnected() {
			if err := b.mqtt.Unsubscribe(b.topics.AllCommands()); err != nil {
				b.logDebug("unsubscribe on stop failed", "error", err)
			}
		}
		b.logInfo("bridge stopped")
	})
}

// Resync forgets what was published and sends discovery, availability and
// state again. Call after an MQTT reconnect.
func (b *Bridge) Resync() {
	b.cacheMu.Lock()
	b.cache = make(map[string]published, len(b.bindings))
	b.cacheMu.Unlock()

	b.publishDiscovery()
	for _, bd := range b.bindings {
		b.publishEntity(bd)
	}
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish health", err)
	}
}

// pollOffset spreads n entity tickers evenly across one interval so a poll
// cycle does not hit OSM with every request at once.
func pollOffset(i, n int, interval time.Duration) time.Duration {
	if n <= 1 || interval <= 0 {
		return 0
	}
	return interval * time.Duration(i) / time.Duration(n)
}

// runEntity is the per-entity lifecycle: attach, publish, then poll. The
// ticker starts offset after the first publish.
func (b *Bridge) runEntity(bd *binding, offset time.Duration) {
	defer b.wg.Done()

	if err := bd.entity.Attach(b.ctx); err != nil {
		b.logDebug("entity attach cancelled", "unique_id", bd.entity.UniqueID(), "error", err)
		return
	}
	b.publishEntity(bd)

	if offset > 0 {
		delay := time.NewTimer(offset)
		select {
		case <-b.ctx.Done():
			delay.Stop()
			return
		case <-delay.C:
		}
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			bd.entity.Refresh(b.ctx)
			if b.ctx.Err() != nil {
				return
			}
			b.publishEntity(bd)
		}
	}
}

func (b *Bridge) publishDiscovery() {
	for _, bd := range b.bindings {
		cfg := buildDiscovery(bd.entity, b.topics, b.version)
		payload, err := json.Marshal(cfg)
		if err != nil {
			b.logError("failed to marshal discovery", err)
			continue
		}
		topic := b.topics.Discovery(string(bd.entity.Kind()), bd.objectID)
		if err := b.mqtt.Publish(topic, payload, qosAtLeastOnce, true); err != nil {
			b.logError("failed to publish discovery", err)
		}
	}
}

// publishEntity sends availability and state when they differ from what
// was last published. State is left untouched while unavailable so Home
// Assistant keeps the last value behind the unavailable marker.
func (b *Bridge) publishEntity(bd *binding) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	value, ok := bd.entity.State()
	availability := mqtt.PayloadOffline
	if ok {
		availability = mqtt.PayloadOnline
	}

	b.cacheMu.Lock()
	last := b.cache[bd.objectID]
	b.cacheMu.Unlock()

	next := last
	if ok && (!last.hasState || last.state != value) {
		if err := b.mqtt.Publish(b.topics.State(bd.objectID), []byte(value), qosAtLeastOnce, true); err != nil {
			b.logError("failed to publish state", err)
		} else {
			next.state, next.hasState = value, true
		}
	}
	if last.availability != availability {
		if err := b.mqtt.Publish(b.topics.Availability(bd.objectID), []byte(availability), qosAtLeastOnce, true); err != nil {
			b.logError("failed to publish availability", err)
		} else {
			next.availability = availability
		}
	}

	b.cacheMu.Lock()
	b.cache[bd.objectID] = next
	b.cacheMu.Unlock()
}

// handleCommand executes a number write from Home Assistant.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	objectID, ok := b.topics.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("not a command topic: %s", topic)
	}

	bd, ok := b.byObject[objectID]
	if !ok {
		cmd, _ := parseCommand(payload)
		b.publishAck(objectID, newAckError(cmd, "", ErrCodeNotConfigured,
			fmt.Sprintf("no entity with object ID %s", objectID)))
		return fmt.Errorf("unknown entity %s", objectID)
	}
	uid := bd.entity.UniqueID()

	cmd, err := parseCommand(payload)
	if err != nil {
		b.publishAck(objectID, newAckError(cmd, uid, ErrCodeInvalidPayload, err.Error()))
		return err
	}

	num, ok := bd.entity.(entity.Number)
	if !ok {
		b.publishAck(objectID, newAckError(cmd, uid, ErrCodeNotWritable,
			fmt.Sprintf("%s is a %s and cannot be set", uid, bd.entity.Kind())))
		return fmt.Errorf("entity %s is not writable", uid)
	}

	b.logInfo("received command", "command_id", cmd.ID, "unique_id", uid, "value", *cmd.Value)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := num.Set(ctx, *cmd.Value); err != nil {
		b.publishAck(objectID, newAckError(cmd, uid, errorCode(err), err.Error()))
		return fmt.Errorf("set %s: %w", uid, err)
	}

	b.publishAck(objectID, newAck(cmd, uid))

	num.Refresh(ctx)
	b.publishEntity(bd)
	return nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, entity.ErrOutOfRange), errors.Is(err, entity.ErrNotInteger):
		return ErrCodeInvalidValue
	case errors.Is(err, osm.ErrClient):
		return ErrCodeUpstream
	default:
		return ErrCodeBridgeError
	}
}

func (b *Bridge) publishAck(objectID string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Ack(objectID), payload, qosAtLeastOnce, false); err != nil {
		b.logError("failed to publish ack", err)
	}
	if ack.Error != nil {
		b.logWarn("command failed", "object_id", objectID, "code", ack.Error.Code, "message", ack.Error.Message)
	}
}

// entityStats feeds the health reporter.
func (b *Bridge) entityStats() (total, unavailable int) {
	for _, bd := range b.bindings {
		if _, ok := bd.entity.State(); !ok {
			unavailable++
		}
	}
	return len(b.bindings), unavailable
}

// SetLogger replaces the bridge and health reporter logger.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
