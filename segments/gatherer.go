package segments

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/adybbroe/pytroll-collectors/config"
	"github.com/adybbroe/pytroll-collectors/errors"
	"github.com/adybbroe/pytroll-collectors/message"
	"github.com/adybbroe/pytroll-collectors/metric"
	"github.com/adybbroe/pytroll-collectors/trollsift"
)

// identityKeys are event fields that describe the individual file rather
// than the slot, and must never leak into slot metadata.
var identityKeys = []string{"uid", "uri", "channel_name", "segment", "sensor"}

// Publisher sends a serialized dataset notification to the bus.
// *natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Gatherer aggregates file events into time slots and publishes dataset
// notifications once the configured fragment sets are complete or the
// slot times out. All slot state is owned by the Run loop; HandleMessage
// only enqueues.
type Gatherer struct {
	cfg          *config.Config
	parsers      map[string]*trollsift.Parser
	patternOrder []string

	registry   *Registry
	timeliness time.Duration

	inbox     chan *message.Message
	publisher Publisher
	logger    *slog.Logger
	metrics   *gathererMetrics

	now func() time.Time
}

// Option adjusts gatherer construction.
type Option func(*Gatherer)

// WithLogger sets the structured logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gatherer) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gatherer) {
		if now != nil {
			g.now = now
		}
	}
}

// WithInboxSize sets the event queue capacity. Events arriving while
// the inbox is full are dropped, so the capacity should exceed the
// expected burst of file events from one pass.
func WithInboxSize(n int) Option {
	return func(g *Gatherer) {
		if n > 0 {
			g.inbox = make(chan *message.Message, n)
		}
	}
}

// New builds a gatherer from a validated configuration. Metrics are
// registered when registry is non-nil.
func New(cfg *config.Config, publisher Publisher, registry *metric.MetricsRegistry, opts ...Option) (*Gatherer, error) {
	parsers := make(map[string]*trollsift.Parser, len(cfg.Patterns))
	order := make([]string, 0, len(cfg.Patterns))
	for key, pattern := range cfg.Patterns {
		parser, err := trollsift.NewParser(pattern.Pattern)
		if err != nil {
			return nil, errors.WrapFatal(err, "segments", "New",
				fmt.Sprintf("compile pattern %q", key))
		}
		parsers[key] = parser
		order = append(order, key)
	}
	sort.Strings(order)

	// Malformed fragment specs must reject construction, not surface as
	// per-event errors once the loop is running.
	for _, key := range order {
		if err := validateFragmentSpecs(parsers[key], cfg.Patterns[key]); err != nil {
			return nil, errors.WrapFatal(err, "segments", "New",
				fmt.Sprintf("validate fragment specs for %q", key))
		}
	}

	metrics, err := newGathererMetrics(registry)
	if err != nil {
		return nil, errors.WrapFatal(err, "segments", "New", "register metrics")
	}

	g := &Gatherer{
		cfg:          cfg,
		parsers:      parsers,
		patternOrder: order,
		registry:     NewRegistry(cfg.TimeTolerance()),
		timeliness:   cfg.Timeliness(),
		inbox:        make(chan *message.Message, 256),
		publisher:    publisher,
		logger:       slog.Default(),
		metrics:      metrics,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// HandleMessage decodes a bus payload and enqueues it for the control
// loop. Non-file messages are ignored; a full inbox drops the event
// rather than blocking the subscription callback.
func (g *Gatherer) HandleMessage(_ context.Context, data []byte) {
	var msg message.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		g.logger.Warn("Discarding undecodable message", "error", err)
		g.metrics.recordDiscard("undecodable")
		return
	}
	if msg.Type() != message.TypeFile {
		return
	}

	select {
	case g.inbox <- &msg:
	default:
		g.logger.Warn("Inbox full, dropping file event", "subject", msg.Subject())
		g.metrics.recordDiscard("inbox_full")
	}
}

// Run drives the control loop: sweep slots for readiness, then wait up
// to a second for the next file event. Returns when ctx is cancelled.
func (g *Gatherer) Run(ctx context.Context) error {
	g.logger.Info("Gatherer started",
		"patterns", len(g.parsers),
		"timeliness", g.timeliness.String(),
		"tolerance", g.cfg.TimeTolerance().String())

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		g.sweep(ctx)

		select {
		case <-ctx.Done():
			g.logger.Info("Gatherer stopping")
			return nil
		case msg := <-g.inbox:
			g.logger.Info("New file event received", "subject", msg.Subject())
			g.process(ctx, msg)
		case <-ticker.C:
		}
	}
}

// sweep evaluates every slot and acts on its collection status.
func (g *Gatherer) sweep(ctx context.Context) {
	for _, key := range g.registry.Keys() {
		slot, ok := g.registry.Get(key)
		if !ok {
			continue
		}

		switch slot.Evaluate(g.now(), g.timeliness) {
		case StatusReady:
			g.publish(ctx, slot, true, "ready")
			g.registry.Remove(key)
			g.metrics.recordSlotClosed(g.registry.Len())
		case StatusReadyButWaitForMore:
			g.publish(ctx, slot, false, "premature")
		case StatusObsoleteTimeout:
			g.logger.Warn("Timeout with required files missing, discarding slot",
				"slot", key, "missing", strings.Join(slot.Missing(), ", "))
			g.registry.Remove(key)
			g.metrics.recordTimeout()
			g.metrics.recordSlotClosed(g.registry.Len())
		}
	}
}

// process routes one file event into its slot.
func (g *Gatherer) process(ctx context.Context, msg *message.Message) {
	data := msg.Data()
	uid, ok := data["uid"].(string)
	if !ok || uid == "" {
		g.logger.Debug("File event without uid, skipping")
		g.metrics.recordDiscard("no_uid")
		return
	}

	srcKey, parsed := g.matchPattern(uid)
	if parsed == nil {
		g.logger.Debug("Unknown file, skipping", "uid", uid)
		g.metrics.recordDiscard("unparsed")
		return
	}

	metadata := g.slotMetadata(srcKey, parsed, data)

	slotTime, ok := message.ParseTime(metadata[g.cfg.TimeName])
	if !ok {
		g.logger.Warn("File event without usable acquisition time, skipping",
			"uid", uid, "time_name", g.cfg.TimeName)
		g.metrics.recordDiscard("no_time")
		return
	}
	if minutes := g.cfg.GroupBy(srcKey); minutes > 0 {
		slotTime = floorMinutes(slotTime, minutes)
		metadata[g.cfg.TimeName] = slotTime
	}

	slot, err := g.findOrCreateSlot(slotTime, metadata)
	if err != nil {
		g.logger.Error("Slot initialization failed", "uid", uid, "error", err)
		return
	}

	tracker, ok := slot.Source(srcKey)
	if !ok {
		g.logger.Error("No tracker for source", "source", srcKey, "slot", slot.Key())
		return
	}

	// The fragment identity: parsed fields with unpredictable tags
	// wildcarded, rendered back through the pattern.
	maskFields := copyWithoutKeys(parsed, g.cfg.Patterns[srcKey].VariableTags)
	mask := g.parsers[srcKey].Globify(maskFields)

	if err := admitFragment(tracker, mask); err != nil {
		reason := "unknown"
		if stderrors.Is(err, errors.ErrDuplicateFile) {
			reason = "duplicate"
		}
		g.logger.Debug("Skipping file", "uid", uid, "cause", err.Error())
		g.metrics.recordDiscard(reason)
		return
	}

	slot.AddDataset(uriPath(data["uri"]), uid)
	slot.AddSensors(sensorList(data["sensor"]))

	// A file arriving after the critical set is complete is late by the
	// time past the original readiness point.
	if tracker.CriticalComplete() && !slot.Timeout().IsZero() {
		delay := g.now().Sub(slot.Timeout().Add(-g.timeliness))
		if delay > 0 {
			tracker.RecordDelay(uid, delay.Seconds())
		}
	}

	tracker.AddReceived(mask)
}

// admitFragment decides whether a fragment identity still belongs in
// the tracker's sets.
func admitFragment(tracker *SourceTracker, mask string) error {
	if tracker.Received(mask) {
		return errors.ErrDuplicateFile
	}
	if !tracker.Knows(mask) {
		return errors.ErrUnknownFile
	}
	return nil
}

// matchPattern finds the source whose filename template matches uid.
func (g *Gatherer) matchPattern(uid string) (string, trollsift.Fields) {
	for _, key := range g.patternOrder {
		fields, err := g.parsers[key].Parse(uid)
		if err == nil {
			return key, fields
		}
	}
	return "", nil
}

// slotMetadata builds slot metadata from parsed filename fields overlaid
// with the event payload, excluding per-file identity. Keys listed in
// keep_parsed_keys take the filename-parsed value even when the event
// carries one.
func (g *Gatherer) slotMetadata(srcKey string, parsed trollsift.Fields, data map[string]any) map[string]any {
	metadata := copyWithoutKeys(parsed, identityKeys)
	for key, value := range copyWithoutKeys(data, identityKeys) {
		metadata[key] = value
	}
	for _, key := range g.cfg.KeepParsed(srcKey) {
		if value, ok := parsed[key]; ok {
			metadata[key] = value
		}
	}
	return metadata
}

// findOrCreateSlot returns the slot within tolerance of t, creating and
// registering a new one when none matches.
func (g *Gatherer) findOrCreateSlot(t time.Time, metadata map[string]any) (*Slot, error) {
	if key, found := g.registry.Find(t); found {
		g.logger.Debug("Found existing time slot, using that", "slot", key)
		slot, _ := g.registry.Get(key)
		return slot, nil
	}

	slot := newSlot(t, metadata)
	for _, key := range g.patternOrder {
		tracker, err := g.newTracker(key, metadata)
		if err != nil {
			return nil, err
		}
		slot.addSource(key, tracker)
	}

	g.registry.Add(slot)
	g.logger.Debug("Adding new slot", "slot", slot.Key())
	g.metrics.recordSlotCreated(g.registry.Len())
	return slot, nil
}

// newTracker builds the critical, wanted and all fragment sets for one
// source. Without an explicit critical spec the full expansion of the
// pattern stands in for the wanted and all sets, and for the critical
// set too when the whole source is mandatory.
func (g *Gatherer) newTracker(srcKey string, metadata map[string]any) (*SourceTracker, error) {
	pattern := g.cfg.Patterns[srcKey]
	parser := g.parsers[srcKey]
	tracker := newSourceTracker(pattern.IsCriticalSet, g.cfg.NumFilesPrematurePublish)

	if pattern.CriticalFiles != "" {
		set, err := expandFragmentSpec(parser, metadata, pattern.CriticalFiles, pattern.VariableTags)
		if err != nil {
			return nil, err
		}
		tracker.critical.update(set)
	} else {
		full, err := expandFragmentSpec(parser, metadata, ":", pattern.VariableTags)
		if err != nil {
			return nil, err
		}
		if pattern.IsCriticalSet {
			tracker.critical.update(full)
		}
		tracker.wanted.update(full)
		tracker.all.update(full)
	}

	wantedSpec := pattern.WantedFiles
	if wantedSpec == "" {
		wantedSpec = ":"
	}
	wanted, err := expandFragmentSpec(parser, metadata, wantedSpec, pattern.VariableTags)
	if err != nil {
		return nil, err
	}
	tracker.wanted.update(wanted)

	if pattern.AllFiles != "" {
		all, err := expandFragmentSpec(parser, metadata, pattern.AllFiles, pattern.VariableTags)
		if err != nil {
			return nil, err
		}
		tracker.all.update(all)
	}

	return tracker, nil
}

// publish sends the slot's dataset notification. missingCheck is off for
// premature publications, where gaps are expected.
func (g *Gatherer) publish(ctx context.Context, slot *Slot, missingCheck bool, outcome string) {
	if delayed := slot.Delayed(); len(delayed) > 0 {
		parts := make([]string, 0, len(delayed))
		for _, uid := range sortedKeys(delayed) {
			parts = append(parts, fmt.Sprintf("%s %f seconds", uid, delayed[uid]))
		}
		g.logger.Warn("Files received late", "files", strings.Join(parts, ", "))
	}

	if missingCheck {
		if missing := slot.Missing(); len(missing) > 0 {
			g.logger.Warn("Missing files", "files", strings.Join(missing, ", "))
		}
	}

	msg := message.New(g.cfg.NATS.PublishSubject, message.TypeDataset, slot.publishMetadata())
	payload, err := json.Marshal(msg)
	if err != nil {
		g.logger.Error("Dataset notification encoding failed", "slot", slot.Key(), "error", err)
		return
	}

	start := time.Now()
	if err := g.publisher.Publish(ctx, g.cfg.NATS.PublishSubject, payload); err != nil {
		g.logger.Error("Dataset notification publish failed", "slot", slot.Key(), "error", err)
		return
	}
	g.metrics.recordPublish(outcome, time.Since(start))
	g.logger.Info("Dataset published",
		"slot", slot.Key(),
		"subject", g.cfg.NATS.PublishSubject,
		"files", len(slot.dataset),
		"outcome", outcome)
}

// floorMinutes floors t to the previous minutes boundary within its hour.
func floorMinutes(t time.Time, minutes int) time.Time {
	m := t.Minute() - t.Minute()%minutes
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), m, 0, 0, t.Location())
}

// uriPath extracts the local path from a URI, mirroring how downstream
// consumers address files on shared storage.
func uriPath(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	if u.Path == "" {
		return s
	}
	return u.Path
}

// sensorList normalizes the sensor field to a list of names.
func sensorList(v any) []string {
	switch s := v.(type) {
	case string:
		if s == "" {
			return nil
		}
		return []string{s}
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if name, ok := item.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
