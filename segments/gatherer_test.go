package segments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adybbroe/pytroll-collectors/config"
	"github.com/adybbroe/pytroll-collectors/errors"
	"github.com/adybbroe/pytroll-collectors/message"
)

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	subjects []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakePublisher) message(t *testing.T, i int) *message.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.payloads), i)
	var msg message.Message
	require.NoError(t, json.Unmarshal(f.payloads[i], &msg))
	return &msg
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func hritConfig() *config.Config {
	return &config.Config{
		NATS: config.NATSConfig{
			URL:               "nats://localhost:4222",
			SubscribeSubjects: []string{"file.msg.hrit"},
			PublishSubject:    "segment.gathered.msg",
		},
		Patterns: map[string]config.PatternConfig{
			"msg": {
				Pattern:       hritPattern,
				IsCriticalSet: true,
				CriticalFiles: ":PRO,:EPI",
				WantedFiles:   "VIS006:000001-000008,:PRO,:EPI",
				AllFiles:      "VIS006:000001-000008,:PRO,:EPI",
			},
		},
		TimeToleranceSeconds:     30,
		TimelinessSeconds:        10,
		NumFilesPrematurePublish: config.PrematurePublishDisabled,
		TimeName:                 "start_time",
	}
}

func newTestGatherer(t *testing.T, cfg *config.Config) (*Gatherer, *fakePublisher, *fakeClock) {
	t.Helper()
	pub := &fakePublisher{}
	clock := &fakeClock{t: time.Date(2016, 11, 28, 11, 0, 30, 0, time.UTC)}
	g, err := New(cfg, pub, nil, WithClock(clock.Now))
	require.NoError(t, err)
	return g, pub, clock
}

func hritUID(channel, segment string) string {
	pad := func(s string, width int) string {
		for len(s) < width {
			s += "_"
		}
		return s
	}
	return fmt.Sprintf("H-000-MSG3__-MSG3________-%s-%s-201611281100-__",
		pad(channel, 9), pad(segment, 9))
}

func fileEvent(uid string) *message.Message {
	return message.New("file.msg.hrit", message.TypeFile, map[string]any{
		"uid":           uid,
		"uri":           "/data/geo/msg/" + uid,
		"sensor":        []string{"seviri"},
		"platform_name": "Meteosat-10",
		"path":          "",
	})
}

// allHRITUIDs is the complete fragment set for the test configuration:
// PRO, EPI and the eight VIS006 segments.
func allHRITUIDs() []string {
	uids := []string{hritUID("", "PRO"), hritUID("", "EPI")}
	for i := 1; i <= 8; i++ {
		uids = append(uids, hritUID("VIS006", fmt.Sprintf("%06d", i)))
	}
	return uids
}

func TestNewRejectsMalformedFragmentSpec(t *testing.T) {
	tests := []struct {
		name     string
		critical string
	}{
		{"no colon", "EPI"},
		{"reversed range", "VIS006:8-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := hritConfig()
			pattern := cfg.Patterns["msg"]
			pattern.CriticalFiles = tt.critical
			cfg.Patterns["msg"] = pattern

			_, err := New(cfg, &fakePublisher{}, nil)
			assert.Error(t, err)
		})
	}
}

func TestAdmitFragment(t *testing.T) {
	tracker := trackerWith(true, prematurePublishDisabled,
		[]string{"PRO"}, []string{"PRO", "s1"}, []string{"PRO", "s1"})
	tracker.AddReceived("PRO")

	assert.NoError(t, admitFragment(tracker, "s1"))
	assert.ErrorIs(t, admitFragment(tracker, "PRO"), errors.ErrDuplicateFile)
	assert.ErrorIs(t, admitFragment(tracker, "IR_108"), errors.ErrUnknownFile)
}

func TestGathererCompleteSlotPublishes(t *testing.T) {
	g, pub, _ := newTestGatherer(t, hritConfig())
	ctx := context.Background()

	for _, uid := range allHRITUIDs() {
		g.process(ctx, fileEvent(uid))
	}
	require.Equal(t, 1, g.registry.Len())

	// First sweep fixes the timeout, second one acts on completeness.
	g.sweep(ctx)
	require.Equal(t, 0, pub.count())
	g.sweep(ctx)
	require.Equal(t, 1, pub.count())
	assert.Equal(t, 0, g.registry.Len())

	msg := pub.message(t, 0)
	assert.Equal(t, message.TypeDataset, msg.Type())
	assert.Equal(t, "segment.gathered.msg", msg.Subject())

	data := msg.Data()
	dataset, ok := data["dataset"].([]any)
	require.True(t, ok)
	assert.Len(t, dataset, 10)
	first, ok := dataset[0].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, first, "uri")
	assert.Contains(t, first, "uid")

	assert.Equal(t, []any{"seviri"}, data["sensor"])
	assert.Equal(t, "Meteosat-10", data["platform_name"])
	assert.NotContains(t, data, "segment")
	assert.NotContains(t, data, "path")
	assert.Contains(t, data, "start_time")
}

func TestGathererIncrementalReadiness(t *testing.T) {
	g, _, _ := newTestGatherer(t, hritConfig())
	ctx := context.Background()
	uids := allHRITUIDs()

	for _, uid := range uids[:9] {
		g.process(ctx, fileEvent(uid))
	}
	slot, ok := g.registry.Get("2016-11-28 11:00:00")
	require.True(t, ok)

	slot.Evaluate(g.now(), g.timeliness)
	assert.Equal(t, StatusNotReady, slot.Evaluate(g.now(), g.timeliness))

	g.process(ctx, fileEvent(uids[9]))
	assert.Equal(t, StatusReady, slot.Evaluate(g.now(), g.timeliness))

	// Duplicate delivery changes nothing.
	g.process(ctx, fileEvent(uids[9]))
	tracker, _ := slot.Source("msg")
	assert.Len(t, tracker.received, 10)
	assert.Len(t, slot.dataset, 10)
	assert.Equal(t, StatusReady, slot.Evaluate(g.now(), g.timeliness))
}

func TestGathererDuplicateFile(t *testing.T) {
	g, _, _ := newTestGatherer(t, hritConfig())
	ctx := context.Background()

	g.process(ctx, fileEvent(hritUID("", "EPI")))
	g.process(ctx, fileEvent(hritUID("", "EPI")))

	slot, ok := g.registry.Get("2016-11-28 11:00:00")
	require.True(t, ok)
	assert.Len(t, slot.dataset, 1)
	tracker, _ := slot.Source("msg")
	assert.Len(t, tracker.received, 1)
}

func TestGathererUnparsableFile(t *testing.T) {
	g, _, _ := newTestGatherer(t, hritConfig())

	g.process(context.Background(), fileEvent("blablabla"))
	assert.Equal(t, 0, g.registry.Len())
}

func TestGathererMissingUID(t *testing.T) {
	g, _, _ := newTestGatherer(t, hritConfig())

	msg := message.New("file.msg.hrit", message.TypeFile, map[string]any{
		"uri": "/data/geo/msg/whatever",
	})
	g.process(context.Background(), msg)
	assert.Equal(t, 0, g.registry.Len())
}

func TestGathererFileOutsideCollection(t *testing.T) {
	g, _, _ := newTestGatherer(t, hritConfig())

	// Segment 9 parses fine but is not part of the expected set.
	g.process(context.Background(), fileEvent(hritUID("VIS006", "000009")))

	slot, ok := g.registry.Get("2016-11-28 11:00:00")
	require.True(t, ok)
	assert.Empty(t, slot.dataset)
	tracker, _ := slot.Source("msg")
	assert.Empty(t, tracker.received)
}

func TestGathererTimeoutDiscardsIncompleteCritical(t *testing.T) {
	g, pub, clock := newTestGatherer(t, hritConfig())
	ctx := context.Background()

	g.process(ctx, fileEvent(hritUID("VIS006", "000001")))
	g.sweep(ctx) // fixes the timeout

	clock.Advance(11 * time.Second)
	g.sweep(ctx)

	assert.Equal(t, 0, pub.count())
	assert.Equal(t, 0, g.registry.Len())
}

func TestGathererTimeoutPublishesOptionalGaps(t *testing.T) {
	cfg := hritConfig()
	cfg.Patterns["msg"] = config.PatternConfig{
		Pattern:     hritPattern,
		WantedFiles: "VIS006:000001-000008",
		AllFiles:    "VIS006:000001-000008",
	}
	g, pub, clock := newTestGatherer(t, cfg)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		g.process(ctx, fileEvent(hritUID("VIS006", fmt.Sprintf("%06d", i))))
	}
	g.sweep(ctx)
	require.Equal(t, 0, pub.count())

	clock.Advance(11 * time.Second)
	g.sweep(ctx)

	require.Equal(t, 1, pub.count())
	assert.Equal(t, 0, g.registry.Len())

	data := pub.message(t, 0).Data()
	dataset, ok := data["dataset"].([]any)
	require.True(t, ok)
	assert.Len(t, dataset, 3)
}

func TestGathererPrematurePublish(t *testing.T) {
	cfg := hritConfig()
	cfg.NumFilesPrematurePublish = 2
	g, pub, _ := newTestGatherer(t, cfg)
	ctx := context.Background()

	g.process(ctx, fileEvent(hritUID("", "PRO")))
	g.process(ctx, fileEvent(hritUID("", "EPI")))

	g.sweep(ctx) // fixes the timeout
	g.sweep(ctx)
	require.Equal(t, 1, pub.count())
	// Published early but retained for more fragments.
	require.Equal(t, 1, g.registry.Len())

	for i := 1; i <= 8; i++ {
		g.process(ctx, fileEvent(hritUID("VIS006", fmt.Sprintf("%06d", i))))
	}
	g.sweep(ctx)

	require.Equal(t, 2, pub.count())
	assert.Equal(t, 0, g.registry.Len())

	first, ok := pub.message(t, 0).Data()["dataset"].([]any)
	require.True(t, ok)
	assert.Len(t, first, 2)
	second, ok := pub.message(t, 1).Data()["dataset"].([]any)
	require.True(t, ok)
	assert.Len(t, second, 10)
}

func TestGathererSlotSeparation(t *testing.T) {
	g, _, _ := newTestGatherer(t, hritConfig())
	ctx := context.Background()

	g.process(ctx, fileEvent(hritUID("", "PRO")))
	require.Equal(t, 1, g.registry.Len())

	// Same acquisition time lands in the same slot.
	g.process(ctx, fileEvent(hritUID("", "EPI")))
	require.Equal(t, 1, g.registry.Len())

	// A different acquisition time outside the tolerance opens a new one.
	late := "H-000-MSG3__-MSG3________-_________-PRO______-201611281115-__"
	g.process(ctx, fileEvent(late))
	assert.Equal(t, 2, g.registry.Len())
}

func TestGathererDelayedFiles(t *testing.T) {
	g, _, clock := newTestGatherer(t, hritConfig())
	ctx := context.Background()

	g.process(ctx, fileEvent(hritUID("", "PRO")))
	g.process(ctx, fileEvent(hritUID("", "EPI")))
	g.sweep(ctx) // timeout now fixed, critical set complete

	clock.Advance(5 * time.Second)
	lateUID := hritUID("VIS006", "000001")
	g.process(ctx, fileEvent(lateUID))

	slot, ok := g.registry.Get("2016-11-28 11:00:00")
	require.True(t, ok)
	delayed := slot.Delayed()
	require.Contains(t, delayed, lateUID)
	assert.InDelta(t, 5.0, delayed[lateUID], 0.001)
}

func TestGathererKeepParsedKeys(t *testing.T) {
	cfg := hritConfig()
	uid := hritUID("", "PRO")
	event := func() *message.Message {
		return message.New("file.msg.hrit", message.TypeFile, map[string]any{
			"uid":                uid,
			"uri":                "/data/geo/msg/" + uid,
			"sensor":             []string{"seviri"},
			"platform_shortname": "OVERRIDE",
		})
	}

	g, _, _ := newTestGatherer(t, cfg)
	g.process(context.Background(), event())
	slot, ok := g.registry.Get("2016-11-28 11:00:00")
	require.True(t, ok)
	assert.Equal(t, "OVERRIDE", slot.metadata["platform_shortname"])

	cfg = hritConfig()
	cfg.KeepParsedKeys = []string{"platform_shortname"}
	g, _, _ = newTestGatherer(t, cfg)
	g.process(context.Background(), event())
	slot, ok = g.registry.Get("2016-11-28 11:00:00")
	require.True(t, ok)
	assert.Equal(t, "MSG3", slot.metadata["platform_shortname"])
}

func TestGathererGroupByMinutes(t *testing.T) {
	cfg := hritConfig()
	cfg.GroupByMinutes = 10
	g, _, _ := newTestGatherer(t, cfg)

	uid := "H-000-MSG3__-MSG3________-_________-PRO______-201611281129-__"
	g.process(context.Background(), fileEvent(uid))

	_, ok := g.registry.Get("2016-11-28 11:20:00")
	assert.True(t, ok)
}

func TestFloorMinutes(t *testing.T) {
	tests := []struct {
		minute  int
		groupBy int
		want    int
	}{
		{29, 10, 20},
		{15, 15, 15},
		{29, 2, 28},
		{0, 10, 0},
		{59, 30, 30},
	}

	for _, tt := range tests {
		in := time.Date(2016, 11, 28, 11, tt.minute, 42, 0, time.UTC)
		got := floorMinutes(in, tt.groupBy)
		assert.Equal(t, tt.want, got.Minute())
		assert.Equal(t, 0, got.Second())
	}
}

func TestGathererHandleMessage(t *testing.T) {
	g, _, _ := newTestGatherer(t, hritConfig())
	ctx := context.Background()

	payload, err := json.Marshal(fileEvent(hritUID("", "PRO")))
	require.NoError(t, err)
	g.HandleMessage(ctx, payload)
	require.Len(t, g.inbox, 1)

	// Non-file messages are ignored.
	other, err := json.Marshal(message.New("x", message.TypeCollection, map[string]any{}))
	require.NoError(t, err)
	g.HandleMessage(ctx, other)
	assert.Len(t, g.inbox, 1)

	// As is garbage.
	g.HandleMessage(ctx, []byte("not json"))
	assert.Len(t, g.inbox, 1)
}

func TestGathererRunDrainsInbox(t *testing.T) {
	g, pub, _ := newTestGatherer(t, hritConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, uid := range allHRITUIDs() {
		payload, err := json.Marshal(fileEvent(uid))
		require.NoError(t, err)
		g.HandleMessage(ctx, payload)
	}

	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool {
		return pub.count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gatherer did not stop")
	}
}

func TestGathererPublishError(t *testing.T) {
	g, pub, _ := newTestGatherer(t, hritConfig())
	pub.err = assert.AnError
	ctx := context.Background()

	for _, uid := range allHRITUIDs() {
		g.process(ctx, fileEvent(uid))
	}
	g.sweep(ctx)
	g.sweep(ctx)

	// Failed publish still removes the completed slot; the error is
	// logged, not retried.
	assert.Equal(t, 0, pub.count())
	assert.Equal(t, 0, g.registry.Len())
}
