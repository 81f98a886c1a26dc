package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/banrelay/internal/enrich"
	"github.com/agentstation/banrelay/internal/filter"
	"github.com/agentstation/banrelay/internal/metrics"
	"github.com/agentstation/banrelay/internal/registry"
	"github.com/agentstation/banrelay/pkg/banano"
	"github.com/agentstation/banrelay/pkg/errors"
	"github.com/agentstation/banrelay/pkg/logging"
)

const (
	accountA = "ban_1aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	accountB = "ban_3bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	accountZ = "ban_1zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"
)

func confirmation(subtype, account, link, hash string) []byte {
	return []byte(fmt.Sprintf(`{
		"topic": "confirmation",
		"time": "1700000000000",
		"message": {
			"account": %q,
			"amount": "1000000000000000000000000000000",
			"amount_decimal": "10.0",
			"hash": %q,
			"confirmation_type": "active_quorum",
			"block": {"type": "state", "account": %q, "link_as_account": %q, "subtype": %q, "balance": "1"}
		}
	}`, account, hash, account, link, subtype))
}

// fakeSubscriber records frames and can be made to fail.
type fakeSubscriber struct {
	id string

	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

func (s *fakeSubscriber) ID() string { return s.id }

func (s *fakeSubscriber) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscriber) received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, 0, len(s.frames))
	for _, raw := range s.frames {
		var f Frame
		if err := json.Unmarshal(raw, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// identities is a switchable identity provider.
type identities struct {
	mu      sync.Mutex
	entries map[string]enrich.Identity
}

func (p *identities) Name() string { return "bananobot" }

func (p *identities) Fetch(context.Context) (map[string]enrich.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]enrich.Identity, len(p.entries))
	for k, v := range p.entries {
		out[k] = v
	}
	return out, nil
}

type recordingMirror struct {
	mu   sync.Mutex
	keys []string
}

func (m *recordingMirror) Publish(key string, _ []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
}

type fixture struct {
	reg      *registry.Registry
	ids      *identities
	cache    *enrich.Cache[enrich.Identity]
	engine   *Engine
	mirror   *recordingMirror
	upstream *fakeSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:      registry.New(logging.NewNopLogger()),
		ids:      &identities{entries: map[string]enrich.Identity{}},
		mirror:   &recordingMirror{},
		upstream: newFakeSource(),
	}
	f.cache = enrich.NewCache[enrich.Identity](f.ids, time.Hour, enrich.WithLogger[enrich.Identity](logging.NewNopLogger()))
	f.engine = NewEngine(f.upstream, f.reg, enrich.NewEnricher(f.cache, nil),
		WithLogger(logging.NewNopLogger()),
		WithMirror(f.mirror),
		WithReconnectDelay(time.Millisecond, 4*time.Millisecond))
	return f
}

func (f *fixture) subscribe(t *testing.T, id string, flt filter.Filter) *fakeSubscriber {
	t.Helper()
	sub := &fakeSubscriber{id: id}
	f.reg.Add(sub)
	require.NoError(t, f.reg.Update(sub, flt))
	return sub
}

func TestSendEventReachesAllAccountsSubscriber(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, "s1", filter.New(filter.ModeAll, []banano.Subtype{banano.SubtypeSend}, nil))

	f.engine.handle(confirmation("send", accountA, accountB, "H1"))

	frames := sub.received()
	require.Len(t, frames, 1)
	assert.Equal(t, accountA, frames[0].BlockAccount.Account)
	assert.Equal(t, accountB, frames[0].LinkAsAccount.Account)
	assert.Equal(t, "H1", frames[0].Hash)
	assert.Equal(t, "10.0", frames[0].AmountDecimal)
	assert.JSONEq(t, `"1700000000000"`, string(frames[0].Time))
	assert.Nil(t, frames[0].BlockAccount.DiscordID)
}

func TestAccountFilterSelectsSubscriber(t *testing.T) {
	f := newFixture(t)
	onA := f.subscribe(t, "a", filter.New(filter.ModeAll, []banano.Subtype{banano.SubtypeSend}, []string{accountA}))
	onZ := f.subscribe(t, "z", filter.New(filter.ModeAll, []banano.Subtype{banano.SubtypeSend}, []string{accountZ}))

	f.engine.handle(confirmation("send", accountA, accountB, "H1"))

	assert.Len(t, onA.received(), 1)
	assert.Empty(t, onZ.received())
}

func TestCounterpartyMatchesAccountFilter(t *testing.T) {
	f := newFixture(t)
	onB := f.subscribe(t, "b", filter.New(filter.ModeAll, []banano.Subtype{banano.SubtypeSend}, []string{accountB}))

	f.engine.handle(confirmation("send", accountA, accountB, "H1"))
	assert.Len(t, onB.received(), 1)
}

func TestDiscordOnlyWaitsForIdentity(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, "d", filter.Default())

	f.engine.handle(confirmation("send", accountA, accountB, "H1"))
	assert.Empty(t, sub.received())

	f.ids.mu.Lock()
	f.ids.entries[accountB] = enrich.Identity{Address: accountB, UserID: "42", Name: "monke"}
	f.ids.mu.Unlock()
	require.NoError(t, f.cache.Refresh(context.Background()))

	f.engine.handle(confirmation("send", accountA, accountB, "H2"))
	frames := sub.received()
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].LinkAsAccount.DiscordID)
	assert.Equal(t, "42", *frames[0].LinkAsAccount.DiscordID)
	assert.Equal(t, "monke", *frames[0].LinkAsAccount.DiscordName)
	assert.Nil(t, frames[0].BlockAccount.DiscordID)
}

func TestBlockTypeFilter(t *testing.T) {
	f := newFixture(t)
	sends := f.subscribe(t, "send", filter.New(filter.ModeAll, []banano.Subtype{banano.SubtypeSend}, nil))
	changes := f.subscribe(t, "change", filter.New(filter.ModeAll, []banano.Subtype{banano.SubtypeChange}, nil))

	f.engine.handle(confirmation("change", accountA, "", "H1"))
	f.engine.handle(confirmation("receive", accountA, accountB, "H2"))

	assert.Empty(t, sends.received())
	frames := changes.received()
	require.Len(t, frames, 1)
	assert.Equal(t, accountA, frames[0].BlockAccount.Account)
}

func TestNoSubscribersSkipsParsing(t *testing.T) {
	f := newFixture(t)
	f.engine.handle([]byte("not json"))
	f.engine.handle(confirmation("send", accountA, accountB, "H1"))
	assert.Empty(t, f.mirror.keys)
}

func TestMalformedEventsAreSkipped(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, "s", filter.New(filter.ModeAll, banano.AllSubtypes(), nil))

	f.engine.handle([]byte("{"))
	f.engine.handle([]byte(`{"topic":"confirmation","message":{"account":"x"}}`))
	f.engine.handle([]byte(`{"ack":"subscribe","time":"1"}`))
	f.engine.handle(confirmation("send", accountA, accountB, "H1"))

	assert.Len(t, sub.received(), 1)
	assert.False(t, sub.isClosed())
}

func TestFailedSendRemovesSubscriber(t *testing.T) {
	f := newFixture(t)
	flt := filter.New(filter.ModeAll, []banano.Subtype{banano.SubtypeSend}, nil)
	slow := f.subscribe(t, "slow", flt)
	slow.sendErr = errors.ErrQueueFull
	ok := f.subscribe(t, "ok", flt)

	f.engine.handle(confirmation("send", accountA, accountB, "H1"))

	assert.True(t, slow.isClosed())
	_, registered := f.reg.Lookup("slow")
	assert.False(t, registered)
	assert.Len(t, ok.received(), 1)
	assert.Equal(t, 1, f.reg.Len())
}

func TestMirrorReceivesBuiltFrames(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "z", filter.New(filter.ModeAll, []banano.Subtype{banano.SubtypeSend}, []string{accountA}))

	f.engine.handle(confirmation("send", accountA, accountB, "H1"))
	// Rejected by the pre-check, never built.
	f.engine.handle(confirmation("send", accountZ, accountB, "H2"))

	assert.Equal(t, []string{"H1"}, f.mirror.keys)
}

func TestBuildFrameReceiveKeepsRawLink(t *testing.T) {
	ids := &identities{entries: map[string]enrich.Identity{accountB: {Address: accountB, UserID: "7"}}}
	cache := enrich.NewCache[enrich.Identity](ids, time.Hour, enrich.WithLogger[enrich.Identity](logging.NewNopLogger()))
	require.NoError(t, cache.Refresh(context.Background()))

	ev, err := banano.ParseMessage(confirmation("receive", accountA, accountB, "H1"))
	require.NoError(t, err)

	frame, enriched := BuildFrame(ev, enrich.NewEnricher(cache, nil))
	assert.Equal(t, accountB, frame.LinkAsAccount.Account)
	assert.Nil(t, frame.LinkAsAccount.DiscordID)
	assert.False(t, enriched.AnyIdentified())

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"block_account", "link_as_account", "amount", "amount_decimal", "time", "hash", "block"} {
		assert.Contains(t, decoded, key)
	}
	assert.JSONEq(t, `{"account":"`+accountA+`","discord_id":null,"discord_name":null,"alias":null}`, string(decoded["block_account"]))
}

func TestFrameWithoutAmountOrTime(t *testing.T) {
	ev, err := banano.ParseMessage([]byte(`{"topic":"confirmation","message":{"account":"` + accountA + `","hash":"H9","block":{"subtype":"change"}}}`))
	require.NoError(t, err)

	frame, _ := BuildFrame(ev, enrich.NewEnricher(nil, nil))
	data, err := json.Marshal(frame)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.JSONEq(t, `""`, string(decoded["amount"]))
	assert.JSONEq(t, `""`, string(decoded["amount_decimal"]))
	assert.JSONEq(t, `null`, string(decoded["time"]))
	assert.JSONEq(t, `{"subtype":"change"}`, string(decoded["block"]))
}

func TestEngineWithoutEnricher(t *testing.T) {
	reg := registry.New(logging.NewNopLogger())
	engine := NewEngine(newFakeSource(), reg, nil, WithLogger(logging.NewNopLogger()))

	sub := &fakeSubscriber{id: "s1"}
	reg.Add(sub)
	require.NoError(t, reg.Update(sub, filter.New(filter.ModeAll, []banano.Subtype{banano.SubtypeSend}, nil)))

	require.NotPanics(t, func() {
		engine.handle(confirmation("send", accountA, accountB, "H1"))
	})
	frames := sub.received()
	require.Len(t, frames, 1)
	assert.Nil(t, frames[0].BlockAccount.DiscordID)
	assert.Nil(t, frames[0].LinkAsAccount.Alias)
}

func TestIdentifiedSendFrame(t *testing.T) {
	f := newFixture(t)
	f.ids.entries[accountA] = enrich.Identity{Address: accountA, UserID: "1", Name: "sender"}
	f.ids.entries[accountB] = enrich.Identity{Address: accountB, UserID: "2"}
	require.NoError(t, f.cache.Refresh(context.Background()))
	sub := f.subscribe(t, "d", filter.Default())

	f.engine.handle(confirmation("send", accountA, accountB, "H1"))

	frames := sub.received()
	require.Len(t, frames, 1)

	str := func(s string) *string { return &s }
	want := Frame{
		BlockAccount:  enrich.Side{Account: accountA, DiscordID: str("1"), DiscordName: str("sender")},
		LinkAsAccount: enrich.Side{Account: accountB, DiscordID: str("2")},
		Amount:        "1000000000000000000000000000000",
		AmountDecimal: "10.0",
		Hash:          "H1",
	}
	if diff := cmp.Diff(want, frames[0], cmpopts.IgnoreFields(Frame{}, "Time", "Block")); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
	assert.JSONEq(t, `{"type":"state","account":"`+accountA+`","link_as_account":"`+accountB+`","subtype":"send","balance":"1"}`, string(frames[0].Block))
}

func TestSkipMetrics(t *testing.T) {
	f := newFixture(t)
	noSubs := testutil.ToFloat64(metrics.EventsSkipped.WithLabelValues(metrics.SkipNoSubscribers))
	f.engine.handle(confirmation("send", accountA, accountB, "H1"))
	assert.InDelta(t, noSubs+1, testutil.ToFloat64(metrics.EventsSkipped.WithLabelValues(metrics.SkipNoSubscribers)), 0)

	f.subscribe(t, "a", filter.New(filter.ModeAll, []banano.Subtype{banano.SubtypeSend}, []string{accountA}))
	precheck := testutil.ToFloat64(metrics.EventsSkipped.WithLabelValues(metrics.SkipPrecheck))
	delivered := testutil.ToFloat64(metrics.FramesDelivered)

	f.engine.handle(confirmation("change", accountA, "", "H2"))
	f.engine.handle(confirmation("send", accountA, accountB, "H3"))

	assert.InDelta(t, precheck+1, testutil.ToFloat64(metrics.EventsSkipped.WithLabelValues(metrics.SkipPrecheck)), 0)
	assert.InDelta(t, delivered+1, testutil.ToFloat64(metrics.FramesDelivered), 0)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "unknown", State(99).String())
}
