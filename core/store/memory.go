// Package store provides an in-memory core.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/volan/membership-engine/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	subscriptions map[core.SubscriptionID]core.Subscription
	payments      []core.Payment
	freezes       []core.FreezePeriod
	channels      []core.Channel
	history       []core.HistoryEntry
	cashflow      []core.CashFlowEntry
	seq           map[core.CustomerID]int64
}

func NewMemory() *Memory {
	return &Memory{state: memoryState{
		subscriptions: make(map[core.SubscriptionID]core.Subscription),
		seq:           make(map[core.CustomerID]int64),
	}}
}

// WithTx executes fn with exclusive access.
// Rollback is simulated with a snapshot taken before fn runs.
func (m *Memory) WithTx(ctx context.Context, fn func(core.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memoryTx{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// View executes fn against the current state under a read lock.
func (m *Memory) View(ctx context.Context, fn func(core.Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryTx{state: &m.state, readOnly: true})
}

func (m *Memory) Close() error { return nil }

func (s memoryState) clone() memoryState {
	subs := make(map[core.SubscriptionID]core.Subscription, len(s.subscriptions))
	for k, v := range s.subscriptions {
		subs[k] = v
	}
	seq := make(map[core.CustomerID]int64, len(s.seq))
	for k, v := range s.seq {
		seq[k] = v
	}
	return memoryState{
		subscriptions: subs,
		payments:      append([]core.Payment(nil), s.payments...),
		freezes:       append([]core.FreezePeriod(nil), s.freezes...),
		channels:      append([]core.Channel(nil), s.channels...),
		history:       append([]core.HistoryEntry(nil), s.history...),
		cashflow:      append([]core.CashFlowEntry(nil), s.cashflow...),
		seq:           seq,
	}
}

// =============================================================================
// TX VIEW
// =============================================================================

type memoryTx struct {
	state    *memoryState
	readOnly bool
}

func (t *memoryTx) writable() error {
	if t.readOnly {
		return core.ErrReadOnly
	}
	return nil
}

func (t *memoryTx) nextSeq(c core.CustomerID) int64 {
	t.state.seq[c]++
	return t.state.seq[c]
}

// Subscriptions

func (t *memoryTx) InsertSubscription(_ context.Context, s core.Subscription) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.subscriptions[s.ID]; ok {
		return core.ErrDuplicateID
	}
	t.state.subscriptions[s.ID] = s
	return nil
}

func (t *memoryTx) UpdateSubscription(_ context.Context, s core.Subscription) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.state.subscriptions[s.ID]; !ok {
		return core.ErrSubscriptionNotFound
	}
	t.state.subscriptions[s.ID] = s
	return nil
}

func (t *memoryTx) GetSubscription(_ context.Context, id core.SubscriptionID) (core.Subscription, error) {
	s, ok := t.state.subscriptions[id]
	if !ok {
		return core.Subscription{}, core.ErrSubscriptionNotFound
	}
	return s, nil
}

func (t *memoryTx) ListSubscriptions(_ context.Context, f core.SubscriptionFilter) ([]core.Subscription, error) {
	var out []core.Subscription
	for _, s := range t.state.subscriptions {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Payments

func (t *memoryTx) AppendPayment(_ context.Context, p core.Payment) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, existing := range t.state.payments {
		if existing.ID == p.ID {
			return core.ErrDuplicateID
		}
	}
	t.state.payments = append(t.state.payments, p)
	return nil
}

func (t *memoryTx) ListPayments(_ context.Context, f core.PaymentFilter) ([]core.Payment, error) {
	var out []core.Payment
	for _, p := range t.state.payments {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaymentDate.Before(out[j].PaymentDate) })
	return out, nil
}

// Freeze periods

func (t *memoryTx) InsertFreeze(_ context.Context, f core.FreezePeriod) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.state.freezes = append(t.state.freezes, f)
	return nil
}

func (t *memoryTx) UpdateFreeze(_ context.Context, f core.FreezePeriod) error {
	if err := t.writable(); err != nil {
		return err
	}
	for i := range t.state.freezes {
		if t.state.freezes[i].ID == f.ID {
			t.state.freezes[i] = f
			return nil
		}
	}
	return core.ErrFreezeNotFound
}

func (t *memoryTx) FreezesFor(_ context.Context, id core.SubscriptionID) ([]core.FreezePeriod, error) {
	var out []core.FreezePeriod
	for _, f := range t.state.freezes {
		if f.SubscriptionID == id {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Channels

func (t *memoryTx) InsertChannel(_ context.Context, c core.Channel) (core.Channel, error) {
	if err := t.writable(); err != nil {
		return core.Channel{}, err
	}
	c.Seq = t.nextSeq(c.CustomerID)
	t.state.channels = append(t.state.channels, c)
	return c, nil
}

func (t *memoryTx) SetChannelState(_ context.Context, id core.ChannelID, state core.ChannelState) error {
	if err := t.writable(); err != nil {
		return err
	}
	for i := range t.state.channels {
		if t.state.channels[i].ID == id {
			t.state.channels[i].State = state
			return nil
		}
	}
	return core.ErrChannelNotFound
}

func (t *memoryTx) ChannelsFor(_ context.Context, customer core.CustomerID) ([]core.Channel, error) {
	var out []core.Channel
	for _, c := range t.state.channels {
		if c.CustomerID == customer {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (t *memoryTx) ListChannels(_ context.Context, state core.ChannelState) ([]core.Channel, error) {
	var out []core.Channel
	for _, c := range t.state.channels {
		if state == "" || c.State == state {
			out = append(out, c)
		}
	}
	return out, nil
}

// History

func (t *memoryTx) AppendHistory(_ context.Context, e core.HistoryEntry) (core.HistoryEntry, error) {
	if err := t.writable(); err != nil {
		return core.HistoryEntry{}, err
	}
	e.Seq = t.nextSeq(e.CustomerID)
	t.state.history = append(t.state.history, e)
	return e, nil
}

func (t *memoryTx) HistoryFor(_ context.Context, customer core.CustomerID) ([]core.HistoryEntry, error) {
	var out []core.HistoryEntry
	for _, e := range t.state.history {
		if e.CustomerID == customer {
			out = append(out, e)
		}
	}
	return out, nil
}

// Cash flow

func (t *memoryTx) AppendCashFlow(_ context.Context, e core.CashFlowEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.state.cashflow = append(t.state.cashflow, e)
	return nil
}

func (t *memoryTx) ListCashFlow(_ context.Context, f core.CashFlowFilter) ([]core.CashFlowEntry, error) {
	var out []core.CashFlowEntry
	for _, e := range t.state.cashflow {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
