package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/wa-autoreply/internal/aiconfig"
	"github.com/wolfman30/wa-autoreply/internal/channels/whatsapp"
	"github.com/wolfman30/wa-autoreply/internal/conversation"
	"github.com/wolfman30/wa-autoreply/internal/llm"
	"github.com/wolfman30/wa-autoreply/internal/notify"
	"github.com/wolfman30/wa-autoreply/internal/processinglog"
)

// memoryStore is an in-memory MessageStore and prompt.HistorySource.
type memoryStore struct {
	mu            sync.Mutex
	conversations map[string]uuid.UUID
	contactNames  map[string]string
	messages      []conversation.Message
	touched       map[uuid.UUID]time.Time
	failOutbound  error
	failMark      error
	pending       []conversation.PendingReply
	pendingErr    error
	incrementErr  map[uuid.UUID]error
	increments    []uuid.UUID
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: make(map[string]uuid.UUID),
		contactNames:  make(map[string]string),
		touched:       make(map[uuid.UUID]time.Time),
		incrementErr:  make(map[uuid.UUID]error),
	}
}

func (s *memoryStore) ResolveConversation(ctx context.Context, instanceID uuid.UUID, address string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := instanceID.String() + "|" + address
	if id, ok := s.conversations[key]; ok {
		return id, nil
	}
	id := uuid.New()
	s.conversations[key] = id
	return id, nil
}

func (s *memoryStore) AppendMessage(ctx context.Context, msg *conversation.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.IsFromBot && s.failOutbound != nil {
		return false, s.failOutbound
	}
	for _, m := range s.messages {
		if m.InstanceID == msg.InstanceID && m.ExternalID == msg.ExternalID {
			return false, nil
		}
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	s.messages = append(s.messages, *msg)
	return true, nil
}

func (s *memoryStore) UpdateContactName(ctx context.Context, instanceID uuid.UUID, address, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contactNames[address] = name
	return nil
}

func (s *memoryStore) TouchLastActivity(ctx context.Context, conversationID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[conversationID] = at
	return nil
}

func (s *memoryStore) MarkAIHandled(ctx context.Context, messageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMark != nil {
		return s.failMark
	}
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].AIResponseGenerated = true
			return nil
		}
	}
	return errors.New("message not found")
}

func (s *memoryStore) IsAIHandled(ctx context.Context, messageID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == messageID {
			return m.AIResponseGenerated, nil
		}
	}
	return false, nil
}

func (s *memoryStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int, excludeID uuid.UUID, before time.Time) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversation.Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.ID == excludeID || m.CreatedAt.After(before) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memoryStore) PendingReplies(ctx context.Context, cutoff time.Time, maxAttempts, limit int) ([]conversation.PendingReply, error) {
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	return s.pending, nil
}

func (s *memoryStore) IncrementReplyAttempts(ctx context.Context, messageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.incrementErr[messageID]; err != nil {
		return err
	}
	s.increments = append(s.increments, messageID)
	return nil
}

func (s *memoryStore) snapshot() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversation.Message(nil), s.messages...)
}

func (s *memoryStore) find(externalID string) (conversation.Message, bool) {
	for _, m := range s.snapshot() {
		if m.ExternalID == externalID {
			return m, true
		}
	}
	return conversation.Message{}, false
}

type staticResolver struct {
	cfg aiconfig.Config
	err error
}

func (r staticResolver) Resolve(ctx context.Context, instanceID uuid.UUID) (aiconfig.Config, error) {
	if r.err != nil {
		return aiconfig.Config{}, r.err
	}
	cfg := r.cfg
	cfg.InstanceID = instanceID
	return cfg, nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []llm.GenerateRequest
	inFlight int
	maxSeen  int
	hold     time.Duration
}

func (g *fakeGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (llm.Result, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.inFlight++
	if g.inFlight > g.maxSeen {
		g.maxSeen = g.inFlight
	}
	g.mu.Unlock()
	if g.hold > 0 {
		time.Sleep(g.hold)
	}
	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()

	if g.err != nil {
		return llm.Result{}, g.err
	}
	provider, _ := llm.ParseProvider(req.Provider)
	return llm.Result{Text: g.text, Latency: 850 * time.Millisecond, Model: req.Model, Provider: provider}, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type fakeSender struct {
	mu       sync.Mutex
	err      error
	requests []whatsapp.SendTextRequest
}

func (s *fakeSender) SendText(ctx context.Context, req whatsapp.SendTextRequest) (*whatsapp.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &whatsapp.SendResult{
		MessageID:   "wamid.OUT" + uuid.NewString()[:8],
		ContactWaID: req.To,
		Timestamp:   time.Date(2026, 10, 1, 9, 0, 5, 0, time.UTC),
	}, nil
}

func (s *fakeSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type memoryAudit struct {
	mu        sync.Mutex
	entries   []processinglog.Entry
	processed []uuid.UUID
	err       error
}

func (a *memoryAudit) Append(ctx context.Context, entry processinglog.Entry) (uuid.UUID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return uuid.Nil, a.err
	}
	entry.ID = uuid.New()
	a.entries = append(a.entries, entry)
	return entry.ID, nil
}

func (a *memoryAudit) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processed = append(a.processed, id)
	return nil
}

func (a *memoryAudit) stages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Stage)
	}
	return out
}

type recordingRuns struct {
	mu   sync.Mutex
	runs []RunRecord
}

func (r *recordingRuns) Record(ctx context.Context, run RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

type recordingAlerter struct {
	mu       sync.Mutex
	failures []notify.PipelineFailure
}

func (a *recordingAlerter) Notify(ctx context.Context, f notify.PipelineFailure) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, f)
	return nil
}

type panicBuilder struct{}

func (panicBuilder) Build(ctx context.Context, conversationID uuid.UUID, cfg aiconfig.Config, live conversation.Message, contactName string) ([]llm.Message, error) {
	panic("nil history")
}

func waitFor(cond func() bool, timeout time.Duration, t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
