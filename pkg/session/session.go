// Package session manages model conversations. A session is a titled message
// history bound to one roster agent; the manager injects the agent's persona,
// keeps the history inside the model's context budget, and records every
// exchange in the store.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gamesmith/pkg/config"
	"gamesmith/pkg/llm"
	"gamesmith/pkg/llm/llmerrors"
	"gamesmith/pkg/logx"
	"gamesmith/pkg/metrics"
	"gamesmith/pkg/persistence"
	"gamesmith/pkg/utils"
)

// Handle identifies a created session.
type Handle struct {
	ID    string
	Title string
}

// SendOptions describes one prompt exchange within a session.
type SendOptions struct {
	SessionID   string
	Text        string
	Agent       string // roster agent key, selects the persona
	Model       string
	MaxTokens   int
	Temperature float32
}

// Reply is the assistant's answer to one prompt. Text may be empty when the
// model returned nothing; callers decide what empty means.
type Reply struct {
	Text  string
	Parts []string
	Raw   llm.CompletionResponse
}

// Transport is the session surface consumed by the cache, the coder, and the
// planner. The manager implements it against real providers; tests script it.
type Transport interface {
	CreateSession(ctx context.Context, title string) (Handle, error)
	SendPrompt(ctx context.Context, opts SendOptions) (Reply, error)
}

// AgentProfile describes how a roster agent talks to the model.
type AgentProfile struct {
	Persona string // system prompt body
	Kind    string // user-instruction kind: "CODER" or "PLANNER"
}

// sessionState is the in-memory record of one conversation.
type sessionState struct {
	id      string
	title   string
	history []llm.CompletionMessage
	nextSeq int
}

// Manager implements Transport against the configured providers. Concurrent
// sends to different sessions are safe; sends within one session are expected
// to be sequential (the engine drives each agent session serially).
type Manager struct {
	logger       *logx.Logger
	sessions     map[string]*sessionState
	profiles     map[string]AgentProfile
	instructions *utils.UserInstructions
	clients      clientProvider
	counter      *utils.TokenCounter
	agentCfg     config.AgentConfig
	mu           sync.Mutex
}

// NewManager creates a session manager. profiles maps roster agent keys to
// personas; instructions may be nil when the project has none.
func NewManager(agentCfg config.AgentConfig, profiles map[string]AgentProfile, instructions *utils.UserInstructions, recorder metrics.Recorder) *Manager {
	logger := logx.NewLogger("session")

	// One counter serves every session; a nil counter falls back to
	// character estimates.
	counter, err := utils.NewTokenCounter()
	if err != nil {
		logger.Warn("token counter unavailable, falling back to character estimates: %v", err)
		counter = nil
	}

	return &Manager{
		logger:       logger,
		sessions:     make(map[string]*sessionState),
		profiles:     profiles,
		instructions: instructions,
		clients:      newClientFactory(recorder, time.Duration(agentCfg.LLMTimeoutSecs)*time.Second, logger),
		counter:      counter,
		agentCfg:     agentCfg,
	}
}

// CreateSession registers a new titled session and persists its row.
func (m *Manager) CreateSession(_ context.Context, title string) (Handle, error) {
	id := uuid.New().String()

	m.mu.Lock()
	m.sessions[id] = &sessionState{id: id, title: title, nextSeq: 1}
	m.mu.Unlock()

	persistence.RecordLLMSession(&persistence.LLMSession{
		ID:        id,
		RunID:     persistence.GetRunID(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	})

	m.logger.Info("💬 Created session %s (%s)", id, title)
	return Handle{ID: id, Title: title}, nil
}

// SendPrompt sends one user turn through the session and returns the
// assistant reply. History is committed only after a successful exchange, so
// a failed send can be retried without duplicating the user turn.
func (m *Manager) SendPrompt(ctx context.Context, opts SendOptions) (Reply, error) {
	m.mu.Lock()
	sess, ok := m.sessions[opts.SessionID]
	m.mu.Unlock()
	if !ok {
		return Reply{}, fmt.Errorf("unknown session: %s", opts.SessionID)
	}

	system := m.systemPrompt(opts.Agent)

	if opts.Model == "" {
		opts.Model = m.defaultModel(opts.Agent)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.agentCfg.MaxReplyTokens
	}
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = llm.TemperatureDefault
	}

	m.compact(sess, opts.Model, system, opts.Text, maxTokens)

	messages := make([]llm.CompletionMessage, 0, len(sess.history)+2)
	if system != "" {
		messages = append(messages, llm.NewSystemMessage(system))
	}
	messages = append(messages, sess.history...)
	messages = append(messages, llm.NewUserMessage(opts.Text))

	client, err := m.clients.clientFor(opts.Model, requestMeta{sessionID: opts.SessionID, agentKey: opts.Agent})
	if err != nil {
		return Reply{}, err
	}

	req := llm.NewCompletionRequest(messages)
	req.MaxTokens = maxTokens
	req.Temperature = temperature

	resp, err := client.Complete(ctx, req)
	if err != nil {
		m.logger.Warn("💥 Exchange failed in session %s (prompt %s): %v",
			opts.SessionID, llmerrors.SanitizePrompt(opts.Text, 200), err)
		return Reply{}, err //nolint:wrapcheck // Transport failures must reach callers unmodified.
	}

	m.mu.Lock()
	sess.history = append(sess.history, llm.NewUserMessage(opts.Text), llm.NewAssistantMessage(resp.Content))
	userSeq := sess.nextSeq
	sess.nextSeq += 2
	m.mu.Unlock()

	m.record(sess, opts, resp.Content, userSeq)

	reply := Reply{Text: resp.Content, Raw: resp}
	if resp.Content != "" {
		reply.Parts = []string{resp.Content}
	}
	return reply, nil
}

// defaultModel picks the configured model for the agent's kind. Sends that
// name no model fall back here.
func (m *Manager) defaultModel(agent string) string {
	if profile, ok := m.profiles[agent]; ok && profile.Kind == "PLANNER" {
		return m.agentCfg.PlannerModel
	}
	return m.agentCfg.CoderModel
}

// systemPrompt assembles the persona and any project instructions for agent.
func (m *Manager) systemPrompt(agent string) string {
	profile, ok := m.profiles[agent]
	if !ok {
		m.logger.Warn("no profile for agent %q, sending without a persona", agent)
		return ""
	}

	system := profile.Persona
	if extra := utils.FormatUserInstructions(m.instructions, profile.Kind); extra != "" {
		system += "\n\n" + extra
	}
	return system
}

// compact trims the oldest history until the pending request fits the model's
// context budget. The first user message survives compaction; it anchors what
// the conversation is about.
func (m *Manager) compact(sess *sessionState, model, system, text string, maxReply int) {
	budget := m.contextBudget(model)
	target := budget - maxReply - m.agentCfg.CompactionBuffer
	if target <= 0 {
		return
	}

	fixed := m.countTokens(system) + m.countTokens(text)

	dropped := 0
	for fixed+m.historyTokens(sess) > target && len(sess.history) > 2 {
		sess.history = append(sess.history[:1], sess.history[2:]...)
		dropped++
	}
	if dropped > 0 {
		m.logger.Debug("🧹 Compacted session %s: dropped %d oldest messages", sess.id, dropped)
	}
}

// contextBudget returns the usable context window for model. The configured
// cap wins when it is tighter than the model's own window.
func (m *Manager) contextBudget(model string) int {
	info, _ := config.GetModelInfo(model)
	budget := info.MaxContextTokens
	if m.agentCfg.MaxContextTokens > 0 && m.agentCfg.MaxContextTokens < budget {
		budget = m.agentCfg.MaxContextTokens
	}
	return budget
}

func (m *Manager) historyTokens(sess *sessionState) int {
	total := 0
	for i := range sess.history {
		total += m.countTokens(sess.history[i].Content)
	}
	return total
}

func (m *Manager) countTokens(text string) int {
	if m.counter != nil {
		return m.counter.CountTokens(text)
	}
	return len(text) / 4
}

// record persists the exchange: the session row is upserted with the latest
// agent and model, then both turns are appended.
func (m *Manager) record(sess *sessionState, opts SendOptions, replyText string, userSeq int) {
	now := time.Now().UTC()

	persistence.RecordLLMSession(&persistence.LLMSession{
		ID:        sess.id,
		RunID:     persistence.GetRunID(),
		AgentKey:  opts.Agent,
		Title:     sess.title,
		Model:     opts.Model,
		CreatedAt: now,
	})
	persistence.RecordLLMMessage(&persistence.LLMMessage{
		ID:        persistence.GenerateMessageID(),
		SessionID: sess.id,
		Role:      string(llm.RoleUser),
		Content:   opts.Text,
		Seq:       userSeq,
		CreatedAt: now,
	})
	persistence.RecordLLMMessage(&persistence.LLMMessage{
		ID:        persistence.GenerateMessageID(),
		SessionID: sess.id,
		Role:      string(llm.RoleAssistant),
		Content:   replyText,
		Seq:       userSeq + 1,
		CreatedAt: now,
	})
}
