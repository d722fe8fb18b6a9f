package store

import (
	"context"
	"sync"
	"time"
)

// MemoryTaskStore is an in-process TaskStore for tests and dev mode.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// MemoryConversationStore is an in-process ConversationStore keyed by
// flow, mirroring the unique constraint of the SQL schema.
type MemoryConversationStore struct {
	mu     sync.Mutex
	byFlow map[string]*Conversation
}

// NewMemoryStores creates a fresh in-memory store bundle.
func NewMemoryStores() *Stores {
	return &Stores{
		Tasks:         &MemoryTaskStore{tasks: make(map[string]*Task)},
		Conversations: &MemoryConversationStore{byFlow: make(map[string]*Conversation)},
	}
}

func (s *MemoryTaskStore) CreateTask(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return ErrConflict
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryTaskStore) GetTask(_ context.Context, taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryTaskStore) mutable(taskID string) (*Task, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status.Terminal() {
		return nil, ErrTerminal
	}
	return t, nil
}

func (s *MemoryTaskStore) MarkRunning(_ context.Context, taskID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mutable(taskID)
	if err != nil {
		return err
	}
	t.Status = TaskRunning
	t.StartedAt = &startedAt
	return nil
}

func (s *MemoryTaskStore) AppendOutput(_ context.Context, taskID string, chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.OutputStream += chunk
	return nil
}

func (s *MemoryTaskStore) MarkCompleted(_ context.Context, taskID string, result string, cost float64, inputTokens, outputTokens int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mutable(taskID)
	if err != nil {
		return err
	}
	t.Status = TaskCompleted
	t.Result = result
	t.CostUSD = cost
	t.InputTokens = inputTokens
	t.OutputTokens = outputTokens
	t.CompletedAt = &at
	return nil
}

func (s *MemoryTaskStore) MarkFailed(_ context.Context, taskID string, taskErr string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.mutable(taskID)
	if err != nil {
		return err
	}
	t.Status = TaskFailed
	t.Error = taskErr
	t.CompletedAt = &at
	return nil
}

func (s *MemoryConversationStore) GetByFlowID(_ context.Context, flowID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byFlow[flowID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryConversationStore) CreateConversation(_ context.Context, conv *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byFlow[conv.FlowID]; exists {
		return ErrConflict
	}
	cp := *conv
	s.byFlow[conv.FlowID] = &cp
	return nil
}

func (s *MemoryConversationStore) ResetConversation(_ context.Context, flowID, newConversationID, title string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byFlow[flowID]
	if !ok {
		return ErrNotFound
	}
	c.ID = newConversationID
	c.Title = title
	c.TotalCostUSD = 0
	c.TaskCount = 0
	return nil
}

func (s *MemoryConversationStore) AddTaskStats(_ context.Context, conversationID string, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byFlow {
		if c.ID == conversationID {
			c.TotalCostUSD += cost
			c.TaskCount++
			return nil
		}
	}
	return ErrNotFound
}
