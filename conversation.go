package ragcore

import "sync"

// Conversation is the append-only message log of one agent run. Append and
// Snapshot are each atomic, so parallel tool completions may append
// concurrently.
type Conversation struct {
	mu       sync.Mutex
	messages []ChatMessage
	onAppend func(ChatMessage)
}

// NewConversation creates a log seeded with msgs. Seed messages without an
// ID are assigned one.
func NewConversation(msgs ...ChatMessage) *Conversation {
	c := &Conversation{messages: make([]ChatMessage, 0, len(msgs)+8)}
	for _, m := range msgs {
		c.Append(m)
	}
	return c
}

// Append adds msg to the end of the log and returns the stored copy.
// It never fails.
func (c *Conversation) Append(msg ChatMessage) ChatMessage {
	msg = msg.clone()
	if msg.ID == "" {
		msg.ID = NewID()
	}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	hook := c.onAppend
	c.mu.Unlock()

	if hook != nil {
		hook(msg.clone())
	}
	return msg
}

// Snapshot returns a defensive copy of the full log in order.
func (c *Conversation) Snapshot() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatMessage, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.clone()
	}
	return out
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Last returns the most recently appended message.
func (c *Conversation) Last() (ChatMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return ChatMessage{}, false
	}
	return c.messages[len(c.messages)-1].clone(), true
}

// Tail returns the messages appended after the message with id afterID,
// oldest first. It walks backward from the end and stops at afterID
// (exclusive). An unknown afterID yields the whole log.
func (c *Conversation) Tail(afterID string) []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var rev []ChatMessage
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == afterID {
			break
		}
		rev = append(rev, c.messages[i].clone())
	}
	out := make([]ChatMessage, len(rev))
	for i, m := range rev {
		out[len(rev)-1-i] = m
	}
	return out
}

// setHook installs fn to observe every subsequent append. fn runs on the
// appending goroutine, outside the log's lock.
func (c *Conversation) setHook(fn func(ChatMessage)) {
	c.mu.Lock()
	c.onAppend = fn
	c.mu.Unlock()
}
