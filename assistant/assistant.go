// Package assistant talks to the coaching chat endpoint.
package assistant

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jrsteele09/go-coach-engine/gateway"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
)

const chatPath = "/chat/"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []Message `json:"messages"`
	UserContext string    `json:"user_context,omitempty"`
	Language    string    `json:"language"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Conversation keeps the running message history of one chat.
// Sends are serialized so replies stay in order.
type Conversation struct {
	caller   gateway.Caller
	language string

	lock    sync.Mutex
	history []Message
}

func NewConversation(caller gateway.Caller, language string) *Conversation {
	return &Conversation{caller: caller, language: language}
}

// Send appends text as a user message and returns the coach's reply.
// userContext is a short summary of today's metrics; it may be empty.
func (c *Conversation) Send(ctx context.Context, text, userContext string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("[Send] empty message: %w", coacherrors.ErrInvalidInput)
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	messages := append(append([]Message(nil), c.history...), Message{Role: RoleUser, Content: text})

	var resp chatResponse
	req := chatRequest{Messages: messages, UserContext: userContext, Language: c.language}
	if err := c.caller.Call(ctx, http.MethodPost, chatPath, req, &resp); err != nil {
		return "", fmt.Errorf("[Send] %w", err)
	}
	c.history = append(messages, Message{Role: RoleModel, Content: resp.Response})
	return resp.Response, nil
}

// History returns a copy of the messages exchanged so far
func (c *Conversation) History() []Message {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]Message(nil), c.history...)
}
