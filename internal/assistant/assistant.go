// Package assistant provides the two chat assistants shown next to the task
// list: a keyword-driven focus helper and a sarcastic one.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"focuslist/backend"
)

// Names accepted by New
const (
	NameFocus     = "focus"
	NameSarcastic = "sarcastic"
)

// ErrEmptyMessage is returned for blank messages
var ErrEmptyMessage = errors.New("message is empty")

// Assistant answers chat messages about the current task list
type Assistant interface {
	Name() string
	Greeting(userName string) string
	Reply(ctx context.Context, message string, tasks []backend.Task) (string, error)
}

// Option is a functional option for the assistants
type Option func(*options)

type options struct {
	delay func() time.Duration
	pick  func(n int) int
}

// WithDelay fixes the thinking delay, zero disables it
func WithDelay(d time.Duration) Option {
	return func(o *options) {
		o.delay = func() time.Duration { return d }
	}
}

// WithPicker sets how the sarcastic assistant picks a response index
func WithPicker(pick func(n int) int) Option {
	return func(o *options) {
		o.pick = pick
	}
}

// New returns the assistant called name
func New(name string, opts ...Option) (Assistant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameFocus:
		return NewFocus(opts...), nil
	case NameSarcastic:
		return NewSarcastic(opts...), nil
	default:
		return nil, fmt.Errorf("unknown assistant %q (must be focus or sarcastic)", name)
	}
}

// think waits for d or until ctx is done
func think(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func checkMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// =============================================================================
// Focus
// =============================================================================

const focusDelay = 1200 * time.Millisecond

// Focus answers from the task list using keyword rules
type Focus struct {
	opts options
}

// NewFocus creates the focus assistant
func NewFocus(opts ...Option) *Focus {
	o := options{delay: func() time.Duration { return focusDelay }}
	for _, opt := range opts {
		opt(&o)
	}
	return &Focus{opts: o}
}

func (f *Focus) Name() string { return NameFocus }

func (f *Focus) Greeting(userName string) string {
	if userName == "" {
		userName = "there"
	}
	return fmt.Sprintf("Hello %s! I am your Focus AI. How can I assist with your tasks today?", userName)
}

// Reply answers message after the thinking delay
func (f *Focus) Reply(ctx context.Context, message string, tasks []backend.Task) (string, error) {
	if err := checkMessage(message); err != nil {
		return "", err
	}
	if err := think(ctx, f.opts.delay()); err != nil {
		return "", err
	}
	return Analyze(message, tasks), nil
}

// Analyze applies the keyword rules in order; the first match answers
func Analyze(message string, tasks []backend.Task) string {
	q := strings.ToLower(message)

	var active []backend.Task
	for _, t := range tasks {
		if !t.Completed {
			active = append(active, t)
		}
	}
	completed := len(tasks) - len(active)

	switch {
	case containsAny(q, "next", "do first", "what should i do"):
		if len(active) == 0 {
			return "You're all caught up! No pending tasks in your Focus List."
		}
		return fmt.Sprintf("Based on your list, your next priority should be: %q. You have %d active tasks in total.",
			active[0].Text, len(active))

	case containsAny(q, "how many", "status", "summary"):
		rate := 0
		if len(tasks) > 0 {
			rate = int(float64(completed)/float64(len(tasks))*100 + 0.5)
		}
		return fmt.Sprintf("Project Summary: You have %d total tasks. %d are pending and %d are completed. Completion rate: %d%%.",
			len(tasks), len(active), completed, rate)

	case containsAny(q, "help", "organize"):
		return "I can help you prioritize! Use keywords like 'next', 'summary', or ask about specific tasks. I read your task list as it is right now."
	}

	for _, t := range active {
		if t.Text != "" && strings.Contains(q, strings.ToLower(t.Text)) {
			return fmt.Sprintf("Yes, the task %q is currently on your pending list. It was created at %s.", t.Text, t.Created)
		}
	}

	return "I'm analyzing your Focus List... I can provide summaries or help you identify your next task. Try asking 'What should I do next?'"
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// =============================================================================
// Sarcastic
// =============================================================================

// SarcasticGreeting is the first message of the sarcastic assistant
const SarcasticGreeting = "Hi, I'm the unhelpful assistant. What do you want?"

// SarcasticResponses are the canned replies
var SarcasticResponses = []string{
	"Wow, another task? Productive aren't we?",
	"I'm judging you silently.",
	"Are you sure you want to do that?",
	"Maybe take a nap instead?",
	"I've seen better todo lists.",
	"Why are you telling me this?",
	"404: Motivation not found.",
	"I'm just a bot, don't ask me.",
	"That sounds boring.",
	"Do you ever stop working?",
	"Fine, I'll pretend to care.",
	"Have you tried turning it off and on again?",
	"I'd help, but I don't want to.",
	"Cool story, bro.",
}

// Sarcastic ignores the message and picks a random canned reply
type Sarcastic struct {
	opts options
}

// NewSarcastic creates the sarcastic assistant. It waits between one and
// two seconds before replying.
func NewSarcastic(opts ...Option) *Sarcastic {
	o := options{
		delay: func() time.Duration { return time.Second + rand.N(time.Second) },
		pick:  rand.IntN,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Sarcastic{opts: o}
}

func (s *Sarcastic) Name() string { return NameSarcastic }

func (s *Sarcastic) Greeting(string) string { return SarcasticGreeting }

func (s *Sarcastic) Reply(ctx context.Context, message string, _ []backend.Task) (string, error) {
	if err := checkMessage(message); err != nil {
		return "", err
	}
	if err := think(ctx, s.opts.delay()); err != nil {
		return "", err
	}
	i := s.opts.pick(len(SarcasticResponses))
	if i < 0 || i >= len(SarcasticResponses) {
		i = 0
	}
	return SarcasticResponses[i], nil
}
