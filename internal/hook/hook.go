// Package hook is an ordered registry of observation callbacks invoked at
// defined points of the membership protocol.
package hook

import (
	"context"
	"sync"

	"github.com/arya-analytics/gms/internal/health"
	"github.com/arya-analytics/gms/internal/view"
	"github.com/arya-analytics/gms/transport"
)

// Hook observes the membership protocol. Every call receives the member's root
// context, which is cancelled when the member disconnects. Hooks must be
// comparable so they can be unregistered.
type Hook interface {
	BeforeViewPublish(ctx context.Context, v view.View)
	AfterViewPublish(ctx context.Context, v view.View)
	MessageReceived(ctx context.Context, msg transport.Message)
	ForcedDisconnect(ctx context.Context, reason error)
	HealthChanged(ctx context.Context, t health.Transition)
}

// Funcs implements Hook with optional callbacks. Use it by pointer.
type Funcs struct {
	OnBeforeViewPublish func(context.Context, view.View)
	OnAfterViewPublish  func(context.Context, view.View)
	OnMessageReceived   func(context.Context, transport.Message)
	OnForcedDisconnect  func(context.Context, error)
	OnHealthChanged     func(context.Context, health.Transition)
}

var _ Hook = (*Funcs)(nil)

func (f *Funcs) BeforeViewPublish(ctx context.Context, v view.View) {
	if f.OnBeforeViewPublish != nil {
		f.OnBeforeViewPublish(ctx, v)
	}
}

func (f *Funcs) AfterViewPublish(ctx context.Context, v view.View) {
	if f.OnAfterViewPublish != nil {
		f.OnAfterViewPublish(ctx, v)
	}
}

func (f *Funcs) MessageReceived(ctx context.Context, msg transport.Message) {
	if f.OnMessageReceived != nil {
		f.OnMessageReceived(ctx, msg)
	}
}

func (f *Funcs) ForcedDisconnect(ctx context.Context, reason error) {
	if f.OnForcedDisconnect != nil {
		f.OnForcedDisconnect(ctx, reason)
	}
}

func (f *Funcs) HealthChanged(ctx context.Context, t health.Transition) {
	if f.OnHealthChanged != nil {
		f.OnHealthChanged(ctx, t)
	}
}

// Registry holds hooks in registration order. Registering the same hook twice
// invokes it twice. Invocations iterate a snapshot, so a hook may register or
// unregister hooks while it runs.
type Registry struct {
	mu    sync.RWMutex
	hooks []Hook
}

func (r *Registry) Register(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Unregister removes the first registration of h. It returns false if h is
// not registered.
func (r *Registry) Unregister(h Hook) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, o := range r.hooks {
		if o == h {
			r.hooks = append(r.hooks[:i:i], r.hooks[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}

func (r *Registry) snapshot() []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hooks
}

func (r *Registry) BeforeViewPublish(ctx context.Context, v view.View) {
	for _, h := range r.snapshot() {
		h.BeforeViewPublish(ctx, v)
	}
}

func (r *Registry) AfterViewPublish(ctx context.Context, v view.View) {
	for _, h := range r.snapshot() {
		h.AfterViewPublish(ctx, v)
	}
}

func (r *Registry) MessageReceived(ctx context.Context, msg transport.Message) {
	for _, h := range r.snapshot() {
		h.MessageReceived(ctx, msg)
	}
}

func (r *Registry) ForcedDisconnect(ctx context.Context, reason error) {
	for _, h := range r.snapshot() {
		h.ForcedDisconnect(ctx, reason)
	}
}

func (r *Registry) HealthChanged(ctx context.Context, t health.Transition) {
	for _, h := range r.snapshot() {
		h.HealthChanged(ctx, t)
	}
}
