// Package orchestration implements the in-process orchestration-message
// router and the filesystem-backed mailbox that complements it (spec
// §4.11). Grounded on the teacher's internal/orchestrator/events.go for the
// shape of a typed envelope fanned out to interested parties, and on
// internal/playbook/playbook.go for the "create directories on write,
// tolerate their absence on read" filesystem discipline the mailbox reuses.
package orchestration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/agentmux/internal/daemonerr"
	"github.com/user/agentmux/internal/hierarchy"
	"github.com/user/agentmux/internal/history"
	"github.com/user/agentmux/internal/registry"
	"github.com/user/agentmux/internal/wire"
)

// TargetKind selects how Route resolves a Message's recipients.
type TargetKind string

const (
	// TargetTag delivers to every session whose tag set contains Value.
	TargetTag TargetKind = "tag"
	// TargetSession delivers to the single session named or identified by
	// Value.
	TargetSession TargetKind = "session"
	// TargetBroadcast delivers to every session sharing From's worktree.
	TargetBroadcast TargetKind = "broadcast"
	// TargetWorktree delivers to every session whose worktree label equals
	// Value.
	TargetWorktree TargetKind = "worktree"
)

// Target names a Message's recipient selector (spec §4.11).
type Target struct {
	Kind  TargetKind
	Value string
}

// Message is one orchestration message to route.
type Message struct {
	From    string // sender session ref, may be empty
	MsgType string
	Payload json.RawMessage
	Target  Target
}

// Router resolves a Message's recipients against the hierarchy and tag
// index, then delivers it to each recipient's attached clients via the
// client registry. Every delivery (or the lack of one) is optionally
// logged to a non-authoritative audit trail.
type Router struct {
	hierarchy *hierarchy.Manager
	registry  *registry.Registry
	history   *history.DeliveryRepo // optional; nil disables audit logging
}

// NewRouter builds a Router. history may be nil.
func NewRouter(mgr *hierarchy.Manager, reg *registry.Registry, h *history.DeliveryRepo) *Router {
	return &Router{hierarchy: mgr, registry: reg, history: h}
}

// Route resolves msg's recipients and broadcasts it to each one's attached
// clients. It returns the number of sessions the message was delivered to.
// An empty resolution is reported as daemonerr.NoRecipients, which callers
// (the MCP bridge's send-message tool, in particular) must treat as
// reportable but never fatal (spec §4.11).
func (r *Router) Route(msg Message) (int, error) {
	if msg.MsgType == "" {
		return 0, daemonerr.New(daemonerr.InvalidParams, "msg_type")
	}

	recipients, err := r.resolveRecipients(msg)
	if err != nil {
		return 0, err
	}
	if len(recipients) == 0 {
		r.recordDelivery(msg, "", false, "NoRecipients")
		return 0, daemonerr.New(daemonerr.NoRecipients, string(msg.Target.Kind)+":"+msg.Target.Value)
	}

	env, err := wire.EncodeBody(wire.KindOrchestrationMessage, 0, wire.OrchestrationMessageBroadcast{
		From:    msg.From,
		MsgType: msg.MsgType,
		Payload: msg.Payload,
	})
	if err != nil {
		return 0, fmt.Errorf("orchestration: encode message: %w", err)
	}

	delivered := 0
	for _, sess := range recipients {
		r.registry.Broadcast(sess.ID, env)
		r.recordDelivery(msg, sess.ID.String(), true, "")
		delivered++
	}
	return delivered, nil
}

func (r *Router) resolveRecipients(msg Message) ([]*hierarchy.Session, error) {
	switch msg.Target.Kind {
	case TargetTag:
		if msg.Target.Value == "" {
			return nil, daemonerr.New(daemonerr.InvalidParams, "target tag")
		}
		return r.hierarchy.SessionsWithTag(msg.Target.Value), nil

	case TargetSession:
		if msg.Target.Value == "" {
			return nil, daemonerr.New(daemonerr.InvalidParams, "target session")
		}
		sess, err := r.hierarchy.ResolveSession(msg.Target.Value)
		if err != nil {
			return nil, err
		}
		return []*hierarchy.Session{sess}, nil

	case TargetBroadcast:
		label, err := r.hierarchy.WorktreeLabel(msg.From)
		if err != nil {
			return nil, err
		}
		if label == "" {
			return nil, nil
		}
		return r.sessionsInWorktree(label, msg.From), nil

	case TargetWorktree:
		if msg.Target.Value == "" {
			return nil, daemonerr.New(daemonerr.InvalidParams, "target worktree")
		}
		return r.sessionsInWorktree(msg.Target.Value, ""), nil

	default:
		return nil, daemonerr.New(daemonerr.InvalidParams, "target kind")
	}
}

// sessionsInWorktree returns every session whose on-demand worktree label
// matches label, excluding excludeRef (the sender, for broadcast targets)
// when it resolves to one of them.
func (r *Router) sessionsInWorktree(label, excludeRef string) []*hierarchy.Session {
	var excludeID string
	if excludeRef != "" {
		if sess, err := r.hierarchy.ResolveSession(excludeRef); err == nil {
			excludeID = sess.ID.String()
		}
	}

	var out []*hierarchy.Session
	for _, sess := range r.hierarchy.AllSessions() {
		if sess.ID.String() == excludeID {
			continue
		}
		got, err := r.hierarchy.WorktreeLabel(sess.ID.String())
		if err != nil || got != label || got == "" {
			continue
		}
		out = append(out, sess)
	}
	return out
}

func (r *Router) recordDelivery(msg Message, recipientSessionID string, delivered bool, errMsg string) {
	if r.history == nil {
		return
	}
	_ = r.history.Record(context.Background(), &history.Delivery{
		FromSession:      msg.From,
		TargetKind:       string(msg.Target.Kind),
		TargetValue:      msg.Target.Value,
		MsgType:          msg.MsgType,
		RecipientSession: recipientSessionID,
		Delivered:        delivered,
		Error:            errMsg,
	})
}
