// Package bus is the in-process message plane the services talk over.
//
// Topics are ordered token paths; tokens are strings or ints. A
// subscription pattern may use "+" to match exactly one token and "#" to
// match the rest of the path. Publishing never blocks: each subscription
// has a bounded queue and the oldest queued message is dropped to make room
// when a subscriber lags. A message published with Retained=true is stored
// on its topic and replayed to later subscribers whose pattern matches; a
// retained publish with a nil payload clears the stored copy.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Topic is a sequence of tokens (string or int).
type Topic []any

// T builds a Topic from its tokens. Tokens are strings or ints; anything
// else cannot key the trie and panics here rather than deep in Publish.
func T(tokens ...any) Topic {
	for _, tok := range tokens {
		switch tok.(type) {
		case string, int:
		default:
			panic(fmt.Sprintf("bus: topic token %v (%T) is not a string or int", tok, tok))
		}
	}
	return Topic(tokens)
}

// String renders the topic with '/' separators, for logs and uplinks.
func (t Topic) String() string {
	var b strings.Builder
	for i, tok := range t {
		if i > 0 {
			b.WriteByte('/')
		}
		fmt.Fprint(&b, tok)
	}
	return b.String()
}

// Equal reports token-wise equality.
func (t Topic) Equal(o Topic) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

// Message is what travels the bus. ReplyTo, when set by the requester,
// names the topic the handler answers on.
type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	Source   string
	ReplyTo  Topic
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection // owning connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[any]*node
	subs     []*Subscription
	retained *Message
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu   sync.Mutex
	root *node
	qLen int
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{
		root: &node{},
		qLen: queueLen,
	}
}

// NewMessage builds a message with no source. Publishing it through a
// connection stamps the connection's id.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// walk returns the node for a concrete path, optionally creating it.
func (b *Bus) walk(topic Topic, create bool) *node {
	n := b.root
	for _, tok := range topic {
		if n.children == nil {
			if !create {
				return nil
			}
			n.children = make(map[any]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			if !create {
				return nil
			}
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	return n
}

// Publish delivers a message to every subscription whose pattern matches
// and stores/clears the retained copy. All delivery happens under the bus
// lock so subscription channels are never sent on after close.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.matchDeliver(b.root, msg, 0)

	if msg.Retained {
		n := b.walk(msg.Topic, true)
		if msg.Payload == nil {
			n.retained = nil
		} else {
			n.retained = msg
		}
	}
}

// matchDeliver walks subscription patterns against a concrete topic.
// "#" children match any remainder, "+" children any single token.
func (b *Bus) matchDeliver(n *node, msg *Message, i int) {
	if tail, ok := n.children["#"]; ok {
		for _, sub := range tail.subs {
			deliver(sub, msg)
		}
	}
	if i == len(msg.Topic) {
		for _, sub := range n.subs {
			deliver(sub, msg)
		}
		return
	}
	if n.children == nil {
		return
	}
	if child, ok := n.children[msg.Topic[i]]; ok {
		b.matchDeliver(child, msg, i+1)
	}
	if child, ok := n.children["+"]; ok {
		b.matchDeliver(child, msg, i+1)
	}
}

func deliver(sub *Subscription, msg *Message) {
	select {
	case sub.ch <- msg:
	default:
		// Queue full: shed the oldest entry, then try once more.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// addSubscription inserts a subscription and replays matching retained
// messages onto it.
func (b *Bus) addSubscription(topic Topic, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.walk(topic, true)
	n.subs = append(n.subs, sub)

	var replay []*Message
	retainedMatching(b.root, topic, 0, &replay)
	for _, m := range replay {
		deliver(sub, m)
	}
}

// retainedMatching collects stored messages a new pattern matches.
func retainedMatching(n *node, pattern Topic, i int, out *[]*Message) {
	if i == len(pattern) {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	switch pattern[i] {
	case "#":
		collectRetained(n, out)
	case "+":
		for _, child := range n.children {
			retainedMatching(child, pattern, i+1, out)
		}
	default:
		if child, ok := n.children[pattern[i]]; ok {
			retainedMatching(child, pattern, i+1, out)
		}
	}
}

func collectRetained(n *node, out *[]*Message) {
	if n.retained != nil {
		*out = append(*out, n.retained)
	}
	for _, child := range n.children {
		collectRetained(child, out)
	}
}

// unsubscribe removes a subscription and prunes empty trie nodes.
func (b *Bus) unsubscribe(topic Topic, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, t := range topic {
		if n.children == nil {
			return
		}
		child, ok := n.children[t]
		if !ok {
			return
		}
		stack = append(stack, n)
		n = child
	}

	removed := false
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		close(sub.ch)
	}

	for i := len(topic) - 1; i >= 0; i-- {
		parent := stack[i]
		key := topic[i]
		child := parent.children[key]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	bus  *Bus
	subs []*Subscription
	mu   sync.Mutex
	id   string
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{
		bus: b,
		id:  id,
	}
}

func (c *Connection) ID() string { return c.id }

// NewMessage builds a message stamped with this connection as its source.
func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained, Source: c.id}
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) {
	if msg.Source == "" {
		msg.Source = c.id
	}
	c.bus.Publish(msg)
}

// Reply answers a request on its ReplyTo topic. Requests without a ReplyTo
// are fire-and-forget; Reply is then a no-op.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if len(req.ReplyTo) == 0 {
		return
	}
	c.Publish(c.NewMessage(req.ReplyTo, payload, retained))
}

// replySeq feeds unique reply topics across all connections.
var replySeq atomic.Uint32

// Request publishes msg with a private ReplyTo topic and returns a
// subscription on it. The caller reads the reply from the subscription
// and must Unsubscribe when done.
func (c *Connection) Request(msg *Message) *Subscription {
	if len(msg.ReplyTo) == 0 {
		msg.ReplyTo = Topic{"reply", c.id, int(replySeq.Add(1))}
	}
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait performs Request and blocks for the first reply or context
// end, whichever comes first.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case reply, ok := <-sub.ch:
		if !ok {
			return nil, errors.New("bus: reply subscription closed")
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers a subscription owned by this connection.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.bus.addSubscription(topic, sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription owned by this connection.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.bus.unsubscribe(sub.topic, sub)
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub.topic, sub)
	}
}
