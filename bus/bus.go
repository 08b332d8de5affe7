// bus/bus.go
package bus

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Tokens + Topics
// -----------------------------------------------------------------------------

// Token is a single element in a topic path.
// It can be either a string or an integer.
type Token struct {
	kind byte // 0 = string, 1 = int
	sval string
	ival int
}

// Constructors
func S(s string) Token { return Token{kind: 0, sval: s} }
func I(i int) Token    { return Token{kind: 1, ival: i} }

// Str returns the string value of a string token.
func (t Token) Str() (string, bool) { return t.sval, t.kind == 0 }

// Int returns the integer value of an int token.
func (t Token) Int() (int, bool) { return t.ival, t.kind == 1 }

func (t Token) String() string {
	if t.kind == 1 {
		return strconv.Itoa(t.ival)
	}
	return t.sval
}

// Topic is a sequence of tokens. "+" matches exactly one token and "#"
// (last position only) matches any remaining tokens, including none.
type Topic []Token

var (
	singleWild = S("+")
	multiWild  = S("#")
)

// T builds a Topic from strings, ints and Tokens. Any other type panics.
func T(parts ...any) Topic {
	t := make(Topic, len(parts))
	for i, p := range parts {
		switch v := p.(type) {
		case string:
			t[i] = S(v)
		case int:
			t[i] = I(v)
		case Token:
			t[i] = v
		default:
			panic("bus: topic tokens must be string or int")
		}
	}
	return t
}

// String renders the topic with '/' separators.
func (t Topic) String() string {
	var sb strings.Builder
	for i, tok := range t {
		if i > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(tok.String())
	}
	return sb.String()
}

// Match reports whether the concrete topic t is selected by pattern.
func (pattern Topic) Match(t Topic) bool {
	for i, p := range pattern {
		if p == multiWild {
			return true
		}
		if i >= len(t) {
			return false
		}
		if p != singleWild && p != t[i] {
			return false
		}
	}
	return len(pattern) == len(t)
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// NewMessage builds a message; a nil payload with retained set clears the
// retained value for that topic.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[Token]*node
	subs     []*Subscription
	retained *Message
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu       sync.RWMutex
	root     *node
	qLen     int
	replySeq atomic.Uint64
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

func deliver(sub *Subscription, msg *Message) {
	select {
	case sub.ch <- msg:
	default:
		// drop oldest if queue full
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

// walk returns the node for topic, creating missing nodes when create is set.
func (b *Bus) walk(topic Topic, create bool) *node {
	n := b.root
	for _, tok := range topic {
		if n.children == nil {
			if !create {
				return nil
			}
			n.children = make(map[Token]*node)
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

// addSubscription inserts a subscription into the trie and replays matching
// retained messages.
func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.walk(sub.topic, true)
	n.subs = append(n.subs, sub)

	for _, m := range retainedUnder(b.root, sub.topic, 0, nil) {
		deliver(sub, m)
	}
}

// retainedUnder appends the retained messages whose topics pattern[i:]
// selects below n.
func retainedUnder(n *node, pattern Topic, i int, out []*Message) []*Message {
	if n == nil {
		return out
	}
	if i == len(pattern) {
		if n.retained != nil {
			out = append(out, n.retained)
		}
		return out
	}
	switch pattern[i] {
	case multiWild:
		return allRetained(n, out)
	case singleWild:
		for _, child := range n.children {
			out = retainedUnder(child, pattern, i+1, out)
		}
		return out
	}
	return retainedUnder(n.children[pattern[i]], pattern, i+1, out)
}

func allRetained(n *node, out []*Message) []*Message {
	if n.retained != nil {
		out = append(out, n.retained)
	}
	for _, child := range n.children {
		out = allRetained(child, out)
	}
	return out
}

// collect appends every subscription whose pattern matches topic[i:].
func collect(n *node, topic Topic, i int, out []*Subscription) []*Subscription {
	if n == nil {
		return out
	}
	if hash := n.children[multiWild]; hash != nil {
		out = append(out, hash.subs...)
	}
	if i == len(topic) {
		return append(out, n.subs...)
	}
	out = collect(n.children[topic[i]], topic, i+1, out)
	if topic[i] != singleWild {
		out = collect(n.children[singleWild], topic, i+1, out)
	}
	return out
}

// Publish delivers a message to all subscribers whose pattern matches its
// topic. Delivery never blocks; full queues drop their oldest message.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		// Store or clear retained message.
		if msg.Payload != nil {
			b.walk(msg.Topic, true).retained = msg
		} else if n := b.walk(msg.Topic, false); n != nil {
			n.retained = nil
		}
	}
	for _, sub := range collect(b.root, msg.Topic, 0, nil) {
		deliver(sub, msg)
	}
}

// unsubscribe removes a subscription from the trie.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic := sub.topic
	n := b.root
	var stack []*node
	for _, t := range topic {
		child, ok := n.children[t]
		if !ok {
			return
		}
		stack = append(stack, n)
		n = child
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}

	// Prune empty nodes.
	for i := len(topic) - 1; i >= 0; i-- {
		parent := stack[i]
		child := parent.children[topic[i]]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, topic[i])
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
	return &Connection{bus: b, id: id}
}

// ID returns the name given at NewConnection.
func (c *Connection) ID() string { return c.id }

// NewMessage is a convenience for c.bus.NewMessage.
func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) {
	c.bus.Publish(msg)
}

// Subscribe registers a subscription owned by this connection.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

// Unsubscribe removes a subscription owned by this connection and closes
// its channel. Unknown or already removed subscriptions are ignored.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.bus.unsubscribe(sub)
	close(sub.ch)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		close(sub.ch)
	}
}

// -----------------------------------------------------------------------------
// Request–Reply
// -----------------------------------------------------------------------------

// Request assigns a private ReplyTo topic to msg, subscribes to it and
// publishes msg. The caller owns the returned subscription.
func (c *Connection) Request(msg *Message) *Subscription {
	n := c.bus.replySeq.Add(1)
	msg.ReplyTo = T("_reply", c.id, int(n))
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait sends msg and waits for the first reply or ctx expiry.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case m := <-sub.Channel():
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply publishes payload to the request's ReplyTo topic. Requests without
// a ReplyTo are ignored.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if req == nil || len(req.ReplyTo) == 0 {
		return
	}
	c.Publish(c.NewMessage(req.ReplyTo, payload, retained))
}
