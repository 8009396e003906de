package network

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/slicol/meshwork/pkg/protocol"
)

// Handler is called for every message addressed to the local node
type Handler func(ctx context.Context, msg *protocol.SealedMessage)

// Sender delivers sealed messages
type Sender interface {
	Send(ctx context.Context, msg *protocol.SealedMessage) error
}

// SearchSink receives search results for the searches it owns
type SearchSink interface {
	Deliver(node protocol.NodeID, info protocol.SearchResultInfo) error
}

// Dispatcher parses inbound envelopes, answers pings, forwards messages for
// other nodes and hands everything else to the registered handlers
type Dispatcher struct {
	net    *Network
	sender Sender
	seen   *seenCache

	mu       sync.RWMutex
	handlers map[protocol.MessageType][]Handler
	searches SearchSink
}

// NewDispatcher creates a dispatcher replying and forwarding through sender
func NewDispatcher(net *Network, sender Sender) *Dispatcher {
	return &Dispatcher{
		net:      net,
		sender:   sender,
		seen:     newSeenCache(5 * time.Minute),
		handlers: make(map[protocol.MessageType][]Handler),
	}
}

// Handle registers h for messages of type t
func (d *Dispatcher) Handle(t protocol.MessageType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = append(d.handlers[t], h)
}

// SetSearchSink routes SearchResult content to sink
func (d *Dispatcher) SetSearchSink(sink SearchSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.searches = sink
}

// HandleFrame implements FrameHandler. Only framing and signature failures
// are returned; anything else is logged and the message dropped.
func (d *Dispatcher) HandleFrame(ctx context.Context, remote peer.ID, data []byte) error {
	msg, from, err := protocol.Parse(d.net, data)
	if err != nil {
		if protocol.IsPeerFault(err) {
			log.Printf("❌ Bad message from peer %s: %v", remote, err)
			return err
		}
		log.Printf("⚠️  Dropping message from %s: %v", from.Short(), err)
		return nil
	}

	if !d.seen.Add(msg.ID()) {
		return nil
	}

	local := d.net.LocalNodeID()
	if from == local && msg.To() != local {
		// Our own message flooded back to us
		return nil
	}

	d.net.Touch(from)

	if !msg.IsAddressed() {
		d.forward(ctx, msg)
		return nil
	}

	if msg.To().IsBroadcast() && !protocol.IsLocalOnly(msg.Type()) {
		d.forward(ctx, msg)
	}

	d.dispatch(ctx, msg)
	return nil
}

// dispatch runs the built-in behaviour for msg and then the handlers
func (d *Dispatcher) dispatch(ctx context.Context, msg *protocol.SealedMessage) {
	switch content := msg.Content().(type) {
	case protocol.Counter:
		if msg.Type() == protocol.MsgTypePing {
			if err := d.reply(ctx, msg.From(), protocol.MsgTypePong, content); err != nil {
				log.Printf("⚠️  Failed to answer ping from %s: %v", msg.From().Short(), err)
			}
		}
	case protocol.SearchResultInfo:
		d.mu.RLock()
		sink := d.searches
		d.mu.RUnlock()

		if sink != nil {
			if err := sink.Deliver(msg.From(), content); err != nil {
				log.Printf("⚠️  Dropping search result from %s: %v", msg.From().Short(), err)
			}
		}
	}

	d.mu.RLock()
	handlers := d.handlers[msg.Type()]
	d.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, msg)
	}
}

// reply seals a message of type t back to node
func (d *Dispatcher) reply(ctx context.Context, node protocol.NodeID, t protocol.MessageType, content protocol.Content) error {
	draft := protocol.NewDraft(d.net, t)
	if err := draft.SetTo(node); err != nil {
		return err
	}
	if err := draft.SetContent(content); err != nil {
		return err
	}

	sealed, err := draft.Seal()
	if err != nil {
		return err
	}

	if err := d.sender.Send(ctx, sealed); err != nil && !errors.Is(err, ErrQueued) {
		return fmt.Errorf("failed to send %s: %w", t, err)
	}
	return nil
}

// forward relays a message on towards its recipient. Local-only messages
// never leave the direct connection.
func (d *Dispatcher) forward(ctx context.Context, msg *protocol.SealedMessage) {
	if protocol.IsLocalOnly(msg.Type()) {
		return
	}
	if !msg.To().IsBroadcast() && !d.net.IsKnown(msg.To()) {
		return
	}

	if err := d.sender.Send(ctx, msg); err != nil && !errors.Is(err, ErrQueued) {
		log.Printf("⚠️  Failed to forward %s for %s: %v", msg.Type(), msg.To().Short(), err)
		return
	}
	log.Printf("↪️  Forwarded %s for %s", msg.Type(), msg.To().Short())
}
