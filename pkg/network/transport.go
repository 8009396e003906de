package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	lpcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	lpnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/slicol/meshwork/pkg/protocol"
	"github.com/slicol/meshwork/pkg/storage"
)

// ProtocolID is the libp2p protocol envelopes are exchanged under
const ProtocolID = "/meshwork/1.0.0"

var (
	ErrQueued      = errors.New("recipient offline, message queued")
	ErrUnreachable = errors.New("recipient unreachable")
)

// FrameHandler consumes envelopes read from inbound streams. Returning a
// peer fault closes the stream.
type FrameHandler interface {
	HandleFrame(ctx context.Context, from peer.ID, data []byte) error
}

// TransportConfig contains configuration for creating a transport
type TransportConfig struct {
	ListenAddrs    []string
	BootstrapPeers []string
	EnableDHT      bool
	DialTimeout    time.Duration
}

// DefaultTransportConfig listens on all interfaces at port
func DefaultTransportConfig(port int) *TransportConfig {
	return &TransportConfig{
		ListenAddrs: []string{fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port)},
		EnableDHT:   true,
		DialTimeout: 10 * time.Second,
	}
}

// Transport carries sealed messages between nodes over libp2p streams,
// one length-prefixed envelope per frame. Peers are located through the
// Kademlia DHT when they are not connected.
type Transport struct {
	host host.Host
	dht  *dht.IpfsDHT
	net  *Network

	ctx    context.Context
	cancel context.CancelFunc
	cfg    *TransportConfig

	mu      sync.RWMutex
	handler FrameHandler
	queue   *storage.OutboundQueue

	flushing sync.Map // protocol.NodeID -> struct{}
}

// NewTransport starts a libp2p host using the network's node key as its
// identity
func NewTransport(ctx context.Context, cfg *TransportConfig, net *Network) (*Transport, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	priv, _, err := lpcrypto.KeyPairFromStdKey(net.PrivateKey())
	if err != nil {
		return nil, fmt.Errorf("failed to convert node key: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &Transport{
		host:   h,
		net:    net,
		ctx:    tctx,
		cancel: cancel,
		cfg:    cfg,
	}

	if cfg.EnableDHT {
		t.dht, err = dht.New(tctx, h, dht.Mode(dht.ModeServer))
		if err != nil {
			cancel()
			h.Close()
			return nil, fmt.Errorf("failed to create DHT: %w", err)
		}
	}

	h.SetStreamHandler(ProtocolID, t.handleStream)
	h.Network().Notify(&lpnet.NotifyBundle{
		ConnectedF: func(_ lpnet.Network, c lpnet.Conn) {
			go t.onConnected(c.RemotePeer())
		},
	})

	log.Printf("🌐 Transport listening as %s", h.ID())
	for _, addr := range t.Addrs() {
		log.Printf("   %s", addr)
	}

	if len(cfg.BootstrapPeers) > 0 {
		if err := t.Bootstrap(cfg.BootstrapPeers); err != nil {
			log.Printf("⚠️  Bootstrap failed: %v", err)
		}
	}

	return t, nil
}

// SetHandler installs the consumer of inbound envelopes
func (t *Transport) SetHandler(h FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// AttachQueue stores messages for unreachable recipients in queue and
// delivers them when the recipient connects
func (t *Transport) AttachQueue(queue *storage.OutboundQueue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = queue
	log.Println("📬 Outbound queue attached to transport")
}

// ID returns the libp2p peer id of the local host
func (t *Transport) ID() peer.ID {
	return t.host.ID()
}

// Addrs returns the full p2p addresses of the local host
func (t *Transport) Addrs() []multiaddr.Multiaddr {
	info := peer.AddrInfo{ID: t.host.ID(), Addrs: t.host.Addrs()}
	addrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	return addrs
}

// Bootstrap connects to the given p2p multiaddrs and joins the DHT
func (t *Transport) Bootstrap(peers []string) error {
	var connected int
	for _, s := range peers {
		if err := t.Connect(t.ctx, s); err != nil {
			log.Printf("Failed to connect to bootstrap peer %s: %v", s, err)
			continue
		}
		connected++
	}

	if connected == 0 {
		return fmt.Errorf("failed to connect to any bootstrap peers")
	}

	if t.dht != nil {
		if err := t.dht.Bootstrap(t.ctx); err != nil {
			return fmt.Errorf("failed to bootstrap DHT: %w", err)
		}
	}

	log.Printf("✅ Bootstrapped with %d peers", connected)
	return nil
}

// Connect dials a peer given its p2p multiaddr
func (t *Transport) Connect(ctx context.Context, addr string) error {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("invalid multiaddr %s: %w", addr, err)
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("failed to parse peer info from %s: %w", addr, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	if err := t.host.Connect(ctx, *info); err != nil {
		return err
	}

	log.Printf("🔗 Connected to peer %s", info.ID)
	return nil
}

// IsConnected reports whether a live connection to node exists
func (t *Transport) IsConnected(id protocol.NodeID) bool {
	node, ok := t.net.Node(id)
	if !ok {
		return false
	}
	return t.host.Network().Connectedness(node.PeerID) == lpnet.Connected
}

// Send delivers a sealed message. Broadcast messages go to every connected
// known node. A message for an unreachable node is queued when a queue is
// attached, in which case ErrQueued is returned.
func (t *Transport) Send(ctx context.Context, msg *protocol.SealedMessage) error {
	data := msg.Bytes()

	if msg.To().IsBroadcast() {
		var sent int
		for _, node := range t.net.Nodes() {
			if t.host.Network().Connectedness(node.PeerID) != lpnet.Connected {
				continue
			}
			if err := t.sendTo(ctx, node.PeerID, data); err != nil {
				log.Printf("⚠️  Failed to send %s to %s: %v", msg.Type(), node.ID.Short(), err)
				continue
			}
			sent++
		}
		log.Printf("📢 Broadcast %s to %d nodes", msg.Type(), sent)
		return nil
	}

	node, ok := t.net.Node(msg.To())
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrNodeNotFound, msg.To().Short())
	}

	err := t.sendTo(ctx, node.PeerID, data)
	if err == nil {
		return nil
	}

	t.mu.RLock()
	queue := t.queue
	t.mu.RUnlock()

	if queue == nil || protocol.IsLocalOnly(msg.Type()) {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, node.ID.Short(), err)
	}

	if qerr := queue.Enqueue(node.ID, msg.ID(), data); qerr != nil {
		return fmt.Errorf("failed to queue message: %w", qerr)
	}
	return ErrQueued
}

// sendTo writes one frame on a fresh stream to pid, locating the peer
// through the DHT when it is not connected
func (t *Transport) sendTo(ctx context.Context, pid peer.ID, data []byte) error {
	if t.host.Network().Connectedness(pid) != lpnet.Connected {
		if err := t.findAndConnect(ctx, pid); err != nil {
			return err
		}
	}

	stream, err := t.host.NewStream(ctx, pid, ProtocolID)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetWriteDeadline(deadline)
	}

	if err := writeFrame(stream, data); err != nil {
		stream.Reset()
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (t *Transport) findAndConnect(ctx context.Context, pid peer.ID) error {
	if t.dht == nil {
		return fmt.Errorf("peer %s is not connected", pid)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	info, err := t.dht.FindPeer(ctx, pid)
	if err != nil {
		return fmt.Errorf("failed to find peer %s: %w", pid, err)
	}
	return t.host.Connect(ctx, info)
}

// handleStream reads frames until the remote closes the stream
func (t *Transport) handleStream(stream lpnet.Stream) {
	defer stream.Close()

	remote := stream.Conn().RemotePeer()

	for {
		data, err := readFrame(stream)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("⚠️  Dropping stream from %s: %v", remote, err)
				stream.Reset()
			}
			return
		}

		t.mu.RLock()
		handler := t.handler
		t.mu.RUnlock()

		if handler == nil {
			continue
		}

		if err := handler.HandleFrame(t.ctx, remote, data); err != nil && protocol.IsPeerFault(err) {
			log.Printf("❌ Closing stream from %s: %v", remote, err)
			stream.Reset()
			return
		}
	}
}

// onConnected flushes queued messages for the node behind pid
func (t *Transport) onConnected(pid peer.ID) {
	id, ok := t.net.NodeByPeer(pid)
	if !ok {
		return
	}
	if err := t.Flush(t.ctx, id); err != nil {
		log.Printf("⚠️  Failed to flush queue for %s: %v", id.Short(), err)
	}
}

// Flush delivers queued messages for id in order, stopping at the first
// failure
func (t *Transport) Flush(ctx context.Context, id protocol.NodeID) error {
	t.mu.RLock()
	queue := t.queue
	t.mu.RUnlock()

	if queue == nil {
		return nil
	}

	// One flush per node at a time
	if _, busy := t.flushing.LoadOrStore(id, struct{}{}); busy {
		return nil
	}
	defer t.flushing.Delete(id)

	node, ok := t.net.Node(id)
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrNodeNotFound, id.Short())
	}

	pending, err := queue.Pending(id)
	if err != nil {
		return err
	}

	var delivered int
	for _, msg := range pending {
		if err := t.sendTo(ctx, node.PeerID, msg.Payload); err != nil {
			if qerr := queue.IncrementAttempts(msg.MessageID); qerr != nil {
				log.Printf("⚠️  Failed to record delivery attempt for %s: %v", msg.MessageID, qerr)
			}
			return err
		}
		if err := queue.Delete(msg.MessageID); err != nil {
			return err
		}
		delivered++
	}

	if delivered > 0 {
		log.Printf("📤 Delivered %d queued messages to %s", delivered, id.Short())
	}
	return nil
}

// Close shuts down the DHT and the host
func (t *Transport) Close() error {
	t.cancel()
	if t.dht != nil {
		t.dht.Close()
	}
	return t.host.Close()
}
