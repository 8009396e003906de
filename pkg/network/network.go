package network

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/slicol/meshwork/pkg/crypto"
	"github.com/slicol/meshwork/pkg/protocol"
	"github.com/slicol/meshwork/pkg/storage"
)

// DefaultNetworkID names the mesh when none is configured
const DefaultNetworkID = "meshwork"

// Network is the local node's identity plus every node it knows about. It
// is the trust store messages are sealed and parsed against.
type Network struct {
	id string

	localID  protocol.NodeID
	localKey *rsa.PrivateKey
	signer   *crypto.RSASigner

	mu    sync.RWMutex
	nodes map[protocol.NodeID]*Node
	peers map[peer.ID]protocol.NodeID

	// Optional persistence
	store *storage.NodeStore
}

// NewNetwork creates a network for the node owning key
func NewNetwork(networkID string, key *rsa.PrivateKey) (*Network, error) {
	if networkID == "" {
		networkID = DefaultNetworkID
	}

	localID, err := crypto.NodeIDFromPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive node id: %w", err)
	}

	return &Network{
		id:       networkID,
		localID:  localID,
		localKey: key,
		signer:   crypto.NewRSASigner(key),
		nodes:    make(map[protocol.NodeID]*Node),
		peers:    make(map[peer.ID]protocol.NodeID),
	}, nil
}

// AttachStore persists node changes to store and loads the nodes it holds
func (n *Network) AttachStore(store *storage.NodeStore) error {
	records, err := store.ListNodes()
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, rec := range records {
		pub, err := crypto.ImportPublicKeyPEM(rec.PublicKeyPEM)
		if err != nil {
			log.Printf("⚠️  Skipping stored node %s: %v", rec.ID.Short(), err)
			continue
		}

		node, err := newNode(pub, rec.Nickname)
		if err != nil {
			log.Printf("⚠️  Skipping stored node %s: %v", rec.ID.Short(), err)
			continue
		}
		if node.ID != rec.ID {
			log.Printf("⚠️  Skipping stored node %s: id does not match its key", rec.ID.Short())
			continue
		}

		node.Trusted = rec.Trusted
		if rec.LastSeen > 0 {
			node.LastSeen = time.Unix(rec.LastSeen, 0)
		}
		if len(rec.SessionKey) > 0 {
			if err := node.setSessionKey(rec.SessionKey); err != nil {
				log.Printf("⚠️  Stored session key for %s is invalid: %v", rec.ID.Short(), err)
			}
		}

		n.nodes[node.ID] = node
		n.peers[node.PeerID] = node.ID
	}

	n.store = store
	log.Printf("📇 Loaded %d known nodes", len(n.nodes))
	return nil
}

// ID returns the network id searches are matched against
func (n *Network) ID() string {
	return n.id
}

// PrivateKey returns the local node's private key
func (n *Network) PrivateKey() *rsa.PrivateKey {
	return n.localKey
}

// ===== TRUST STORE =====

func (n *Network) LocalNodeID() protocol.NodeID     { return n.localID }
func (n *Network) LocalSigner() protocol.Signer     { return n.signer }
func (n *Network) LocalVerifier() protocol.Verifier { return n.signer.Verifier() }

func (n *Network) IsKnown(id protocol.NodeID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.nodes[id]
	return ok
}

func (n *Network) IsTrusted(id protocol.NodeID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[id]
	return ok && node.Trusted
}

func (n *Network) Encryptor(id protocol.NodeID) (protocol.Encryptor, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[id]
	if !ok || node.session == nil {
		return nil, false
	}
	return node.session, true
}

func (n *Network) Decryptor(id protocol.NodeID) (protocol.Decryptor, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[id]
	if !ok || node.session == nil {
		return nil, false
	}
	return node.session, true
}

func (n *Network) Verifier(id protocol.NodeID) (protocol.Verifier, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[id]
	if !ok {
		return nil, false
	}
	return node.verifier, true
}

// ===== NODE MANAGEMENT =====

// AddNode registers the node owning pub and returns its id. Adding a known
// node updates its nickname only.
func (n *Network) AddNode(pub *rsa.PublicKey, nickname string) (protocol.NodeID, error) {
	node, err := newNode(pub, nickname)
	if err != nil {
		return protocol.NodeID{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.nodes[node.ID]; ok {
		existing.Nickname = nickname
		return node.ID, n.persist(existing)
	}

	n.nodes[node.ID] = node
	n.peers[node.PeerID] = node.ID
	log.Printf("➕ Added node %s (%s)", node.ID.Short(), nickname)

	return node.ID, n.persist(node)
}

// SetSessionKey installs the symmetric key shared with a node
func (n *Network) SetSessionKey(id protocol.NodeID, key []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrNodeNotFound, id.Short())
	}
	if err := node.setSessionKey(key); err != nil {
		return err
	}

	log.Printf("🔑 Session key installed for %s", id.Short())
	return n.persist(node)
}

// SetTrusted marks a node as trusted or untrusted. Encrypted messages are
// only accepted from trusted nodes.
func (n *Network) SetTrusted(id protocol.NodeID, trusted bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrNodeNotFound, id.Short())
	}
	node.Trusted = trusted
	return n.persist(node)
}

// RemoveNode forgets a node
func (n *Network) RemoveNode(id protocol.NodeID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrNodeNotFound, id.Short())
	}
	delete(n.nodes, id)
	delete(n.peers, node.PeerID)

	if n.store != nil {
		if err := n.store.DeleteNode(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Touch records that a message from id was just received
func (n *Network) Touch(id protocol.NodeID) {
	n.mu.Lock()
	node, ok := n.nodes[id]
	if ok {
		node.LastSeen = time.Now()
	}
	n.mu.Unlock()

	if ok && n.store != nil {
		if err := n.store.TouchNode(id, time.Now()); err != nil {
			log.Printf("Failed to record last seen for %s: %v", id.Short(), err)
		}
	}
}

// Node returns a snapshot of a known node
func (n *Network) Node(id protocol.NodeID) (Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	node, ok := n.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

// NodeByPeer maps a libp2p peer back to the node it belongs to
func (n *Network) NodeByPeer(pid peer.ID) (protocol.NodeID, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	id, ok := n.peers[pid]
	return id, ok
}

// Nodes returns snapshots of every known node ordered by id
func (n *Network) Nodes() []Node {
	n.mu.RLock()
	nodes := make([]Node, 0, len(n.nodes))
	for _, node := range n.nodes {
		nodes = append(nodes, *node)
	}
	n.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID.String() < nodes[j].ID.String()
	})
	return nodes
}

func (node *Node) setSessionKey(key []byte) error {
	session, err := crypto.NewSessionCipher(key)
	if err != nil {
		return err
	}
	node.sessionKey = append([]byte(nil), key...)
	node.session = session
	return nil
}

// persist writes node to the attached store. Callers hold n.mu.
func (n *Network) persist(node *Node) error {
	if n.store == nil {
		return nil
	}

	pemData, err := crypto.ExportPublicKeyPEM(node.PublicKey)
	if err != nil {
		return err
	}

	var lastSeen int64
	if !node.LastSeen.IsZero() {
		lastSeen = node.LastSeen.Unix()
	}

	return n.store.SaveNode(&storage.NodeRecord{
		ID:           node.ID,
		Nickname:     node.Nickname,
		PublicKeyPEM: pemData,
		SessionKey:   node.sessionKey,
		Trusted:      node.Trusted,
		LastSeen:     lastSeen,
	})
}

var _ protocol.TrustStore = (*Network)(nil)
