package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/slicol/meshwork/pkg/api"
	"github.com/slicol/meshwork/pkg/crypto"
	"github.com/slicol/meshwork/pkg/network"
	"github.com/slicol/meshwork/pkg/protocol"
	"github.com/slicol/meshwork/pkg/search"
	"github.com/slicol/meshwork/pkg/storage"
)

const (
	defaultP2PPort    = 9000
	defaultAPIPort    = 8080
	defaultKeyPath    = "./keys/node.pem"
	defaultDataDir    = "./data"
	heartbeatInterval = 5 * time.Minute
)

var (
	p2pPort     = flag.Int("port", defaultP2PPort, "libp2p listen port")
	apiPort     = flag.Int("api-port", defaultAPIPort, "HTTP API port (0 disables the API)")
	keyPath     = flag.String("key", defaultKeyPath, "Path to private key file")
	generateKey = flag.Bool("genkey", false, "Generate new private key")
	dataDir     = flag.String("data", defaultDataDir, "Directory for the node and queue databases")
	networkID   = flag.String("network", network.DefaultNetworkID, "Network name")
	bootstrap   = flag.String("bootstrap", "", "Comma-separated bootstrap peer multiaddrs")
	enableDHT   = flag.Bool("dht", true, "Enable Kademlia DHT peer routing")
	queueTTL    = flag.Duration("queue-ttl", storage.DefaultQueueTTL, "How long undelivered messages are kept")
)

func main() {
	flag.Parse()

	printBanner()

	privateKey, err := loadOrGenerateKey(*keyPath, *generateKey)
	if err != nil {
		log.Fatalf("Failed to load/generate key: %v", err)
	}
	log.Printf("✓ Private key loaded from %s", *keyPath)

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	net, err := network.NewNetwork(*networkID, privateKey)
	if err != nil {
		log.Fatalf("Failed to create network: %v", err)
	}
	log.Printf("✓ Node ID: %s", net.LocalNodeID())

	nodeStore, err := storage.NewNodeStore(filepath.Join(*dataDir, "nodes.db"))
	if err != nil {
		log.Fatalf("Failed to open node store: %v", err)
	}
	if err := net.AttachStore(nodeStore); err != nil {
		log.Fatalf("Failed to load known nodes: %v", err)
	}

	queuePath := filepath.Join(*dataDir, "queue.db")
	queue, err := storage.NewOutboundQueue(queuePath, *queueTTL)
	if err != nil {
		log.Fatalf("Failed to create message queue: %v", err)
	}
	log.Printf("📬 Message queue initialized at %s (TTL: %s)", queuePath, *queueTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := network.DefaultTransportConfig(*p2pPort)
	cfg.EnableDHT = *enableDHT
	cfg.BootstrapPeers = splitList(*bootstrap)

	transport, err := network.NewTransport(ctx, cfg, net)
	if err != nil {
		log.Fatalf("Failed to start transport: %v", err)
	}
	transport.AttachQueue(queue)

	dispatcher := network.NewDispatcher(net, transport)
	registerHandlers(dispatcher)
	transport.SetHandler(dispatcher)

	searches := search.NewManager(network.NewSearchSubmitter(net, transport))
	dispatcher.SetSearchSink(searches)

	var server *api.Server
	if *apiPort > 0 {
		config := api.DefaultConfig()
		config.Port = *apiPort

		server, err = api.NewServer(api.Deps{
			Network:  net,
			Sender:   transport,
			Searches: searches,
			Queue:    queue,
			Addrs:    transport.Addrs,
		}, config)
		if err != nil {
			log.Fatalf("Failed to create API server: %v", err)
		}

		go func() {
			if err := server.Start(ctx); err != nil {
				log.Printf("❌ API server error: %v", err)
			}
		}()
	} else {
		log.Println("⚠️  HTTP API disabled")
	}

	go startHeartbeatLoop(ctx, net, transport, queue)

	printStatus(net, transport)

	waitForShutdown(cancel, transport, queue, nodeStore)
}

// registerHandlers logs the messages a headless node receives
func registerHandlers(d *network.Dispatcher) {
	d.Handle(protocol.MsgTypeChatroomMessage, func(_ context.Context, msg *protocol.SealedMessage) {
		if chat, ok := msg.Content().(protocol.ChatMessage); ok {
			log.Printf("💬 [%s] %s: %s", chat.RoomID, msg.From().Short(), chat.Message)
		}
	})
	d.Handle(protocol.MsgTypePrivateMessage, func(_ context.Context, msg *protocol.SealedMessage) {
		log.Printf("✉️  %s: %v", msg.From().Short(), msg.Content())
	})
	d.Handle(protocol.MsgTypePong, func(_ context.Context, msg *protocol.SealedMessage) {
		log.Printf("🏓 Pong from %s (%v)", msg.From().Short(), msg.Content())
	})
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║               Meshwork Node v1.0                  ║")
	fmt.Println("║     Signed, encrypted peer-to-peer messaging      ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadOrGenerateKey(keyPath string, generate bool) (*rsa.PrivateKey, error) {
	// Check if key file exists
	if _, err := os.Stat(keyPath); err == nil && !generate {
		log.Println("Loading existing private key...")
		pemData, err := crypto.LoadKeyFromFile(keyPath)
		if err != nil {
			return nil, err
		}

		return crypto.ImportPrivateKeyPEM(pemData)
	}

	log.Printf("Generating new RSA-%d key pair...", crypto.DefaultKeySize)
	privateKey, err := crypto.GenerateRSAKeyPair(crypto.DefaultKeySize)
	if err != nil {
		return nil, err
	}

	pemData, err := crypto.ExportPrivateKeyPEM(privateKey)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, err
	}

	if err := crypto.SaveKeyToFile(keyPath, pemData); err != nil {
		return nil, err
	}
	log.Printf("✓ New key saved to %s", keyPath)

	// The public key is what other operators register
	pubPEM, err := crypto.ExportPublicKeyPEM(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}

	pubPath := keyPath + ".pub"
	if err := crypto.SaveKeyToFile(pubPath, pubPEM); err != nil {
		return nil, err
	}
	log.Printf("✓ Public key saved to %s", pubPath)

	return privateKey, nil
}

func startHeartbeatLoop(ctx context.Context, net *network.Network, transport *network.Transport, queue *storage.OutboundQueue) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		nodes := net.Nodes()
		connected := 0
		for _, node := range nodes {
			if transport.IsConnected(node.ID) {
				connected++
			}
		}

		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("💓 Heartbeat")
		log.Printf("   Known nodes: %d", len(nodes))
		log.Printf("   Connected nodes: %d", connected)
		if stats, err := queue.Stats(); err == nil {
			for recipient, count := range stats {
				log.Printf("   Queued for %.16s: %d", recipient, count)
			}
		}
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

func printStatus(net *network.Network, transport *network.Transport) {
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("📊 Node Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Network:     %s\n", net.ID())
	fmt.Printf("Node ID:     %s\n", net.LocalNodeID().Short())
	fmt.Printf("Peer ID:     %s\n", transport.ID())
	fmt.Printf("Known nodes: %d\n", len(net.Nodes()))
	for _, addr := range transport.Addrs() {
		fmt.Printf("Address:     %s\n", addr)
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("✓ Node is running. Press Ctrl+C to stop.")
	fmt.Println()
}

func waitForShutdown(cancel context.CancelFunc, transport *network.Transport, queue *storage.OutboundQueue, nodeStore *storage.NodeStore) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println()
	log.Println("🛑 Shutting down node...")

	cancel()

	if err := transport.Close(); err != nil {
		log.Printf("Error closing transport: %v", err)
	}
	if err := queue.Close(); err != nil {
		log.Printf("Error closing message queue: %v", err)
	}
	if err := nodeStore.Close(); err != nil {
		log.Printf("Error closing node store: %v", err)
	}

	log.Println("✓ Node stopped")
}
