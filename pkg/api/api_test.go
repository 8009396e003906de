package api

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slicol/meshwork/pkg/crypto"
	"github.com/slicol/meshwork/pkg/network"
	"github.com/slicol/meshwork/pkg/protocol"
	"github.com/slicol/meshwork/pkg/search"
)

var (
	keysOnce sync.Once
	testKeys [2]*rsa.PrivateKey
	keysErr  error
)

func loadTestKeys(t *testing.T) [2]*rsa.PrivateKey {
	t.Helper()
	keysOnce.Do(func() {
		for i := range testKeys {
			testKeys[i], keysErr = crypto.GenerateRSAKeyPair(crypto.DefaultKeySize)
			if keysErr != nil {
				return
			}
		}
	})
	require.NoError(t, keysErr)
	return testKeys
}

// captureSender records sent messages and returns err for each of them
type captureSender struct {
	mu   sync.Mutex
	sent []*protocol.SealedMessage
	err  error
}

func (s *captureSender) Send(_ context.Context, msg *protocol.SealedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

func (s *captureSender) messages() []*protocol.SealedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*protocol.SealedMessage(nil), s.sent...)
}

type testServer struct {
	server   *Server
	net      *network.Network
	sender   *captureSender
	searches *search.Manager
	remote   *rsa.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	keys := loadTestKeys(t)

	net, err := network.NewNetwork("", keys[0])
	require.NoError(t, err)

	sender := &captureSender{}
	searches := search.NewManager(network.NewSearchSubmitter(net, sender))

	config := DefaultConfig()
	config.RateLimit = 0

	server, err := NewServer(Deps{Network: net, Sender: sender, Searches: searches}, config)
	require.NoError(t, err)

	return &testServer{server: server, net: net, sender: sender, searches: searches, remote: keys[1]}
}

// addRemote registers the second test key as a trusted node with a session
func (ts *testServer) addRemote(t *testing.T) protocol.NodeID {
	t.Helper()
	id, err := ts.net.AddNode(&ts.remote.PublicKey, "remote")
	require.NoError(t, err)
	session, err := crypto.GenerateSessionKey()
	require.NoError(t, err)
	require.NoError(t, ts.net.SetSessionKey(id, session))
	require.NoError(t, ts.net.SetTrusted(id, true))
	return id
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNewServerRequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{}, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "healthy", resp.Status)
}

func TestNodeInfo(t *testing.T) {
	ts := newTestServer(t)
	ts.addRemote(t)

	w := ts.do(t, http.MethodGet, "/api/v1/node/info", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[NodeInfoResponse](t, w)
	assert.Equal(t, ts.net.LocalNodeID().String(), resp.NodeID)
	assert.Equal(t, network.DefaultNetworkID, resp.NetworkID)
	assert.Equal(t, 1, resp.KnownNodes)
	assert.Equal(t, 1, resp.TrustedNodes)
}

func TestAddAndListNodes(t *testing.T) {
	ts := newTestServer(t)

	pemData, err := crypto.ExportPublicKeyPEM(&ts.remote.PublicKey)
	require.NoError(t, err)
	session, err := crypto.GenerateSessionKey()
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/api/v1/nodes", AddNodeRequest{
		PublicKey:  string(pemData),
		Nickname:   "remote",
		SessionKey: session,
		Trusted:    true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	added := decode[NodeResponse](t, w)
	assert.Equal(t, "remote", added.Nickname)
	assert.True(t, added.Trusted)
	assert.True(t, added.HasSession)
	assert.False(t, added.Connected)

	w = ts.do(t, http.MethodGet, "/api/v1/nodes", nil)
	require.Equal(t, http.StatusOK, w.Code)

	list := decode[NodesResponse](t, w)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, added.NodeID, list.Nodes[0].NodeID)
}

func TestAddNodeRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)
	pemData, err := crypto.ExportPublicKeyPEM(&ts.remote.PublicKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  AddNodeRequest
	}{
		{name: "not a PEM", req: AddNodeRequest{PublicKey: "garbage"}},
		{name: "short session key", req: AddNodeRequest{PublicKey: string(pemData), SessionKey: []byte{1, 2, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/nodes", tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	assert.Empty(t, ts.net.Nodes())
}

func TestSetTrustAndRemoveNode(t *testing.T) {
	ts := newTestServer(t)
	id := ts.addRemote(t)

	w := ts.do(t, http.MethodPut, "/api/v1/nodes/"+id.String()+"/trust", TrustRequest{Trusted: false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, ts.net.IsTrusted(id))

	w = ts.do(t, http.MethodDelete, "/api/v1/nodes/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, ts.net.IsKnown(id))

	w = ts.do(t, http.MethodDelete, "/api/v1/nodes/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPut, "/api/v1/nodes/not-hex/trust", TrustRequest{Trusted: true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetSessionKey(t *testing.T) {
	ts := newTestServer(t)
	id, err := ts.net.AddNode(&ts.remote.PublicKey, "")
	require.NoError(t, err)

	w := ts.do(t, http.MethodPut, "/api/v1/nodes/"+id.String()+"/session", SessionRequest{SessionKey: []byte("short")})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	session, err := crypto.GenerateSessionKey()
	require.NoError(t, err)
	w = ts.do(t, http.MethodPut, "/api/v1/nodes/"+id.String()+"/session", SessionRequest{SessionKey: session})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[NodeResponse](t, w).HasSession)
}

func TestStartSearchAndResults(t *testing.T) {
	ts := newTestServer(t)
	remote := ts.addRemote(t)

	w := ts.do(t, http.MethodPost, "/api/v1/searches", StartSearchRequest{
		Query:          "Ubuntu",
		FiltersEnabled: true,
		Filters: []search.Filter{
			{Field: search.FieldExtension, Comparison: search.Equals, Value: "iso"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	started := decode[SearchResponse](t, w)
	assert.Equal(t, "ubuntu", started.Query)
	assert.Equal(t, "Ubuntu", started.Name)

	sent := ts.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.MsgTypeSearchRequest, sent[0].Type())
	assert.Equal(t, remote, sent[0].To())

	require.NoError(t, ts.searches.Deliver(remote, protocol.SearchResultInfo{
		SearchID: started.ID,
		Files: []protocol.SharedFileListing{
			{Name: "ubuntu.iso", FullPath: "/iso/ubuntu.iso", Size: 100, InfoHash: "aa"},
			{Name: "ubuntu.txt", FullPath: "/iso/ubuntu.txt", Size: 1, InfoHash: "bb"},
		},
	}))

	w = ts.do(t, http.MethodGet, "/api/v1/searches/"+strconv.Itoa(int(started.ID))+"/results", nil)
	require.Equal(t, http.StatusOK, w.Code)

	results := decode[ResultsResponse](t, w)
	require.Equal(t, 1, results.Count)
	require.NotNil(t, results.Results[0].File)
	assert.Equal(t, "ubuntu.iso", results.Results[0].File.Name)
}

func TestStartSearchValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/searches", StartSearchRequest{Query: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/searches", StartSearchRequest{
		Query:   "x",
		Filters: []search.Filter{{Field: search.FieldSize, Comparison: search.Contains, Value: "1"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, ts.searches.List())
}

func TestRepeatSearch(t *testing.T) {
	ts := newTestServer(t)
	ts.addRemote(t)

	w := ts.do(t, http.MethodPost, "/api/v1/searches", StartSearchRequest{Query: "music"})
	require.Equal(t, http.StatusCreated, w.Code)
	started := decode[SearchResponse](t, w)

	w = ts.do(t, http.MethodPost, "/api/v1/searches/"+strconv.Itoa(int(started.ID))+"/repeat", nil)
	require.Equal(t, http.StatusOK, w.Code)
	repeated := decode[SearchResponse](t, w)
	assert.Equal(t, "music", repeated.Query)

	_, found := ts.searches.Get(repeated.ID)
	assert.True(t, found)
	assert.Len(t, ts.sender.messages(), 2)

	w = ts.do(t, http.MethodPost, "/api/v1/searches/"+strconv.Itoa(int(started.ID))+"/repeat", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/searches/abc/results", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoveSearch(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/searches", StartSearchRequest{Query: "docs"})
	require.Equal(t, http.StatusCreated, w.Code)
	started := decode[SearchResponse](t, w)
	path := "/api/v1/searches/" + strconv.Itoa(int(started.ID))

	w = ts.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, path+"/results", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendChat(t *testing.T) {
	ts := newTestServer(t)
	remote := ts.addRemote(t)

	w := ts.do(t, http.MethodPost, "/api/v1/messages/chat", ChatRequest{
		To:      remote.String(),
		RoomID:  "lobby",
		Message: "hello",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[SendResponse](t, w)
	require.Len(t, resp.Deliveries, 1)
	assert.Equal(t, "sent", resp.Deliveries[0].Status)

	sent := ts.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.MsgTypeChatroomMessage, sent[0].Type())
	assert.Equal(t, protocol.ChatMessage{RoomID: "lobby", Message: "hello"}, sent[0].Content())
	assert.Equal(t, sent[0].ID().String(), resp.Deliveries[0].MessageID)
}

func TestSendChatToRoom(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/messages/chat", ChatRequest{RoomID: "lobby", Message: "hi"})
	assert.Equal(t, http.StatusConflict, w.Code)

	ts.addRemote(t)
	w = ts.do(t, http.MethodPost, "/api/v1/messages/chat", ChatRequest{RoomID: "lobby", Message: "hi"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[SendResponse](t, w).Deliveries, 1)
}

func TestSendQueuedAndFailed(t *testing.T) {
	ts := newTestServer(t)
	remote := ts.addRemote(t)

	ts.sender.err = network.ErrQueued
	w := ts.do(t, http.MethodPost, "/api/v1/messages/private", PrivateRequest{To: remote.String(), Message: "later"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "queued", decode[SendResponse](t, w).Deliveries[0].Status)

	ts.sender.err = network.ErrUnreachable
	w = ts.do(t, http.MethodPost, "/api/v1/messages/ping", PingRequest{To: remote.String(), Counter: 7})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSendToUnknownNode(t *testing.T) {
	ts := newTestServer(t)
	var unknown protocol.NodeID
	unknown[0] = 0x42

	w := ts.do(t, http.MethodPost, "/api/v1/messages/private", PrivateRequest{To: unknown.String(), Message: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, ts.sender.messages())
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(2)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func TestServerUsesConfiguredTimeouts(t *testing.T) {
	ts := newTestServer(t)

	config := DefaultConfig()
	config.Port = 9090
	config.ReadTimeout = 7 * time.Second
	config.WriteTimeout = 9 * time.Second

	server, err := NewServer(Deps{Network: ts.net, Sender: ts.sender, Searches: ts.searches}, config)
	require.NoError(t, err)

	httpServer := server.newHTTPServer()
	assert.Equal(t, ":9090", httpServer.Addr)
	assert.Equal(t, 7*time.Second, httpServer.ReadTimeout)
	assert.Equal(t, 9*time.Second, httpServer.WriteTimeout)
}
