package core

// Node-side Web4 RPC over QUIC.
//
// Transport is QUIC with TLS 1.3; on top of it every session performs a
// post-quantum handshake: the client proves its identity with a Dilithium
// signature over the session transcript and both sides derive an application
// secret through a Kyber768 encapsulation against the client's KEM key.
// Every RPC requires that authenticated identity.

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// RPC error codes; distinct per the error taxonomy.
const (
	RPCOk              = 0
	RPCErrGeneric      = 1
	RPCErrInput        = 2
	RPCErrUnauthorized = 3
	RPCErrNotFound     = 4
	RPCErrConflict     = 5
)

// rpcRequest is one framed call on a session stream.
type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcResponse is the structured reply.
type rpcResponse struct {
	Code  int             `json:"code"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// handshakeHello opens a session: the client identifies itself and proves
// key possession.
type handshakeHello struct {
	PublicKey PublicKey `json:"public_key"`
	Timestamp uint64    `json:"timestamp"`
	Signature []byte    `json:"signature"`
}

// handshakeAccept carries the Kyber ciphertext establishing the session
// secret.
type handshakeAccept struct {
	KemCiphertext []byte `json:"kem_ciphertext"`
	NodeDID       string `json:"node_did"`
}

//---------------------------------------------------------------------
// Node
//---------------------------------------------------------------------

// Web4Node serves the deploy RPC set backed by a registry and blob store.
type Web4Node struct {
	identity *Keypair
	registry *DomainRegistry
	blobs    *BlobStore
	nonces   *NonceTracker
	logger   *logrus.Entry

	listener *quic.Listener
	cancel   context.CancelFunc
}

// NewWeb4Node wires a node.
func NewWeb4Node(identity *Keypair, registry *DomainRegistry, blobs *BlobStore) *Web4Node {
	return &Web4Node{
		identity: identity,
		registry: registry,
		blobs:    blobs,
		nonces:   NewNonceTracker(),
		logger:   logrus.WithField("module", "web4-node"),
	}
}

// Listen starts serving on addr until Close.
func (n *Web4Node) Listen(addr string) error {
	tlsConf, err := ephemeralTLSConfig()
	if err != nil {
		return err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, &quic.Config{MaxIdleTimeout: 2 * time.Minute})
	if err != nil {
		return fmt.Errorf("%w: quic listen: %v", ErrTransient, err)
	}
	n.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go n.acceptLoop(ctx)
	n.logger.Infof("web4 node listening on %s", addr)
	return nil
}

// Close stops the node.
func (n *Web4Node) Close() {
	if n.cancel != nil {
		n.cancel()
	}
	if n.listener != nil {
		_ = n.listener.Close()
	}
}

func (n *Web4Node) acceptLoop(ctx context.Context) {
	for {
		conn, err := n.listener.Accept(ctx)
		if err != nil {
			return
		}
		go n.serveConn(ctx, conn)
	}
}

func (n *Web4Node) serveConn(ctx context.Context, conn quic.Connection) {
	defer func() { _ = conn.CloseWithError(0, "done") }()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return
	}
	caller, err := n.handshake(stream)
	if err != nil {
		n.logger.Warnf("handshake rejected: %v", err)
		_ = stream.Close()
		return
	}

	dec := json.NewDecoder(stream)
	enc := json.NewEncoder(stream)
	for {
		var req rpcRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := n.dispatch(caller, &req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

// handshake authenticates the client and answers with the KEM ciphertext.
func (n *Web4Node) handshake(stream quic.Stream) (*PublicKey, error) {
	dec := json.NewDecoder(stream)
	var hello handshakeHello
	if err := dec.Decode(&hello); err != nil {
		return nil, err
	}
	if err := hello.PublicKey.Validate(); err != nil {
		return nil, err
	}
	// A repeated (timestamp, key) hello within the nonce window is a replay;
	// the timestamp's age is not checked.
	if !n.nonces.CheckAndRecord(hello.Timestamp ^ uint64(hello.PublicKey.KeyID[0])<<32) {
		return nil, fmt.Errorf("%w: replayed hello", ErrUnauthorized)
	}
	transcript := handshakeTranscript(&hello.PublicKey, hello.Timestamp)
	ok, err := VerifySignature(hello.PublicKey.DilithiumPK, transcript, hello.Signature)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: hello signature", ErrCryptoFail)
	}

	ct, _, err := Encapsulate(hello.PublicKey.KyberPK)
	if err != nil {
		return nil, err
	}
	accept := handshakeAccept{KemCiphertext: ct, NodeDID: n.identity.Public.DID()}
	if err := json.NewEncoder(stream).Encode(&accept); err != nil {
		return nil, err
	}
	n.logger.Infof("session established with %s", hello.PublicKey.DID())
	return &hello.PublicKey, nil
}

func handshakeTranscript(pk *PublicKey, timestamp uint64) []byte {
	buf := append([]byte("zhtp-web4-hello"), pk.KeyID...)
	var ts [8]byte
	for i := 0; i < 8; i++ {
		ts[i] = byte(timestamp >> (8 * i))
	}
	h := HashBlake3(append(buf, ts[:]...))
	return h[:]
}

//---------------------------------------------------------------------
// Dispatch
//---------------------------------------------------------------------

type putBlobParams struct {
	Data []byte `json:"data"`
	Mime string `json:"mime"`
}

type updateDomainParams struct {
	Domain      string `json:"domain"`
	NewCID      string `json:"new_cid"`
	ExpectedCID string `json:"expected_current_cid"`
}

type rollbackParams struct {
	Domain    string `json:"domain"`
	ToVersion uint64 `json:"to_version"`
}

type historyParams struct {
	Domain string `json:"domain"`
	Limit  int    `json:"limit,omitempty"`
}

func (n *Web4Node) dispatch(caller *PublicKey, req *rpcRequest) *rpcResponse {
	now := uint64(time.Now().Unix())
	callerDID := caller.DID()

	switch req.Method {
	case "put_blob":
		var p putBlobParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcFail(RPCErrInput, err)
		}
		id, err := n.blobs.Put(p.Data)
		if err != nil {
			return rpcFail(RPCErrGeneric, err)
		}
		return rpcOk(map[string]string{"cid": id})

	case "put_blob_chunked":
		var p putBlobParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcFail(RPCErrInput, err)
		}
		id, err := n.blobs.PutChunked(p.Data)
		if err != nil {
			return rpcFail(RPCErrGeneric, err)
		}
		return rpcOk(map[string]string{"cid": id})

	case "put_manifest":
		var m Web4Manifest
		if err := json.Unmarshal(req.Params, &m); err != nil {
			return rpcFail(RPCErrInput, err)
		}
		if err := m.Validate(); err != nil {
			return rpcFail(RPCErrInput, err)
		}
		raw, _ := json.Marshal(&m)
		id, err := n.blobs.Put(raw)
		if err != nil {
			return rpcFail(RPCErrGeneric, err)
		}
		return rpcOk(map[string]string{"manifest_cid": id})

	case "register_domain":
		var p web4RegisterParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcFail(RPCErrInput, err)
		}
		rec, err := n.registry.Register(p.Domain, callerDID, p.ManifestCID, now)
		if err != nil {
			return rpcError(err)
		}
		return rpcOk(rec)

	case "update_domain":
		var p updateDomainParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcFail(RPCErrInput, err)
		}
		prev, _ := n.registry.Get(p.Domain)
		rec, err := n.registry.Update(p.Domain, callerDID, p.NewCID, p.ExpectedCID, now)
		if err != nil {
			return rpcError(err)
		}
		out := map[string]interface{}{"new_version": rec.Version, "record": rec}
		if prev != nil {
			out["previous_manifest_cid"] = prev.CurrentManifestCID
		}
		return rpcOk(out)

	case "rollback_domain":
		var p rollbackParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcFail(RPCErrInput, err)
		}
		rec, err := n.registry.Rollback(p.Domain, callerDID, p.ToVersion, now)
		if err != nil {
			return rpcError(err)
		}
		return rpcOk(rec)

	case "get_domain":
		var domain string
		if err := json.Unmarshal(req.Params, &domain); err != nil {
			return rpcFail(RPCErrInput, err)
		}
		rec, err := n.registry.Get(domain)
		if err != nil {
			return rpcError(err)
		}
		return rpcOk(rec)

	case "get_domain_status":
		var domain string
		if err := json.Unmarshal(req.Params, &domain); err != nil {
			return rpcFail(RPCErrInput, err)
		}
		rec, err := n.registry.Get(domain)
		if err != nil {
			return rpcOk(map[string]interface{}{"found": false})
		}
		return rpcOk(map[string]interface{}{
			"found":                true,
			"version":              rec.Version,
			"current_manifest_cid": rec.CurrentManifestCID,
			"owner_did":            rec.OwnerDID,
		})

	case "get_domain_history":
		var p historyParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcFail(RPCErrInput, err)
		}
		history, err := n.registry.History(p.Domain, p.Limit)
		if err != nil {
			return rpcError(err)
		}
		return rpcOk(history)

	case "list_domains":
		domains, err := n.registry.List()
		if err != nil {
			return rpcFail(RPCErrGeneric, err)
		}
		return rpcOk(domains)

	default:
		return rpcFail(RPCErrInput, fmt.Errorf("unknown method %q", req.Method))
	}
}

func rpcOk(v interface{}) *rpcResponse {
	raw, err := json.Marshal(v)
	if err != nil {
		return &rpcResponse{Code: RPCErrGeneric, Error: "encode failure"}
	}
	return &rpcResponse{Code: RPCOk, Data: raw}
}

func rpcFail(code int, err error) *rpcResponse {
	return &rpcResponse{Code: code, Error: err.Error()}
}

// rpcError maps the error taxonomy onto wire codes; the reply carries only a
// generic label, and the underlying error text is not sent or logged.
func rpcError(err error) *rpcResponse {
	switch {
	case isKind(err, ErrConflict):
		return &rpcResponse{Code: RPCErrConflict, Error: "conflict"}
	case isKind(err, ErrUnauthorized):
		return &rpcResponse{Code: RPCErrUnauthorized, Error: "unauthorized"}
	case isKind(err, ErrNotFound):
		return &rpcResponse{Code: RPCErrNotFound, Error: "not found"}
	case isKind(err, ErrInputInvalid):
		return &rpcResponse{Code: RPCErrInput, Error: "invalid input"}
	default:
		return &rpcResponse{Code: RPCErrGeneric, Error: "internal error"}
	}
}

//---------------------------------------------------------------------
// TLS bootstrap
//---------------------------------------------------------------------

// ephemeralTLSConfig generates a self-signed certificate for the QUIC
// layer. Peer authenticity does not rest on it: the SPKI pin / TOFU checks
// and the post-quantum handshake carry trust.
func ephemeralTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "zhtp-node"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"zhtp-web4"},
	}, nil
}
