package core

// Web4 deploy client: walks a build directory, uploads blobs (chunked past
// 1 MiB), constructs the canonical manifest and drives the
// register/update/rollback RPCs over an authenticated QUIC session.
//
// Uploads are cancel-safe: the token is checked before each file's upload and
// after each chunked upload's ack. A chunked blob travels in a single RPC and
// is split by the node, so there is no check between its chunks. The
// manifest-cid acknowledgement is the linearization
// point; cancellation before it leaves only garbage-collectible blobs,
// cancellation after is ignored.

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// DeployFeeFloor is the minimum fee charged for a deployment (ZHTP).
const DeployFeeFloor uint64 = 1500

//---------------------------------------------------------------------
// Client
//---------------------------------------------------------------------

// Web4Client is one authenticated session against a node.
type Web4Client struct {
	identity *Keypair
	trust    TrustConfig
	trustDB  *TrustDB

	conn    quic.Connection
	stream  quic.Stream
	enc     *json.Encoder
	dec     *json.Decoder
	peerDID string

	logger *logrus.Entry
}

// NewWeb4Client builds a client bound to an identity and trust config.
func NewWeb4Client(identity *Keypair, trust TrustConfig, trustDB *TrustDB) *Web4Client {
	return &Web4Client{
		identity: identity,
		trust:    trust,
		trustDB:  trustDB,
		logger:   logrus.WithField("module", "web4-client"),
	}
}

// Connect dials the node and performs the post-quantum handshake.
func (c *Web4Client) Connect(ctx context.Context, addr string) error {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true, // chain trust replaced by SPKI pinning below
		NextProtos:         []string{"zhtp-web4"},
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{MaxIdleTimeout: 2 * time.Minute})
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransient, addr, err)
	}

	state := conn.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		_ = conn.CloseWithError(0, "no certificate")
		return fmt.Errorf("%w: peer presented no certificate", ErrCryptoFail)
	}
	spki := state.PeerCertificates[0].RawSubjectPublicKeyInfo

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream")
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	c.conn, c.stream = conn, stream
	c.enc = json.NewEncoder(stream)
	c.dec = json.NewDecoder(stream)

	now := uint64(time.Now().Unix())
	transcript := handshakeTranscript(&c.identity.Public, now)
	sig, err := Sign(c.identity.Private.DilithiumSK, transcript)
	if err != nil {
		return err
	}
	if err := c.enc.Encode(&handshakeHello{
		PublicKey: c.identity.Public,
		Timestamp: now,
		Signature: sig,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var accept handshakeAccept
	if err := c.dec.Decode(&accept); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if _, err := Decapsulate(c.identity.Private.KyberSK, accept.KemCiphertext); err != nil {
		return fmt.Errorf("%w: kem decapsulation: %v", ErrCryptoFail, err)
	}
	c.peerDID = accept.NodeDID

	// The node DID is only known post-handshake, so certificate trust is
	// evaluated here against it.
	if err := VerifyPeerCertificate(&c.trust, c.trustDB, c.peerDID, spki); err != nil {
		c.Close()
		return err
	}

	c.logger.Infof("connected to node %s", c.peerDID)
	return nil
}

// PeerDID returns the node identity established at connect time.
func (c *Web4Client) PeerDID() string { return c.peerDID }

// Close tears down the session.
func (c *Web4Client) Close() {
	if c.stream != nil {
		_ = c.stream.Close()
	}
	if c.conn != nil {
		_ = c.conn.CloseWithError(0, "bye")
	}
}

// call issues one RPC and decodes the reply.
func (c *Web4Client) call(method string, params interface{}, out interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	if err := c.enc.Encode(&rpcRequest{Method: method, Params: raw}); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var resp rpcResponse
	if err := c.dec.Decode(&resp); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if resp.Code != RPCOk {
		return rpcCodeToError(resp.Code, resp.Error)
	}
	if out != nil && resp.Data != nil {
		return json.Unmarshal(resp.Data, out)
	}
	return nil
}

func rpcCodeToError(code int, msg string) error {
	switch code {
	case RPCErrConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case RPCErrUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case RPCErrNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case RPCErrInput:
		return fmt.Errorf("%w: %s", ErrInputInvalid, msg)
	default:
		return fmt.Errorf("rpc error: %s", msg)
	}
}

//---------------------------------------------------------------------
// RPC wrappers
//---------------------------------------------------------------------

// PutBlob uploads one blob and returns its CID.
func (c *Web4Client) PutBlob(data []byte, mime string) (string, error) {
	var out struct {
		CID string `json:"cid"`
	}
	if err := c.call("put_blob", &putBlobParams{Data: data, Mime: mime}, &out); err != nil {
		return "", err
	}
	return out.CID, nil
}

// PutBlobChunked uploads a large blob through the chunked path. The whole
// blob is sent in one RPC and the node splits it; the cancellation token is
// checked before the send and after the ack, not between chunks.
func (c *Web4Client) PutBlobChunked(ctx context.Context, data []byte, mime string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var out struct {
		CID string `json:"cid"`
	}
	if err := c.call("put_blob_chunked", &putBlobParams{Data: data, Mime: mime}, &out); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return out.CID, nil
}

// PutManifest uploads the manifest, returning the manifest CID. This call's
// acknowledgement is the deployment's linearization point.
func (c *Web4Client) PutManifest(m *Web4Manifest) (string, error) {
	var out struct {
		ManifestCID string `json:"manifest_cid"`
	}
	if err := c.call("put_manifest", m, &out); err != nil {
		return "", err
	}
	return out.ManifestCID, nil
}

// RegisterDomain registers a fresh domain at version 1.
func (c *Web4Client) RegisterDomain(domain, manifestCID string) (*DomainRecord, error) {
	var rec DomainRecord
	if err := c.call("register_domain", &web4RegisterParams{Domain: domain, ManifestCID: manifestCID}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateDomain performs the compare-and-set update.
func (c *Web4Client) UpdateDomain(domain, newCID, expectedCurrentCID string) (*DomainRecord, error) {
	var out struct {
		Record DomainRecord `json:"record"`
	}
	if err := c.call("update_domain", &updateDomainParams{Domain: domain, NewCID: newCID, ExpectedCID: expectedCurrentCID}, &out); err != nil {
		return nil, err
	}
	return &out.Record, nil
}

// RollbackDomain re-points a domain at a historical version's content.
func (c *Web4Client) RollbackDomain(domain string, toVersion uint64) (*DomainRecord, error) {
	var rec DomainRecord
	if err := c.call("rollback_domain", &rollbackParams{Domain: domain, ToVersion: toVersion}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DomainStatus fetches the current registration state.
func (c *Web4Client) DomainStatus(domain string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.call("get_domain_status", domain, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDomains enumerates the node's registered domains.
func (c *Web4Client) ListDomains() ([]string, error) {
	var out []string
	if err := c.call("list_domains", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DomainHistory lists records in descending version order.
func (c *Web4Client) DomainHistory(domain string, limit int) ([]DomainRecord, error) {
	var out []DomainRecord
	if err := c.call("get_domain_history", &historyParams{Domain: domain, Limit: limit}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

//---------------------------------------------------------------------
// Deployment pipeline
//---------------------------------------------------------------------

// DeployOptions parameterise one site deployment.
type DeployOptions struct {
	Domain      string
	BuildDir    string
	SPAMode     bool
	FeeOverride uint64
}

// DeployResult summarises a completed deployment.
type DeployResult struct {
	Domain      string
	Version     uint64
	ManifestCID string
	RootCID     string
	FilesUploaded int
	Fee         uint64
}

type collectedFile struct {
	webPath string
	absPath string
	size    uint64
}

// Deploy runs the full pipeline: collect → upload (sorted by path) →
// manifest → register-or-update.
func (c *Web4Client) Deploy(ctx context.Context, opts DeployOptions) (*DeployResult, error) {
	if !IsValidDomain(opts.Domain) {
		return nil, fmt.Errorf("%w: domain must end with .zhtp or .sov", ErrInputInvalid)
	}

	files, err := collectFiles(opts.BuildDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files found in %s", ErrInputInvalid, opts.BuildDir)
	}

	// Sorted upload order keeps manifests deterministic.
	sort.Slice(files, func(i, j int) bool { return files[i].webPath < files[j].webPath })

	if opts.SPAMode {
		hasIndex := false
		for _, f := range files {
			if f.webPath == "/index.html" {
				hasIndex = true
				break
			}
		}
		if !hasIndex {
			return nil, fmt.Errorf("%w: SPA mode requires index.html in build directory", ErrInputInvalid)
		}
	}

	var (
		manifestFiles []ManifestFile
		totalSize     uint64
	)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(f.absPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		mime := GuessMimeType(f.webPath)
		etagSum := HashBlake3(content)
		etag := hex.EncodeToString(etagSum[:8])

		var id string
		if len(content) > BlobChunkSize {
			c.logger.Infof("uploading %s (%d bytes, chunked)", f.webPath, len(content))
			id, err = c.PutBlobChunked(ctx, content, mime)
		} else {
			id, err = c.PutBlob(content, mime)
		}
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", f.webPath, err)
		}
		manifestFiles = append(manifestFiles, ManifestFile{
			Path: f.webPath,
			CID:  id,
			Size: f.size,
			Mime: mime,
			ETag: etag,
		})
		totalSize += f.size
	}

	fee := EstimateDeployFee(totalSize, len(files))
	if opts.FeeOverride > 0 {
		fee = opts.FeeOverride
	}

	var spaFallback *string
	if opts.SPAMode {
		fallback := "/index.html"
		spaFallback = &fallback
	}
	manifest := &Web4Manifest{
		Version:     "1.0",
		Domain:      opts.Domain,
		Owner:       c.identity.Public.DID(),
		RootCID:     RootCID(manifestFiles),
		Files:       manifestFiles,
		SPAFallback: spaFallback,
		CacheHints: CacheHints{
			Immutable:  []string{"*.woff2", "*.woff", "*.js", "*.css"},
			Revalidate: []string{"*.html", "*.json"},
		},
		DeployedAt: uint64(time.Now().Unix()),
		Fee:        fee,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	manifestCID, err := c.PutManifest(manifest)
	if err != nil {
		return nil, err
	}
	// Past this point the deployment is committed; cancellation is ignored.

	status, err := c.DomainStatus(opts.Domain)
	if err != nil {
		return nil, err
	}

	var rec *DomainRecord
	if found, _ := status["found"].(bool); found {
		owner, _ := status["owner_did"].(string)
		if owner != "" && owner != c.identity.Public.DID() {
			return nil, fmt.Errorf("%w: domain %s is owned by %s", ErrUnauthorized, opts.Domain, owner)
		}
		current, _ := status["current_manifest_cid"].(string)
		rec, err = c.UpdateDomain(opts.Domain, manifestCID, current)
	} else {
		rec, err = c.RegisterDomain(opts.Domain, manifestCID)
	}
	if err != nil {
		return nil, err
	}

	return &DeployResult{
		Domain:        opts.Domain,
		Version:       rec.Version,
		ManifestCID:   manifestCID,
		RootCID:       manifest.RootCID,
		FilesUploaded: len(files),
		Fee:           fee,
	}, nil
}

// EstimateDeployFee scales with transaction size and payload, floored at
// DeployFeeFloor.
func EstimateDeployFee(totalSize uint64, fileCount int) uint64 {
	estimatedTxSize := 5400 + totalSize/10
	fee := estimatedTxSize / 5
	if fee < DeployFeeFloor {
		fee = DeployFeeFloor
	}
	_ = fileCount
	return fee
}

func collectFiles(dir string) ([]collectedFile, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: build directory %s", ErrInputInvalid, dir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInputInvalid, dir)
	}
	var out []collectedFile
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		webPath := "/" + filepath.ToSlash(rel)
		out = append(out, collectedFile{webPath: webPath, absPath: path, size: uint64(fi.Size())})
		return nil
	})
	return out, err
}

// GuessMimeType maps a path extension to its content type.
func GuessMimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js", ".mjs":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".ico":
		return "image/x-icon"
	case ".woff":
		return "font/woff"
	case ".woff2":
		return "font/woff2"
	case ".ttf":
		return "font/ttf"
	case ".txt":
		return "text/plain"
	case ".xml":
		return "application/xml"
	case ".pdf":
		return "application/pdf"
	case ".wasm":
		return "application/wasm"
	default:
		return "application/octet-stream"
	}
}
