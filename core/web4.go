package core

// Web4 domain registry: manifest format, versioned updates with
// compare-and-set, explicit rollback and per-domain serialization.
//
// The CAS on current_manifest_cid is the linearization point for every
// domain mutation. Old manifest versions are retained forever for rollback.

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

//---------------------------------------------------------------------
// Manifest
//---------------------------------------------------------------------

// ManifestFile is one deployed file entry.
type ManifestFile struct {
	Path     string  `json:"path"`
	CID      string  `json:"cid"`
	Size     uint64  `json:"size"`
	Mime     string  `json:"mime"`
	ETag     string  `json:"etag"`
	Encoding *string `json:"encoding,omitempty"`
}

// CacheHints groups cache-control patterns.
type CacheHints struct {
	Immutable  []string `json:"immutable"`
	Revalidate []string `json:"revalidate"`
}

// Web4Manifest is the canonical deployment descriptor. Field order is the
// canonical serialization order.
type Web4Manifest struct {
	Version     string         `json:"version"`
	Domain      string         `json:"domain"`
	Owner       string         `json:"owner"`
	RootCID     string         `json:"root_cid"`
	Files       []ManifestFile `json:"files"`
	SPAFallback *string        `json:"spa_fallback"`
	CacheHints  CacheHints     `json:"cache_hints"`
	DeployedAt  uint64         `json:"deployed_at"`
	Fee         uint64         `json:"fee"`
}

// Validate checks structural well-formedness of a manifest.
func (m *Web4Manifest) Validate() error {
	if m.Version != "1.0" {
		return fmt.Errorf("%w: unsupported manifest version %q", ErrInputInvalid, m.Version)
	}
	if !IsValidDomain(m.Domain) {
		return fmt.Errorf("%w: bad domain %q", ErrInputInvalid, m.Domain)
	}
	if !strings.HasPrefix(m.Owner, "did:zhtp:") {
		return fmt.Errorf("%w: malformed owner DID", ErrInputInvalid)
	}
	for _, f := range m.Files {
		if !strings.HasPrefix(f.Path, "/") {
			return fmt.Errorf("%w: file path %q not absolute", ErrInputInvalid, f.Path)
		}
		if !IsValidCID(f.CID) {
			return fmt.Errorf("%w: bad cid for %q", ErrInputInvalid, f.Path)
		}
	}
	if m.RootCID != RootCID(m.Files) {
		return fmt.Errorf("%w: root cid does not match file set", ErrInputInvalid)
	}
	return nil
}

// ResolvePath maps a request path onto a manifest file: exact match, then
// trailing-slash, then appended /index.html, then the SPA fallback.
func (m *Web4Manifest) ResolvePath(path string) *ManifestFile {
	lookup := func(p string) *ManifestFile {
		for i := range m.Files {
			if m.Files[i].Path == p {
				return &m.Files[i]
			}
		}
		return nil
	}
	if f := lookup(path); f != nil {
		return f
	}
	withSlash := path
	if !strings.HasSuffix(path, "/") {
		withSlash = path + "/"
	}
	if f := lookup(withSlash); f != nil {
		return f
	}
	index := strings.TrimSuffix(path, "/") + "/index.html"
	if f := lookup(index); f != nil {
		return f
	}
	if m.SPAFallback != nil {
		return lookup(*m.SPAFallback)
	}
	return nil
}

// RootCID derives the deterministic root content id from the file set:
// "bafk" + hex(BLAKE3(concat(sorted file CIDs))[:16]).
func RootCID(files []ManifestFile) string {
	cids := make([]string, len(files))
	for i, f := range files {
		cids[i] = f.CID
	}
	sort.Strings(cids)
	var buf []byte
	for _, c := range cids {
		buf = append(buf, c...)
	}
	h := HashBlake3(buf)
	return "bafk" + hex.EncodeToString(h[:16])
}

//---------------------------------------------------------------------
// Validation helpers
//---------------------------------------------------------------------

// IsValidDomain accepts *.zhtp and *.sov names: 5 < len < 100, labels
// alphanumeric plus '-', non-empty, no leading or trailing hyphen.
func IsValidDomain(domain string) bool {
	var base string
	switch {
	case strings.HasSuffix(domain, ".zhtp"):
		base = strings.TrimSuffix(domain, ".zhtp")
	case strings.HasSuffix(domain, ".sov"):
		base = strings.TrimSuffix(domain, ".sov")
	default:
		return false
	}
	if len(domain) <= 5 || len(domain) >= 100 {
		return false
	}
	for _, label := range strings.Split(base, ".") {
		if label == "" || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}

// IsValidCID accepts Qm… (46 chars), dht:… (>10) and :… (>10) content ids,
// plus the bafk root form produced by RootCID.
func IsValidCID(cid string) bool {
	switch {
	case strings.HasPrefix(cid, "Qm") && len(cid) == 46:
		return true
	case strings.HasPrefix(cid, "dht:") && len(cid) > 10:
		return true
	case strings.HasPrefix(cid, "bafk") && len(cid) > 10:
		return true
	case strings.HasPrefix(cid, ":") && len(cid) > 10:
		return true
	default:
		return false
	}
}

//---------------------------------------------------------------------
// Domain records
//---------------------------------------------------------------------

// DomainStatus is the lifecycle state of a registration.
type DomainStatus string

const (
	DomainActive  DomainStatus = "active"
	DomainExpired DomainStatus = "expired"
)

// DomainRecord is one version of a domain registration. Version is strictly
// monotonic; owner_did changes only through an explicit transfer.
type DomainRecord struct {
	Domain             string       `json:"domain"`
	OwnerDID           string       `json:"owner_did"`
	CurrentManifestCID string       `json:"current_manifest_cid"`
	Version            uint64       `json:"version"`
	RegisteredAt       uint64       `json:"registered_at"`
	ExpiresAt          uint64       `json:"expires_at"`
	Status             DomainStatus `json:"status"`
}

//---------------------------------------------------------------------
// Registry
//---------------------------------------------------------------------

var (
	web4Registers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zhtp_web4_registers_total",
		Help: "Successful domain registrations.",
	})
	web4Updates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zhtp_web4_updates_total",
		Help: "Successful domain updates and rollbacks.",
	})
	web4Conflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zhtp_web4_cas_conflicts_total",
		Help: "Domain updates rejected by the CAS check.",
	})
)

func init() {
	prometheus.MustRegister(web4Registers, web4Updates, web4Conflicts)
}

// DomainRegistry serializes mutations per domain; distinct domains proceed
// in parallel. History is kept under versioned storage keys and never
// deleted.
type DomainRegistry struct {
	store KVStore

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	registrationPeriod uint64
	logger             *zap.SugaredLogger
}

// NewDomainRegistry binds a registry to a store.
func NewDomainRegistry(store KVStore) *DomainRegistry {
	return &DomainRegistry{
		store:              store,
		locks:              make(map[string]*sync.Mutex),
		registrationPeriod: 365 * 24 * 3600,
		logger:             zap.L().Sugar(),
	}
}

func (r *DomainRegistry) domainLock(domain string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[domain]
	if !ok {
		l = &sync.Mutex{}
		r.locks[domain] = l
	}
	return l
}

func domainKey(domain string) []byte {
	return StorageKey("web4:domain", []byte(domain))
}

func versionKey(domain string, version uint64) []byte {
	return StorageKey("web4:version", []byte(fmt.Sprintf("%s#%d", domain, version)))
}

func (r *DomainRegistry) readRecord(domain string) (*DomainRecord, error) {
	raw, err := r.store.Get(domainKey(domain))
	if err != nil {
		return nil, fmt.Errorf("%w: domain %s", ErrNotFound, domain)
	}
	var rec DomainRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *DomainRegistry) writeRecord(rec *DomainRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.store.Set(versionKey(rec.Domain, rec.Version), raw); err != nil {
		return err
	}
	return r.store.Set(domainKey(rec.Domain), raw)
}

// Register creates version 1 of a domain bound to the caller's DID.
func (r *DomainRegistry) Register(domain, ownerDID, manifestCID string, now uint64) (*DomainRecord, error) {
	if !IsValidDomain(domain) {
		return nil, fmt.Errorf("%w: bad domain %q", ErrInputInvalid, domain)
	}
	if !IsValidCID(manifestCID) {
		return nil, fmt.Errorf("%w: bad manifest cid", ErrInputInvalid)
	}

	lock := r.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	if _, err := r.readRecord(domain); err == nil {
		return nil, fmt.Errorf("%w: domain %s already registered", ErrConflict, domain)
	}

	rec := &DomainRecord{
		Domain:             domain,
		OwnerDID:           ownerDID,
		CurrentManifestCID: manifestCID,
		Version:            1,
		RegisteredAt:       now,
		ExpiresAt:          now + r.registrationPeriod,
		Status:             DomainActive,
	}
	if err := r.writeRecord(rec); err != nil {
		return nil, err
	}
	r.trackDomain(domain)
	web4Registers.Inc()
	r.logger.Infof("web4: registered %s v1 for %s", domain, ownerDID)
	return rec, nil
}

// Update performs the versioned compare-and-set: the caller states the
// manifest CID it observed, and exactly one of any concurrent updates with
// the same expectation succeeds.
func (r *DomainRegistry) Update(domain, callerDID, newCID, expectedCurrentCID string, now uint64) (*DomainRecord, error) {
	if !IsValidCID(newCID) {
		return nil, fmt.Errorf("%w: bad manifest cid", ErrInputInvalid)
	}

	lock := r.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	rec, err := r.readRecord(domain)
	if err != nil {
		return nil, err
	}
	if rec.OwnerDID != callerDID {
		return nil, fmt.Errorf("%w: %s does not own %s", ErrUnauthorized, callerDID, domain)
	}
	if rec.CurrentManifestCID != expectedCurrentCID {
		web4Conflicts.Inc()
		return nil, fmt.Errorf("%w: expected %s, current is %s", ErrConflict, expectedCurrentCID, rec.CurrentManifestCID)
	}

	next := *rec
	next.Version++
	next.CurrentManifestCID = newCID
	if err := r.writeRecord(&next); err != nil {
		return nil, err
	}
	web4Updates.Inc()
	r.logger.Infof("web4: %s v%d → v%d", domain, rec.Version, next.Version)
	return &next, nil
}

// Rollback creates a new version pointing at a historical manifest CID.
// Requires 1 ≤ to_version < current_version and domain ownership.
func (r *DomainRegistry) Rollback(domain, callerDID string, toVersion uint64, now uint64) (*DomainRecord, error) {
	lock := r.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	rec, err := r.readRecord(domain)
	if err != nil {
		return nil, err
	}
	if rec.OwnerDID != callerDID {
		return nil, fmt.Errorf("%w: %s does not own %s", ErrUnauthorized, callerDID, domain)
	}
	if toVersion < 1 || toVersion >= rec.Version {
		return nil, fmt.Errorf("%w: rollback target %d out of range [1,%d)", ErrInputInvalid, toVersion, rec.Version)
	}

	raw, err := r.store.Get(versionKey(domain, toVersion))
	if err != nil {
		return nil, fmt.Errorf("%w: version %d of %s", ErrNotFound, toVersion, domain)
	}
	var historical DomainRecord
	if err := json.Unmarshal(raw, &historical); err != nil {
		return nil, err
	}

	next := *rec
	next.Version++
	next.CurrentManifestCID = historical.CurrentManifestCID
	if err := r.writeRecord(&next); err != nil {
		return nil, err
	}
	web4Updates.Inc()
	r.logger.Infof("web4: %s rolled back to v%d content as v%d", domain, toVersion, next.Version)
	return &next, nil
}

// TransferOwnership moves a domain to a new DID. This is the only path that
// mutates owner_did.
func (r *DomainRegistry) TransferOwnership(domain, callerDID, newOwnerDID string) (*DomainRecord, error) {
	lock := r.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	rec, err := r.readRecord(domain)
	if err != nil {
		return nil, err
	}
	if rec.OwnerDID != callerDID {
		return nil, fmt.Errorf("%w: %s does not own %s", ErrUnauthorized, callerDID, domain)
	}
	next := *rec
	next.Version++
	next.OwnerDID = newOwnerDID
	if err := r.writeRecord(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Get returns the current record for a domain.
func (r *DomainRegistry) Get(domain string) (*DomainRecord, error) {
	return r.readRecord(domain)
}

// History returns up to limit records in descending version order.
func (r *DomainRegistry) History(domain string, limit int) ([]DomainRecord, error) {
	rec, err := r.readRecord(domain)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || uint64(limit) > rec.Version {
		limit = int(rec.Version)
	}
	out := make([]DomainRecord, 0, limit)
	for v := rec.Version; v >= 1 && len(out) < limit; v-- {
		raw, err := r.store.Get(versionKey(domain, v))
		if err != nil {
			continue
		}
		var historical DomainRecord
		if err := json.Unmarshal(raw, &historical); err != nil {
			continue
		}
		out = append(out, historical)
	}
	return out, nil
}

// List enumerates registered domains from the domain index.
func (r *DomainRegistry) List() ([]string, error) {
	raw, err := r.store.Get(StorageKey("web4:index", nil))
	if err != nil {
		return nil, nil
	}
	var domains []string
	if err := json.Unmarshal(raw, &domains); err != nil {
		return nil, err
	}
	return domains, nil
}

// trackDomain appends to the domain index (best effort).
func (r *DomainRegistry) trackDomain(domain string) {
	domains, _ := r.List()
	for _, d := range domains {
		if d == domain {
			return
		}
	}
	domains = append(domains, domain)
	sort.Strings(domains)
	if raw, err := json.Marshal(domains); err == nil {
		_ = r.store.Set(StorageKey("web4:index", nil), raw)
	}
}

//---------------------------------------------------------------------
// Contract-call surface (Web4Website family)
//---------------------------------------------------------------------

type web4RegisterParams struct {
	Domain      string `json:"domain"`
	ManifestCID string `json:"manifest_cid"`
}

type web4UpdateParams struct {
	Domain      string `json:"domain"`
	NewCID      string `json:"new_cid"`
	ExpectedCID string `json:"expected_current_cid"`
}

type web4RollbackParams struct {
	Domain    string `json:"domain"`
	ToVersion uint64 `json:"to_version"`
}

// ExecuteContractCall services the Web4Website contract family on behalf of
// the executor.
func (r *DomainRegistry) ExecuteContractCall(call ContractCall, ctx *ExecutionContext) (*ContractResult, error) {
	callerDID := ctx.Caller.DID()

	switch call.Method {
	case "register_domain":
		var p web4RegisterParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		rec, err := r.Register(p.Domain, callerDID, p.ManifestCID, ctx.Timestamp)
		if err != nil {
			return nil, err
		}
		return resultWithData(rec, ctx.GasUsed)

	case "update_domain":
		var p web4UpdateParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		rec, err := r.Update(p.Domain, callerDID, p.NewCID, p.ExpectedCID, ctx.Timestamp)
		if err != nil {
			return nil, err
		}
		return resultWithData(rec, ctx.GasUsed)

	case "rollback_domain":
		var p web4RollbackParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		rec, err := r.Rollback(p.Domain, callerDID, p.ToVersion, ctx.Timestamp)
		if err != nil {
			return nil, err
		}
		return resultWithData(rec, ctx.GasUsed)

	case "get_domain":
		var domain string
		if err := json.Unmarshal(call.Params, &domain); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		rec, err := r.Get(domain)
		if err != nil {
			return nil, err
		}
		return resultWithData(rec, ctx.GasUsed)

	default:
		return nil, fmt.Errorf("%w: unknown web4 method %q", ErrInputInvalid, call.Method)
	}
}
