package core

// Content-addressed blob store backing Web4 deployments. Blobs are keyed by
// CIDv1 (raw codec, BLAKE3 multihash) and cached in a bounded expirable LRU
// in front of the persistent store.

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"
)

const (
	// BlobChunkSize is the chunking threshold and chunk size (1 MiB).
	BlobChunkSize = 1024 * 1024

	blobCacheEntries = 4096
	blobCacheTTL     = 10 * time.Minute
)

// BlobStore pins and retrieves content-addressed blobs.
type BlobStore struct {
	store  KVStore
	cache  *lru.LRU[string, []byte]
	logger *logrus.Entry
}

// NewBlobStore wires a blob store over the given KVStore.
func NewBlobStore(store KVStore) *BlobStore {
	return &BlobStore{
		store:  store,
		cache:  lru.NewLRU[string, []byte](blobCacheEntries, nil, blobCacheTTL),
		logger: logrus.WithField("module", "blobstore"),
	}
}

// ComputeCID derives the canonical content id for a blob.
func ComputeCID(data []byte) (string, error) {
	sum, err := mh.Sum(data, mh.BLAKE3, 32)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// Put pins data and returns its CID. Re-putting identical content is a
// no-op returning the same id.
func (b *BlobStore) Put(data []byte) (string, error) {
	id, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	if _, ok := b.cache.Get(id); ok {
		return id, nil
	}
	key := StorageKey("blob", []byte(id))
	if has, _ := b.store.Has(key); has {
		b.cache.Add(id, data)
		return id, nil
	}
	if err := b.store.Set(key, data); err != nil {
		return "", err
	}
	b.cache.Add(id, data)
	b.logger.Debugf("pinned %s (%d bytes)", id, len(data))
	return id, nil
}

// PutChunked splits data into BlobChunkSize chunks, pins each, then pins a
// chunk-list blob whose CID addresses the whole file.
func (b *BlobStore) PutChunked(data []byte) (string, error) {
	if len(data) <= BlobChunkSize {
		return b.Put(data)
	}
	var chunkCIDs []byte
	for off := 0; off < len(data); off += BlobChunkSize {
		end := off + BlobChunkSize
		if end > len(data) {
			end = len(data)
		}
		id, err := b.Put(data[off:end])
		if err != nil {
			return "", fmt.Errorf("chunk at %d: %w", off, err)
		}
		chunkCIDs = append(chunkCIDs, id...)
		chunkCIDs = append(chunkCIDs, '\n')
	}
	listID, err := b.Put(chunkCIDs)
	if err != nil {
		return "", err
	}
	// Index marks the blob as a chunk list so Get can reassemble.
	if err := b.store.Set(StorageKey("blob:chunked", []byte(listID)), []byte{1}); err != nil {
		return "", err
	}
	return listID, nil
}

// Get retrieves a blob, reassembling chunked content transparently.
func (b *BlobStore) Get(id string) ([]byte, error) {
	raw, err := b.getRaw(id)
	if err != nil {
		return nil, err
	}
	chunked, _ := b.store.Has(StorageKey("blob:chunked", []byte(id)))
	if !chunked {
		return raw, nil
	}
	var out []byte
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == '\n' {
			if i > start {
				chunk, err := b.getRaw(string(raw[start:i]))
				if err != nil {
					return nil, fmt.Errorf("missing chunk: %w", err)
				}
				out = append(out, chunk...)
			}
			start = i + 1
		}
	}
	return out, nil
}

func (b *BlobStore) getRaw(id string) ([]byte, error) {
	if data, ok := b.cache.Get(id); ok {
		return data, nil
	}
	data, err := b.store.Get(StorageKey("blob", []byte(id)))
	if err != nil {
		return nil, fmt.Errorf("%w: blob %s", ErrNotFound, id)
	}
	b.cache.Add(id, data)
	return data, nil
}

// Has reports whether a blob is pinned.
func (b *BlobStore) Has(id string) bool {
	if _, ok := b.cache.Get(id); ok {
		return true
	}
	has, _ := b.store.Has(StorageKey("blob", []byte(id)))
	return has
}
