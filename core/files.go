package core

// File sharing contract family under the "file" namespace. Content itself
// lives in the blob store; the contract tracks access control, pricing and
// download accounting over a content hash.

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SharedFile is the on-chain record of one shared file.
type SharedFile struct {
	FileID            [32]byte    `json:"file_id"`
	Filename          string      `json:"filename"`
	Description       string      `json:"description"`
	Owner             PublicKey   `json:"owner"`
	ContentHash       [32]byte    `json:"content_hash"`
	FileSize          uint64      `json:"file_size"`
	MimeType          string      `json:"mime_type"`
	IsPublic          bool        `json:"is_public"`
	DownloadCost      uint64      `json:"download_cost"`
	IsEncrypted       bool        `json:"is_encrypted"`
	EncryptionKeyHash *hexBytes32 `json:"encryption_key_hash,omitempty"`
	Tags              []string    `json:"tags"`
	MaxDownloads      uint64      `json:"max_downloads"`
	DownloadCount     uint64      `json:"download_count"`
	UploadTimestamp   uint64      `json:"upload_timestamp"`
	AccessList        []string    `json:"access_list"`
}

func (f *SharedFile) hasAccess(pk *PublicKey) bool {
	if f.IsPublic || f.Owner.Equal(pk) {
		return true
	}
	key := hex.EncodeToString(pk.KeyID)
	for _, a := range f.AccessList {
		if a == key {
			return true
		}
	}
	return false
}

func (f *SharedFile) availableForDownload(pk *PublicKey) bool {
	if !f.hasAccess(pk) {
		return false
	}
	return f.MaxDownloads == 0 || f.DownloadCount < f.MaxDownloads
}

func (f *SharedFile) grantAccess(pk PublicKey) error {
	key := hex.EncodeToString(pk.KeyID)
	for _, a := range f.AccessList {
		if a == key {
			return fmt.Errorf("access already granted")
		}
	}
	f.AccessList = append(f.AccessList, key)
	return nil
}

func (f *SharedFile) revokeAccess(pk *PublicKey) error {
	key := hex.EncodeToString(pk.KeyID)
	for i, a := range f.AccessList {
		if a == key {
			f.AccessList = append(f.AccessList[:i], f.AccessList[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no access to revoke")
}

//---------------------------------------------------------------------
// Executor dispatch
//---------------------------------------------------------------------

type shareFileParams struct {
	Filename          string      `json:"filename"`
	Description       string      `json:"description"`
	ContentHash       hexBytes32  `json:"content_hash"`
	FileSize          uint64      `json:"file_size"`
	MimeType          string      `json:"mime_type"`
	IsPublic          bool        `json:"is_public"`
	DownloadCost      uint64      `json:"download_cost"`
	IsEncrypted       bool        `json:"is_encrypted"`
	EncryptionKeyHash *hexBytes32 `json:"encryption_key_hash,omitempty"`
	Tags              []string    `json:"tags"`
	MaxDownloads      uint64      `json:"max_downloads"`
}

type fileAccessParams struct {
	FileID hexBytes32 `json:"file_id"`
	User   PublicKey  `json:"user"`
}

func (ex *ContractExecutor) executeFileCall(call ContractCall, ctx *ExecutionContext, store KVStore) (*ContractResult, error) {
	// Files use the base gas cost.
	if err := ctx.ConsumeGas(GasBase); err != nil {
		return nil, err
	}

	switch call.Method {
	case "share_file":
		var p shareFileParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		file := &SharedFile{
			Filename:          p.Filename,
			Description:       p.Description,
			Owner:             ctx.Caller,
			ContentHash:       [32]byte(p.ContentHash),
			FileSize:          p.FileSize,
			MimeType:          p.MimeType,
			IsPublic:          p.IsPublic,
			DownloadCost:      p.DownloadCost,
			IsEncrypted:       p.IsEncrypted,
			EncryptionKeyHash: p.EncryptionKeyHash,
			Tags:              p.Tags,
			MaxDownloads:      p.MaxDownloads,
			UploadTimestamp:   ctx.Timestamp,
		}
		file.FileID = HashBlake3(append(append([]byte("file"), ctx.Caller.KeyID...), file.ContentHash[:]...))
		if err := ex.saveFile(store, file); err != nil {
			return nil, err
		}
		return resultWithData(hexBytes32(file.FileID), ctx.GasUsed)

	case "download_file":
		file, err := ex.loadFile(store, call.Params)
		if err != nil {
			return nil, err
		}
		if !file.availableForDownload(&ctx.Caller) {
			return nil, fmt.Errorf("%w: file not accessible or download limit reached", ErrUnauthorized)
		}
		file.DownloadCount++
		if err := ex.saveFile(store, file); err != nil {
			return nil, err
		}
		return resultWithData(hexBytes32(file.ContentHash), ctx.GasUsed)

	case "grant_file_access":
		var p fileAccessParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		file, err := ex.loadFileByID(store, [32]byte(p.FileID))
		if err != nil {
			return nil, err
		}
		if !file.Owner.Equal(&ctx.Caller) {
			return nil, ErrUnauthorized
		}
		if err := file.grantAccess(p.User); err != nil {
			return nil, err
		}
		if err := ex.saveFile(store, file); err != nil {
			return nil, err
		}
		return resultWithData("access granted", ctx.GasUsed)

	case "revoke_file_access":
		var p fileAccessParams
		if err := json.Unmarshal(call.Params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
		}
		file, err := ex.loadFileByID(store, [32]byte(p.FileID))
		if err != nil {
			return nil, err
		}
		if !file.Owner.Equal(&ctx.Caller) {
			return nil, ErrUnauthorized
		}
		if err := file.revokeAccess(&p.User); err != nil {
			return nil, err
		}
		if err := ex.saveFile(store, file); err != nil {
			return nil, err
		}
		return resultWithData("access revoked", ctx.GasUsed)

	case "get_file_info":
		file, err := ex.loadFile(store, call.Params)
		if err != nil {
			return nil, err
		}
		if !file.hasAccess(&ctx.Caller) {
			return nil, ErrUnauthorized
		}
		info := map[string]interface{}{
			"filename":         file.Filename,
			"description":      file.Description,
			"file_size":        file.FileSize,
			"mime_type":        file.MimeType,
			"upload_timestamp": file.UploadTimestamp,
			"is_public":        file.IsPublic,
			"download_count":   file.DownloadCount,
			"tags":             file.Tags,
		}
		return resultWithData(info, ctx.GasUsed)

	default:
		return nil, fmt.Errorf("%w: unknown file method %q", ErrInputInvalid, call.Method)
	}
}

func (ex *ContractExecutor) loadFile(store KVStore, params json.RawMessage) (*SharedFile, error) {
	var id hexBytes32
	if err := json.Unmarshal(params, &id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputInvalid, err)
	}
	return ex.loadFileByID(store, [32]byte(id))
}

func (ex *ContractExecutor) loadFileByID(store KVStore, id [32]byte) (*SharedFile, error) {
	raw, err := store.Get(StorageKey("file", id[:]))
	if err != nil {
		return nil, fmt.Errorf("%w: file", ErrNotFound)
	}
	var f SharedFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (ex *ContractExecutor) saveFile(store KVStore, f *SharedFile) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return store.Set(StorageKey("file", f.FileID[:]), raw)
}
