package contentstore

import (
	"encoding/hex"
	"fmt"
	"mime"
	"path"
	"strings"
)

const (
	RawPrefix        = "objects/"
	DerivativePrefix = "derivatives/"

	TextFile     = "text.txt"
	ElementsFile = "elements.jsonl"
	MetaFile     = "meta.json"
)

// ValidHash reports whether h is a lowercase hex sha256 digest.
func ValidHash(h string) bool {
	if len(h) != 64 || strings.ToLower(h) != h {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// ShardPath is the two-level sharded path {h[0:2]}/{h[2:4]}/{h}.
func ShardPath(hash string) string {
	return hash[0:2] + "/" + hash[2:4] + "/" + hash
}

// RawKey is the storage key of the original bytes. It depends on the hash alone.
func RawKey(hash string) (string, error) {
	if !ValidHash(hash) {
		return "", fmt.Errorf("contentstore: invalid content hash %q", hash)
	}
	return RawPrefix + ShardPath(hash), nil
}

func DerivativeKey(hash, name string) (string, error) {
	if !ValidHash(hash) {
		return "", fmt.Errorf("contentstore: invalid content hash %q", hash)
	}
	return DerivativePrefix + ShardPath(hash) + "/" + name, nil
}

// HashFromKey recovers the content hash from a raw or derivative key.
func HashFromKey(key string) (string, bool) {
	key = strings.TrimPrefix(strings.TrimPrefix(key, RawPrefix), DerivativePrefix)
	parts := strings.Split(key, "/")
	if len(parts) < 3 {
		return "", false
	}
	h := parts[2]
	if !ValidHash(h) || parts[0] != h[0:2] || parts[1] != h[2:4] {
		return "", false
	}
	return h, true
}

func contentTypeFor(logicalPath string) string {
	ext := strings.ToLower(path.Ext(logicalPath))
	switch ext {
	case "":
		return "application/octet-stream"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".jsonl":
		return "application/jsonl"
	case ".json":
		return "application/json"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
