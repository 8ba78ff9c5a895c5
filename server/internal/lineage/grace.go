// Package lineage keeps the pair produced by each refresh rotation for a
// short grace window, so a second holder of the consumed refresh token can
// be handed the winner's pair instead of being logged out.
//
// Entries are keyed by a hash of the consumed token and sealed with a key
// derived from that token, so Redis never holds usable credentials in clear.
package lineage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Digital-master-solutions/sen-alerte-sub000/server/internal/auth"
)

const keyPrefix = "sen-alerte:grace:"

var _ auth.GraceCache = (*Cache)(nil)

// Cache is a Redis-backed auth.GraceCache
type Cache struct {
	rdb    redis.UniversalClient
	window time.Duration
}

// New creates a cache whose entries live for window
func New(rdb redis.UniversalClient, window time.Duration) *Cache {
	return &Cache{rdb: rdb, window: window}
}

// Window returns the entry lifetime
func (c *Cache) Window() time.Duration {
	return c.window
}

func entryKey(oldToken string) string {
	sum := sha256.Sum256([]byte("lineage:" + oldToken))
	return keyPrefix + hex.EncodeToString(sum[:])
}

func sealKey(oldToken string) []byte {
	sum := sha256.Sum256([]byte("seal:" + oldToken))
	return sum[:]
}

// Remember stores issued under oldToken for the grace window
func (c *Cache) Remember(ctx context.Context, oldToken string, issued auth.Issued) error {
	issued.Principal.PasswordHash = ""
	plain, err := json.Marshal(issued)
	if err != nil {
		return fmt.Errorf("lineage: encode: %w", err)
	}
	sealed, err := seal(plain, sealKey(oldToken))
	if err != nil {
		return fmt.Errorf("lineage: seal: %w", err)
	}
	return c.rdb.Set(ctx, entryKey(oldToken), sealed, c.window).Err()
}

// Recall returns the pair remembered for oldToken, or auth.ErrNotFound
func (c *Cache) Recall(ctx context.Context, oldToken string) (*auth.Issued, error) {
	sealed, err := c.rdb.Get(ctx, entryKey(oldToken)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	plain, err := open(sealed, sealKey(oldToken))
	if err != nil {
		return nil, fmt.Errorf("lineage: open: %w", err)
	}
	var issued auth.Issued
	if err := json.Unmarshal(plain, &issued); err != nil {
		return nil, fmt.Errorf("lineage: decode: %w", err)
	}
	return &issued, nil
}

func seal(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	// nonce is prepended to the ciphertext
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(ciphertext) < n {
		return nil, errors.New("ciphertext too short")
	}
	plain, err := gcm.Open(nil, ciphertext[:n], ciphertext[n:], nil)
	if err != nil {
		return nil, errors.New("wrong key or tampered data")
	}
	return plain, nil
}
