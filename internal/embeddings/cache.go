package embeddings

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Cache wraps a Provider with a (model, text)-hash keyed vector cache.
// Hits are served from memory; misses go to the provider and are
// persisted to SQLite so catalog embeddings survive restarts. Reads are
// lock-free on the hot path apart from an RWMutex read lock.
type Cache struct {
	provider Provider
	db       *sql.DB

	mu  sync.RWMutex
	mem map[string][]float32
}

// NewCache opens (or creates) the cache database at dbPath and loads
// existing vectors for the provider's model into memory.
func NewCache(provider Provider, dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}

	c := &Cache{
		provider: provider,
		db:       db,
		mem:      make(map[string][]float32),
	}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate embedding cache: %w", err)
	}
	if err := c.warm(); err != nil {
		db.Close()
		return nil, fmt.Errorf("warm embedding cache: %w", err)
	}

	return c, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		key TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		vector BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model);
	`
	_, err := c.db.Exec(schema)
	return err
}

func (c *Cache) warm() error {
	rows, err := c.db.Query(`SELECT key, vector FROM embeddings WHERE model = ?`, c.provider.Model())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			return err
		}
		c.mem[key] = decodeVector(blob)
	}
	return rows.Err()
}

// Model returns the wrapped provider's model name.
func (c *Cache) Model() string { return c.provider.Model() }

// Embed returns vectors for texts, consulting the cache first. Only
// misses are sent to the provider, in one batch.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	c.mu.RLock()
	for i, text := range texts {
		if vec, ok := c.mem[c.key(text)]; ok {
			results[i] = vec
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
		}
	}
	c.mu.RUnlock()

	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := c.provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for j, i := range missIdx {
		results[i] = vecs[j]
		c.mem[c.key(texts[i])] = vecs[j]
	}
	c.mu.Unlock()

	for j, i := range missIdx {
		if err := c.persist(texts[i], vecs[j]); err != nil {
			// Persistence failure costs a re-embed after restart, not
			// correctness; keep going.
			continue
		}
	}

	return results, nil
}

func (c *Cache) persist(text string, vec []float32) error {
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO embeddings (key, model, vector, created_at)
		VALUES (?, ?, ?, ?)
	`, c.key(text), c.provider.Model(), encodeVector(vec), time.Now().Format(time.RFC3339Nano))
	return err
}

// key hashes (model, text) so a model change never serves stale vectors.
func (c *Cache) key(text string) string {
	h := sha256.Sum256([]byte(c.provider.Model() + "\x00" + text))
	return hex.EncodeToString(h[:])
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
