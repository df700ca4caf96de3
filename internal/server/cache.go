package server

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/benzoXdev/obfuslua/internal/engine"
)

// cborEncMode uses canonical options so cached rows encode deterministically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cache: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Cache stores finished results keyed by a hash of the request inputs.
// Backed by SQLite when a path is configured, otherwise an in-process map.
type Cache struct {
	mu  sync.RWMutex
	mem map[string][]byte
	db  *sql.DB
}

func NewCache(path string) (*Cache, error) {
	c := &Cache{mem: make(map[string][]byte)}
	if path == "" {
		return c, nil
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS results (
		key TEXT PRIMARY KEY,
		val BLOB NOT NULL,
		created INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: schema: %w", err)
	}
	c.db = db
	return c, nil
}

func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// CacheKey hashes the source, the canonicalized options and the seed.
func CacheKey(source string, options map[string]any, seed uint64) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := json.Marshal(options[k])
		fmt.Fprintf(h, "%s=%s;", k, v)
	}
	fmt.Fprintf(h, "#%d", seed)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) Get(key string) (*engine.Result, bool) {
	var blob []byte
	if c.db != nil {
		row := c.db.QueryRow(`SELECT val FROM results WHERE key = ?`, key)
		if err := row.Scan(&blob); err != nil {
			return nil, false
		}
	} else {
		c.mu.RLock()
		b, ok := c.mem[key]
		c.mu.RUnlock()
		if !ok {
			return nil, false
		}
		blob = b
	}
	var res engine.Result
	if err := cbor.Unmarshal(blob, &res); err != nil {
		return nil, false
	}
	res.Code = []byte(res.CodeText)
	return &res, true
}

func (c *Cache) Put(key string, res *engine.Result) error {
	blob, err := cborEncMode.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}
	if c.db != nil {
		_, err := c.db.Exec(`INSERT OR REPLACE INTO results (key, val, created) VALUES (?, ?, ?)`,
			key, blob, time.Now().Unix())
		return err
	}
	c.mu.Lock()
	c.mem[key] = blob
	c.mu.Unlock()
	return nil
}
