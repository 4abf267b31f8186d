package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelBackend persists entries in an embedded leveldb database so warm
// caches survive a restart. Entries live under "e:<ns>:<key>", their
// insertion stamps under "m:<ns>:<key>"; the stamp index is mirrored in
// memory and rebuilt from the "m:" range on open.
type LevelBackend struct {
	db     *leveldb.DB
	logger *slog.Logger

	mu    sync.Mutex
	index map[string]map[string]time.Time
}

type entryMeta struct {
	StoredAt time.Time
}

func NewLevelBackend(path string, logger *slog.Logger) (*LevelBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: open leveldb: %w", err)
	}
	b := &LevelBackend{
		db:     db,
		logger: logger.With("component", "cache.leveldb"),
		index:  make(map[string]map[string]time.Time),
	}
	if err := b.loadIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: load index: %w", err)
	}
	return b, nil
}

func (b *LevelBackend) loadIndex() error {
	it := b.db.NewIterator(util.BytesPrefix([]byte("m:")), nil)
	defer it.Release()

	for it.Next() {
		ns, key, ok := splitStoreKey(it.Key())
		if !ok {
			continue
		}
		var meta entryMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			b.logger.Warn("dropping unreadable index entry", "key", string(it.Key()), "error", err)
			continue
		}
		space, ok := b.index[ns]
		if !ok {
			space = make(map[string]time.Time)
			b.index[ns] = space
		}
		space[key] = meta.StoredAt
	}
	return it.Error()
}

func (b *LevelBackend) Get(namespace, key string) (Entry, bool) {
	raw, err := b.db.Get(storeKey("e:", namespace, key), nil)
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := decodeGob(raw, &e); err != nil {
		b.logger.Warn("dropping undecodable entry", "namespace", namespace, "key", key, "error", err)
		return Entry{}, false
	}
	return e, true
}

func (b *LevelBackend) Put(namespace, key string, e Entry) {
	raw, err := encodeGob(e)
	if err != nil {
		b.logger.Warn("cache put skipped, encode failed", "namespace", namespace, "key", key, "error", err)
		return
	}
	mb, err := encodeGob(entryMeta{StoredAt: e.StoredAt})
	if err != nil {
		b.logger.Warn("cache put skipped, encode failed", "namespace", namespace, "key", key, "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	batch := new(leveldb.Batch)
	batch.Put(storeKey("e:", namespace, key), raw)
	batch.Put(storeKey("m:", namespace, key), mb)
	if err := b.db.Write(batch, nil); err != nil {
		b.logger.Warn("cache put failed", "namespace", namespace, "key", key, "error", err)
		return
	}

	space, ok := b.index[namespace]
	if !ok {
		space = make(map[string]time.Time)
		b.index[namespace] = space
	}
	space[key] = e.StoredAt
}

func (b *LevelBackend) Delete(namespace, key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	space := b.index[namespace]
	if _, ok := space[key]; !ok {
		return false
	}

	batch := new(leveldb.Batch)
	batch.Delete(storeKey("e:", namespace, key))
	batch.Delete(storeKey("m:", namespace, key))
	if err := b.db.Write(batch, nil); err != nil {
		b.logger.Warn("cache delete failed", "namespace", namespace, "key", key, "error", err)
		return false
	}

	delete(space, key)
	return true
}

func (b *LevelBackend) Keys(namespace string) []string {
	stamps := b.Stamps(namespace)
	keys := make([]string, len(stamps))
	for i, s := range stamps {
		keys[i] = s.Key
	}
	return keys
}

func (b *LevelBackend) Stamps(namespace string) []Stamp {
	b.mu.Lock()
	space := b.index[namespace]
	stamps := make([]Stamp, 0, len(space))
	for k, at := range space {
		stamps = append(stamps, Stamp{Key: k, StoredAt: at})
	}
	b.mu.Unlock()

	sort.Slice(stamps, func(i, j int) bool {
		if stamps[i].StoredAt.Equal(stamps[j].StoredAt) {
			return stamps[i].Key < stamps[j].Key
		}
		return stamps[i].StoredAt.Before(stamps[j].StoredAt)
	})
	return stamps
}

func (b *LevelBackend) DeleteNamespace(namespace string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := new(leveldb.Batch)
	for key := range b.index[namespace] {
		batch.Delete(storeKey("e:", namespace, key))
		batch.Delete(storeKey("m:", namespace, key))
	}
	if err := b.db.Write(batch, nil); err != nil {
		b.logger.Warn("namespace clear failed", "namespace", namespace, "error", err)
		return
	}
	delete(b.index, namespace)
}

func (b *LevelBackend) Close() error {
	return b.db.Close()
}

// storeKey builds "<prefix><ns>:<key>". Namespace names are fixed
// identifiers without ':', so the split is unambiguous even when the request
// key contains one.
func storeKey(prefix, namespace, key string) []byte {
	return []byte(prefix + namespace + ":" + key)
}

func splitStoreKey(raw []byte) (namespace, key string, ok bool) {
	s := string(raw)
	if len(s) < 2 {
		return "", "", false
	}
	s = s[2:] // strip "e:"/"m:"
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(raw []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(v)
}
