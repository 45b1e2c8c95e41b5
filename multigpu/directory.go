package multigpu

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/buntdb"

	"github.com/carla-simulator/streamcore/wire"
)

// dirEntry is what's persisted per sensor: the owning secondary's session
// ID and the Token that secondary's GET_TOKEN reply carried.
type dirEntry struct {
	SecondaryID string `json:"secondary_id"`
	Token       []byte `json:"token"`
}

// Directory is the primary-side sensor token directory (C11): sensor_id ->
// (owning secondary, token). Backed by an in-memory buntdb.DB rather than a
// bare map so every sensor owned by a given secondary can be found by an
// indexed range scan at disconnect time, instead of a full table walk.
type Directory struct {
	mu sync.Mutex
	db *buntdb.DB
}

const bySecondaryIndex = "by_secondary"

// NewDirectory opens an in-memory sensor directory.
func NewDirectory() (*Directory, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	if err := db.CreateIndex(bySecondaryIndex, "*", buntdb.IndexJSON("secondary_id")); err != nil {
		db.Close()
		return nil, err
	}
	return &Directory{db: db}, nil
}

func sensorKey(sensorID uint32) string { return fmt.Sprintf("sensor:%d", sensorID) }

// Register records that sensorID is owned by secondaryID and resolves to
// tok, overwriting any previous entry (a secondary reconnecting and
// re-registering the same sensor is expected, not an error).
func (d *Directory) Register(sensorID uint32, secondaryID string, tok wire.Token) error {
	raw, err := json.Marshal(dirEntry{SecondaryID: secondaryID, Token: tok.Bytes()})
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(sensorKey(sensorID), string(raw), nil)
		return err
	})
}

func (d *Directory) lookup(sensorID uint32) (dirEntry, bool) {
	var entry dirEntry
	var found bool
	d.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(sensorKey(sensorID))
		if err != nil {
			return nil // not found is not an error worth surfacing
		}
		if jerr := json.Unmarshal([]byte(val), &entry); jerr == nil {
			found = true
		}
		return nil
	})
	return entry, found
}

// Lookup returns the Token registered for sensorID, if any.
func (d *Directory) Lookup(sensorID uint32) (wire.Token, bool) {
	entry, ok := d.lookup(sensorID)
	if !ok {
		return wire.Token{}, false
	}
	return wire.DecodeToken(entry.Token), true
}

// OwnerOf returns the session ID of the secondary that owns sensorID.
func (d *Directory) OwnerOf(sensorID uint32) (string, bool) {
	entry, ok := d.lookup(sensorID)
	if !ok {
		return "", false
	}
	return entry.SecondaryID, true
}

// InvalidateSecondary drops every sensor entry owned by secondaryID; called
// when that secondary disconnects, so a future GetToken re-resolves it
// against whatever secondary is still alive.
func (d *Directory) InvalidateSecondary(secondaryID string) {
	pivot := fmt.Sprintf(`{"secondary_id":%q}`, secondaryID)
	var keys []string
	d.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendEqual(bySecondaryIndex, pivot, func(key, value string) bool {
			keys = append(keys, key)
			return true
		})
	})
	if len(keys) == 0 {
		return
	}
	d.db.Update(func(tx *buntdb.Tx) error {
		for _, k := range keys {
			tx.Delete(k)
		}
		return nil
	})
}

func (d *Directory) Close() error { return d.db.Close() }
