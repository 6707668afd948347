// Package invdb persists inventories and player records in a bolt file.
package invdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/vmihailenco/msgpack/v5"

	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/sim/inventory"
)

// Keys in the data bucket start with a one-byte keyspace prefix.
const (
	spaceInventory byte = 'i'
	spacePlayer    byte = 'P'
	spaceMeta      byte = '0'
)

var dataBucket = []byte("data")

const schemaVersion = 1

type DB struct {
	db *bolt.DB
}

func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(dataBucket)
		if err != nil {
			return err
		}
		vk := []byte{spaceMeta, 'v'}
		if v := bkt.Get(vk); v != nil {
			if len(v) != 1 || v[0] != schemaVersion {
				return fmt.Errorf("unsupported schema version %v", v)
			}
			return nil
		}
		return bkt.Put(vk, []byte{schemaVersion})
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func invKey(k inventory.Key) []byte {
	return append([]byte{spaceInventory}, k.Bytes()...)
}

func playerKey(name string) []byte {
	return append([]byte{spacePlayer}, name...)
}

func (d *DB) Load(key inventory.Key) (protocol.Inventory, bool, error) {
	var inv protocol.Inventory
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get(invKey(key))
		if v == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(v, &inv)
	})
	if err != nil {
		return protocol.Inventory{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	if found && !inv.Valid() {
		return protocol.Inventory{}, false, fmt.Errorf("load %s: corrupt inventory %dx%d with %d slots", key, inv.Height, inv.Width, len(inv.Contents))
	}
	return inv, found, nil
}

// SaveAll writes every inventory in one transaction.
func (d *DB) SaveAll(invs map[inventory.Key]protocol.Inventory) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(dataBucket)
		for k, inv := range invs {
			b, err := msgpack.Marshal(&inv)
			if err != nil {
				return fmt.Errorf("encode %s: %w", k, err)
			}
			if err := bkt.Put(invKey(k), b); err != nil {
				return err
			}
		}
		return nil
	})
}

// Player is the persisted part of a player.
type Player struct {
	Name          string                  `msgpack:"name"`
	MainInventory []byte                  `msgpack:"main_inv"`
	Position      protocol.PlayerPosition `msgpack:"pos"`
}

var ErrNoPlayer = errors.New("player not found")

func (d *DB) LoadPlayer(name string) (Player, error) {
	var p Player
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get(playerKey(name))
		if v == nil {
			return ErrNoPlayer
		}
		return msgpack.Unmarshal(v, &p)
	})
	return p, err
}

func (d *DB) SavePlayer(p Player) error {
	b, err := msgpack.Marshal(&p)
	if err != nil {
		return fmt.Errorf("encode player %s: %w", p.Name, err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dataBucket).Put(playerKey(p.Name), b)
	})
}
