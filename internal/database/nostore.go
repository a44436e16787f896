package database

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNoStore is returned by NoStore.Connect.
var ErrNoStore = errors.New("database: no analytics store configured")

// NoStore satisfies cartridge.DBManager for a server booted without a store.
// It never hands out a connection, so handlers take their store from
// explicit dependencies rather than the request context.
type NoStore struct{}

func (NoStore) GetConnection() *gorm.DB { return nil }

func (NoStore) Connect() (*gorm.DB, error) { return nil, ErrNoStore }
