package database_test

import (
	"testing"

	"github.com/karloscodes/cartridge"
	"github.com/stretchr/testify/assert"

	"vkanalytics/internal/database"
)

func TestNoStore(t *testing.T) {
	var m cartridge.DBManager = database.NoStore{}

	assert.Nil(t, m.GetConnection())

	db, err := m.Connect()
	assert.Nil(t, db)
	assert.ErrorIs(t, err, database.ErrNoStore)
}
