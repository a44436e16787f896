package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkanalytics/internal/database"
	"vkanalytics/internal/testsupport"
)

func TestDetectCapabilitiesMigratedSchema(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	caps := database.DetectCapabilities(db, testsupport.GetLogger())
	assert.Equal(t, database.AllCapabilities(), caps)
}

func TestDetectCapabilitiesLegacySchema(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	require.NoError(t, db.Exec("ALTER TABLE visitors DROP COLUMN return_visit_notified_at").Error)
	require.NoError(t, db.Exec("ALTER TABLE visitors DROP COLUMN location_display").Error)

	caps := database.DetectCapabilities(db, testsupport.GetLogger())
	assert.False(t, caps.ReturnVisitColumn)
	assert.False(t, caps.VisitorDisplayColumns)
}

func TestDetectCapabilitiesWithoutStore(t *testing.T) {
	assert.Equal(t, database.Capabilities{}, database.DetectCapabilities(nil, testsupport.GetLogger()))
}
