package database

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestConnectRedis(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)

	client, err := ConnectRedis("redis://"+mini.Addr()+"/0", "engine")
	require.NoError(t, err)
	require.Equal(t, "engine", client.Options().ClientName)
	require.NoError(t, client.Close())

	_, err = ConnectRedis("", "engine")
	require.Error(t, err)
	_, err = ConnectRedis("://bad", "engine")
	require.Error(t, err)

	addr := mini.Addr()
	mini.Close()
	_, err = ConnectRedis("redis://"+addr+"/0", "engine")
	require.ErrorContains(t, err, "usage cache redis")
}

func TestConnectorsRejectEmptyURLs(t *testing.T) {
	_, err := ConnectPostgres("")
	require.Error(t, err)
	_, err = ConnectNATS("", "engine")
	require.Error(t, err)
}

func TestMigrateCreatesEngineTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, table := range []string{"questions", "question_usages", "question_attempts", "question_attempt_steps", "question_attempt_step_data"} {
		require.True(t, db.Migrator().HasTable(table), table)
	}
}
