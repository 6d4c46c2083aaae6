package main

import (
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testDB connects to the Postgres named by ROOM_MATCHER_TEST_PG and
// gives the test a throwaway roster. Skips when the variable is unset.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	conn := os.Getenv("ROOM_MATCHER_TEST_PG")
	if conn == "" {
		t.Skip("ROOM_MATCHER_TEST_PG not set")
	}
	db, err := openDB(conn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestRoster(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	var id int64
	name := fmt.Sprintf("test-roster-%d", time.Now().UnixNano())
	require.NoError(t,
		db.QueryRow("INSERT INTO rosters (name) VALUES ($1) RETURNING id", name).Scan(&id))
	t.Cleanup(func() { db.Exec("DELETE FROM rosters WHERE id = $1", id) })
	return id
}

func addTestPerson(t *testing.T, db *sql.DB, rosterID int64, name string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, db.QueryRow(
		"INSERT INTO people (roster_id, name) VALUES ($1, $2) RETURNING id",
		rosterID, name).Scan(&id))
	return id
}

func TestLoadRosterRoundTrip(t *testing.T) {
	db := testDB(t)
	rosterID := createTestRoster(t, db)

	alice := addTestPerson(t, db, rosterID, "alice")
	bob := addTestPerson(t, db, rosterID, "bob")
	carol := addTestPerson(t, db, rosterID, "carol")
	addTestPerson(t, db, rosterID, "dave")

	require.NoError(t, replacePreferences(db, alice, []int64{bob}, []int64{carol}))
	require.NoError(t, replacePreferences(db, bob, []int64{alice}, nil))

	population, constraints, err := loadRoster(db, rosterID)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob", "carol", "dave"}, population)
	require.Equal(t, []string{"bob"}, constraints["alice"].Preferred)
	require.Equal(t, []string{"carol"}, constraints["alice"].Unpreferred)
	require.Equal(t, []string{"alice"}, constraints["bob"].Preferred)
	require.Empty(t, constraints["carol"].Preferred)
	require.Empty(t, constraints["dave"].Unpreferred)
}

func TestLoadRosterUnknownID(t *testing.T) {
	db := testDB(t)
	_, _, err := loadRoster(db, -1)
	require.ErrorIs(t, err, errRosterNotFound)
}

func TestReplacePreferencesSwapsLists(t *testing.T) {
	db := testDB(t)
	rosterID := createTestRoster(t, db)

	alice := addTestPerson(t, db, rosterID, "alice")
	bob := addTestPerson(t, db, rosterID, "bob")
	carol := addTestPerson(t, db, rosterID, "carol")
	addTestPerson(t, db, rosterID, "dave")

	require.NoError(t, replacePreferences(db, alice, []int64{bob}, nil))
	require.NoError(t, replacePreferences(db, alice, []int64{carol}, []int64{bob}))

	_, constraints, err := loadRoster(db, rosterID)
	require.NoError(t, err)
	require.Equal(t, []string{"carol"}, constraints["alice"].Preferred)
	require.Equal(t, []string{"bob"}, constraints["alice"].Unpreferred)
}

func TestResolveNamesRejectsUnknown(t *testing.T) {
	db := testDB(t)
	rosterID := createTestRoster(t, db)

	alice := addTestPerson(t, db, rosterID, "alice")
	addTestPerson(t, db, rosterID, "bob")

	ids, err := resolveNames(db, rosterID, []string{"alice", "bob"})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Equal(t, alice, ids[0])

	_, err = resolveNames(db, rosterID, []string{"zed"})
	require.ErrorContains(t, err, "zed")
}

func TestIsUniqueViolationOnDuplicateRoster(t *testing.T) {
	db := testDB(t)
	rosterID := createTestRoster(t, db)

	var name string
	require.NoError(t,
		db.QueryRow("SELECT name FROM rosters WHERE id = $1", rosterID).Scan(&name))

	_, err := db.Exec("INSERT INTO rosters (name) VALUES ($1)", name)
	require.True(t, isUniqueViolation(err))
	require.False(t, isUniqueViolation(nil))
}
