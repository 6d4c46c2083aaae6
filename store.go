package main

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/jas-dzied/room-matcher/solver"
)

//go:embed schema.sql
var schema string

var errRosterNotFound = errors.New("roster not found")

// openDB connects to Postgres, verifies the connection, and applies
// the schema.
func openDB(conn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// loadRoster reads a roster's population and partner lists. The
// population keeps insertion order.
func loadRoster(db *sql.DB, rosterID int64) ([]string, solver.Constraints, error) {
	var exists bool
	if err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM rosters WHERE id = $1)", rosterID).Scan(&exists); err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, errRosterNotFound
	}

	rows, err := db.Query("SELECT id, name FROM people WHERE roster_id = $1 ORDER BY id", rosterID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var population []string
	var personIDs []int64
	names := map[int64]string{}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, nil, err
		}
		population = append(population, name)
		personIDs = append(personIDs, id)
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	constraints := solver.Constraints{}
	for _, name := range population {
		constraints[name] = solver.Entry{}
	}

	prefRows, err := db.Query(
		"SELECT person_id, other_id, kind FROM preferences WHERE person_id = ANY($1) ORDER BY person_id, other_id",
		pq.Array(personIDs))
	if err != nil {
		return nil, nil, err
	}
	defer prefRows.Close()

	for prefRows.Next() {
		var personID, otherID int64
		var kind string
		if err := prefRows.Scan(&personID, &otherID, &kind); err != nil {
			return nil, nil, err
		}
		entry := constraints[names[personID]]
		switch kind {
		case "preferred":
			entry.Preferred = append(entry.Preferred, names[otherID])
		case "unpreferred":
			entry.Unpreferred = append(entry.Unpreferred, names[otherID])
		}
		constraints[names[personID]] = entry
	}
	if err := prefRows.Err(); err != nil {
		return nil, nil, err
	}

	return population, constraints, nil
}

// replacePreferences swaps out a person's partner lists in one
// transaction. Both lists name people from the same roster; the
// caller has already resolved them to IDs.
func replacePreferences(db *sql.DB, personID int64, preferred, unpreferred []int64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM preferences WHERE person_id = $1", personID); err != nil {
		return err
	}
	for _, otherID := range preferred {
		if _, err := tx.Exec(
			"INSERT INTO preferences (person_id, other_id, kind) VALUES ($1, $2, 'preferred')",
			personID, otherID); err != nil {
			return err
		}
	}
	for _, otherID := range unpreferred {
		if _, err := tx.Exec(
			"INSERT INTO preferences (person_id, other_id, kind) VALUES ($1, $2, 'unpreferred')",
			personID, otherID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// resolveNames maps person names to IDs within one roster. Unknown
// names come back in the error.
func resolveNames(db *sql.DB, rosterID int64, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		var id int64
		err := db.QueryRow(
			"SELECT id FROM people WHERE roster_id = $1 AND name = $2", rosterID, name).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no person named %q in roster", name)
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
