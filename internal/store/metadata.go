package store

import (
	"database/sql"
	"errors"
)

// settingSeeded records when Initialize loaded its seed.
const settingSeeded = "seeded_at"

// setSetting upserts a key-value pair in the settings table.
func setSetting(q queryer, key, value string) error {
	_, err := q.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// getSetting returns the value for a settings key, or "" if it is missing.
func getSetting(q queryer, key string) (string, error) {
	var value string
	err := q.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
