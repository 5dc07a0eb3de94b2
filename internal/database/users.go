package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Neutral weight assigned the first time feedback touches a tag, and the
// step applied per feedback event.
const (
	NeutralWeight = 0.5
	WeightStep    = 0.1
)

// CreateUser inserts a user with a generated ID.
func (db *DB) CreateUser(ctx context.Context, email, name string) (*User, error) {
	u := &User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, nullString(u.Name), u.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUser returns a user with subscriptions populated. Weights are loaded
// separately with GetWeightTable (see LoadProfile).
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	return db.getUserWhere(ctx, "id = ?", id)
}

// GetUserByEmail returns a user by email with subscriptions populated.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return db.getUserWhere(ctx, "email = ?", email)
}

// LoadProfile returns a user with subscriptions and learned weights.
func (db *DB) LoadProfile(ctx context.Context, id string) (*User, error) {
	u, err := db.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	weights, err := db.GetWeightTable(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Weights = *weights
	return u, nil
}

// ListUsers returns all users ordered by creation time.
func (db *DB) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, email, name, created_at FROM users ORDER BY created_at, email")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var name *string
		var created int64
		if err := rows.Scan(&u.ID, &u.Email, &name, &created); err != nil {
			return nil, err
		}
		if name != nil {
			u.Name = *name
		}
		u.CreatedAt = time.UnixMilli(created)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *DB) getUserWhere(ctx context.Context, where string, arg any) (*User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, email, name, created_at FROM users WHERE "+where, arg)

	var u User
	var name *string
	var created int64
	if err := row.Scan(&u.ID, &u.Email, &name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if name != nil {
		u.Name = *name
	}
	u.CreatedAt = time.UnixMilli(created)

	subs, err := db.GetSubscriptions(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Subscriptions = *subs
	return &u, nil
}

// Subscribe adds an explicit subscription to a tag value.
func (db *DB) Subscribe(ctx context.Context, userID, dimension, value string) error {
	if !validDimension(dimension) {
		return fmt.Errorf("unknown dimension %q", dimension)
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions (user_id, dimension, value) VALUES (?, ?, ?)`,
		userID, dimension, value,
	)
	return err
}

// Unsubscribe removes an explicit subscription.
func (db *DB) Unsubscribe(ctx context.Context, userID, dimension, value string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_id = ? AND dimension = ? AND value = ?`,
		userID, dimension, value,
	)
	return err
}

// GetSubscriptions returns a user's explicit subscriptions.
func (db *DB) GetSubscriptions(ctx context.Context, userID string) (*Tags, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT dimension, value FROM subscriptions WHERE user_id = ? ORDER BY dimension, value`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := &Tags{}
	for rows.Next() {
		var dim, value string
		if err := rows.Scan(&dim, &value); err != nil {
			return nil, err
		}
		switch dim {
		case DimCompany:
			tags.Companies = append(tags.Companies, value)
		case DimIndustry:
			tags.Industries = append(tags.Industries, value)
		case DimTechnology:
			tags.Technologies = append(tags.Technologies, value)
		case DimPerson:
			tags.People = append(tags.People, value)
		case DimTopic:
			tags.Topics = append(tags.Topics, value)
		}
	}
	return tags, rows.Err()
}

// GetWeightTable returns the user's learned weights as of now. Users with
// no feedback get an empty table.
func (db *DB) GetWeightTable(ctx context.Context, userID string) (*WeightTable, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT dimension, tag, weight FROM learned_weights WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	w := &WeightTable{
		Companies:  make(map[string]float64),
		Industries: make(map[string]float64),
		Topics:     make(map[string]float64),
	}
	for rows.Next() {
		var dim, tag string
		var weight float64
		if err := rows.Scan(&dim, &tag, &weight); err != nil {
			return nil, err
		}
		switch dim {
		case DimCompany:
			w.Companies[tag] = weight
		case DimIndustry:
			w.Industries[tag] = weight
		case DimTopic:
			w.Topics[tag] = weight
		}
	}
	return w, rows.Err()
}

// ApplyItemFeedback nudges the user's learned weight for every company,
// industry and topic tag on the item: +0.1 when positive, -0.1 otherwise,
// starting from 0.5 for unseen tags and clamped to [0,1]. Concurrent
// feedback on the same tag is last-write-wins.
func (db *DB) ApplyItemFeedback(ctx context.Context, userID string, itemID int64, positive bool) error {
	item, err := db.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}

	delta := WeightStep
	if !positive {
		delta = -WeightStep
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, dim := range []string{DimCompany, DimIndustry, DimTopic} {
		for _, tag := range item.Tags.Dimension(dim) {
			var current float64
			err := tx.QueryRowContext(ctx,
				`SELECT weight FROM learned_weights WHERE user_id = ? AND dimension = ? AND tag = ?`,
				userID, dim, tag,
			).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				current = NeutralWeight
			} else if err != nil {
				return err
			}

			next := ClampWeight(current + delta)
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO learned_weights (user_id, dimension, tag, weight, updated_at)
				VALUES (?, ?, ?, ?, ?)`,
				userID, dim, tag, next, now,
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// ClampWeight bounds a weight to [0,1], rounding away float drift.
func ClampWeight(w float64) float64 {
	w = float64(int64(w*1e6+0.5)) / 1e6
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

func validDimension(dim string) bool {
	switch dim {
	case DimCompany, DimIndustry, DimTechnology, DimPerson, DimTopic:
		return true
	}
	return false
}
