package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vaultis/vaultis/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(email, tokenHash string) (*model.User, error) {
	now := time.Now().UTC()
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, token_hash, created_at) VALUES (?, ?, ?, ?)`,
		id, email, tokenHash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &model.User{ID: id, Email: email, TokenHash: tokenHash, CreatedAt: now}, nil
}

func (s *UserStore) GetByID(id string) (*model.User, error) {
	u := &model.User{}
	err := s.db.QueryRow(
		`SELECT id, email, token_hash, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.TokenHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}
