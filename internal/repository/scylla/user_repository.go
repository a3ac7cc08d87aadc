package scylla

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"license-service/internal/apperr"
	"license-service/internal/models"
	"license-service/internal/util"
)

const (
	insertUserCQL = `INSERT INTO users (id, email, username, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`
	selectUserCQL = `SELECT id, email, username, created_at, updated_at FROM users WHERE id = ?`
)

type userRepository struct {
	client *ScyllaClient
}

func NewUserRepository(client *ScyllaClient, logger *zap.Logger) UserRepository {
	return &userRepository{client: client}
}

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	err := r.client.Session.Query(insertUserCQL,
		user.ID, user.Email, user.Username, user.CreatedAt, user.UpdatedAt).
		WithContext(ctx).Exec()
	if err != nil {
		util.Error("failed to create user",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return storeErr("failed to create user", err)
	}
	return nil
}

func (r *userRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	err := r.client.Session.Query(selectUserCQL, id).WithContext(ctx).Scan(
		&user.ID, &user.Email, &user.Username, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, apperr.Wrap(apperr.KindNotFound, "USER_NOT_FOUND", "user not found", err)
		}
		return nil, storeErr("failed to read user", err)
	}
	return user, nil
}
