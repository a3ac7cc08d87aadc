package service

import (
	"context"

	"license-service/internal/apperr"
	"license-service/internal/events"
	"license-service/internal/models"
	"license-service/internal/repository/scylla"
	"license-service/internal/session"
)

// UserService owns the minimal user lifecycle the license system needs:
// account records to issue licenses against, and sessions for the admin
// surface. Credential verification is delegated to the upstream identity
// provider.
type UserService struct {
	users    scylla.UserRepository
	sessions *session.Manager
	bus      *events.Bus
}

func NewUserService(users scylla.UserRepository, sessions *session.Manager, bus *events.Bus) *UserService {
	return &UserService{users: users, sessions: sessions, bus: bus}
}

func (s *UserService) Register(ctx context.Context, email, username string) (*models.User, error) {
	if email == "" || username == "" {
		return nil, apperr.New(apperr.KindValidation, "VALIDATION_ERROR", "email and username are required")
	}

	user := &models.User{Email: email, Username: username}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, models.EventUserRegistered, user.ID, map[string]interface{}{
		"email":    user.Email,
		"username": user.Username,
	})
	return user, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetUserByID(ctx, id)
}

// Login establishes a session for an already-authenticated user.
func (s *UserService) Login(ctx context.Context, userID, ipAddress string) (*models.SessionInfo, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	info, err := s.sessions.Create(ctx, map[string]interface{}{
		"userId":    user.ID,
		"username":  user.Username,
		"ipAddress": ipAddress,
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, models.EventUserLogin, user.ID, map[string]interface{}{
		"ipAddress": ipAddress,
	})
	return info, nil
}

func (s *UserService) Logout(ctx context.Context, sessionID string) bool {
	return s.sessions.Destroy(ctx, sessionID)
}
