package users

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/mockapi/internal/apierror"
	"github.com/MarcoPoloResearchLab/mockapi/internal/auth"
	"github.com/MarcoPoloResearchLab/mockapi/internal/changes"
	"github.com/MarcoPoloResearchLab/mockapi/internal/dataset"
	"go.uber.org/zap"
)

// RegisteredMessage is returned in the body of a successful registration.
const RegisteredMessage = "User registered successfully"

const (
	fieldUsername = "username"
	fieldPassword = "password"

	opRegister = "users.register"
	opLogin    = "users.login"
)

var (
	errMissingStore  = errors.New("users: dataset store required")
	errMissingTokens = errors.New("users: token service required")
)

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Store     *dataset.Store
	Tokens    *auth.TokenService
	Publisher changes.Publisher
	Logger    *zap.Logger
}

// Service registers accounts in the users collection and issues tokens at login.
type Service struct {
	store     *dataset.Store
	tokens    *auth.TokenService
	publisher changes.Publisher
	logger    *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     cfg.Store,
		tokens:    cfg.Tokens,
		publisher: cfg.Publisher,
		logger:    logger,
	}, nil
}

// Register appends account to the users collection with the next free id.
func (s *Service) Register(ctx context.Context, account dataset.Record) (int64, error) {
	username, _ := account[fieldUsername].(string)
	if normalize(username) == "" {
		return 0, apierror.BadRequest(opRegister, "username is required")
	}

	users, err := s.readUsers(ctx, opRegister)
	if err != nil {
		return 0, err
	}
	for _, existing := range users {
		if existingName, _ := existing[fieldUsername].(string); existingName == username {
			return 0, apierror.BadRequest(opRegister, "username already registered")
		}
	}

	created := account.Clone()
	id := dataset.NextID(users)
	created[dataset.IDField] = id
	users = append(users, created)
	if err := s.store.Write(ctx, dataset.UsersCollection, users, true); err != nil {
		s.logger.Error("user registration failed", zap.String("operation", opRegister), zap.Error(err))
		return 0, err
	}
	if s.publisher != nil {
		s.publisher.Publish(changes.Event{Collection: dataset.UsersCollection, Operation: changes.OperationRegister, ID: id})
	}
	s.logger.Info("user registered", zap.Int64("user_id", id))
	return id, nil
}

// Login returns a token for the account whose username and password match exactly.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	users, err := s.readUsers(ctx, opLogin)
	if err != nil {
		return "", err
	}
	for _, candidate := range users {
		candidateName, nameOK := candidate[fieldUsername].(string)
		candidatePassword, passwordOK := candidate[fieldPassword].(string)
		if !nameOK || !passwordOK || candidateName != username || candidatePassword != password {
			continue
		}
		id, ok := candidate.ID()
		if !ok || id == 0 {
			continue
		}
		token, err := s.tokens.Issue(auth.UserID(id))
		if err != nil {
			s.logger.Error("token issuance failed", zap.String("operation", opLogin), zap.Error(err))
			return "", apierror.Wrap(apierror.KindInternal, opLogin, "token issuance failed", err)
		}
		return token, nil
	}
	s.logger.Info("login rejected", zap.String("username", username))
	return "", apierror.InvalidCredentials(opLogin)
}

func (s *Service) readUsers(ctx context.Context, operation string) ([]dataset.Record, error) {
	users, err := s.store.Read(ctx, dataset.UsersCollection)
	if apierror.KindOf(err) == apierror.KindNotFound {
		return []dataset.Record{}, nil
	}
	if err != nil {
		s.logger.Error("users collection unavailable", zap.String("operation", operation), zap.Error(err))
		return nil, err
	}
	return users, nil
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
