// Package auth registers users, checks their credentials and issues the
// tokens the HTTP API expects.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mossy-p/rtc-rooms/internal/models"
	"github.com/mossy-p/rtc-rooms/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput       = errors.New("invalid registration")
	ErrEmailTaken         = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// maxSuffix bounds the search for a free username
const maxSuffix = 1000

type RegisterRequest struct {
	Username string `json:"username" validate:"required,max=32"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type RegisterResult struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type LoginResult struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type Service struct {
	log        *slog.Logger
	users      store.UserStore
	tokens     *TokenIssuer
	validate   *validator.Validate
	bcryptCost int
}

func NewService(log *slog.Logger, users store.UserStore, tokens *TokenIssuer, bcryptCost int) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		log:        log,
		users:      users,
		tokens:     tokens,
		validate:   validator.New(),
		bcryptCost: bcryptCost,
	}
}

// NormalizeUsername capitalises the first letter, lower-cases the rest and
// drops all whitespace
func NormalizeUsername(username string) string {
	runes := []rune(strings.TrimSpace(username))
	if len(runes) == 0 {
		return ""
	}
	normalized := string(unicode.ToUpper(runes[0])) + strings.ToLower(string(runes[1:]))
	return strings.Join(strings.Fields(normalized), "")
}

// Register stores a new user. A taken username gets the first free numeric
// suffix and the result message says so.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return RegisterResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	base := NormalizeUsername(req.Username)
	if base == "" {
		return RegisterResult{}, fmt.Errorf("%w: empty username", ErrInvalidInput)
	}

	username, err := s.freeUsername(ctx, base)
	if err != nil {
		return RegisterResult{}, err
	}

	if _, err := s.users.FindUserByEmail(ctx, req.Email); err == nil {
		return RegisterResult{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return RegisterResult{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return RegisterResult{}, fmt.Errorf("%w: %v", ErrEmailTaken, err)
		}
		return RegisterResult{}, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("User registered", "user_id", user.ID, "username", username)
	msg := "User registered successfully"
	if username != base {
		msg = "Username already exists, so we modified your username to " + username
	}
	return RegisterResult{Username: username, Message: msg}, nil
}

func (s *Service) freeUsername(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 1; i <= maxSuffix; i++ {
		_, err := s.users.FindUserByUsername(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("lookup username: %w", err)
		}
		candidate = base + strconv.Itoa(i)
	}
	return "", fmt.Errorf("%w: no free username for %q", ErrInvalidInput, base)
}

// Login checks the password and issues a token. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	user, err := s.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.Debug("Login rejected", "username", user.Username)
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, UserID: user.ID, Username: user.Username}, nil
}
