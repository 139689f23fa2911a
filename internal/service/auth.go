package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/titantix/gate/internal/config"
	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/repository"
)

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("user already exists")
	// ErrUnauthorized is returned for a missing, expired or forged session token.
	ErrUnauthorized = errors.New("unauthorized")
)

const roleAdmin = "admin"

// Claims are carried by administrator session tokens.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService authenticates administrators with bcrypt password hashes and
// HS256 session tokens.
type AuthService struct {
	logger   *logrus.Logger
	users    repository.UserStore
	validate *validator.Validate
	secret   []byte
	ttl      time.Duration
	cost     int
	now      func() time.Time
}

// NewAuthService constructs an AuthService.
func NewAuthService(logger *logrus.Logger, users repository.UserStore, cfg config.AuthConfig) *AuthService {
	return &AuthService{
		logger:   logger,
		users:    users,
		validate: validator.New(),
		secret:   []byte(cfg.JWTSecret),
		ttl:      cfg.TokenTTL,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// Login checks the password and issues a session token.
func (a *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := validateStruct(ctx, a.validate, req); err != nil {
		return nil, err
	}

	u, err := a.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		a.logger.WithField("email", req.Email).Warn("failed login")
		return nil, ErrInvalidCredentials
	}
	return a.session(u)
}

// Register creates another administrator and signs them in.
func (a *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := validateStruct(ctx, a.validate, req); err != nil {
		return nil, err
	}

	u, err := a.create(ctx, req.Email, req.Password, req.Name)
	if err != nil {
		return nil, err
	}
	a.logger.WithField("email", u.Email).Info("administrator registered")
	return a.session(u)
}

// Me returns the user the claims belong to.
func (a *AuthService) Me(ctx context.Context, claims *Claims) (*model.User, error) {
	u, err := a.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// Parse validates a session token.
func (a *AuthService) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// EnsureDefaultAdmin creates the first administrator when the store has
// none. Without a password nothing is created.
func (a *AuthService) EnsureDefaultAdmin(ctx context.Context, email, password string) (bool, error) {
	n, err := a.users.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if password == "" {
		a.logger.Warn("no administrators exist and ADMIN_PASSWORD is not set")
		return false, nil
	}
	u, err := a.create(ctx, normalizeEmail(email), password, "Admin")
	if err != nil {
		return false, err
	}
	a.logger.WithField("email", u.Email).Info("default administrator created")
	return true, nil
}

func (a *AuthService) create(ctx context.Context, email, password, name string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		Role:         roleAdmin,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

func (a *AuthService) session(u *model.User) (*model.AuthResponse, error) {
	now := a.now()
	claims := Claims{
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	return &model.AuthResponse{Success: true, Token: signed, User: *u}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
