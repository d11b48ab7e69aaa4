package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/Clark-Hu/bookshelf-api/internal/domain"
	"github.com/Clark-Hu/bookshelf-api/internal/repository"
)

var (
	// ErrInvalidInput wraps malformed signup or login payloads.
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrInvalidCredentials covers both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken covers missing, malformed, forged and expired tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = errors.New("auth: email already registered")
)

// UserStore is the account persistence the service needs.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
}

// Options tunes token issuance and hashing.
type Options struct {
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
	Now        func() time.Time
}

// Service authenticates users and issues bearer tokens.
type Service struct {
	users    UserStore
	secret   []byte
	ttl      time.Duration
	cost     int
	now      func() time.Time
	validate *validator.Validate
}

// Credentials is the signup and login payload.
type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// NewService constructs a Service. A zero TokenTTL means 24h and a zero
// BcryptCost means bcrypt.DefaultCost.
func NewService(users UserStore, opts Options) *Service {
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		users:    users,
		secret:   opts.Secret,
		ttl:      ttl,
		cost:     cost,
		now:      now,
		validate: validator.New(),
	}
}

// Signup registers a new account and returns its id.
func (s *Service) Signup(ctx context.Context, creds Credentials) (string, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if err := s.validate.Struct(creds); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidInput, describe(err))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Create(ctx, creds.Email, string(hash))
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return "", ErrEmailTaken
		}
		return "", err
	}
	return user.ID, nil
}

// Authenticate checks creds and returns the user id.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	email := strings.TrimSpace(creds.Email)
	if email == "" || creds.Password == "" {
		return "", fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return user.ID, nil
}

// IssueToken signs an HS256 token carrying userID that expires after the
// configured TTL.
func (s *Service) IssueToken(userID string) (string, error) {
	now := s.now()
	c := claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// ValidateToken verifies signature and expiry and returns the user id.
func (s *Service) ValidateToken(raw string) (string, error) {
	if raw == "" {
		return "", ErrInvalidToken
	}
	var c claims
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}, SkipClaimsValidation: true}
	if _, err := parser.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}); err != nil {
		return "", ErrInvalidToken
	}
	if c.ExpiresAt == nil || !s.now().Before(c.ExpiresAt.Time) {
		return "", ErrInvalidToken
	}
	if c.UserID == "" {
		return "", ErrInvalidToken
	}
	return c.UserID, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return strings.ToLower(fe.Field()) + " is required"
	case "email":
		return "email must be a valid address"
	case "min":
		return strings.ToLower(fe.Field()) + " must be at least " + fe.Param() + " characters"
	case "max":
		return strings.ToLower(fe.Field()) + " must be at most " + fe.Param() + " characters"
	default:
		return strings.ToLower(fe.Field()) + " is invalid"
	}
}
