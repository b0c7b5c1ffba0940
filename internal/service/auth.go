package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/flicky/storefront/internal/dto"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// CartMerger folds a guest cart into a user's cart once they sign in.
type CartMerger interface {
	MergeGuestIntoUser(ctx context.Context, userID uuid.UUID, sessionID string) error
}

type AuthService struct {
	userRepo  repository.UserRepository
	carts     CartMerger
	jwtSecret []byte
	jwtExpiry time.Duration
	logger    *slog.Logger
}

func NewAuthService(userRepo repository.UserRepository, carts CartMerger, jwtSecret string, jwtExpiry time.Duration, logger *slog.Logger) *AuthService {
	return &AuthService{userRepo: userRepo, carts: carts, jwtSecret: []byte(jwtSecret), jwtExpiry: jwtExpiry, logger: logger}
}

// Register creates a customer account. A guest cart held under
// guestSessionID moves to the new account.
func (s *AuthService) Register(ctx context.Context, req dto.RegisterRequest, guestSessionID string) (*dto.AuthResponse, error) {
	existing, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if existing != nil {
		return nil, ErrUserAlreadyExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Email: req.Email, Password: string(hashed),
		FirstName: req.FirstName, LastName: req.LastName, Role: "customer",
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.mergeCart(ctx, user.ID, guestSessionID)

	token, err := s.generateToken(user)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &dto.AuthResponse{Token: token, User: toUserResponse(user)}, nil
}

// Login checks credentials and merges the caller's guest cart into the
// account.
func (s *AuthService) Login(ctx context.Context, req dto.LoginRequest, guestSessionID string) (*dto.AuthResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	s.mergeCart(ctx, user.ID, guestSessionID)

	token, err := s.generateToken(user)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &dto.AuthResponse{Token: token, User: toUserResponse(user)}, nil
}

// mergeCart never fails the sign-in; the guest lines simply stay put.
func (s *AuthService) mergeCart(ctx context.Context, userID uuid.UUID, guestSessionID string) {
	if s.carts == nil || guestSessionID == "" {
		return
	}
	if err := s.carts.MergeGuestIntoUser(ctx, userID, guestSessionID); err != nil {
		s.logger.Error("merge guest cart failed", "user_id", userID, "error", err)
	}
}

func (s *AuthService) generateToken(user *model.User) (string, error) {
	claims := jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role,
		"exp":  time.Now().Add(s.jwtExpiry).Unix(),
		"iat":  time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func toUserResponse(user *model.User) dto.UserResponse {
	return dto.UserResponse{
		ID: user.ID, Email: user.Email,
		FirstName: user.FirstName, LastName: user.LastName, Role: user.Role,
	}
}
