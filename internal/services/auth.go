package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	userrepo "github.com/yungbote/mindbridge-backend/internal/data/repos/user"
	"github.com/yungbote/mindbridge-backend/internal/domain/user"
	"github.com/yungbote/mindbridge-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/mindbridge-backend/internal/pkg/errors"
	"github.com/yungbote/mindbridge-backend/internal/platform/apierr"
	"github.com/yungbote/mindbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/mindbridge-backend/internal/platform/logger"
)

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
)

type JWTClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type LoginResult struct {
	Token   string
	NewUser bool
}

type AuthService interface {
	// LoginOrSignUp signs the user in, creating the account on first use.
	LoginOrSignUp(ctx context.Context, email, password string) (*LoginResult, error)
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	GetAccessTTL() time.Duration
}

type authService struct {
	log          *logger.Logger
	userRepo     userrepo.UserRepo
	jwtSecretKey string
	accessTTL    time.Duration
	now          func() time.Time
}

func NewAuthService(log *logger.Logger, userRepo userrepo.UserRepo, jwtSecretKey string, accessTTL time.Duration) AuthService {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &authService{
		log:          log.With("service", "AuthService"),
		userRepo:     userRepo,
		jwtSecretKey: jwtSecretKey,
		accessTTL:    accessTTL,
		now:          time.Now,
	}
}

func (as *authService) LoginOrSignUp(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apierr.BadRequest("invalid_request", "Email and password are required")
	}
	dbc := dbctx.Context{Ctx: ctx}

	newUser := false
	u, err := as.userRepo.GetByEmail(dbc, email)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		hash, hErr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if hErr != nil {
			return nil, fmt.Errorf("hash password: %w", hErr)
		}
		u, err = as.userRepo.Create(dbc, &user.User{Email: email, Password: string(hash)})
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		newUser = true
		as.log.Info("User signed up", "user_id", u.ID)
	case err != nil:
		return nil, fmt.Errorf("load user: %w", err)
	default:
		if cErr := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); cErr != nil {
			return nil, apierr.New(http.StatusUnauthorized, "invalid_credentials", errors.New("Invalid email or password"))
		}
	}

	tok, err := as.generateAccessToken(u)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	return &LoginResult{Token: tok, NewUser: newUser}, nil
}

func (as *authService) generateAccessToken(u *user.User) (string, error) {
	now := as.now()
	claims := JWTClaims{
		UserID: u.ID.String(),
		Email:  u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}

// SetContextFromToken verifies tokenString and stores the caller identity on ctx.
func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(as.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ctx, ErrTokenExpired
		}
		return ctx, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid {
		return ctx, ErrTokenInvalid
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return ctx, fmt.Errorf("%w: bad user id", ErrTokenInvalid)
	}
	return ctxutil.WithIdentity(ctx, &ctxutil.Identity{UserID: userID, Email: claims.Email}), nil
}

func (as *authService) GetAccessTTL() time.Duration {
	return as.accessTTL
}
