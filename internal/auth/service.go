package auth

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"backend-ratemycoffee/internal/db"
	"backend-ratemycoffee/internal/shared/apperr"
	"backend-ratemycoffee/internal/shared/validate"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	denylistPrefix = "auth:denylist:"
)

type Service struct {
	secret  []byte
	db      db.Querier
	rdb     *redis.Client
	limiter *LoginLimiter
}

type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// NewService builds the auth service. rdb and limiter may be nil, which
// disables logout denylisting and login throttling.
func NewService(secret string, q db.Querier, rdb *redis.Client, limiter *LoginLimiter) *Service {
	return &Service{
		secret:  []byte(secret),
		db:      q,
		rdb:     rdb,
		limiter: limiter,
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		return AuthResponse{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	user := User{Name: strings.TrimSpace(req.Name), Email: req.Email, PasswordHash: string(hash)}
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, role)
		VALUES ($1,$2,$3,$4)
		RETURNING id, role, created_at, updated_at
	`, user.Name, user.Email, user.PasswordHash, RoleUser)
	if err := row.Scan(&user.ID, &user.Role, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if db.IsUniqueViolation(err, "users_email_key") {
			return AuthResponse{}, apperr.Conflict("the email has already been taken")
		}
		return AuthResponse{}, err
	}
	return s.issue(ctx, user)
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		return AuthResponse{}, err
	}

	wait, err := s.limiter.Check(ctx, req.Email)
	if err != nil {
		log.Printf("login limiter check: %v", err)
	}
	if wait > 0 {
		return AuthResponse{}, apperr.RateLimited("too many failed login attempts", wait)
	}

	user, err := s.userByEmail(ctx, req.Email)
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
	}
	if err != nil {
		if !db.IsNoRows(err) && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return AuthResponse{}, err
		}
		if _, ferr := s.limiter.Fail(ctx, req.Email); ferr != nil {
			log.Printf("login limiter fail: %v", ferr)
		}
		return AuthResponse{}, apperr.Unauthorized("invalid credentials")
	}

	if err := s.limiter.Reset(ctx, req.Email); err != nil {
		log.Printf("login limiter reset: %v", err)
	}
	return s.issue(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued with the user's current role.
func (s *Service) Refresh(ctx context.Context, token string) (AuthResponse, error) {
	claims, err := s.parseToken(token)
	if err != nil || claims.Type != tokenTypeRefresh {
		return AuthResponse{}, apperr.Unauthorized("refresh token invalid")
	}

	userID, expiresAt, err := s.lookupRefreshToken(ctx, token)
	if err != nil {
		if db.IsNoRows(err) {
			return AuthResponse{}, apperr.Unauthorized("refresh token invalid")
		}
		return AuthResponse{}, err
	}
	if userID != claims.UserID || time.Now().After(expiresAt) {
		return AuthResponse{}, apperr.Unauthorized("refresh token invalid")
	}

	// a concurrent refresh with the same token revokes it first
	tag, err := s.db.Exec(ctx, `UPDATE refresh_tokens SET revoked_at=NOW() WHERE token=$1 AND revoked_at IS NULL`, token)
	if err != nil {
		return AuthResponse{}, err
	}
	if tag.RowsAffected() == 0 {
		return AuthResponse{}, apperr.Unauthorized("refresh token invalid")
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return AuthResponse{}, err
	}
	return s.issue(ctx, user)
}

// Logout denylists the access token until it expires and revokes the
// user's refresh tokens.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if claims == nil {
		return apperr.Unauthorized("unauthenticated")
	}
	if s.rdb != nil && claims.ID != "" && claims.ExpiresAt != nil {
		if ttl := time.Until(claims.ExpiresAt.Time); ttl > 0 {
			if err := s.rdb.Set(ctx, denylistPrefix+claims.ID, "1", ttl).Err(); err != nil {
				log.Printf("denylist token %s: %v", claims.ID, err)
			}
		}
	}
	_, err := s.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at=NOW()
		WHERE user_id=$1 AND revoked_at IS NULL
	`, claims.UserID)
	return err
}

// IsRevoked reports whether the token id was denylisted by a logout.
func (s *Service) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s == nil || s.rdb == nil || jti == "" {
		return false, nil
	}
	n, err := s.rdb.Exists(ctx, denylistPrefix+jti).Result()
	return n > 0, err
}

func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, email, password_hash, role, created_at, updated_at
		FROM users WHERE id = $1
	`, id)
	user, err := scanUser(row)
	if err != nil {
		if db.IsNoRows(err) {
			return User{}, apperr.NotFound("user not found")
		}
		return User{}, err
	}
	return user, nil
}

// ShowUser returns a user to themselves or to an admin.
func (s *Service) ShowUser(ctx context.Context, actor Actor, id int64) (User, error) {
	if !actor.Authenticated() {
		return User{}, apperr.Unauthorized("unauthenticated")
	}
	if actor.UserID != id && !actor.Is(RoleAdmin) {
		return User{}, apperr.Forbidden("you may only view your own profile")
	}
	return s.GetUser(ctx, id)
}

func (s *Service) issue(ctx context.Context, user User) (AuthResponse, error) {
	access, _, err := s.signToken(user, tokenTypeAccess, accessTokenTTL)
	if err != nil {
		return AuthResponse{}, err
	}
	refresh, _, err := s.signToken(user, tokenTypeRefresh, refreshTokenTTL)
	if err != nil {
		return AuthResponse{}, err
	}
	if err := s.saveRefreshToken(ctx, refresh, user.ID, refreshTokenTTL); err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{
		User:         user,
		Token:        access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTokenTTL.Seconds()),
	}, nil
}

func (s *Service) signToken(user User, typ string, ttl time.Duration) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		Role:   user.Role,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	return signed, claims, err
}

func (s *Service) parseToken(token string) (*Claims, error) {
	return parseClaims(token, s.secret)
}

func parseClaims(token string, secret []byte) (*Claims, error) {
	parsed, err := parseClaimsFn(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

var parseClaimsFn = jwt.ParseWithClaims

func (s *Service) saveRefreshToken(ctx context.Context, token string, userID int64, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at)
		VALUES ($1,$2,$3,$4)
	`, uuid.NewString(), userID, token, time.Now().Add(ttl))
	return err
}

func (s *Service) lookupRefreshToken(ctx context.Context, token string) (int64, time.Time, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, expires_at
		FROM refresh_tokens
		WHERE token = $1 AND revoked_at IS NULL
	`, token)
	var userID int64
	var expiresAt time.Time
	if err := row.Scan(&userID, &expiresAt); err != nil {
		return 0, time.Time{}, err
	}
	return userID, expiresAt, nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, email, password_hash, role, created_at, updated_at
		FROM users WHERE email = $1
	`, email)
	return scanUser(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
