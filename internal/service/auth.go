package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/repository"
)

// AuthService 负责令牌签发、校验以及认证后的用户加载。
type AuthService struct {
	userRepo  repository.UserRepository
	jwtSecret []byte
	jwtExpiry time.Duration
}

// NewAuthService 创建 AuthService 实例。
// jwtExpiryHours 定义 token 过期的小时数。
func NewAuthService(userRepo repository.UserRepository, jwtSecretKey string, jwtExpiryHours int) (*AuthService, error) {
	if userRepo == nil {
		panic("UserRepository cannot be nil for AuthService")
	}
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	if jwtExpiryHours <= 0 {
		jwtExpiryHours = 24
	}
	return &AuthService{
		userRepo:  userRepo,
		jwtSecret: []byte(jwtSecretKey),
		jwtExpiry: time.Duration(jwtExpiryHours) * time.Hour,
	}, nil
}

// SignToken 为用户签发 JWT。
func (s *AuthService) SignToken(userID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     now.Add(s.jwtExpiry).Unix(),
		"iat":     now.Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken 校验 JWT 并返回其中的用户 ID。
func (s *AuthService) VerifyToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrAuthenticationFailed
	}
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrAuthenticationFailed
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", ErrAuthenticationFailed
	}
	return userID, nil
}

// Authenticate 校验令牌并加载对应的用户，任何失败都返回 ErrAuthenticationFailed。
func (s *AuthService) Authenticate(ctx context.Context, tokenStr string) (*domain.User, error) {
	userID, err := s.VerifyToken(tokenStr)
	if err != nil {
		logrus.WithError(err).Warn("Authentication failed: invalid token")
		return nil, ErrAuthenticationFailed
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			logrus.WithField("user_id", userID).Warn("Authentication failed: user not found")
		} else {
			logrus.WithField("user_id", userID).WithError(err).Error("Authentication failed: error loading user")
		}
		return nil, ErrAuthenticationFailed
	}
	return user, nil
}

// FindUser 按 ID 加载用户。
func (s *AuthService) FindUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err, ErrUserNotFound)
	}
	return user, nil
}
