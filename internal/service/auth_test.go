package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/repository"
	"portal-gateway/internal/repository/mocks"
	"portal-gateway/internal/service"
)

func TestAuthService_Authenticate_Success(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, err := service.NewAuthService(mockUserRepo, "very-secret-key", 1)
	require.NoError(t, err, "创建 AuthService 不应失败")
	ctx := context.Background()

	token, err := authService.SignToken("user-1")
	require.NoError(t, err)

	mockUserRepo.On("FindByID", ctx, "user-1").Return(&domain.User{ID: "user-1", Name: "alice"}, nil).Once()

	// Act
	user, err := authService.Authenticate(ctx, token)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Name)
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Authenticate_UserMissing(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "secret", 1)
	ctx := context.Background()

	token, err := authService.SignToken("ghost")
	require.NoError(t, err)
	mockUserRepo.On("FindByID", ctx, "ghost").Return(nil, repository.ErrUserNotFound).Once()

	_, err = authService.Authenticate(ctx, token)

	assert.True(t, errors.Is(err, service.ErrAuthenticationFailed))
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Authenticate_BadTokens(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "secret", 1)
	ctx := context.Background()

	// 其他密钥签发的 token
	other, _ := service.NewAuthService(mockUserRepo, "another-secret", 1)
	foreign, err := other.SignToken("user-1")
	require.NoError(t, err)

	// 已过期的 token
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user-1",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	// 缺少 user_id
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{"empty": "", "garbage": "abc.def", "foreign": foreign, "expired": expired, "no subject": noSubject} {
		_, err := authService.Authenticate(ctx, token)
		assert.True(t, errors.Is(err, service.ErrAuthenticationFailed), name)
	}
	mockUserRepo.AssertNumberOfCalls(t, "FindByID", 0)
}

func TestNewAuthService_EmptySecret(t *testing.T) {
	_, err := service.NewAuthService(new(mocks.UserRepository), "", 1)
	assert.Error(t, err)
}
