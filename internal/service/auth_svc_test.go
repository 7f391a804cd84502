package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"delivery_erp_v1_202608/internal/api/dto"
	"delivery_erp_v1_202608/internal/middleware"
	"delivery_erp_v1_202608/internal/model"
	"delivery_erp_v1_202608/internal/repository"
)

func setupAuthService(t *testing.T) *AuthService {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "连接测试数据库失败")
	require.NoError(t, db.AutoMigrate(&model.SysUser{}), "数据库迁移失败")

	return NewAuthService(repository.NewUserRepository(db))
}

func TestAuthService_Login(t *testing.T) {
	svc := setupAuthService(t)

	_, err := svc.CreateUser(context.Background(), "admin", "secret-123", "admin")
	require.NoError(t, err, "创建用户失败")

	resp, err := svc.Login(context.Background(), &dto.LoginRequest{
		Username: "admin", Password: "secret-123",
	})
	require.NoError(t, err, "登录失败")
	assert.Equal(t, "admin", resp.Username)
	assert.Equal(t, "admin", resp.Role)
	require.NotEmpty(t, resp.AccessToken)

	// 签发的 Token 可被中间件解析
	claims, err := middleware.ParseToken(resp.AccessToken)
	require.NoError(t, err, "Token 解析失败")
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "admin", claims.Role)
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	svc := setupAuthService(t)

	_, err := svc.CreateUser(context.Background(), "admin", "secret-123", "admin")
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), &dto.LoginRequest{
		Username: "admin", Password: "wrong",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_Login_UnknownUser(t *testing.T) {
	svc := setupAuthService(t)

	// 用户不存在和密码错误返回同一个错误，不泄露账号是否存在
	_, err := svc.Login(context.Background(), &dto.LoginRequest{
		Username: "nobody", Password: "whatever",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_CreateUser_DuplicateUsername(t *testing.T) {
	svc := setupAuthService(t)

	_, err := svc.CreateUser(context.Background(), "admin", "a", "admin")
	require.NoError(t, err)

	_, err = svc.CreateUser(context.Background(), "admin", "b", "operator")
	assert.Error(t, err, "重复用户名应报错")
}

func TestAuthService_PasswordStoredHashed(t *testing.T) {
	svc := setupAuthService(t)

	user, err := svc.CreateUser(context.Background(), "admin", "secret-123", "admin")
	require.NoError(t, err)
	assert.NotEqual(t, "secret-123", user.Password, "密码不应明文落库")
}
