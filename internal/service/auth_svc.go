package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"delivery_erp_v1_202608/internal/api/dto"
	"delivery_erp_v1_202608/internal/middleware"
	"delivery_erp_v1_202608/internal/model"
	"delivery_erp_v1_202608/internal/repository"
)

// ErrInvalidCredentials 用户名或密码错误
var ErrInvalidCredentials = errors.New("invalid username or password")

// AuthService 后台登录认证服务
type AuthService struct {
	userRepo repository.UserRepository
}

// NewAuthService 工厂方法
func NewAuthService(userRepo repository.UserRepository) *AuthService {
	return &AuthService{userRepo: userRepo}
}

// Login 后台登录
// 校验失败统一返回 ErrInvalidCredentials，不区分用户不存在和密码错误
func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	user, err := s.userRepo.GetByUsername(ctx, req.Username)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	if !user.IsActive {
		return nil, errors.New("账号已停用")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := middleware.GenerateAccessToken(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, fmt.Errorf("签发 Token 失败: %w", err)
	}

	return &dto.LoginResponse{
		AccessToken: token,
		Username:    user.Username,
		Role:        user.Role,
	}, nil
}

// CreateUser 创建后台用户（初始化和运维脚本用）
func (s *AuthService) CreateUser(ctx context.Context, username, password, role string) (*model.SysUser, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &model.SysUser{
		Username: username,
		Password: string(hashed),
		Role:     role,
		IsActive: true,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, fmt.Errorf("用户名 %s 已存在", username)
		}
		return nil, err
	}
	return user, nil
}
