package model

// SysUser 后台操作员账号
type SysUser struct {
	BaseModel

	Username string `gorm:"size:100;uniqueIndex;not null"`
	Password string `gorm:"size:255;not null"` // bcrypt 哈希
	Email    string `gorm:"size:100"`

	// 系统级角色: admin (管理员), operator (运营)
	Role string `gorm:"size:20;default:'operator'"`

	IsActive bool `gorm:"default:true"`
}

func (SysUser) TableName() string {
	return "sys_users"
}
