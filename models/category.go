package models

import (
	"time"

	"gorm.io/gorm"
)

// DefaultCategoryColor 新建类别的默认颜色
const DefaultCategoryColor = "#A020F0"

// Category 消费类别（按用户隔离）
type Category struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	UserID    string         `json:"user_id" gorm:"index;size:36;not null"`
	Name      string         `json:"name" gorm:"size:50;not null"`
	Color     string         `json:"color" gorm:"size:20;default:#A020F0"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Category) TableName() string {
	return "categories"
}

// DefaultCategory 注册时为新用户初始化的类别
type DefaultCategory struct {
	Name  string
	Color string
}

// GetDefaultCategories 获取默认类别（颜色与客户端保持一致）
func GetDefaultCategories() []DefaultCategory {
	return []DefaultCategory{
		{Name: "餐饮", Color: "#ef4444"},
		{Name: "交通", Color: "#3b82f6"},
		{Name: "购物", Color: "#a855f7"},
		{Name: "娱乐", Color: "#ec4899"},
		{Name: "医疗", Color: "#10b981"},
		{Name: "住房", Color: "#14b8a6"},
		{Name: "其他", Color: "#64748b"},
	}
}
