package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

const (
	keyOnboarding = "has_completed_onboarding"
	keyAuthToken  = "auth_token"
)

// Preferences 客户端本地设置，保存在一个 YAML 文件中
type Preferences struct {
	path string

	mu sync.Mutex
	v  *viper.Viper
}

// LoadPreferences 读取本地设置，文件不存在时使用默认值
func LoadPreferences(path string) (*Preferences, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault(keyOnboarding, false)
	v.SetDefault(keyAuthToken, "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("读取本地设置失败: %w", err)
		}
	}
	return &Preferences{path: path, v: v}, nil
}

// HasCompletedOnboarding 是否已完成引导
func (p *Preferences) HasCompletedOnboarding() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetBool(keyOnboarding)
}

// CompleteOnboarding 标记引导完成并写回文件
func (p *Preferences) CompleteOnboarding() error {
	return p.set(keyOnboarding, true)
}

// Token 上次登录保存的令牌
func (p *Preferences) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.GetString(keyAuthToken)
}

// SetToken 保存令牌，空字符串表示清除
func (p *Preferences) SetToken(token string) error {
	return p.set(keyAuthToken, token)
}

func (p *Preferences) set(key string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v.Set(key, value)
	if dir := filepath.Dir(p.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("创建设置目录失败: %w", err)
		}
	}
	if err := p.v.WriteConfigAs(p.path); err != nil {
		return fmt.Errorf("保存本地设置失败: %w", err)
	}
	return nil
}
