package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

const aadConfigFileName = ".aad_config.json"

func defaultAADConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, aadConfigFileName)
}

// applyAADConfigFile 读取 {"clientId","authority","clientSecret","redirectUri"}；
// 文件不存在时静默跳过，文件中给出的非空值优先于环境变量。
func applyAADConfigFile(cfg *Config) error {
	path := strings.TrimSpace(cfg.IdP.ConfigFile)
	if path == "" || path == "-" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return fmt.Errorf("%s 不是合法的 JSON 对象", path)
	}

	fields := []struct {
		key string
		dst *string
	}{
		{"clientId", &cfg.IdP.ClientID},
		{"authority", &cfg.IdP.Authority},
		{"clientSecret", &cfg.IdP.ClientSecret},
		{"redirectUri", &cfg.IdP.RedirectURI},
	}
	for _, f := range fields {
		v := gjson.GetBytes(raw, f.key)
		if !v.Exists() {
			continue
		}
		if v.Type != gjson.String {
			return fmt.Errorf("%s: %s 必须是字符串", path, f.key)
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			*f.dst = s
		}
	}
	return nil
}
