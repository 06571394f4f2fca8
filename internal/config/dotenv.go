package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// DotEnvFileVar 指定 .env 的位置；设置后不再搜索默认路径。
const DotEnvFileVar = "HDBAUTH_ENV_FILE"

// LoadDotEnv 加载 .env 并返回实际读取的文件路径，没有找到文件时返回空串。
//
// 查找顺序为 HDBAUTH_ENV_FILE、工作目录、可执行文件所在目录。已存在的环境变量优先，
// 文件只补齐缺失的键。
func LoadDotEnv() (string, error) {
	if p := strings.TrimSpace(os.Getenv(DotEnvFileVar)); p != "" {
		n, err := applyDotEnvFile(p)
		if err != nil {
			return "", fmt.Errorf("%s=%s: %w", DotEnvFileVar, p, err)
		}
		if n < 0 {
			return "", fmt.Errorf("%s 指向的文件不存在: %s", DotEnvFileVar, p)
		}
		return p, nil
	}

	candidates := []string{".env"}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), ".env"))
	}
	for _, p := range candidates {
		n, err := applyDotEnvFile(p)
		if err != nil {
			return "", fmt.Errorf("加载 %s 失败: %w", p, err)
		}
		if n >= 0 {
			return p, nil
		}
	}
	return "", nil
}

// applyDotEnvFile 返回新设置的变量个数；文件不存在时返回 -1。
func applyDotEnvFile(path string) (int, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return -1, nil
		}
		return 0, err
	}
	n := 0
	for k, v := range values {
		if _, exists := os.LookupEnv(k); exists {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
