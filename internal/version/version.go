// Package version 提供构建信息，供 healthz 与启动日志输出版本指纹。
package version

import "fmt"

type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// 构建时通过 -ldflags "-X hdbauth/internal/version.Version=..." 注入。
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func Info() BuildInfo {
	return BuildInfo{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	}
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("hdbauth %s (%s, %s)", b.Version, b.Commit, b.Date)
}
