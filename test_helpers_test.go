package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// moduleRoot 是包含 go.mod 的目录，用于定位 internal/config/testdata 下的配置样例。
var moduleRoot string

func init() {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return
	}
	for dir := filepath.Dir(file); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			moduleRoot = dir
			return
		}
		if filepath.Dir(dir) == dir {
			return
		}
	}
}

// configFixture 返回 imgcache 配置样例的绝对路径。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	if moduleRoot == "" {
		t.Fatal("无法定位 imgcache 模块根目录")
	}
	return filepath.Join(moduleRoot, "internal", "config", "testdata", name)
}
