package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// useBufferWriters 在测试期间将 stdOut/stdErr 替换为内存缓冲区。
func useBufferWriters(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()

	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = out, errOut

	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return out, errOut
}

// writeFile 在 root 下写入相对路径文件，自动创建父目录。
func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	file := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}
	return file
}

// pluginRoot 创建包含 demo 插件的 RootDir。
func pluginRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "usr/share/hydra/plugins/demo/plugin.toml", `
[[heads]]
type = "static"
path = "/ping"
content = "pong"
`)
	return root
}
