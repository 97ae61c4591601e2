package pathmatch

import "strings"

// Prefix 按字面量匹配挂载路径。与 Compile 不同，挂载路径中的字符没有正则含义，
// "/cmd.com" 不会匹配 "/cmd2com"。
type Prefix struct {
	mount string
}

// NewPrefix 规范化挂载路径：去掉结尾斜杠，"/" 匹配所有路径。
func NewPrefix(mount string) Prefix {
	mount = strings.TrimRight(strings.TrimSpace(mount), "/")
	if mount != "" && !strings.HasPrefix(mount, "/") {
		mount = "/" + mount
	}
	return Prefix{mount: mount}
}

// Mount 返回规范化后的挂载路径，根挂载为 ""。
func (p Prefix) Mount() string {
	return p.mount
}

// Match 判断 path 是否等于挂载路径或位于其下。
func (p Prefix) Match(path string) bool {
	if p.mount == "" {
		return true
	}
	return path == p.mount || strings.HasPrefix(path, p.mount+"/")
}

// Strip 去掉挂载前缀，返回剩余部分（"" 或 "/..."）。
func (p Prefix) Strip(path string) (string, bool) {
	if !p.Match(path) {
		return "", false
	}
	return path[len(p.mount):], true
}
