// Package blobstore 媒体文件存储
package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store 媒体 Pipeline 依赖的存储协作者
type Store interface {
	// Write 写入 rel 相对路径，返回本地绝对路径
	Write(rel string, data []byte) (string, error)
	// Exists 判断指定内容哈希的文件是否已存在，存在时返回其本地路径
	Exists(hash string) (string, bool)
}

// PathFor 以内容哈希分目录：ab/abcdef....ext
func PathFor(hash, ext string) string {
	hash = strings.ToLower(hash)
	name := hash
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	if len(hash) < 2 {
		return name
	}
	return filepath.Join(hash[:2], name)
}

// Local 本地文件系统实现
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("blobstore root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Local{root: root}, nil
}

func (s *Local) Root() string { return s.root }

func (s *Local) Write(rel string, data []byte) (string, error) {
	clean := filepath.Clean("/" + rel)[1:]
	if clean == "" {
		return "", fmt.Errorf("empty media path")
	}
	full := filepath.Join(s.root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	// 先写临时文件再 rename，避免读到半个文件
	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return full, nil
}

func (s *Local) Exists(hash string) (string, bool) {
	hash = strings.ToLower(hash)
	if len(hash) < 2 || strings.ContainsAny(hash, `/\.*?[`) {
		return "", false
	}
	matches, err := filepath.Glob(filepath.Join(s.root, hash[:2], hash+"*"))
	if err != nil {
		return "", false
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") {
			continue
		}
		return m, true
	}
	return "", false
}
