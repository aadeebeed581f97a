package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// NewDiskStorage 返回以文件系统根目录为根的 Storage，路径按绝对路径解释。
func NewDiskStorage() Storage {
	return NewStorage(osfs.New("/"))
}

// NewMemoryStorage 返回纯内存 Storage，主要用于测试。
func NewMemoryStorage() Storage {
	return NewStorage(memfs.New())
}

// NewStorage 将任意 billy.Filesystem 适配为 Storage。
func NewStorage(bfs billy.Filesystem) Storage {
	return &fileStore{bfs: bfs}
}

// fileStore 通过 billy 访问底层文件系统；osfs 的 Rename 即 rename(2)，
// 暂存文件与目标文件位于同一目录，因此发布是原子的。
type fileStore struct {
	bfs billy.Filesystem
}

func (s *fileStore) Exists(path string) (bool, error) {
	_, err := s.bfs.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *fileStore) MkdirAll(path string) error {
	if err := s.bfs.MkdirAll(path, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}

func (s *fileStore) Move(from, to string) error {
	if err := s.bfs.Rename(from, to); err != nil {
		return fmt.Errorf("publish %s: %w", to, err)
	}
	return nil
}

func (s *fileStore) Remove(path string) error {
	if err := s.bfs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) RemoveAll(path string) error {
	if err := util.RemoveAll(s.bfs, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) List(dir string) ([]string, error) {
	infos, err := s.bfs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

func (s *fileStore) Stat(path string) (FileInfo, error) {
	info, err := s.bfs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileInfo{}, ErrNotFound
		}
		return FileInfo{}, err
	}
	return FileInfo{
		Name:      info.Name(),
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
		IsDir:     info.IsDir(),
	}, nil
}

func (s *fileStore) Create(path string) (io.WriteCloser, error) {
	return s.bfs.Create(path)
}

func (s *fileStore) Open(path string) (io.ReadSeekCloser, error) {
	f, err := s.bfs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}
