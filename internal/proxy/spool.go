package proxy

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// spooledBody 保存完整读取的 origin 正文：不超过 memLimit 时留在内存，
// 超出则落到已 unlink 的临时文件，多个读者通过 ReadAt 共享同一个文件句柄。
type spooledBody struct {
	data []byte
	file *os.File
	size int64
	refs atomic.Int32
}

func spoolBody(r io.Reader, memLimit int64, dir string) (*spooledBody, error) {
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, r, memLimit+1)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n <= memLimit {
		return &spooledBody{data: buf.Bytes(), size: n}, nil
	}

	file, err := os.CreateTemp(dir, "edgehub-body-*")
	if err != nil {
		return nil, err
	}
	// 句柄仍可读写，文件随最后一次 Close 消失。
	_ = os.Remove(file.Name())

	written, err := io.Copy(file, io.MultiReader(&buf, r))
	if err != nil {
		file.Close()
		return nil, err
	}
	s := &spooledBody{file: file, size: written}
	s.refs.Store(1)
	return s, nil
}

func (s *spooledBody) inMemory() bool {
	return s.file == nil
}

// open 返回一个独立的读者，关闭后释放对临时文件的引用。
func (s *spooledBody) open() io.ReadCloser {
	if s.file == nil {
		return io.NopCloser(bytes.NewReader(s.data))
	}
	s.refs.Add(1)
	return &spoolReader{
		SectionReader: io.NewSectionReader(s.file, 0, s.size),
		owner:         s,
	}
}

// release 释放 spoolBody 自身持有的引用。
func (s *spooledBody) release() {
	if s == nil || s.file == nil {
		return
	}
	if s.refs.Add(-1) == 0 {
		s.file.Close()
	}
}

type spoolReader struct {
	*io.SectionReader
	owner *spooledBody
	once  sync.Once
}

func (r *spoolReader) Close() error {
	r.once.Do(r.owner.release)
	return nil
}
