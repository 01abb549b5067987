package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net/http"

	"github.com/klauspost/compress/zstd"
)

// entryCodec 负责 Entry 与磁盘字节之间的转换：gob 编码后再经 zstd 压缩。
// zstd Encoder/Decoder 的 EncodeAll/DecodeAll 可并发调用。
type entryCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newEntryCodec() (*entryCodec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &entryCodec{encoder: encoder, decoder: decoder}, nil
}

func (c *entryCodec) encode(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return c.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len()/2)), nil
}

func (c *entryCodec) decode(raw []byte) (*Entry, error) {
	plain, err := c.decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress entry: %w", err)
	}
	var entry Entry
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	if entry.Header == nil {
		entry.Header = make(http.Header)
	}
	return &entry, nil
}

func (c *entryCodec) close() {
	c.encoder.Close()
	c.decoder.Close()
}
