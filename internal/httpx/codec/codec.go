// Package codec 负责 Content-Encoding 的解码与回写，Filter/Watchdog head 依赖它
// 在不改变线上字节的前提下读取明文正文。
package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Encoding 是标准化后的 Content-Encoding 值。
type Encoding string

const (
	Identity Encoding = ""
	Gzip     Encoding = "gzip"
	Deflate  Encoding = "deflate"
)

// Normalize 将头部原值转换为已知编码；未知编码原样返回（小写、去空白）。
func Normalize(raw string) Encoding {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "", "identity":
		return Identity
	case "gzip", "x-gzip":
		return Gzip
	case "deflate":
		return Deflate
	default:
		return Encoding(value)
	}
}

// Supported 表示该编码能否被透明解码/重新编码。
func Supported(raw string) bool {
	switch Normalize(raw) {
	case Gzip, Deflate:
		return true
	default:
		return false
	}
}

// Decode 还原压缩正文。未知或空编码直接返回原始字节且 decoded=false。
func Decode(raw string, body []byte) (out []byte, decoded bool, err error) {
	enc := Normalize(raw)
	if len(body) == 0 || !Supported(raw) {
		return body, false, nil
	}

	var reader io.ReadCloser
	switch enc {
	case Gzip:
		reader, err = gzip.NewReader(bytes.NewReader(body))
	case Deflate:
		// deflate 在 HTTP 中约定为 zlib 流 (RFC 1950)
		reader, err = zlib.NewReader(bytes.NewReader(body))
	default:
		return body, false, nil
	}
	if err != nil {
		return body, false, fmt.Errorf("decode %s body: %w", enc, err)
	}
	defer reader.Close()

	plain, err := io.ReadAll(reader)
	if err != nil {
		return body, false, fmt.Errorf("decode %s body: %w", enc, err)
	}
	return plain, true, nil
}

// Encode 使用与 Decode 相同的方案压缩明文；未知编码原样返回。
func Encode(raw string, body []byte) ([]byte, error) {
	enc := Normalize(raw)

	var buf bytes.Buffer
	var writer io.WriteCloser
	switch enc {
	case Gzip:
		writer = gzip.NewWriter(&buf)
	case Deflate:
		writer = zlib.NewWriter(&buf)
	default:
		return body, nil
	}

	if _, err := writer.Write(body); err != nil {
		return nil, fmt.Errorf("encode %s body: %w", enc, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("encode %s body: %w", enc, err)
	}
	return buf.Bytes(), nil
}
