package httpx

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/any-hub/hydra/internal/httpx/codec"
)

// ErrAlreadyEnded 表示对已结束的响应再次写入或结束。
var ErrAlreadyEnded = errors.New("response already ended")

// DataFunc 接收最终的原始正文，只调用一次。
type DataFunc func(body []byte) error

// EndFunc 在 data 通知之后执行，只调用一次。
type EndFunc func(res *Response) error

// Response 是沿 head 链传递的可变值。End 之前 head 可以随意修改 StatusCode 与
// Headers；正文只会被定稿一次。
type Response struct {
	StatusCode int
	Headers    http.Header

	buf   bytes.Buffer
	raw   []byte
	ended bool

	decoded     []byte
	decodedDone bool

	onData []DataFunc
	onEnd  []EndFunc
}

// NewResponse 返回空的 200 响应，可附带结束回调。
func NewResponse(onEnd ...EndFunc) *Response {
	res := &Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{},
	}
	for _, fn := range onEnd {
		res.OnEnd(fn)
	}
	return res
}

// OnData 注册 data 监听器。
func (r *Response) OnData(fn DataFunc) *Response {
	if fn != nil {
		r.onData = append(r.onData, fn)
	}
	return r
}

// OnEnd 注册 end 监听器。
func (r *Response) OnEnd(fn EndFunc) *Response {
	if fn != nil {
		r.onEnd = append(r.onEnd, fn)
	}
	return r
}

// Write 缓冲一段正文，监听器要等到 End 才能看到正文。
func (r *Response) Write(p []byte) (int, error) {
	if r.ended {
		return 0, ErrAlreadyEnded
	}
	return r.buf.Write(p)
}

// Send 写入正文并结束响应。
func (r *Response) Send(body []byte) error {
	if r.ended {
		return ErrAlreadyEnded
	}
	r.buf.Write(body)
	return r.End()
}

// SendString 是文本正文版本的 Send。
func (r *Response) SendString(body string) error {
	return r.Send([]byte(body))
}

// SendStatus 设置状态码并以 text 作为正文发送。
func (r *Response) SendStatus(code int, text string) error {
	if r.ended {
		return ErrAlreadyEnded
	}
	r.StatusCode = code
	return r.SendString(text)
}

// End 定稿正文并通知监听器；第一个监听器错误会中止通知并返回给调用方。
func (r *Response) End() error {
	if r.ended {
		return ErrAlreadyEnded
	}
	r.ended = true
	r.raw = append([]byte(nil), r.buf.Bytes()...)
	r.buf.Reset()

	for _, fn := range r.onData {
		if err := fn(r.raw); err != nil {
			return err
		}
	}
	for _, fn := range r.onEnd {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Ended 表示正文是否已经定稿。
func (r *Response) Ended() bool {
	return r.ended
}

// RawBody 返回发送时的原始字节。
func (r *Response) RawBody() []byte {
	if !r.ended {
		return append([]byte(nil), r.buf.Bytes()...)
	}
	return r.raw
}

// Body 返回解除 gzip/deflate 编码后的正文；未知编码或解码失败时原样返回。
func (r *Response) Body() []byte {
	if r.ended && r.decodedDone {
		return r.decoded
	}
	raw := r.RawBody()
	plain, _, err := codec.Decode(r.Headers.Get("Content-Encoding"), raw)
	if err != nil {
		plain = raw
	}
	if r.ended {
		r.decoded = plain
		r.decodedDone = true
	}
	return plain
}

// Clone 返回独立副本，保留状态码、头部与正文状态，但不带监听器。
func (r *Response) Clone() *Response {
	clone := &Response{
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		ended:      r.ended,
	}
	if clone.Headers == nil {
		clone.Headers = http.Header{}
	}
	if r.ended {
		clone.raw = append([]byte(nil), r.raw...)
	} else {
		clone.buf.Write(r.buf.Bytes())
	}
	return clone
}

// Forward 从 src 复制状态码与头部，并以 body 作为最终正文发送。
func (r *Response) Forward(src *Response, body []byte) error {
	if r.ended {
		return ErrAlreadyEnded
	}
	r.StatusCode = src.StatusCode
	r.Headers = src.Headers.Clone()
	if r.Headers == nil {
		r.Headers = http.Header{}
	}
	return r.Send(body)
}
