package head

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/any-hub/hydra/internal/httpx"
)

// MimeLookup maps a file path to a Content-Type.
type MimeLookup func(filePath string) string

// FilesystemConfig configures a Filesystem head.
type FilesystemConfig struct {
	Name         string   `mapstructure:"name"`
	MountPath    string   `mapstructure:"mountPath"`
	DocumentRoot string   `mapstructure:"documentRoot"`
	IndexFiles   []string `mapstructure:"indexFiles"`
	PassThrough  bool     `mapstructure:"passThrough"`
	Detached     bool     `mapstructure:"detached"`

	// Fs defaults to the OS filesystem.
	Fs afero.Fs `mapstructure:"-"`
	// Mime defaults to the extension table of the mime package.
	Mime MimeLookup `mapstructure:"-"`
}

// Filesystem serves files below DocumentRoot for requests under MountPath.
type Filesystem struct {
	Base

	root        string
	indexFiles  []string
	passThrough bool
	fs          afero.Fs
	mime        MimeLookup
}

// NewFilesystem builds a Filesystem head; DocumentRoot is required.
func NewFilesystem(cfg FilesystemConfig) (*Filesystem, error) {
	if cfg.DocumentRoot == "" {
		return nil, newConfigError(KindFilesystem, "documentRoot", "is required")
	}
	indexFiles := cfg.IndexFiles
	if indexFiles == nil {
		indexFiles = []string{"index.html"}
	}
	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	lookup := cfg.Mime
	if lookup == nil {
		lookup = defaultMimeLookup
	}

	h := &Filesystem{
		root:        filepath.Clean(cfg.DocumentRoot),
		indexFiles:  indexFiles,
		passThrough: cfg.PassThrough,
		fs:          fsys,
		mime:        lookup,
	}
	h.initMount(KindFilesystem, cfg.Name, cfg.MountPath, cfg.Detached)
	return h, nil
}

func defaultMimeLookup(filePath string) string {
	if ct := mime.TypeByExtension(path.Ext(filePath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Handle serves the resolved file, an index file, 304, 403 or 404.
func (h *Filesystem) Handle(req *httpx.Request, res *httpx.Response, next Next) error {
	target, ok := h.resolve(req.RawPath())
	if !ok {
		return h.notFound(req, res, next)
	}

	info, err := h.fs.Stat(target)
	if err != nil {
		return h.notFound(req, res, next)
	}
	if info.IsDir() {
		index, indexInfo, found := h.findIndex(target)
		if !found {
			return res.SendStatus(http.StatusForbidden, "Forbidden")
		}
		target, info = index, indexInfo
	}
	return h.serveFile(req, res, target, info)
}

// resolve 去掉挂载前缀并做 URL 解码与路径清理，结果不会越出 documentRoot。
func (h *Filesystem) resolve(rawPath string) (string, bool) {
	rest, ok := h.prefix.Strip(rawPath)
	if !ok {
		return "", false
	}
	decoded, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	clean := path.Clean("/" + decoded)
	return filepath.Join(h.root, filepath.FromSlash(clean)), true
}

func (h *Filesystem) findIndex(dir string) (string, fs.FileInfo, bool) {
	for _, name := range h.indexFiles {
		candidate := filepath.Join(dir, name)
		info, err := h.fs.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, info, true
		}
	}
	return "", nil, false
}

func (h *Filesystem) serveFile(req *httpx.Request, res *httpx.Response, target string, info fs.FileInfo) error {
	modTime := info.ModTime().UTC().Truncate(time.Second)
	res.Headers.Set("Last-Modified", modTime.Format(http.TimeFormat))

	if since := req.Headers.Get("If-Modified-Since"); since != "" {
		if t, err := http.ParseTime(since); err == nil && !modTime.After(t) {
			res.StatusCode = http.StatusNotModified
			return res.End()
		}
	}

	data, err := afero.ReadFile(h.fs, target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res.SendStatus(http.StatusNotFound, "Not Found")
		}
		return res.SendStatus(http.StatusInternalServerError, "Internal Server Error")
	}
	res.Headers.Set("Content-Type", h.mime(target))
	res.StatusCode = http.StatusOK
	return res.Send(data)
}

func (h *Filesystem) notFound(req *httpx.Request, res *httpx.Response, next Next) error {
	if h.passThrough && next != nil {
		return next(req, res)
	}
	return res.SendStatus(http.StatusNotFound, "Not Found")
}
