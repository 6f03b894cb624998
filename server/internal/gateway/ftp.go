package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
)

// MaxInlineSize bounds ReadInline payloads.
const MaxInlineSize = 10 << 20

// FTPConn is the subset of an FTP control connection the gateway uses.
type FTPConn interface {
	Login(user, password string) error
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Delete(path string) error
	Rename(from, to string) error
	MakeDir(path string) error
	ChangeDir(path string) error
	Quit() error
}

// FTPDialer opens an FTP control connection to addr.
type FTPDialer func(ctx context.Context, addr string, timeout time.Duration) (FTPConn, error)

// DialFTP connects with github.com/jlaffaye/ftp.
func DialFTP(ctx context.Context, addr string, timeout time.Duration) (FTPConn, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return serverConn{conn}, nil
}

type serverConn struct {
	*ftp.ServerConn
}

func (s serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := s.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FileEntry is one row of a directory listing.
type FileEntry struct {
	Name    string    `json:"name"`
	Size    uint64    `json:"size"`
	IsDir   bool      `json:"isDirectory"`
	ModTime time.Time `json:"modifiedAt"`
}

// withFTP dials, logs in, runs fn and quits.
func (c *Client) withFTP(ctx context.Context, op string, t Target, fn func(conn FTPConn) error) error {
	if err := validateTarget("ftp "+op, t); err != nil {
		return err
	}
	return c.observe(ctx, "ftp", op, t, func(ctx context.Context) error {
		conn, err := c.dialFTP(ctx, t.Addr(), c.timeout)
		if err != nil {
			return err
		}
		defer func() { _ = conn.Quit() }()

		if err := conn.Login(t.User, t.Credential); err != nil {
			return err
		}
		return fn(conn)
	})
}

func cleanRemote(p string) string {
	if strings.TrimSpace(p) == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// ListDirectory lists dir with directories first, each group sorted by name.
func (c *Client) ListDirectory(ctx context.Context, t Target, dir string) ([]FileEntry, error) {
	var out []FileEntry
	err := c.withFTP(ctx, "list", t, func(conn FTPConn) error {
		entries, err := conn.List(cleanRemote(dir))
		if err != nil {
			return err
		}
		out = make([]FileEntry, 0, len(entries))
		for _, e := range entries {
			if e.Name == "." || e.Name == ".." || e.Name == "" {
				continue
			}
			out = append(out, FileEntry{
				Name:    e.Name,
				Size:    e.Size,
				IsDir:   e.Type == ftp.EntryTypeFolder,
				ModTime: e.Time,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ReadFile returns the contents of a remote file.
func (c *Client) ReadFile(ctx context.Context, t Target, remote string) ([]byte, error) {
	return c.readFile(ctx, "read", t, remote, -1)
}

// readFile reads at most limit bytes of remote; a negative limit reads all.
// A file longer than limit is returned truncated to limit+1 bytes.
func (c *Client) readFile(ctx context.Context, op string, t Target, remote string, limit int64) ([]byte, error) {
	var data []byte
	err := c.withFTP(ctx, op, t, func(conn FTPConn) error {
		r, err := conn.Retr(cleanRemote(remote))
		if err != nil {
			return err
		}
		defer r.Close()
		var src io.Reader = r
		if limit >= 0 {
			src = io.LimitReader(r, limit+1)
		}
		data, err = io.ReadAll(src)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFile creates or replaces a remote file.
func (c *Client) WriteFile(ctx context.Context, t Target, remote string, data []byte) error {
	return c.withFTP(ctx, "write", t, func(conn FTPConn) error {
		return conn.Stor(cleanRemote(remote), bytes.NewReader(data))
	})
}

// DeleteFile removes a remote file.
func (c *Client) DeleteFile(ctx context.Context, t Target, remote string) error {
	return c.withFTP(ctx, "delete", t, func(conn FTPConn) error {
		return conn.Delete(cleanRemote(remote))
	})
}

// RenameFile moves a remote file.
func (c *Client) RenameFile(ctx context.Context, t Target, from, to string) error {
	if strings.TrimSpace(to) == "" {
		return apperr.InvalidInput("ftp rename", "new path is required")
	}
	return c.withFTP(ctx, "rename", t, func(conn FTPConn) error {
		return conn.Rename(cleanRemote(from), cleanRemote(to))
	})
}

// MakeDirectory creates dir and any missing parents. An existing directory
// is not an error.
func (c *Client) MakeDirectory(ctx context.Context, t Target, dir string) error {
	dir = cleanRemote(dir)
	return c.withFTP(ctx, "mkdir", t, func(conn FTPConn) error {
		if dir == "/" {
			return nil
		}
		parts := strings.Split(strings.TrimPrefix(dir, "/"), "/")
		current := ""
		for _, part := range parts {
			current += "/" + part
			if err := conn.MakeDir(current); err != nil {
				if cdErr := conn.ChangeDir(current); cdErr != nil {
					return err
				}
			}
		}
		return nil
	})
}

// DownloadToLocalStore copies a remote file into a fresh directory under the
// local store and returns the local path. The file keeps its remote name.
func (c *Client) DownloadToLocalStore(ctx context.Context, t Target, remote string) (string, error) {
	name := path.Base(cleanRemote(remote))
	if name == "/" {
		return "", apperr.InvalidInput("ftp download", "remote path is a directory")
	}
	if err := os.MkdirAll(c.storeDir, 0755); err != nil {
		return "", apperr.Wrap(apperr.KindEngineError, "ftp download", err)
	}
	dir, err := os.MkdirTemp(c.storeDir, "download-")
	if err != nil {
		return "", apperr.Wrap(apperr.KindEngineError, "ftp download", err)
	}
	local := filepath.Join(dir, name)

	err = c.withFTP(ctx, "download", t, func(conn FTPConn) error {
		r, err := conn.Retr(cleanRemote(remote))
		if err != nil {
			return err
		}
		defer r.Close()

		f, err := os.Create(local)
		if err != nil {
			return apperr.Wrap(apperr.KindEngineError, "ftp download", err)
		}
		if _, err := io.Copy(f, r); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return local, nil
}

// UploadFromLocalStore copies a local file to remote.
func (c *Client) UploadFromLocalStore(ctx context.Context, t Target, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return apperr.NotFound("ftp upload", "local file %s: %v", filepath.Base(local), err)
	}
	defer f.Close()

	return c.withFTP(ctx, "upload", t, func(conn FTPConn) error {
		return conn.Stor(cleanRemote(remote), f)
	})
}

// InlineContent is a file rendered as a data URL.
type InlineContent struct {
	Name    string `json:"name"`
	MIME    string `json:"mimeType"`
	Size    int    `json:"size"`
	DataURL string `json:"dataUrl"`
}

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// MIMEFor returns the preview MIME type for a file name.
func MIMEFor(name string) string {
	if t, ok := imageTypes[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	return "application/octet-stream"
}

// ReadInline fetches a remote file as a base64 data URL.
func (c *Client) ReadInline(ctx context.Context, t Target, remote string) (*InlineContent, error) {
	data, err := c.readFile(ctx, "preview", t, remote, MaxInlineSize)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxInlineSize {
		return nil, apperr.InvalidInput("ftp preview", "file exceeds the preview limit of %d bytes", MaxInlineSize)
	}
	name := path.Base(cleanRemote(remote))
	mimeType := MIMEFor(name)
	return &InlineContent{
		Name:    name,
		MIME:    mimeType,
		Size:    len(data),
		DataURL: fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data)),
	}, nil
}
