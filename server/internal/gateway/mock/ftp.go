// Package mock provides an in-memory FTP server for gateway tests.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/obot-platform/fleetdeck/server/internal/gateway"
)

// FTPServer is an in-memory file tree reachable through gateway.FTPDialer.
type FTPServer struct {
	mu       sync.Mutex
	user     string
	password string
	files    map[string][]byte
	dirs     map[string]bool
	clock    time.Time

	// Dials counts control connections. Quits counts closed ones.
	Dials int
	Quits int

	lastAddr string
	served   int64

	// ListHook runs before a listing is served, outside the lock.
	ListHook func(dir string)
	// DialErr makes every dial fail.
	DialErr error
}

// NewFTPServer creates an empty server accepting user/password.
func NewFTPServer(user, password string) *FTPServer {
	return &FTPServer{
		user:     user,
		password: password,
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"/": true},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Dialer returns a gateway.FTPDialer connected to this server.
func (s *FTPServer) Dialer() gateway.FTPDialer {
	return func(ctx context.Context, addr string, timeout time.Duration) (gateway.FTPConn, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.DialErr != nil {
			return nil, s.DialErr
		}
		s.Dials++
		s.lastAddr = addr
		return &conn{srv: s}, nil
	}
}

// Put stores a file, creating parent directories.
func (s *FTPServer) Put(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = path.Clean("/" + p)
	s.mkdirAll(path.Dir(p))
	s.files[p] = append([]byte(nil), data...)
}

// Mkdir creates a directory and its parents.
func (s *FTPServer) Mkdir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAll(path.Clean("/" + p))
}

// Get returns a stored file.
func (s *FTPServer) Get(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path.Clean("/"+p)]
	return data, ok
}

// LastAddr returns the address of the most recent dial.
func (s *FTPServer) LastAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAddr
}

// BytesServed returns the number of file bytes read by clients.
func (s *FTPServer) BytesServed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

// OpenConns returns dials not yet matched by a quit.
func (s *FTPServer) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Dials - s.Quits
}

func (s *FTPServer) mkdirAll(p string) {
	for p != "/" && p != "." {
		s.dirs[p] = true
		p = path.Dir(p)
	}
}

func replyErr(code int, msg string) error {
	return &textproto.Error{Code: code, Msg: msg}
}

type conn struct {
	srv      *FTPServer
	loggedIn bool
	cwd      string
}

func (c *conn) abs(p string) string {
	if !strings.HasPrefix(p, "/") {
		cwd := c.cwd
		if cwd == "" {
			cwd = "/"
		}
		p = cwd + "/" + p
	}
	return path.Clean(p)
}

func (c *conn) Login(user, password string) error {
	if user != c.srv.user || password != c.srv.password {
		return replyErr(ftp.StatusNotLoggedIn, "Login incorrect.")
	}
	c.loggedIn = true
	return nil
}

func (c *conn) check() error {
	if !c.loggedIn {
		return replyErr(ftp.StatusNotLoggedIn, "Please login with USER and PASS.")
	}
	return nil
}

func (c *conn) List(p string) ([]*ftp.Entry, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	dir := c.abs(p)
	if hook := c.srv.ListHook; hook != nil {
		hook(dir)
	}

	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirs[dir] {
		return nil, replyErr(ftp.StatusFileUnavailable, fmt.Sprintf("%s: No such file or directory", dir))
	}

	entries := []*ftp.Entry{
		{Name: ".", Type: ftp.EntryTypeFolder},
		{Name: "..", Type: ftp.EntryTypeFolder},
	}
	for d := range s.dirs {
		if d != "/" && path.Dir(d) == dir {
			entries = append(entries, &ftp.Entry{Name: path.Base(d), Type: ftp.EntryTypeFolder, Time: s.clock})
		}
	}
	for f, data := range s.files {
		if path.Dir(f) == dir {
			entries = append(entries, &ftp.Entry{Name: path.Base(f), Type: ftp.EntryTypeFile, Size: uint64(len(data)), Time: s.clock})
		}
	}
	return entries, nil
}

func (c *conn) Retr(p string) (io.ReadCloser, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[c.abs(p)]
	if !ok {
		return nil, replyErr(ftp.StatusFileUnavailable, "Failed to open file.")
	}
	return io.NopCloser(&servingReader{srv: s, r: bytes.NewReader(append([]byte(nil), data...))}), nil
}

// servingReader counts the bytes a client actually pulls from a retrieval.
type servingReader struct {
	srv *FTPServer
	r   io.Reader
}

func (r *servingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.srv.mu.Lock()
	r.srv.served += int64(n)
	r.srv.mu.Unlock()
	return n, err
}

func (c *conn) Stor(p string, r io.Reader) error {
	if err := c.check(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	target := c.abs(p)
	if !s.dirs[path.Dir(target)] {
		return replyErr(ftp.StatusFileUnavailable, "Could not create file.")
	}
	s.files[target] = data
	s.clock = s.clock.Add(time.Second)
	return nil
}

func (c *conn) Delete(p string) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	target := c.abs(p)
	if _, ok := s.files[target]; !ok {
		return replyErr(ftp.StatusFileUnavailable, "Delete operation failed.")
	}
	delete(s.files, target)
	return nil
}

func (c *conn) Rename(from, to string) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	src, dst := c.abs(from), c.abs(to)
	data, ok := s.files[src]
	if !ok {
		return replyErr(ftp.StatusFileUnavailable, "RNFR command failed.")
	}
	if !s.dirs[path.Dir(dst)] {
		return replyErr(ftp.StatusFileUnavailable, "Rename failed.")
	}
	delete(s.files, src)
	s.files[dst] = data
	return nil
}

func (c *conn) MakeDir(p string) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	target := c.abs(p)
	if s.dirs[target] || !s.dirs[path.Dir(target)] {
		return replyErr(ftp.StatusFileUnavailable, "Create directory operation failed.")
	}
	s.dirs[target] = true
	return nil
}

func (c *conn) ChangeDir(p string) error {
	if err := c.check(); err != nil {
		return err
	}
	s := c.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	target := c.abs(p)
	if !s.dirs[target] {
		return replyErr(ftp.StatusFileUnavailable, "Failed to change directory.")
	}
	c.cwd = target
	return nil
}

func (c *conn) Quit() error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.Quits++
	return nil
}
