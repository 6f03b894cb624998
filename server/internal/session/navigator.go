package session

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/gateway"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
	"github.com/obot-platform/fleetdeck/server/internal/model"
)

// NavState is the state of a navigation session.
type NavState int

const (
	NavIdle NavState = iota
	NavListing
	NavReady
)

func (s NavState) String() string {
	switch s {
	case NavListing:
		return "listing"
	case NavReady:
		return "ready"
	default:
		return "idle"
	}
}

// FileBrowser is the file transfer surface a Navigator drives.
type FileBrowser interface {
	ListDirectory(ctx context.Context, t gateway.Target, dir string) ([]gateway.FileEntry, error)
	DownloadToLocalStore(ctx context.Context, t gateway.Target, remote string) (string, error)
	WriteFile(ctx context.Context, t gateway.Target, remote string, data []byte) error
}

// Listing is a snapshot of one client's navigation session. Files are
// addressed by 1-based ordinal, directories by 0-based index.
type Listing struct {
	Client     string
	Endpoint   model.Endpoint
	Path       string
	Dirs       []gateway.FileEntry
	Files      []gateway.FileEntry
	Generation uint64
	State      NavState
}

type navSession struct {
	Listing
	inflight int
}

// Navigator keys navigation sessions by client identity. The table installed
// by the most recently completed listing is authoritative.
type Navigator struct {
	fs  FileBrowser
	log *logger.Logger

	mu       sync.Mutex
	sessions map[string]*navSession
	gen      uint64
}

// NewNavigator creates a Navigator over fs.
func NewNavigator(fs FileBrowser, log *logger.Logger) *Navigator {
	return &Navigator{
		fs:       fs,
		log:      log.Named("navigator"),
		sessions: make(map[string]*navSession),
	}
}

func cleanDir(dir string) string {
	if strings.TrimSpace(dir) == "" {
		return "/"
	}
	return path.Clean("/" + dir)
}

// List lists dir on ep and installs the result as client's current table.
func (n *Navigator) List(ctx context.Context, client string, ep model.Endpoint, dir string) (*Listing, error) {
	if !ep.Caps.BrowsesFiles {
		return nil, apperr.InvalidInput("list", "%s is a %s server and has no file browser", ep.Name, ep.Kind.Label())
	}
	dir = cleanDir(dir)

	n.mu.Lock()
	s := n.sessions[client]
	if s == nil {
		s = &navSession{Listing: Listing{Client: client}}
		n.sessions[client] = s
	}
	s.inflight++
	s.State = NavListing
	n.mu.Unlock()

	entries, err := n.fs.ListDirectory(ctx, ep.Connection, dir)

	n.mu.Lock()
	defer n.mu.Unlock()
	s.inflight--

	if err != nil {
		if s.inflight == 0 {
			s.State = NavIdle
			if s.Generation > 0 {
				s.State = NavReady
			}
		}
		return nil, err
	}

	var dirs, files []gateway.FileEntry
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}

	n.gen++
	s.Endpoint = ep
	s.Path = dir
	s.Dirs = dirs
	s.Files = files
	s.Generation = n.gen
	if s.inflight == 0 {
		s.State = NavReady
	}

	out := s.snapshot()
	return &out, nil
}

func (s *navSession) snapshot() Listing {
	out := s.Listing
	out.Dirs = append([]gateway.FileEntry(nil), s.Dirs...)
	out.Files = append([]gateway.FileEntry(nil), s.Files...)
	return out
}

// ready returns client's session if it is Ready and, when generation is
// non-zero, still at that generation.
func (n *Navigator) ready(op, client string, generation uint64) (*navSession, error) {
	s := n.sessions[client]
	if s == nil || s.Generation == 0 {
		return nil, apperr.InvalidInput(op, "no active listing; list a directory first")
	}
	if s.State != NavReady {
		return nil, apperr.InvalidInput(op, "a listing is in progress; try again")
	}
	if generation != 0 && generation != s.Generation {
		return nil, apperr.NotFound(op, "this listing is out of date; refresh and try again")
	}
	return s, nil
}

// current is ready plus a check that ep is the endpoint the table was listed
// from. The caller's ep carries the live connection details and replaces the
// cached copy.
func (n *Navigator) current(op, client string, ep model.Endpoint, generation uint64) (*navSession, error) {
	s, err := n.ready(op, client, generation)
	if err != nil {
		return nil, err
	}
	if s.Endpoint.ID != ep.ID {
		return nil, apperr.NotFound(op, "the current listing belongs to %s; list %s first", s.Endpoint.Name, ep.Name)
	}
	s.Endpoint = ep
	return s, nil
}

// Enter lists the directory at index dirIndex of the current table.
func (n *Navigator) Enter(ctx context.Context, client string, ep model.Endpoint, dirIndex int, generation uint64) (*Listing, error) {
	n.mu.Lock()
	s, err := n.current("open directory", client, ep, generation)
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	if dirIndex < 0 || dirIndex >= len(s.Dirs) {
		n.mu.Unlock()
		return nil, apperr.NotFound("open directory", "directory #%d is not in the current listing", dirIndex+1)
	}
	target := path.Join(s.Path, s.Dirs[dirIndex].Name)
	n.mu.Unlock()

	return n.List(ctx, client, ep, target)
}

// Up lists the parent of the current directory.
func (n *Navigator) Up(ctx context.Context, client string, ep model.Endpoint) (*Listing, error) {
	n.mu.Lock()
	s, err := n.current("parent directory", client, ep, 0)
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	target := path.Dir(s.Path)
	n.mu.Unlock()

	return n.List(ctx, client, ep, target)
}

// Refresh re-lists the current directory.
func (n *Navigator) Refresh(ctx context.Context, client string, ep model.Endpoint) (*Listing, error) {
	n.mu.Lock()
	s, err := n.current("refresh", client, ep, 0)
	if err != nil {
		n.mu.Unlock()
		return nil, err
	}
	target := s.Path
	n.mu.Unlock()

	return n.List(ctx, client, ep, target)
}

// DownloadByOrdinal fetches file #ordinal of the current table from ep into
// the local store. A non-zero generation must match the current listing.
func (n *Navigator) DownloadByOrdinal(ctx context.Context, client string, ep model.Endpoint, ordinal int, generation uint64) (string, gateway.FileEntry, error) {
	const op = "download"

	n.mu.Lock()
	s, err := n.current(op, client, ep, generation)
	if err != nil {
		n.mu.Unlock()
		return "", gateway.FileEntry{}, err
	}
	if ordinal < 1 || ordinal > len(s.Files) {
		count := len(s.Files)
		n.mu.Unlock()
		return "", gateway.FileEntry{}, apperr.NotFound(op, "file #%d is not in the current listing (%d files)", ordinal, count)
	}
	entry := s.Files[ordinal-1]
	remote := path.Join(s.Path, entry.Name)
	n.mu.Unlock()

	local, err := n.fs.DownloadToLocalStore(ctx, ep.Connection, remote)
	if err != nil {
		return "", entry, err
	}
	return local, entry, nil
}

// UploadIntoCurrentPath writes data as filename inside the current directory
// of ep and returns the remote path.
func (n *Navigator) UploadIntoCurrentPath(ctx context.Context, client string, ep model.Endpoint, filename string, data []byte) (string, error) {
	const op = "upload"

	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", apperr.InvalidInput(op, "invalid file name %q", filename)
	}

	n.mu.Lock()
	s, err := n.current(op, client, ep, 0)
	if err != nil {
		n.mu.Unlock()
		return "", err
	}
	remote := path.Join(s.Path, name)
	n.mu.Unlock()

	if err := n.fs.WriteFile(ctx, ep.Connection, remote, data); err != nil {
		return "", err
	}
	n.log.Info("file uploaded", "client", client, "server", ep.Name, "path", remote, "bytes", len(data))
	return remote, nil
}

// Session returns a snapshot of client's session.
func (n *Navigator) Session(client string) (Listing, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.sessions[client]
	if s == nil {
		return Listing{Client: client, State: NavIdle}, false
	}
	return s.snapshot(), true
}

// Forget drops client's session.
func (n *Navigator) Forget(client string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sessions, client)
}
