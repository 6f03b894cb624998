// Package integration runs the HTTP surface end to end against a real
// database store, the mock container engine and an in-process FTP server.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/obot-platform/fleetdeck/server/internal/config"
	"github.com/obot-platform/fleetdeck/server/internal/container/mock"
	"github.com/obot-platform/fleetdeck/server/internal/database"
	"github.com/obot-platform/fleetdeck/server/internal/gateway"
	ftpmock "github.com/obot-platform/fleetdeck/server/internal/gateway/mock"
	"github.com/obot-platform/fleetdeck/server/internal/handler"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
	"github.com/obot-platform/fleetdeck/server/internal/middleware"
	"github.com/obot-platform/fleetdeck/server/internal/model"
	"github.com/obot-platform/fleetdeck/server/internal/registry"
	"github.com/obot-platform/fleetdeck/server/internal/store"
)

const (
	ftpUser     = "ftpuser"
	ftpPassword = "ftp123"
)

// TestServer wraps a test HTTP server with helpers
type TestServer struct {
	Server  *httptest.Server
	Config  *config.Config
	DB      *database.DB
	Store   *store.DBStore
	Runtime *mock.Provider
	FTP     *ftpmock.FTPServer
	LogFile string
	T       *testing.T
}

// NewTestServer creates a server backed by a file SQLite database, or by the
// PostgreSQL container when TEST_POSTGRES=1.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	var dsn, driver string
	switch {
	case PostgresEnabled():
		dsn, driver = PostgresDSN(), "postgres"
	case os.Getenv("TEST_DATABASE_DSN") != "":
		dsn = os.Getenv("TEST_DATABASE_DSN")
		driver = "sqlite"
		if strings.HasPrefix(dsn, "postgres") {
			driver = "postgres"
		}
	default:
		dsn = "sqlite3://" + filepath.Join(t.TempDir(), "test.db")
		driver = "sqlite"
	}

	cfg := &config.Config{
		Port:           8080,
		CORSOrigins:    []string{"*"},
		DatabaseDSN:    dsn,
		DatabaseDriver: driver,
		ShellUser:      "root",
		ShellPassword:  "password",
		FTPUser:        ftpUser,
		FTPPassword:    ftpPassword,
		LocalStoreDir:  t.TempDir(),
		LogLevel:       "debug",
		LogFormat:      "json",
		LogFile:        filepath.Join(t.TempDir(), "server.log"),
	}

	rt := mock.NewProvider()
	rt.Add("ssh-target-1", model.KindShell, model.StateRunning)
	rt.Add("ftp-target-1", model.KindFTP, model.StateRunning)

	ftp := ftpmock.NewFTPServer(ftpUser, ftpPassword)
	ftp.Put("/welcome.txt", []byte("hi"))

	ts := &TestServer{Config: cfg, Runtime: rt, FTP: ftp, LogFile: cfg.LogFile, T: t}
	ts.start()
	if ts.DB.IsPostgres() {
		cleanTables(ts.DB)
	}
	t.Cleanup(ts.stop)
	return ts
}

func (ts *TestServer) start() {
	t := ts.T
	t.Helper()

	log, err := logger.New(logger.Options{Level: ts.Config.LogLevel, Format: ts.Config.LogFormat, File: ts.Config.LogFile})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	db, err := database.New(ts.Config, log)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	st := store.NewDBStore(db)

	gw := gateway.New(gateway.Options{LocalStoreDir: ts.Config.LocalStoreDir, Logger: log},
		gateway.WithFTPDialer(ts.FTP.Dialer()))
	h := handler.New(handler.Options{
		Registry: registry.New(ts.Runtime, st, ts.Config, log),
		Runtime:  ts.Runtime,
		Files:    gw,
		Remote:   gw,
		Config:   ts.Config,
		Logger:   log,
	})

	ts.DB, ts.Store = db, st
	ts.Server = httptest.NewServer(setupRouter(h, log))
}

func (ts *TestServer) stop() {
	if ts.Server != nil {
		ts.Server.Close()
		ts.Server = nil
	}
	if ts.Store != nil {
		_ = ts.Store.Close()
		ts.Store, ts.DB = nil, nil
	}
}

// Restart closes the server and database and starts new ones on the same
// DSN, engine and FTP server.
func (ts *TestServer) Restart() {
	ts.T.Helper()
	ts.stop()
	ts.start()
}

// setupRouter builds the middleware chain used by the server binary.
func setupRouter(h *handler.Handler, log *logger.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SanitizedLogger(log.Named("access")))
	r.Use(chimiddleware.Recoverer)
	h.Mount(r)
	return r
}

// Do sends a JSON request.
func (ts *TestServer) Do(method, path string, body any) *http.Response {
	ts.T.Helper()

	var bodyReader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			ts.T.Fatalf("Failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		ts.T.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.T.Fatalf("Request failed: %v", err)
	}
	return resp
}

// Get sends a GET request.
func (ts *TestServer) Get(path string) *http.Response {
	ts.T.Helper()
	return ts.Do(http.MethodGet, path, nil)
}

// Post sends a POST request.
func (ts *TestServer) Post(path string, body any) *http.Response {
	ts.T.Helper()
	return ts.Do(http.MethodPost, path, body)
}

// Logs returns the server log written so far.
func (ts *TestServer) Logs() string {
	ts.T.Helper()
	raw, err := os.ReadFile(ts.LogFile)
	if err != nil {
		ts.T.Fatalf("Failed to read log file: %v", err)
	}
	return string(raw)
}

// ParseJSON parses the response body as JSON
func ParseJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("Failed to parse JSON: %v\nBody: %s", err, string(body))
	}
}

// AssertStatus checks the response status code
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("Expected status %d, got %d\nBody: %s", expected, resp.StatusCode, string(body))
	}
}

// cleanTables empties every table for test isolation (PostgreSQL only).
func cleanTables(db *database.DB) {
	for _, m := range model.AllModels() {
		db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m)
	}
}
