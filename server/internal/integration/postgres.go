package integration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/obot-platform/fleetdeck/server/internal/database"
)

const (
	postgresContainerName = "fleetdeck-test-postgres"
	postgresPort          = "5433" // avoids a local server on 5432
	postgresUser          = "fleetdeck"
	postgresPassword      = "fleetdeck"
	postgresDB            = "fleetdeck_test"
	postgresImage         = "postgres:16-alpine"
)

// PostgresDSN returns the DSN of the test PostgreSQL container.
func PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, postgresPort, postgresDB)
}

// PostgresEnabled reports whether TEST_POSTGRES=1 is set.
func PostgresEnabled() bool {
	return os.Getenv("TEST_POSTGRES") == "1"
}

// StartPostgres runs a fresh PostgreSQL container and waits until it accepts
// connections. The returned cleanup keeps the container when tests failed.
func StartPostgres(ctx context.Context) (cleanup func(success bool), err error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	_ = removePostgres(ctx, cli)
	if err := runPostgres(ctx, cli); err != nil {
		cli.Close()
		return nil, fmt.Errorf("start postgres container: %w", err)
	}
	if err := waitForPostgres(ctx, 30*time.Second); err != nil {
		cli.Close()
		return nil, fmt.Errorf("postgres failed to become ready: %w", err)
	}

	cleanup = func(success bool) {
		defer cli.Close()
		if success {
			if err := removePostgres(context.Background(), cli); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to remove postgres container: %v\n", err)
			}
			return
		}
		separator := strings.Repeat("=", 60)
		fmt.Fprintf(os.Stderr, "\n%s\n", separator)
		fmt.Fprintf(os.Stderr, "TEST FAILED - PostgreSQL container kept for debugging\n")
		fmt.Fprintf(os.Stderr, "Connect: psql %s\n", PostgresDSN())
		fmt.Fprintf(os.Stderr, "Remove:  docker rm -f %s\n", postgresContainerName)
		fmt.Fprintf(os.Stderr, "%s\n\n", separator)
	}
	return cleanup, nil
}

func runPostgres(ctx context.Context, cli *client.Client) error {
	pull, err := cli.ImagePull(ctx, postgresImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", postgresImage, err)
	}
	_, _ = io.Copy(io.Discard, pull)
	pull.Close()

	port := nat.Port("5432/tcp")
	resp, err := cli.ContainerCreate(ctx,
		&containerTypes.Config{
			Image: postgresImage,
			Env: []string{
				"POSTGRES_USER=" + postgresUser,
				"POSTGRES_PASSWORD=" + postgresPassword,
				"POSTGRES_DB=" + postgresDB,
			},
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&containerTypes.HostConfig{
			PortBindings: nat.PortMap{port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: postgresPort}}},
		},
		nil, nil, postgresContainerName)
	if err != nil {
		return err
	}
	return cli.ContainerStart(ctx, resp.ID, containerTypes.StartOptions{})
}

func removePostgres(ctx context.Context, cli *client.Client) error {
	return cli.ContainerRemove(ctx, postgresContainerName, containerTypes.RemoveOptions{Force: true})
}

// waitForPostgres polls until a GORM connection can run a query. The port is
// published before the server inside accepts logins.
func waitForPostgres(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if db, err := database.Open("postgres", PostgresDSN()); err == nil {
			pingErr := db.WithContext(ctx).Exec("SELECT 1").Error
			_ = db.Close()
			if pingErr == nil {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("timeout waiting for postgres on port %s", postgresPort)
}
