//go:build integration

// Package testutil starts the containers used by integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/go-sql-driver/mysql"
)

const (
	mysqlImage          = "mysql:8.0.36"
	mysqlDatabase       = "mailer"
	mysqlUser           = "root"
	mysqlPassword       = "secret"
	mysqlAlias          = "mysql"
	mailpitImage        = "axllent/mailpit:v1.20"
	mailpitAlias        = "smtp"
	cliContainerImage   = "alpine:3.20"
	cliContainerPath    = "/cli"
	cliExitTimeout      = 2 * time.Minute
	mysqlStartupTimeout = 2 * time.Minute
	smtpStartupTimeout  = time.Minute
)

// Env is a container network shared by the database, the SMTP sink and CLI runs.
type Env struct {
	Network *testcontainers.DockerNetwork
}

// MySQLContainer is a running MySQL server.
type MySQLContainer struct {
	Container testcontainers.Container
	DB        *sql.DB
	// DSN reaches the server from other containers on the network.
	DSN string
}

// SMTPContainer is a running Mailpit SMTP sink.
type SMTPContainer struct {
	Container testcontainers.Container
	// Host and Port reach the SMTP listener from the test process.
	Host string
	Port int
	// APIURL is the Mailpit HTTP API base URL.
	APIURL string
	// Addr reaches the SMTP listener from other containers on the network.
	Addr string
}

// NewEnv creates a network or skips the test when Docker is unavailable.
func NewEnv(t *testing.T, ctx context.Context) Env {
	t.Helper()

	net, err := network.New(ctx)
	if err != nil {
		t.Skipf("create network: %v", err)
	}
	t.Cleanup(func() {
		_ = net.Remove(ctx)
	})

	return Env{Network: net}
}

// StartMySQL runs MySQL on the env network.
func (e Env) StartMySQL(t *testing.T, ctx context.Context) MySQLContainer {
	t.Helper()

	port := nat.Port("3306/tcp")
	req := testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": mysqlPassword,
			"MYSQL_DATABASE":      mysqlDatabase,
		},
		Networks: []string{e.Network.Name},
		NetworkAliases: map[string][]string{
			e.Network.Name: {mysqlAlias},
		},
		WaitingFor: wait.ForSQL(port, "mysql", func(host string, port nat.Port) string {
			return mysqlDSN(host, port.Port())
		}).WithStartupTimeout(mysqlStartupTimeout),
	}

	container := start(t, ctx, req)
	host, mapped := endpoint(t, ctx, container, port)

	db, err := sql.Open("mysql", mysqlDSN(host, mapped.Port()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return MySQLContainer{
		Container: container,
		DB:        db,
		DSN:       mysqlDSN(mysqlAlias, "3306"),
	}
}

// StartSMTP runs a Mailpit sink accepting any credentials on the env network.
func (e Env) StartSMTP(t *testing.T, ctx context.Context) SMTPContainer {
	t.Helper()

	smtpPort := nat.Port("1025/tcp")
	apiPort := nat.Port("8025/tcp")
	req := testcontainers.ContainerRequest{
		Image:        mailpitImage,
		ExposedPorts: []string{string(smtpPort), string(apiPort)},
		Env: map[string]string{
			"MP_SMTP_AUTH_ACCEPT_ANY":     "1",
			"MP_SMTP_AUTH_ALLOW_INSECURE": "1",
		},
		Networks: []string{e.Network.Name},
		NetworkAliases: map[string][]string{
			e.Network.Name: {mailpitAlias},
		},
		WaitingFor: wait.ForListeningPort(smtpPort).WithStartupTimeout(smtpStartupTimeout),
	}

	container := start(t, ctx, req)
	host, mappedSMTP := endpoint(t, ctx, container, smtpPort)
	_, mappedAPI := endpoint(t, ctx, container, apiPort)

	return SMTPContainer{
		Container: container,
		Host:      host,
		Port:      mappedSMTP.Int(),
		APIURL:    fmt.Sprintf("http://%s:%s", host, mappedAPI.Port()),
		Addr:      mailpitAlias + ":1025",
	}
}

// RunCLI runs binaryPath inside an Alpine container on the env network and
// returns its exit code and combined output.
func (e Env) RunCLI(t *testing.T, ctx context.Context, binaryPath string, env map[string]string, args []string) (int, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:      cliContainerImage,
		Entrypoint: []string{cliContainerPath},
		Cmd:        args,
		Env:        env,
		Networks:   []string{e.Network.Name},
		Files: []testcontainers.ContainerFile{
			{
				HostFilePath:      binaryPath,
				ContainerFilePath: cliContainerPath,
				FileMode:          0o755,
			},
		},
		WaitingFor: wait.ForExit().WithExitTimeout(cliExitTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start cli container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	logsReader, err := container.Logs(ctx)
	if err != nil {
		t.Fatalf("read cli logs: %v", err)
	}
	defer logsReader.Close()

	logs, err := io.ReadAll(logsReader)
	if err != nil {
		t.Fatalf("read cli logs: %v", err)
	}

	state, err := container.State(ctx)
	if err != nil {
		t.Fatalf("read cli state: %v", err)
	}

	return state.ExitCode, string(logs)
}

// BuildBinary compiles pkg for linux so it can run inside RunCLI.
func BuildBinary(t *testing.T, pkg string) string {
	t.Helper()

	name := filepath.Base(pkg)
	if name == "." {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatalf("resolve working dir: %v", err)
		}
		name = filepath.Base(wd)
	}
	bin := filepath.Join(t.TempDir(), name)
	cmd := exec.Command("go", "build", "-o", bin, pkg)
	cmd.Env = append(os.Environ(),
		"CGO_ENABLED=0",
		"GOOS=linux",
		"GOARCH="+runtime.GOARCH,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build %s: %v\n%s", pkg, err, string(out))
	}

	return bin
}

func start(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	return container
}

func endpoint(t *testing.T, ctx context.Context, container testcontainers.Container, port nat.Port) (string, nat.Port) {
	t.Helper()

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	return host, mapped
}

func mysqlDSN(host, port string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", mysqlUser, mysqlPassword, host, port, mysqlDatabase)
}
