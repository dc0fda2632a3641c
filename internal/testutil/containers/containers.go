//go:build docker

// Package containers starts throwaway backing services for integration tests.
package containers

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	mysqlImage    = "mysql:8.4"
	natsImage     = "nats:2.10-alpine"
	rabbitImage   = "rabbitmq:3.13-management-alpine"
	kafkaImage    = "redpandadata/redpanda:v23.3.17"

	dbUser     = "lwsscan"
	dbPassword = "lwsscan"
	dbName     = "lwsscan"
	mysqlRoot  = "root"
)

// Service is one running container and the URL clients reach it on.
type Service struct {
	URL string
	c   testcontainers.Container
}

func (s *Service) Terminate(ctx context.Context) error {
	if s == nil || s.c == nil {
		return nil
	}
	return s.c.Terminate(ctx)
}

// start runs req and resolves the host side of port.
func start(ctx context.Context, req testcontainers.ContainerRequest, port string) (testcontainers.Container, string, string, error) {
	if os.Getenv("LWS_TEST_LOG") != "" {
		req.LogConsumerCfg = &testcontainers.LogConsumerConfig{
			Consumers: []testcontainers.LogConsumer{&testcontainers.StdoutLogConsumer{}},
		}
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", "", err
	}
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", "", err
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", "", err
	}
	return c, host, mapped.Port(), nil
}

// StartPostgres returns a pgx DSN.
func StartPostgres(ctx context.Context) (*Service, error) {
	c, host, port, err := start(ctx, testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     dbUser,
			"POSTGRES_PASSWORD": dbPassword,
			"POSTGRES_DB":       dbName,
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPassword, host, port, dbName)
	return &Service{URL: dsn, c: c}, nil
}

// StartMySQL returns a go-sql-driver DSN for the root user.
func StartMySQL(ctx context.Context) (*Service, error) {
	c, host, port, err := start(ctx, testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": mysqlRoot,
			"MYSQL_DATABASE":      dbName,
		},
		WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").WithStartupTimeout(120 * time.Second),
	}, "3306/tcp")
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	dsn := fmt.Sprintf("root:%s@tcp(%s:%s)/%s?parseTime=true", mysqlRoot, host, port, dbName)
	return &Service{URL: dsn, c: c}, nil
}

func StartNATS(ctx context.Context) (*Service, error) {
	c, host, port, err := start(ctx, testcontainers.ContainerRequest{
		Image:        natsImage,
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(30 * time.Second),
	}, "4222/tcp")
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	return &Service{URL: fmt.Sprintf("nats://%s:%s", host, port), c: c}, nil
}

func StartRabbitMQ(ctx context.Context) (*Service, error) {
	c, host, port, err := start(ctx, testcontainers.ContainerRequest{
		Image:        rabbitImage,
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
	}, "5672/tcp")
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: %w", err)
	}
	return &Service{URL: fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port), c: c}, nil
}

// StartKafka runs redpanda on a fixed host port so the advertised address
// matches what clients dial.
func StartKafka(ctx context.Context) (*Service, error) {
	hostPort, err := freePort()
	if err != nil {
		return nil, err
	}
	c, _, _, err := start(ctx, testcontainers.ContainerRequest{
		Image:        kafkaImage,
		ExposedPorts: []string{"9092/tcp"},
		Cmd: []string{
			"redpanda", "start",
			"--overprovisioned",
			"--node-id=0",
			"--check=false",
			"--smp=1",
			"--memory=1G",
			"--reserve-memory=0M",
			"--kafka-addr=PLAINTEXT://0.0.0.0:9092",
			fmt.Sprintf("--advertise-kafka-addr=PLAINTEXT://127.0.0.1:%d", hostPort),
		},
		HostConfigModifier: func(cfg *container.HostConfig) {
			cfg.PortBindings = nat.PortMap{
				"9092/tcp": []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(hostPort)}},
			}
		},
		WaitingFor: wait.ForListeningPort("9092/tcp").WithStartupTimeout(120 * time.Second),
	}, "9092/tcp")
	if err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}
	return &Service{URL: fmt.Sprintf("127.0.0.1:%d", hostPort), c: c}, nil
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
