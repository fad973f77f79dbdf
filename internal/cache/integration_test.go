//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type RedisIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container testcontainers.Container
	backend   *Redis
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(s.ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(s.ctx, "6379")
	s.Require().NoError(err)

	s.backend = NewRedis(fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	s.Require().NoError(s.backend.Ping(s.ctx))
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.backend != nil {
		s.backend.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRedisIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RedisIntegrationSuite))
}

func (s *RedisIntegrationSuite) TestSetNXAndGetDel() {
	ok, err := s.backend.SetNX(s.ctx, "it:marker", []byte("1"), time.Minute)
	s.NoError(err)
	s.True(ok)

	ok, err = s.backend.SetNX(s.ctx, "it:marker", []byte("2"), time.Minute)
	s.NoError(err)
	s.False(ok)

	val, err := s.backend.GetDel(s.ctx, "it:marker")
	s.NoError(err)
	s.Equal("1", string(val))

	_, err = s.backend.Get(s.ctx, "it:marker")
	s.ErrorIs(err, ErrMiss)
}

func (s *RedisIntegrationSuite) TestLedger() {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	key := "it:quota"

	for i := 0; i < 4; i++ {
		s.NoError(s.backend.Record(s.ctx, key, day.Add(time.Duration(i)*time.Hour)))
	}
	s.NoError(s.backend.Record(s.ctx, key, day.Add(24*time.Hour)))

	n, err := s.backend.Count(s.ctx, key, day, day.Add(24*time.Hour))
	s.NoError(err)
	s.Equal(int64(4), n)

	s.NoError(s.backend.Prune(s.ctx, key, day.Add(24*time.Hour)))
	n, err = s.backend.Count(s.ctx, key, day, day.Add(48*time.Hour))
	s.NoError(err)
	s.Equal(int64(1), n)
}

func (s *RedisIntegrationSuite) TestReserveAndRelease() {
	day := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	key := "it:reserve"

	id, ok, err := s.backend.Reserve(s.ctx, key, day.Add(time.Hour), day, day.Add(24*time.Hour), 2)
	s.NoError(err)
	s.True(ok)
	_, ok, err = s.backend.Reserve(s.ctx, key, day.Add(2*time.Hour), day, day.Add(24*time.Hour), 2)
	s.NoError(err)
	s.True(ok)
	_, ok, err = s.backend.Reserve(s.ctx, key, day.Add(3*time.Hour), day, day.Add(24*time.Hour), 2)
	s.NoError(err)
	s.False(ok)

	s.NoError(s.backend.Release(s.ctx, key, id))
	n, err := s.backend.Count(s.ctx, key, day, day.Add(24*time.Hour))
	s.NoError(err)
	s.Equal(int64(1), n)
}

func (s *RedisIntegrationSuite) TestDelIfEqual() {
	s.NoError(s.backend.Set(s.ctx, "it:lock", []byte("mine"), time.Minute))

	ok, err := s.backend.DelIfEqual(s.ctx, "it:lock", []byte("theirs"))
	s.NoError(err)
	s.False(ok)

	ok, err = s.backend.DelIfEqual(s.ctx, "it:lock", []byte("mine"))
	s.NoError(err)
	s.True(ok)
}
