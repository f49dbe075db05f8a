package store

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	cases := []struct {
		name string
		opts Options
		want any
	}{
		{"default is badger", Options{DataDir: t.TempDir()}, &BadgerStore{}},
		{"badger", Options{Backend: "badger", DataDir: t.TempDir()}, &BadgerStore{}},
		{"sqlite", Options{Backend: "sqlite", DataDir: t.TempDir()}, &SqliteStore{}},
		{"memory", Options{Backend: "memory"}, &MemoryStore{}},
		{"file", Options{Backend: "file", DataDir: t.TempDir()}, &FileStore{}},
		{"redis", Options{Backend: "redis", RedisAddr: mr.Addr()}, &RedisStore{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Open(tc.opts)
			require.NoError(t, err)
			assert.IsType(t, tc.want, s)
			assert.NoError(t, s.Close())
		})
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "etcd"})
	assert.Error(t, err)
}

func TestOpenRedisRequiresAddr(t *testing.T) {
	_, err := Open(Options{Backend: "redis"})
	assert.Error(t, err)
}
