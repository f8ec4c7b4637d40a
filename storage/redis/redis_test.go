package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/esgo/storage"
	"github.com/najoast/esgo/storage/storagetest"
)

func TestNewClientRequiresAddr(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, storage.ErrMissingConnection)
}

func TestNewStateStoreValidates(t *testing.T) {
	_, err := NewStateStore[string](nil, storagetest.NewStateCodec(t), "", nil)
	assert.ErrorIs(t, err, storage.ErrMissingConnection)
}

func TestKeyLayout(t *testing.T) {
	client, err := NewClient(Config{Addr: "localhost:6379"})
	require.NoError(t, err)
	defer client.Close()

	store, err := NewStateStore(client, storagetest.NewStateCodec(t), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "esgo:state:acct-1", store.Key("acct-1"))

	custom, err := NewStateStore(client, storagetest.NewStateCodec(t), "bank:", func(id string) string { return "id-" + id })
	require.NoError(t, err)
	assert.Equal(t, "bank:id-acct-1", custom.Key("acct-1"))
}

// TestStateStore_Integration requires a running Redis.
// We skip if connection fails.
func TestStateStore_Integration(t *testing.T) {
	client, err := NewClient(Config{Addr: "localhost:6379"})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	prefix := fmt.Sprintf("esgo-test:%s:", uuid.NewString())
	store, err := NewStateStore(client, storagetest.NewStateCodec(t), prefix, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
	})

	storagetest.RunStateStore(t, store)
}
