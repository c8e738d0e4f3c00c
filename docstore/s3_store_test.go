package docstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// s3TestStore connects to the endpoint named by ANONCHAT_S3_TEST_ENDPOINT,
// e.g. a local MinIO. The suite is skipped when no endpoint is configured.
func s3TestStore(t *testing.T) *S3Store {
	t.Helper()
	endpoint := os.Getenv("ANONCHAT_S3_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("ANONCHAT_S3_TEST_ENDPOINT not set")
	}

	store, err := NewS3Store(context.Background(), S3Config{
		Endpoint:        endpoint,
		AccessKeyID:     os.Getenv("ANONCHAT_S3_TEST_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("ANONCHAT_S3_TEST_SECRET_KEY"),
		Bucket:          os.Getenv("ANONCHAT_S3_TEST_BUCKET"),
		KeyPrefix:       "test-" + uuid.NewString(),
	})
	require.NoError(t, err)
	return store
}

func TestS3StoreCRUD(t *testing.T) {
	store := s3TestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "users/alice")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "users/alice", Record{"username": "alice_w"}, false))
	defer store.Delete(ctx, "users/alice")

	record, err := store.Get(ctx, "users/alice")
	require.NoError(t, err)
	assert.Equal(t, "alice_w", record["username"])

	require.NoError(t, store.Set(ctx, "users/alice", Record{"publicKey": "c3BraQ=="}, true))
	record, err = store.Get(ctx, "users/alice")
	require.NoError(t, err)
	assert.Equal(t, "alice_w", record["username"])
	assert.Equal(t, "c3BraQ==", record["publicKey"])

	results, err := store.Query(ctx, "users")
	require.NoError(t, err)
	assert.Len(t, results, 1)

	require.NoError(t, store.Delete(ctx, "users/alice"))
	_, err = store.Get(ctx, "users/alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3StoreSubscribeUnsupported(t *testing.T) {
	store := s3TestStore(t)
	_, err := store.Subscribe(context.Background(), "chats/c1/messages")
	assert.ErrorIs(t, err, ErrSubscribeUnsupported)
}
