package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{Bucket: " "})
	require.Error(t, err)

	store, err := New(&storage.Client{}, Config{Bucket: "artifacts"})
	require.NoError(t, err)
	require.Equal(t, "artifacts", store.bucket)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "artifacts"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "image/png", []byte("x"))
	require.Error(t, err)
}
