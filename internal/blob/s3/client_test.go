package s3blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", normaliseEndpoint("https://minio.local:9000", false))
	assert.Equal(t, "http://minio.local:9000", normaliseEndpoint("minio.local:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)

	c, err := New(context.Background(), ClientConfig{
		Bucket:         "outcomes",
		Region:         "us-east-1",
		Endpoint:       "localhost:9000",
		AccessKey:      "k",
		SecretKey:      "s",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "outcomes", c.Bucket())
	assert.NotNil(t, NewWriter(c))
}
