package frame

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestEmpty(t *testing.T) {
	l := NewLatest(0)

	f, err := l.Capture(context.Background())
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestLatestPutAndCapture(t *testing.T) {
	l := NewLatest(0)
	l.Put([]byte{0xFF, 0xD8}, "image/jpeg")

	f, err := l.Capture(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "image/jpeg", f.MimeType)
	assert.Equal(t, []byte{0xFF, 0xD8}, f.Data)
}

func TestLatestExpiry(t *testing.T) {
	l := NewLatest(5 * time.Second)
	base := time.Now()
	l.now = func() time.Time { return base }
	l.Put([]byte{1}, "image/jpeg")

	f, err := l.Capture(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, f)

	l.now = func() time.Time { return base.Add(6 * time.Second) }
	f, err = l.Capture(context.Background())
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestLatestClear(t *testing.T) {
	l := NewLatest(0)
	l.Put([]byte{1}, "image/png")
	l.Clear()

	f, err := l.Capture(context.Background())
	require.NoError(t, err)
	assert.Nil(t, f)
}
