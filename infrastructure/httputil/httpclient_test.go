package httputil

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCopyHTTPClientWithTimeoutNilBase(t *testing.T) {
	client := CopyHTTPClientWithTimeout(nil, 5*time.Second, false)
	assert.Equal(t, 5*time.Second, client.Timeout)
}

func TestCopyHTTPClientWithTimeoutPreservesUnlessForced(t *testing.T) {
	base := &http.Client{Timeout: 11 * time.Second}

	clone := CopyHTTPClientWithTimeout(base, 3*time.Second, false)
	assert.Equal(t, 11*time.Second, clone.Timeout)
	assert.Equal(t, 11*time.Second, base.Timeout)

	forced := CopyHTTPClientWithTimeout(base, 3*time.Second, true)
	assert.Equal(t, 3*time.Second, forced.Timeout)
	assert.Equal(t, 11*time.Second, base.Timeout)
}

func TestCopyHTTPClientWithTimeoutSetsWhenZero(t *testing.T) {
	base := &http.Client{Timeout: 0}
	clone := CopyHTTPClientWithTimeout(base, 9*time.Second, false)
	assert.Equal(t, 9*time.Second, clone.Timeout)
	assert.Equal(t, time.Duration(0), base.Timeout)
}

func TestReadAllStrictWithinLimit(t *testing.T) {
	b, err := ReadAllStrict(strings.NewReader("hello"), 10)
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestReadAllStrictOverLimit(t *testing.T) {
	_, err := ReadAllStrict(strings.NewReader("hello world"), 4)
	var tooLarge *BodyTooLargeError
	assert.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, int64(4), tooLarge.Limit)
}

func TestReadAllWithLimitTruncates(t *testing.T) {
	b, truncated, err := ReadAllWithLimit(strings.NewReader("hello world"), 5)
	assert.NoError(t, err)
	assert.True(t, truncated)
	assert.Equal(t, "hello", string(b))
}
