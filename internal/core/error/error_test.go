package errx

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapRedis(t *testing.T) {
	assert.NoError(t, WrapRedis(nil))

	err := WrapRedis(redis.Nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, redis.Nil))
	assert.Equal(t, http.StatusNotFound, StatusOf(err))

	err = WrapRedis(errors.New("connection refused"))
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	assert.Contains(t, err.Error(), RedisErrorMessage)
}

func TestUpstreamStatusTruncatesBody(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = 'x'
	}
	err := UpstreamStatus("financialdatasets", http.StatusTooManyRequests, body)

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusTooManyRequests, appErr.Status)
	assert.Contains(t, err.Error(), "429 Too Many Requests")
	assert.Less(t, len(err.Error()), 500)
}

func TestUpstreamStatusKeepsRunesWhole(t *testing.T) {
	body := []byte("x" + strings.Repeat("€", maxBodySnippet))
	err := UpstreamStatus("tavily", http.StatusBadRequest, body)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.Contains(t, err.Error(), "€...")
}

func TestStatusOfPlainError(t *testing.T) {
	assert.Equal(t, 0, StatusOf(errors.New("plain")))
}
