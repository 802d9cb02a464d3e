package httpcache

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultKeyIsDeterministic(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "/courses?sort=asc&page=2", nil)
	b := httptest.NewRequest(http.MethodGet, "/courses?page=2&sort=asc", nil)
	assert.Equal(t, DefaultKey(a, "u1", nil), DefaultKey(b, "u1", nil))
	assert.True(t, strings.HasPrefix(DefaultKey(a, "u1", nil), "cache:http:"))
	assert.Len(t, strings.TrimPrefix(DefaultKey(a, "u1", nil), "cache:http:"), 64)
}

func TestDefaultKeyDistinguishesInputs(t *testing.T) {
	base := httptest.NewRequest(http.MethodGet, "/courses?page=2", nil)
	key := DefaultKey(base, "u1", nil)

	assert.NotEqual(t, key, DefaultKey(base, "u2", nil))
	assert.NotEqual(t, key, DefaultKey(base, "u1", []byte("body")))
	assert.NotEqual(t, key, DefaultKey(httptest.NewRequest(http.MethodHead, "/courses?page=2", nil), "u1", nil))
	assert.NotEqual(t, key, DefaultKey(httptest.NewRequest(http.MethodGet, "/courses?page=3", nil), "u1", nil))
	assert.NotEqual(t, key, DefaultKey(httptest.NewRequest(http.MethodGet, "/lessons?page=2", nil), "u1", nil))
}

func TestFastKey(t *testing.T) {
	a := httptest.NewRequest(http.MethodGet, "/courses?b=1&a=2", nil)
	b := httptest.NewRequest(http.MethodGet, "/courses?a=2&b=1", nil)
	assert.Equal(t, FastKey(a, Anonymous, nil), FastKey(b, Anonymous, nil))
	assert.NotEqual(t, FastKey(a, Anonymous, nil), FastKey(a, "u1", nil))
	assert.NotEqual(t, DefaultKey(a, Anonymous, nil), FastKey(a, Anonymous, nil))
}

func TestReadBodyRestoresBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/search", strings.NewReader(`{"q":"go"}`))
	body, ok := readBody(r)
	assert.True(t, ok)
	assert.Equal(t, `{"q":"go"}`, string(body))
	buf := new(strings.Builder)
	_, err := io.Copy(buf, r.Body)
	assert.NoError(t, err)
	assert.Equal(t, `{"q":"go"}`, buf.String())
}

// brokenBody yields data and then fails.
type brokenBody struct {
	data   *strings.Reader
	closed bool
}

var errBrokenBody = errors.New("connection reset by peer")

func (b *brokenBody) Read(p []byte) (int, error) {
	if b.data.Len() == 0 {
		return 0, errBrokenBody
	}
	return b.data.Read(p)
}

func (b *brokenBody) Close() error {
	b.closed = true
	return nil
}

func TestReadBodyKeepsPartialBytesOnError(t *testing.T) {
	src := &brokenBody{data: strings.NewReader("partial")}
	r := httptest.NewRequest(http.MethodGet, "/search", nil)
	r.Body = src

	_, ok := readBody(r)
	assert.False(t, ok)
	got, err := io.ReadAll(r.Body)
	assert.ErrorIs(t, err, errBrokenBody)
	assert.Equal(t, "partial", string(got))
	assert.NoError(t, r.Body.Close())
	assert.True(t, src.closed)
}

func TestReadBodyRejectsOversizedBody(t *testing.T) {
	payload := strings.Repeat("x", maxKeyBody+10)
	r := httptest.NewRequest(http.MethodGet, "/search", strings.NewReader(payload))

	_, ok := readBody(r)
	assert.False(t, ok)
	got, err := io.ReadAll(r.Body)
	assert.NoError(t, err)
	assert.Len(t, got, len(payload))
}
