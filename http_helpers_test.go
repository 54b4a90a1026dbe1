package main

import (
	"bytes"
	"mime"
	"mime/multipart"
	"testing"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBetween(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		from, to string
		want     string
	}{
		{"both present", `value="abc" x`, `value="`, `"`, "abc"},
		{"first occurrence wins", `k=1; k=2;`, "k=", ";", "1"},
		{"empty value", `value=""`, `value="`, `"`, ""},
		{"missing start", `nothing here`, `value="`, `"`, ""},
		{"missing end", `value="abc`, `value="`, `"`, ""},
		{"end only before start", `" value="abc`, `value="`, `"`, ""},
		{"multiline", "challenge : 'x\ny'", "challenge : '", "'", "x\ny"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, between(tt.src, tt.from, tt.to))
		})
	}
}

func TestEncodeFormKeepsOrder(t *testing.T) {
	got := encodeForm([]Field{
		{Name: "z", Value: "1"},
		{Name: "a", Value: "два слова"},
		{Name: "m", Value: "a&b=c"},
	})
	assert.Equal(t, "z=1&a=%D0%B4%D0%B2%D0%B0+%D1%81%D0%BB%D0%BE%D0%B2%D0%B0&m=a%26b%3Dc", got)
}

func TestEncodeMultipart(t *testing.T) {
	data, contentType, err := encodeMultipart([]Field{
		{Name: "charcheck", Value: "йцукен"},
		{Name: "lang", Value: ""},
		{Name: "addr", Value: "9121234567"},
	})
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	form, err := multipart.NewReader(bytes.NewReader(data), params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"йцукен"}, form.Value["charcheck"])
	assert.Equal(t, []string{""}, form.Value["lang"])
	assert.Equal(t, []string{"9121234567"}, form.Value["addr"])
}

func TestReasonPhrase(t *testing.T) {
	assert.Equal(t, "Not Found", reasonPhrase(&http.Response{StatusCode: 404, Status: "404 Not Found"}))
	assert.Equal(t, "Custom Reason", reasonPhrase(&http.Response{StatusCode: 503, Status: "503 Custom Reason"}))
	assert.Equal(t, "Internal Server Error", reasonPhrase(&http.Response{StatusCode: 500, Status: "500"}))
	assert.Equal(t, "Bad Gateway", reasonPhrase(&http.Response{StatusCode: 502}))
}
