package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWith(remoteAddr string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remoteAddr
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "1.2.3.4:5678",
			want:       "1.2.3.4",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "1.2.3.4",
			want:       "1.2.3.4",
		},
		{
			name:       "ipv6 with brackets and port",
			remoteAddr: "[::1]:8080",
			want:       "::1",
		},
		{
			name:       "ipv6 without brackets",
			remoteAddr: "2001:db8::1",
			want:       "2001:db8::1",
		},
		{
			name:       "x-forwarded-for single",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for chain uses first hop",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2, 10.0.0.1"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "x-forwarded-for wins over x-real-ip",
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.7",
				"X-Real-IP":       "203.0.113.9",
			},
			want: "203.0.113.7",
		},
		{
			name:       "empty whitespace forwarded-for falls through",
			remoteAddr: "1.2.3.4:80",
			headers:    map[string]string{"X-Forwarded-For": "   "},
			want:       "1.2.3.4",
		},
		{
			name:       "nothing extractable",
			remoteAddr: "",
			want:       UnknownIP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClientIP(requestWith(tt.remoteAddr, tt.headers)))
		})
	}
}

func TestTrustedProxyKeyFunc(t *testing.T) {
	keyFn, err := TrustedProxyKeyFunc([]string{"10.0.0.0/8", "192.168.1.1"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{
			name:       "untrusted peer ignores header",
			remoteAddr: "203.0.113.5:80",
			xff:        "9.9.9.9",
			want:       "203.0.113.5",
		},
		{
			name:       "trusted peer no header",
			remoteAddr: "10.0.0.1:80",
			want:       "10.0.0.1",
		},
		{
			name:       "trusted peer takes client from header",
			remoteAddr: "10.0.0.1:80",
			xff:        "203.0.113.7",
			want:       "203.0.113.7",
		},
		{
			name:       "walks past trusted hops right to left",
			remoteAddr: "10.0.0.1:80",
			xff:        "203.0.113.7, 10.0.0.3, 10.0.0.2",
			want:       "203.0.113.7",
		},
		{
			name:       "spoofed prefix cannot hide the real client",
			remoteAddr: "10.0.0.1:80",
			xff:        "1.1.1.1, 203.0.113.7, 10.0.0.2",
			want:       "203.0.113.7",
		},
		{
			name:       "single trusted ip entry",
			remoteAddr: "192.168.1.1:80",
			xff:        "203.0.113.7",
			want:       "203.0.113.7",
		},
		{
			name:       "all hops trusted returns chain origin",
			remoteAddr: "10.0.0.1:80",
			xff:        "10.0.0.9, 10.0.0.2",
			want:       "10.0.0.9",
		},
		{
			name:       "invalid entries are skipped",
			remoteAddr: "10.0.0.1:80",
			xff:        "203.0.113.7, not-an-ip",
			want:       "203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.xff != "" {
				headers["X-Forwarded-For"] = tt.xff
			}
			assert.Equal(t, tt.want, keyFn(requestWith(tt.remoteAddr, headers)))
		})
	}
}

func TestTrustedProxyKeyFunc_InvalidConfig(t *testing.T) {
	_, err := TrustedProxyKeyFunc([]string{"not-an-ip"})
	assert.Error(t, err)
}
