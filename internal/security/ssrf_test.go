package security

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"chasingclaw/internal/domain"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func TestValidateURL(t *testing.T) {
	resolver := fakeResolver{
		"example.com":  {"93.184.216.34"},
		"internal.lan": {"93.184.216.34", "10.1.2.3"},
	}
	tests := []struct {
		url     string
		blocked bool
	}{
		{"https://example.com/hook", false},
		{"http://8.8.8.8/x", false},
		{"http://127.0.0.1:8080/", true},
		{"http://[::1]/", true},
		{"http://internal.lan/", true},
		{"http://unknown.invalid/", true},
		{"ftp://example.com/", true},
		{"/relative", true},
	}
	for _, tt := range tests {
		err := ValidateURL(context.Background(), tt.url, resolver)
		if tt.blocked {
			assert.ErrorIs(t, err, domain.ErrSSRFBlocked, tt.url)
		} else {
			assert.NoError(t, err, tt.url)
		}
	}
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, IsPrivateIP(net.ParseIP("192.168.1.1")))
	assert.True(t, IsPrivateIP(net.ParseIP("::ffff:10.0.0.1")))
	assert.False(t, IsPrivateIP(net.ParseIP("1.1.1.1")))
}
