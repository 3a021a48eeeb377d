package identityprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyFromEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    string
		wantErr bool
	}{
		{"nothing set", map[string]string{}, "", false},
		{"http proxy", map[string]string{"HTTP_PROXY": "proxy.local:3128"}, "http://proxy.local:3128", false},
		{"scheme stripped", map[string]string{"http_proxy": "http://proxy.local:3128/"}, "http://proxy.local:3128", false},
		{"https preferred", map[string]string{"HTTP_PROXY": "a:1", "HTTPS_PROXY": "https://b:2"}, "http://b:2", false},
		{"lower case first", map[string]string{"https_proxy": "a:1", "HTTPS_PROXY": "b:2"}, "http://a:1", false},
		{"no port", map[string]string{"HTTP_PROXY": "proxy.local"}, "", true},
		{"bad port", map[string]string{"HTTP_PROXY": "proxy.local:port"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(key string) string { return tt.env[key] }

			got, err := ProxyFromEnvironment(getenv)

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.String())
		})
	}
}
