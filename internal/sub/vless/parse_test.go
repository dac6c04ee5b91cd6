package vless

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

func TestParse_Reality(t *testing.T) {
	p, err := Parse("vless://uuid@host:443?security=reality&pbk=KEY&sid=ABC&flow=xtls-rprx-vision#N")
	require.NoError(t, err)

	assert.Equal(t, "N", p.Name)
	assert.Equal(t, "uuid", p.UUID)
	assert.Equal(t, "host", p.Server)
	assert.Equal(t, 443, p.Port)
	assert.True(t, p.TLS)
	assert.Equal(t, "xtls-rprx-vision", p.Flow)
	require.NotNil(t, p.RealityOpts)
	assert.Equal(t, "KEY", p.RealityOpts.PublicKey)
	assert.Equal(t, "ABC", p.RealityOpts.ShortID)
	assert.Empty(t, p.Network)
}

func TestParse_TLSWebSocket(t *testing.T) {
	p, err := Parse("vless://id@[2001:db8::2]:8443?security=tls&sni=a.example.com&fp=chrome&allowInsecure=1&type=ws&path=%2Fws%3Fed%3D2048&host=cdn.example.com#%E6%97%A5%E6%9C%AC")
	require.NoError(t, err)

	assert.Equal(t, "日本", p.Name)
	assert.Equal(t, "2001:db8::2", p.Server)
	assert.True(t, p.TLS)
	assert.Equal(t, "a.example.com", p.ServerName)
	assert.Equal(t, "chrome", p.ClientFingerprint)
	assert.True(t, p.SkipCertVerify)
	assert.Nil(t, p.RealityOpts)
	assert.Equal(t, "ws", p.Network)
	require.NotNil(t, p.WSOpts)
	assert.Equal(t, "/ws?ed=2048", p.WSOpts.Path)
	assert.Equal(t, "cdn.example.com", p.WSOpts.Headers["Host"])
}

func TestParse_RealityWithoutPublicKey(t *testing.T) {
	p, err := Parse("vless://id@h.example:443?security=reality&sni=a.com&sid=1#N")
	require.NoError(t, err)
	assert.Equal(t, "N", p.Name)
	assert.True(t, p.TLS)
	assert.Equal(t, "a.com", p.ServerName)
	assert.Nil(t, p.RealityOpts)
}

func TestParse_WSPathDecodedTwice(t *testing.T) {
	p, err := Parse("vless://id@h:443?type=ws&path=%252Fws%253Fed%253D2048")
	require.NoError(t, err)
	require.NotNil(t, p.WSOpts)
	assert.Equal(t, "/ws?ed=2048", p.WSOpts.Path)
}

func TestParse_TransportOptionsOnlyWhenPresent(t *testing.T) {
	p, err := Parse("vless://id@h:443?type=ws")
	require.NoError(t, err)
	assert.Equal(t, "ws", p.Network)
	assert.Nil(t, p.WSOpts)

	p, err = Parse("vless://id@h:443?type=grpc&serviceName=svc")
	require.NoError(t, err)
	require.NotNil(t, p.GRPCOpts)
	assert.Equal(t, "svc", p.GRPCOpts.ServiceName)
	assert.Equal(t, DefaultName, p.Name)
}

func TestParse_SecurityNoneIgnoresTLSParams(t *testing.T) {
	p, err := Parse("vless://id@h:443?security=none&sni=x&fp=chrome")
	require.NoError(t, err)
	assert.False(t, p.TLS)
	assert.Empty(t, p.ServerName)
	assert.Empty(t, p.ClientFingerprint)
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"no at":          "vless://host:443",
		"empty uuid":     "vless://@host:443",
		"no port":        "vless://id@host",
		"bad port":       "vless://id@host:abc",
		"bad v6":         "vless://id@[::1:443",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(in)
			var pe *uri.ParseError
			require.True(t, errors.As(err, &pe), "err=%v", err)
			assert.Equal(t, uri.CodeParse, pe.AppError.Code)
			assert.Contains(t, pe.AppError.Message, "vless")
		})
	}
}
