package hysteria2

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/subgen-go/internal/sub/uri"
)

func TestParse_Full(t *testing.T) {
	p, err := Parse("hysteria2://secret@hy.example.com:8443?sni=hy.example.com&insecure=1&obfs=salamander&obfs-password=ob&alpn=h3&up=50&down=200#SG")
	require.NoError(t, err)

	assert.Equal(t, "SG", p.Name)
	assert.Equal(t, "hy.example.com", p.Server)
	assert.Equal(t, 8443, p.Port)
	assert.Equal(t, "secret", p.Password)
	assert.Equal(t, "hy.example.com", p.SNI)
	assert.True(t, p.SkipCertVerify)
	assert.Equal(t, "salamander", p.Obfs)
	assert.Equal(t, "ob", p.ObfsPassword)
	assert.Equal(t, []string{"h3"}, p.ALPN)
	assert.Equal(t, "50", p.Up)
	assert.Equal(t, "200", p.Down)
}

func TestParse_ShortSchemeAndQueryPassword(t *testing.T) {
	p, err := Parse("hy2://1.2.3.4:443?password=qp")
	require.NoError(t, err)
	assert.Equal(t, "qp", p.Password)
	assert.Equal(t, DefaultName, p.Name)

	p, err = Parse("hy2://1.2.3.4:443?auth=ap")
	require.NoError(t, err)
	assert.Equal(t, "ap", p.Password)
}

func TestParse_LastAtSplitsUserinfo(t *testing.T) {
	p, err := Parse("hy2://a@b@[2001:db8::1]:443")
	require.NoError(t, err)
	assert.Equal(t, "a@b", p.Password)
	assert.Equal(t, "2001:db8::1", p.Server)
}

func TestParse_ObfsPasswordNeedsObfs(t *testing.T) {
	p, err := Parse("hy2://pw@h:443?obfs-password=x")
	require.NoError(t, err)
	assert.Empty(t, p.Obfs)
	assert.Empty(t, p.ObfsPassword)
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{
		"hysteria://pw@h:443",
		"hy2://h:443",
		"hy2://pw@h",
		"hy2://pw@h:99999",
	} {
		_, err := Parse(in)
		var pe *uri.ParseError
		require.True(t, errors.As(err, &pe), "Parse(%q) err=%v", in, err)
		assert.Contains(t, pe.AppError.Message, "hysteria2")
	}
}

func FuzzParse(f *testing.F) {
	f.Add("hysteria2://pw@h:443?sni=a#n")
	f.Add("hy2://h:443?auth=x")
	f.Add("hy2://")
	f.Fuzz(func(t *testing.T, raw string) {
		p, err := Parse(raw)
		if err != nil {
			return
		}
		if p.Password == "" || p.Server == "" {
			t.Fatalf("required field dropped: %+v", p)
		}
		if p.Port < 1 || p.Port > 65535 {
			t.Fatalf("port out of range: %d", p.Port)
		}
	})
}
