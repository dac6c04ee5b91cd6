package vless

import "testing"

func FuzzParse(f *testing.F) {
	for _, s := range []string{
		"vless://uuid@host:443?security=reality&pbk=KEY&sid=ABC#N",
		"vless://id@[::1]:443?type=ws&path=%2F&host=a",
		"vless://id@h:1?type=grpc&serviceName=s",
		"vless://",
	} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		p, err := Parse(raw)
		if err != nil {
			return
		}
		if p.UUID == "" || p.Server == "" {
			t.Fatalf("required field dropped: %+v", p)
		}
		if p.Port < 1 || p.Port > 65535 {
			t.Fatalf("port out of range: %d", p.Port)
		}
		if p.RealityOpts != nil && p.RealityOpts.PublicKey == "" {
			t.Fatalf("reality without public key")
		}
	})
}
