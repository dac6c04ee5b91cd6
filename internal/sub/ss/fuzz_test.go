package ss

import "testing"

func FuzzParse(f *testing.F) {
	seed := []string{
		"",
		"ss://",
		"ss://YWVzLTEyOC1nY206cGFzc3dvcmQ=@example.com:8388#A",
		"ss://YWVzLTEyOC1nY206cGFzcw==@example.com:8388/?plugin=simple-obfs%3Bobfs%3Dtls%3Bobfs-host%3Dexample.com#obfs",
		"ss://YWVzLTEyOC1nY206cGFzcw==@[::1]:8388#ipv6",
		"ss://YWVzLTEyOC1nY206cGFzc0BleC5jb206NDQz#legacy",
	}
	for _, s := range seed {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		p, err := Parse(raw)
		if err != nil {
			return
		}
		if p.Server == "" {
			t.Fatalf("empty server")
		}
		if p.Port < 1 || p.Port > 65535 {
			t.Fatalf("port out of range: %d", p.Port)
		}
		if p.Cipher == "" || p.Password == "" {
			t.Fatalf("empty cipher/password")
		}
		if p.Name == "" {
			t.Fatalf("empty name")
		}
	})
}
