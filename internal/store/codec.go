package store

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/sub/clash"
)

// storedNode wraps a proxy so the residential override survives a reload;
// the proxy itself never renders it.
type storedNode struct {
	ForceResidential bool        `yaml:"force-residential,omitempty"`
	Proxy            model.Proxy `yaml:"proxy"`
}

type storedRecord struct {
	ID        string       `yaml:"id"`
	CreatedAt time.Time    `yaml:"created-at"`
	ExpiresAt time.Time    `yaml:"expires-at"`
	Options   Options      `yaml:"options"`
	Nodes     []storedNode `yaml:"nodes"`
}

type loadedNode struct {
	ForceResidential bool      `yaml:"force-residential"`
	Proxy            yaml.Node `yaml:"proxy"`
}

type loadedRecord struct {
	ID        string       `yaml:"id"`
	CreatedAt time.Time    `yaml:"created-at"`
	ExpiresAt time.Time    `yaml:"expires-at"`
	Options   Options      `yaml:"options"`
	Nodes     []loadedNode `yaml:"nodes"`
}

func encodeRecord(r *Record) ([]byte, error) {
	sr := storedRecord{
		ID:        r.ID,
		CreatedAt: r.CreatedAt.UTC(),
		ExpiresAt: r.ExpiresAt.UTC(),
		Options:   r.Options,
		Nodes:     make([]storedNode, 0, len(r.Nodes)),
	}
	for _, p := range r.Nodes {
		sr.Nodes = append(sr.Nodes, storedNode{ForceResidential: p.Common().ForceResidential, Proxy: p})
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(sr); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(b []byte) (*Record, error) {
	var lr loadedRecord
	if err := yaml.Unmarshal(b, &lr); err != nil {
		return nil, err
	}
	r := &Record{
		ID:        lr.ID,
		Options:   lr.Options,
		CreatedAt: lr.CreatedAt,
		ExpiresAt: lr.ExpiresAt,
		Nodes:     make([]model.Proxy, 0, len(lr.Nodes)),
	}
	for i := range lr.Nodes {
		p, ok, err := clash.DecodeProxy(&lr.Nodes[i].Proxy)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		if !ok {
			return nil, fmt.Errorf("node %d: incomplete proxy", i)
		}
		if lr.Nodes[i].ForceResidential {
			b := p.Common()
			b.ForceResidential = true
			p = p.WithCommon(b)
		}
		r.Nodes = append(r.Nodes, p)
	}
	return r, nil
}
