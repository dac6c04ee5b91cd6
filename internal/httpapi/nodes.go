package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/subgen-go/internal/model"
	"github.com/John-Robertt/subgen-go/internal/sub/clash"
)

// editableNode is a proxy as the editor sees it: the Clash fields plus
// client-side bookkeeping keys that start with "_".
type editableNode struct {
	ID     string
	Source string
	Proxy  model.Proxy
}

func (n editableNode) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(n.Proxy)
	if err != nil {
		return nil, err
	}
	extra := struct {
		ID     string `json:"_id"`
		Source string `json:"_source,omitempty"`
	}{n.ID, n.Source}
	tail, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}
	return joinObjects(body, tail), nil
}

// joinObjects concatenates two encoded JSON objects into one.
func joinObjects(a, b []byte) []byte {
	a = bytes.TrimSpace(a)
	b = bytes.TrimSpace(b)
	if len(a) <= 2 {
		return b
	}
	if len(b) <= 2 {
		return a
	}
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a[:len(a)-1]...)
	out = append(out, ',')
	return append(out, b[1:]...)
}

var errNotObject = errors.New("node must be a JSON object")

// decodeEditedNode reads one node sent back by the editor. JSON is valid
// YAML, so the Clash entry decoder handles the proxy fields.
func decodeEditedNode(raw json.RawMessage) (model.Proxy, *model.Override, error) {
	var meta struct {
		Override *model.Override `json:"_override"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, nil, errNotObject
	}
	p, ok, err := clash.DecodeProxy(doc.Content[0])
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("node is incomplete or of an unsupported type")
	}
	return p, meta.Override, nil
}
