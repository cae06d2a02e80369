package idmap

import (
	"encoding/json"

	"github.com/cuemby/cocoasync/pkg/types"
)

func marshalMapping(m types.IDMapping) ([]byte, error) {
	return json.Marshal(m)
}

func unmarshalMapping(data []byte, m *types.IDMapping) error {
	return json.Unmarshal(data, m)
}
