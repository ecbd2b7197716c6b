package boltstore

import (
	"bytes"
	"encoding/gob"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

func init() {
	gob.Register(gamedb.Object{})
	gob.Register(gamedb.Attribute{})
	gob.Register(gamedb.AttrDef{})
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeObject(data []byte) (*gamedb.Object, error) {
	var obj gamedb.Object
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func decodeAttrDef(data []byte) (gamedb.AttrDef, error) {
	var def gamedb.AttrDef
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&def)
	return def, err
}
