package boltstore

import (
	"encoding/binary"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// Bucket names.
var (
	bucketMeta     = []byte("meta")
	bucketObjects  = []byte("objects")
	bucketAttrDefs = []byte("attrdefs")
	bucketReports  = []byte("dbck")
)

var allBuckets = [][]byte{bucketMeta, bucketObjects, bucketAttrDefs, bucketReports}

// Meta keys.
var (
	keyVersion       = []byte("version")
	keyFormat        = []byte("format")
	keyFlags         = []byte("flags")
	keyTop           = []byte("top")
	keyGod           = []byte("god")
	keyNextAttr      = []byte("nextattr")
	keyRecordPlayers = []byte("recordplayers")
	keyBuildingLimit = []byte("buildinglimit")
)

// refToKey encodes a dbref as 8 big-endian bytes so keys sort in dbref
// order. Objects are never stored under a negative ref.
func refToKey(ref gamedb.DBRef) []byte {
	return intToKey(int(ref))
}

func keyToRef(b []byte) gamedb.DBRef {
	return gamedb.DBRef(keyToInt(b))
}

func intToKey(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(int64(n)))
	return buf
}

func keyToInt(b []byte) int {
	if len(b) != 8 {
		return 0
	}
	return int(int64(binary.BigEndian.Uint64(b)))
}
