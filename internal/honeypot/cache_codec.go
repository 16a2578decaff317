package honeypot

import (
	"bytes"
	"encoding/gob"
)

// encodeCacheEntry/decodeCacheEntry gob-encode the honeypot cache's
// persisted record, matching the same gob-snapshot idiom used by
// internal/breaker and internal/orderstate (grounded on the teacher's
// (*Swapper).saveState/restoreState).
func encodeCacheEntry(e cacheEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCacheEntry(raw []byte, out *cacheEntry) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(out)
}
