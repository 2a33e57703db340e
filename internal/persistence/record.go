package persistence

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/petrijr/stepchain/pkg/api"
)

func init() {
	// Concrete value types that may appear inside an api.Record.
	gob.Register(time.Time{})
	gob.Register([]string{})
	gob.Register(map[string]any{})
}

// EncodeRecord serializes a flat record using encoding/gob. Callers must
// ensure that record values are gob-encodable scalars.
func EncodeRecord(rec api.Record) ([]byte, error) {
	if rec == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRecord is the inverse of EncodeRecord. Empty input decodes to nil.
func DecodeRecord(data []byte) (api.Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rec api.Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}
