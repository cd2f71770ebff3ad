package publisher

import (
	"encoding/json"

	"github.com/maxpert/viewsync/encoding"
)

// JSONEncoder encodes events as JSON objects
type JSONEncoder struct{}

func (JSONEncoder) Encode(event DecisionEvent) ([]byte, error) {
	return json.Marshal(event)
}

// MsgpackEncoder encodes events as msgpack maps
type MsgpackEncoder struct{}

func (MsgpackEncoder) Encode(event DecisionEvent) ([]byte, error) {
	return encoding.Marshal(&event)
}

func init() {
	RegisterEncoder("", func() Encoder { return JSONEncoder{} })
	RegisterEncoder("json", func() Encoder { return JSONEncoder{} })
	RegisterEncoder("msgpack", func() Encoder { return MsgpackEncoder{} })
}
