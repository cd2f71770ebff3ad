package encoding

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

const testTag uint8 = 7

func TestNodeState_RoundTrip(t *testing.T) {
	in := NodeStateWire{ViewID: 7, TransactionID: 1<<40 + 15, SyncMode: 1, SyncPort: 9100}

	data, err := EncodeNodeState(testTag, in)
	require.NoError(t, err)

	out, err := DecodeNodeState(testTag, data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNodeState_FieldOrder(t *testing.T) {
	data, err := EncodeNodeState(testTag, NodeStateWire{ViewID: 3, TransactionID: 10, SyncMode: 0, SyncPort: 80})
	require.NoError(t, err)

	var fields []uint64
	require.NoError(t, msgpack.Unmarshal(data, &fields))
	assert.Equal(t, []uint64{uint64(testTag), 3, 10, 0, 80}, fields)
}

func TestNodeState_WrongTag(t *testing.T) {
	data, err := EncodeNodeState(testTag, NodeStateWire{ViewID: 1})
	require.NoError(t, err)

	_, err = DecodeNodeState(testTag+1, data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedMessage))
}

func TestNodeState_WrongShape(t *testing.T) {
	data, err := msgpack.Marshal([]uint64{uint64(testTag), 1, 2})
	require.NoError(t, err)

	_, err = DecodeNodeState(testTag, data)
	assert.ErrorIs(t, err, ErrUnexpectedMessage)
}

func TestNodeState_Truncated(t *testing.T) {
	data, err := EncodeNodeState(testTag, NodeStateWire{ViewID: 9, TransactionID: 99, SyncPort: 1})
	require.NoError(t, err)

	_, err = DecodeNodeState(testTag, data[:len(data)-2])
	assert.Error(t, err)
}

func TestNodeState_OutOfRangeFields(t *testing.T) {
	cases := map[string][]uint64{
		"tag":  {uint64(testTag) + 256, 7, 10, 1, 80},
		"mode": {uint64(testTag), 7, 10, 257, 80},
		"port": {uint64(testTag), 7, 10, 1, 70000},
	}

	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := msgpack.Marshal(fields)
			require.NoError(t, err)

			_, err = DecodeNodeState(testTag, data)
			assert.ErrorIs(t, err, ErrUnexpectedMessage)
		})
	}
}

func TestNodeState_TrailingBytes(t *testing.T) {
	data, err := EncodeNodeState(testTag, NodeStateWire{ViewID: 2, TransactionID: 5, SyncPort: 80})
	require.NoError(t, err)

	_, err = DecodeNodeState(testTag, append(data, 0x01))
	assert.ErrorIs(t, err, ErrUnexpectedMessage)
}
