package result

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/TableStore-Engine/errs"
)

type reply struct {
	Size int64 `json:"size"`
}

func TestOkRoundTrip(t *testing.T) {
	require := require.New(t)

	raw, err := json.Marshal(Ok(reply{Size: 42}))
	require.NoError(err)

	var got Result[reply]
	require.NoError(json.Unmarshal(raw, &got))
	require.True(got.IsOk())
	v, err := got.Unwrap()
	require.NoError(err)
	require.Equal(int64(42), v.Size)
}

func TestErrRoundTripKeepsKind(t *testing.T) {
	require := require.New(t)

	raw, err := json.Marshal(Err[reply](errs.New(errs.ObjectExists, "id already present")))
	require.NoError(err)

	var got Result[reply]
	require.NoError(json.Unmarshal(raw, &got))
	require.False(got.IsOk())
	_, err = got.Unwrap()
	require.True(errors.Is(err, errs.ObjectExists))
	require.Contains(err.Error(), "id already present")
}

func TestPlainErrorBecomesIoError(t *testing.T) {
	require := require.New(t)

	raw, err := json.Marshal(Err[reply](errors.New("disk on fire")))
	require.NoError(err)

	var got Result[reply]
	require.NoError(json.Unmarshal(raw, &got))
	_, err = got.Unwrap()
	require.True(errors.Is(err, errs.IoError))
}

func TestMalformedEnvelopes(t *testing.T) {
	for _, in := range []string{
		`{"ok":true,"value":{"size":1},"error":{"kind":"timeout","message":"x"}}`,
		`{"ok":false}`,
		`{"ok":false,"error":{"kind":"no_such_kind","message":"x"}}`,
	} {
		var got Result[reply]
		err := json.Unmarshal([]byte(in), &got)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("Expected ErrMalformed for %s, got %v", in, err)
		}
	}
}
