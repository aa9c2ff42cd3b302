package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/internal/protocol/mft/digest"
)

// ============================================================================
// Mode Tests
// ============================================================================

func TestModeHelpers(t *testing.T) {
	t.Run("direction", func(t *testing.T) {
		assert.True(t, ModeSend.IsSend())
		assert.True(t, ModeSendMD5Through.IsSend())
		assert.True(t, ModeRecvMD5.IsRecv())
		assert.False(t, ModeUnknown.IsSend())
		assert.False(t, ModeUnknown.IsRecv())
	})

	t.Run("md5", func(t *testing.T) {
		assert.Equal(t, ModeSendMD5, ModeSend.WithMD5())
		assert.Equal(t, ModeRecvMD5Through, ModeRecvThrough.WithMD5())
		assert.Equal(t, ModeSendMD5, ModeSendMD5.WithMD5())
		assert.True(t, ModeRecvMD5Through.IsMD5())
		assert.False(t, ModeRecvThrough.IsMD5())
	})

	t.Run("compatible", func(t *testing.T) {
		assert.True(t, IsCompatible(ModeSend, ModeSendMD5))
		assert.True(t, IsCompatible(ModeRecvThrough, ModeRecv))
		assert.False(t, IsCompatible(ModeSend, ModeRecv))
	})

	t.Run("through swaps on requested side", func(t *testing.T) {
		assert.True(t, IsSendThrough(ModeSendThrough, false))
		assert.False(t, IsSendThrough(ModeSendThrough, true))
		assert.True(t, IsSendThrough(ModeRecvThrough, true))
		assert.True(t, IsRecvThrough(ModeSendMD5Through, true))
		assert.False(t, IsRecvThrough(ModeSend, false))
	})

	t.Run("parse", func(t *testing.T) {
		assert.Equal(t, ModeRecvMD5, ParseMode("recvmd5"))
		assert.Equal(t, ModeSend, ParseMode("SENDMODE"))
		assert.Equal(t, ModeUnknown, ParseMode("bogus"))
	})
}

// ============================================================================
// Packet Tests
// ============================================================================

func TestNewRequestDefaults(t *testing.T) {
	r := NewRequest("rule", ModeSend, "f.txt", 10, 65536, 0, 42, "info", -1)

	assert.Equal(t, int32(65536), r.BlockSize)
	assert.Equal(t, int64(-1), r.OriginalSize)
	assert.Equal(t, codes.InitOk, r.ErrorCode())
	assert.True(t, r.ToValidate())

	r.Validate()
	assert.False(t, r.ToValidate())
}

func TestDataKey(t *testing.T) {
	d := NewData(3, []byte("payload"), digest.SHA256, true)
	assert.True(t, d.KeyValid(digest.SHA256))
	assert.False(t, d.KeyValid(digest.MD5))

	d.Data = []byte("tampered")
	assert.False(t, d.KeyValid(digest.SHA256))

	plain := NewData(0, []byte("x"), digest.SHA256, false)
	assert.False(t, plain.KeyValid(digest.SHA256))
}

func TestAuthentVersion(t *testing.T) {
	a := &Authent{HostID: "h"}
	assert.Equal(t, LegacyVersion, a.PeerVersion())

	a.Validate("me", []byte("k"))
	assert.Equal(t, Version, a.PeerVersion())
	assert.False(t, a.ToValidate())
}

// ============================================================================
// Frame Tests
// ============================================================================

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := NewRequest("rule", ModeRecvMD5, "in/file.bin", 1024, 65536, 2, 99, "meta", 4096)
	req.Limit = 1000
	_, err := WriteFrame(&buf, Frame{Dest: 7, Src: 3, Packet: req})
	require.NoError(t, err)

	_, err = WriteFrame(&buf, Frame{Dest: 7, Src: 3, Packet: &Raw{Kind: TypeStop, Body: []byte{1, 2}}})
	require.NoError(t, err)

	f, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(7), f.Dest)
	assert.Equal(t, int32(3), f.Src)
	assert.Equal(t, req, f.Packet)

	f, err = ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, TypeStop, f.Packet.Type())
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteFrame(&buf, Frame{Packet: &Data{Rank: 1, Data: make([]byte, 512)}})
	require.NoError(t, err)

	_, err = ReadFrame(&buf, 64)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestUnmarshalUnknownType(t *testing.T) {
	_, err := Unmarshal(Type(200), nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}
