package flow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkOverheadGrowsWithDigits(t *testing.T) {
	require.Equal(t, 1+2+2, chunkOverhead(0))
	require.Equal(t, 1+2+2, chunkOverhead(15))
	require.Equal(t, 2+2+2, chunkOverhead(16))
}

func TestWriteChunkEncodesSizeAndCRLF(t *testing.T) {
	out := make([]byte, 32)
	n, err := writeChunk(out, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "5\r\nhello\r\n", string(out[:n]))
}

func TestWriteChunkErrorsWhenOutputTooSmall(t *testing.T) {
	out := make([]byte, 4)
	_, err := writeChunk(out, []byte("hello"))
	require.Error(t, err)
}

func TestWriteFinalChunk(t *testing.T) {
	out := make([]byte, 8)
	n, err := writeFinalChunk(out)
	require.NoError(t, err)
	require.Equal(t, "0\r\n\r\n", string(out[:n]))
}

func chunkedFlow(t *testing.T) *Flow {
	t.Helper()
	f, err := New(Request{Method: "GET", URI: mustURL(t, "http://example.com/")})
	require.NoError(t, err)
	_, _, err = f.TryResponse([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"))
	require.NoError(t, err)
	require.Equal(t, BodyModeChunked, f.BodyMode())
	return f
}

func TestChunkDecoderSingleChunkInOneCall(t *testing.T) {
	f := chunkedFlow(t)
	out := make([]byte, 64)
	usedIn, usedOut, err := f.ReadBody([]byte("5\r\nhello\r\n0\r\n\r\n"), out)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out[:usedOut]))
	require.Equal(t, 15, usedIn)
	require.True(t, f.CanProceedRecvBody())
}

func TestChunkDecoderAcrossMultipleChunks(t *testing.T) {
	f := chunkedFlow(t)
	out := make([]byte, 64)
	usedIn, usedOut, err := f.ReadBody([]byte("3\r\nfoo\r\n3\r\nbar\r\n0\r\n\r\n"), out)
	require.NoError(t, err)
	require.Equal(t, "foobar", string(out[:usedOut]))
	require.Equal(t, 21, usedIn)
	require.True(t, f.CanProceedRecvBody())
}

func TestChunkDecoderByteAtATime(t *testing.T) {
	f := chunkedFlow(t)
	input := []byte("5\r\nhello\r\n0\r\n\r\n")
	out := make([]byte, 64)
	var body []byte
	for i := 0; i < len(input); i++ {
		usedIn, usedOut, err := f.ReadBody(input[i:i+1], out)
		require.NoError(t, err)
		require.LessOrEqual(t, usedIn, 1)
		body = append(body, out[:usedOut]...)
		if f.CanProceedRecvBody() {
			break
		}
	}
	require.Equal(t, "hello", string(body))
	require.True(t, f.CanProceedRecvBody())
}

func TestChunkDecoderStopsWhenOutputExhausted(t *testing.T) {
	f := chunkedFlow(t)
	out := make([]byte, 2)
	usedIn, usedOut, err := f.ReadBody([]byte("5\r\nhello\r\n0\r\n\r\n"), out)
	require.NoError(t, err)
	require.Equal(t, 2, usedOut)
	require.False(t, f.CanProceedRecvBody())
	require.Less(t, usedIn, 15)
}

func TestChunkDecoderIncompleteInputWaitsForMore(t *testing.T) {
	f := chunkedFlow(t)
	out := make([]byte, 64)
	usedIn, usedOut, err := f.ReadBody([]byte("5\r\nhel"), out)
	require.NoError(t, err)
	require.Equal(t, "hel", string(out[:usedOut]))
	require.Equal(t, 6, usedIn)
	require.False(t, f.CanProceedRecvBody())

	usedIn2, usedOut2, err := f.ReadBody([]byte("lo\r\n0\r\n\r\n"), out)
	require.NoError(t, err)
	require.Equal(t, "lo", string(out[:usedOut2]))
	require.Equal(t, 9, usedIn2)
	require.True(t, f.CanProceedRecvBody())
}
