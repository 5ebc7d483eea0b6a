package reqflow

import (
	"io"
	"mime"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildChunkMultipart_FieldsAndFilePartRoundTrip(t *testing.T) {
	t.Parallel()

	fields := []keyValue{
		{"fileMd5", "abc123"},
		{"chunkIndex", "0"},
	}
	mp, err := buildChunkMultipart(fields, "file", "report.bin", []byte("payload-bytes"))
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(mp.contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	reader := multipart.NewReader(mp.buf, params["boundary"])

	got := map[string]string{}
	var filePart []byte
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if part.FileName() != "" {
			assert.Equal(t, "report.bin", part.FileName())
			filePart, _ = io.ReadAll(part)
			continue
		}
		val, _ := io.ReadAll(part)
		got[part.FormName()] = string(val)
	}

	assert.Equal(t, "abc123", got["fileMd5"])
	assert.Equal(t, "0", got["chunkIndex"])
	assert.Equal(t, "payload-bytes", string(filePart))
}

func TestBuildChunkMultipart_EmptyChunkStillProducesValidPart(t *testing.T) {
	t.Parallel()

	mp, err := buildChunkMultipart(nil, "file", "empty.bin", []byte{})
	require.NoError(t, err)
	assert.NotEmpty(t, mp.buf.Bytes())
}
