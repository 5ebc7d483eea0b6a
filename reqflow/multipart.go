package reqflow

import (
	"bytes"
	"io"
	"mime/multipart"
)

// multipartBody is a fully-built multipart/form-data payload ready to send,
// shaped for the single-chunk case the upload coordinator needs: one
// binary part plus a handful of string fields.
type multipartBody struct {
	buf         *bytes.Buffer
	contentType string
}

// buildChunkMultipart writes fields (in the given order) followed by a
// single file part named fieldName carrying chunk's bytes.
func buildChunkMultipart(fields []keyValue, fieldName, fileName string, chunk []byte) (*multipartBody, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for _, kv := range fields {
		if err := w.WriteField(kv.key, kv.value); err != nil {
			return nil, err
		}
	}

	part, err := w.CreateFormFile(fieldName, fileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, bytes.NewReader(chunk)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &multipartBody{buf: buf, contentType: w.FormDataContentType()}, nil
}

type keyValue struct {
	key   string
	value string
}
