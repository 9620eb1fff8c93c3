package modcompress

import (
	"bytes"
	"compress/zlib"
	"io"
)

// ZLIB implements Compressor using the standard library's zlib codec.
type ZLIB struct{}

// Name returns the type of compression employed.
func (c *ZLIB) Name() string { return "zlib" }

// Decode decodes a byte slice of ZLIB data.
func (c *ZLIB) Decode(encodedData []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(encodedData))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Encode encodes a byte slice with ZLIB.
func (c *ZLIB) Encode(decodedData []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := zlib.NewWriterLevel(&out, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(decodedData); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
