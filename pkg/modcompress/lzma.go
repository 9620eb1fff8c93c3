package modcompress

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// LZMA implements Compressor using the pure-Go xz/lzma codec.
type LZMA struct{}

// Name returns the type of compression employed.
func (c *LZMA) Name() string { return "lzma" }

// Decode decodes a byte slice of LZMA data.
func (c *LZMA) Decode(encodedData []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(encodedData))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Encode encodes a byte slice with LZMA, writing the uncompressed size into
// the header so a primitive decompressor need not allocate an unknown size.
func (c *LZMA) Encode(decodedData []byte) ([]byte, error) {
	wc := lzma.WriterConfig{
		SizeInHeader: true,
		Size:         int64(len(decodedData)),
		EOSMarker:    false,
	}
	if err := wc.Verify(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	w, err := wc.NewWriter(buf)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, bytes.NewReader(decodedData)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
