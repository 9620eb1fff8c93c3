package modcompress

import "github.com/klauspost/compress/zstd"

// ZSTD implements Compressor using klauspost/compress's zstd codec.
type ZSTD struct{}

// Name returns the type of compression employed.
func (c *ZSTD) Name() string { return "zstd" }

// Decode decodes a byte slice of ZSTD data.
func (c *ZSTD) Decode(encodedData []byte) ([]byte, error) {
	d, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.DecodeAll(encodedData, nil)
}

// Encode encodes a byte slice with ZSTD.
func (c *ZSTD) Encode(decodedData []byte) ([]byte, error) {
	e, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer e.Close()
	return e.EncodeAll(decodedData, nil), nil
}
