// Package modcompress provides codecs for boot module payloads, looked up
// by scheme name with ByName. Decode returns the decompressed bytes in a new
// slice; the input is left as it was.
package modcompress

import "fmt"

// Compressor defines a single compression scheme.
type Compressor interface {
	// Name identifies the scheme, matching the `compression` object key
	// a module entry in the config may carry (§6).
	Name() string

	// Decode and Encode obey "x == Decode(Encode(x))".
	Decode(encodedData []byte) ([]byte, error)
	Encode(decodedData []byte) ([]byte, error)
}

var registry = map[string]Compressor{
	"lzma": &LZMA{},
	"zlib": &ZLIB{},
	"lz4":  &LZ4{},
	"zstd": &ZSTD{},
}

// ByName looks up a Compressor by the scheme name used in config
// (e.g. `module = { path = "init.img.lz4", compression = "lz4" }`).
func ByName(name string) (Compressor, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("modcompress: unknown compression scheme %q", name)
	}
	return c, nil
}
