package adapters

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionOf(t *testing.T) {
	tests := []struct {
		name string
		want Compression
	}{
		{name: "Packages", want: CompressionNone},
		{name: "Packages.gz", want: CompressionGZIP},
		{name: "Packages.bz2", want: CompressionBZIP},
		{name: "Packages.xz", want: CompressionXZ},
		{name: "control.tar.zst", want: CompressionZSTD},
		{name: "data.tar", want: CompressionNone},
		{name: "Release.gpg", want: CompressionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompressionOf(tt.name))
		})
	}
	assert.Equal(t, CompressionGZIP, ParseCompression(".gz"))
	assert.Equal(t, ".bz2", CompressionBZIP.Extension())
	assert.Empty(t, CompressionNone.Extension())
}

func TestCompressionRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("Package: hello\nVersion: 1.0\n\n", 200))
	for _, c := range []Compression{CompressionNone, CompressionGZIP, CompressionBZIP, CompressionXZ, CompressionZSTD} {
		t.Run("scheme "+c.String(), func(t *testing.T) {
			packed, err := c.Compress(payload)
			require.NoError(t, err)
			if c != CompressionNone {
				assert.Less(t, len(packed), len(payload))
			}

			unpacked, err := c.Decompress(packed)
			require.NoError(t, err)
			assert.Equal(t, payload, unpacked)

			r, err := c.NewReader(bytes.NewReader(packed))
			require.NoError(t, err)
			defer r.Close()
			streamed, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, streamed)
		})
	}
}

func TestCompressionRejectsCorruptInput(t *testing.T) {
	for _, c := range []Compression{CompressionGZIP, CompressionXZ} {
		t.Run(c.String(), func(t *testing.T) {
			_, err := c.Decompress([]byte("definitely not compressed"))
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
		})
	}
	_, err := Compression("lz4").NewWriter(io.Discard)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}
