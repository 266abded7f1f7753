package testutil

import (
	"bytes"

	"aptkeeper/internal/core"
	"aptkeeper/internal/types"
)

// Sums returns the size and every digest of data.
func Sums(data []byte) types.Checksums {
	sums, err := core.ChecksumsOfReader(bytes.NewReader(data))
	if err != nil {
		panic(err)
	}
	return sums
}
