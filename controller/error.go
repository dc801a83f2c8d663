package controller

import (
	"encoding/hex"
	"fmt"

	"github.com/canopy-network/dbft/lib"
)

func ErrNonSequentialBlock(expected, got uint32) lib.ErrorI {
	return lib.NewError(lib.CodeNonSequentialBlock, lib.MainModule, fmt.Sprintf("expected block %d, got %d", expected, got))
}

func ErrMismatchPrevHash(expected, got []byte) lib.ErrorI {
	return lib.NewError(lib.CodeMismatchPrevHash, lib.MainModule,
		fmt.Sprintf("block doesn't extend %s: prev hash is %s", hex.EncodeToString(expected), hex.EncodeToString(got)))
}
