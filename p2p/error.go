package p2p

import (
	"fmt"

	"github.com/canopy-network/dbft/lib"
)

func ErrPeerAlreadyExists(index uint8) lib.ErrorI {
	return lib.NewError(lib.CodePeerAlreadyExists, lib.P2PModule, fmt.Sprintf("peer %d is already in the set", index))
}

func ErrPeerNotFound(index uint8) lib.ErrorI {
	return lib.NewError(lib.CodePeerNotFound, lib.P2PModule, fmt.Sprintf("peer %d not found", index))
}
