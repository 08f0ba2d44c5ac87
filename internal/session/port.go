package session

import (
	"fmt"
	"net"

	apierrors "github.com/AnturK/tgstation-server/infrastructure/errors"
)

// ReservePort bind-tests port on loopback (spec §4.4 "Port reservation").
// The OS is the authoritative registry; no parallel in-process table is
// kept. The returned release func must be called immediately before the
// game-server process binds the same port itself.
func ReservePort(port int) (release func(), err error) {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, apierrors.DreamDaemonPortInUse(port)
	}
	return func() { l.Close() }, nil
}
