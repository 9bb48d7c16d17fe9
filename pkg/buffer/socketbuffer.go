/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: socketbuffer.go
Description: SocketBuffer fixes a FileBuffer's name to a stable encoding of a
socket/datagram message index, inheriting all FileBuffer operations.
*/

package buffer

import (
	"fmt"

	"github.com/spf13/afero"
)

// SocketName returns the stable blob name used for the i-th message of a
// socket or datagram target, e.g. "msg_0", "msg_1". Unlike file-mode blob
// names this is never written to disk as a real file name under that
// name — the engine instead materialises the whole message sequence into
// the replace_data sidecar (see pkg/engine) — but every blob still needs a
// stable name to be addressable within an Input.
func SocketName(messageIndex int) string {
	return fmt.Sprintf("msg_%d", messageIndex)
}

// NewSocketMessage wraps one socket/datagram message as a FileBuffer named
// per SocketName, inheriting ApplyModel/CutQueryAndDump unchanged.
func NewSocketMessage(fs afero.Fs, messageIndex int, data []byte) *FileBuffer {
	return New(fs, SocketName(messageIndex), data)
}
