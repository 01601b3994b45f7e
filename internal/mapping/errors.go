package mapping

import "errors"

// ErrDirectoryEntryExists is an invariant violation: AddMapping (called by
// Manager.Initialize) tried to add an M_VPN that is already present in the
// directory.
var ErrDirectoryEntryExists = errors.New("mapping: directory entry already exists")

// ErrNoDirectoryEntry is an invariant violation: an LPN's M_VPN has no
// entry in the Global Translation Directory.
var ErrNoDirectoryEntry = errors.New("mapping: no directory entry for m_vpn")
