package zuscore

import "github.com/anvilfs/zuscore/internal/constants"

// Re-exported defaults for the public API.
const (
	DefaultMaxChannels   = constants.DefaultMaxChannels
	DefaultOpHeaderSize  = constants.DefaultOpHeaderSize
	DefaultAPIRegionSize = constants.DefaultAPIRegionSize
	DefaultOpBufferSize  = constants.DefaultOpBufferSize
	DefaultRootPath      = constants.DefaultRootPath
	NoNode               = constants.NoNode
	AllCPUs              = constants.AllCPUs
)
