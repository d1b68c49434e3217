package core

// WFI indicator markers written into a hart's HLS block.
const (
	HLSDataInWFI     uint32 = 0x12345678
	HLSDataPassedWFI uint32 = 0x87654321
)

// Boot-stage flags kept in HLS.
const (
	FlagStartup uint64 = 1 << iota
	FlagHWConfigured
	FlagWaiting
	FlagReleased
	FlagRunning
	FlagSharedAttached
)

// DefaultHLSDebugAreaSize is HLS_DEBUG_AREA_SIZE of the reference config.
const DefaultHLSDebugAreaSize = 64
