package packet

import "fmt"

// Protocol versions.
const (
	ProtocolNetQuake  = 15
	ProtocolFitzQuake = 666
	ProtocolRMQ       = 999
)

// Protocol flags, only meaningful for ProtocolRMQ.
const (
	PrflShortAngle  uint32 = 1 << 1
	PrflFloatAngle  uint32 = 1 << 2
	Prfl24BitCoord  uint32 = 1 << 3
	PrflFloatCoord  uint32 = 1 << 4
	PrflEdictScale  uint32 = 1 << 5
	PrflAlphaSanity uint32 = 1 << 6
	PrflInt32Coord  uint32 = 1 << 7
	PrflMoreFlags   uint32 = 1 << 31
)

// DefaultRMQFlags is the flag set announced when RMQ is selected without
// an explicit override.
const DefaultRMQFlags = PrflInt32Coord | PrflShortAngle

// ValidProtocol reports whether p is one of the supported versions.
func ValidProtocol(p int) bool {
	switch p {
	case ProtocolNetQuake, ProtocolFitzQuake, ProtocolRMQ:
		return true
	}
	return false
}

// ProtocolName is used in logs and the server banner.
func ProtocolName(p int) string {
	switch p {
	case ProtocolNetQuake:
		return "NetQuake"
	case ProtocolFitzQuake:
		return "FitzQuake"
	case ProtocolRMQ:
		return "RMQ"
	default:
		return fmt.Sprintf("Unknown(%d)", p)
	}
}

// Server-to-client opcodes.
const (
	SvcBad            = 0
	SvcNop            = 1
	SvcDisconnect     = 2
	SvcUpdateStat     = 3
	SvcVersion        = 4
	SvcSetView        = 5
	SvcSound          = 6
	SvcTime           = 7
	SvcPrint          = 8
	SvcStuffText      = 9
	SvcSetAngle       = 10
	SvcServerInfo     = 11
	SvcLightStyle     = 12
	SvcUpdateName     = 13
	SvcUpdateFrags    = 14
	SvcClientData     = 15
	SvcStopSound      = 16
	SvcUpdateColors   = 17
	SvcParticle       = 18
	SvcDamage         = 19
	SvcSpawnStatic    = 20
	SvcSpawnBaseline  = 22
	SvcTempEntity     = 23
	SvcSetPause       = 24
	SvcSignonNum      = 25
	SvcCenterPrint    = 26
	SvcStaticSound    = 29
	SvcCDTrack        = 32
	SvcSpawnBaseline2 = 42
	SvcSpawnStatic2   = 43
	SvcStaticSound2   = 44
	SvcLocalSound     = 56
)

// Sound message field bits.
const (
	SndVolume      = 1 << 0
	SndAttenuation = 1 << 1
	SndLargeEntity = 1 << 3
	SndLargeSound  = 1 << 4
)

const (
	DefaultSoundVolume      = 255
	DefaultSoundAttenuation = 1.0
)

// Game modes announced in serverinfo.
const (
	GameCoop       = 0
	GameDeathmatch = 1
)

// Client-to-server opcodes.
const (
	ClcBad        = 0
	ClcNop        = 1
	ClcDisconnect = 2
	ClcMove       = 3
	ClcStringCmd  = 4
)

// Size limits shared by the server and transports.
const (
	MaxDatagram      = 64000
	DatagramMTU      = 1400
	MaxMessage       = 64000
	SignonSize       = 31500
	MaxSignonBuffers = 256
)
