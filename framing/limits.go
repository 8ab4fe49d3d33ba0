package framing

// Default maximum frame size (16 MB)
const DefaultMaxFrame int = 16_777_216

// Hard limit on frame size (64 MB), applied on top of any configured limit
const MaxFrameHardLimit int = 67_108_864

// Size of the length prefix in bytes
const PrefixSize = 4

// Limits represents the framing limits of one stream
type Limits struct {
	MaxFrame int `yaml:"max_frame"`
}

// DefaultLimits returns the default framing limits
func DefaultLimits() Limits {
	return Limits{MaxFrame: DefaultMaxFrame}
}

// Effective returns the frame size bound actually enforced: the configured
// limit clamped to the hard limit. Zero or negative means default.
func (l Limits) Effective() int {
	limit := l.MaxFrame
	if limit <= 0 {
		limit = DefaultMaxFrame
	}
	if limit > MaxFrameHardLimit {
		limit = MaxFrameHardLimit
	}
	return limit
}

// NegotiateLimits returns the minimum of two limit sets
func NegotiateLimits(a, b Limits) Limits {
	return Limits{MaxFrame: min(a.Effective(), b.Effective())}
}
