package cowfs

// Config collects the engine's tunable constants: block size, maximum
// filename length, and maximum file count. It is populated by applying
// Option values over a set of defaults through a constructor-with-
// parameters style rather than a config file or environment variables —
// the engine has no notion of either.
type Config struct {
	BlockSize         uint
	MaxFilenameLength uint
	MaxFiles          uint
}

// DefaultConfig returns the engine's documented defaults: 4096-byte blocks,
// 255-byte filenames, 1024 files.
func DefaultConfig() Config {
	return Config{
		BlockSize:         4096,
		MaxFilenameLength: 255,
		MaxFiles:          1024,
	}
}

// Option customizes a Config produced by DefaultConfig.
type Option func(*Config)

// WithBlockSize overrides the block size B.
func WithBlockSize(size uint) Option {
	return func(c *Config) { c.BlockSize = size }
}

// WithMaxFilenameLength overrides the maximum filename length L, including
// the terminating null byte.
func WithMaxFilenameLength(length uint) Option {
	return func(c *Config) { c.MaxFilenameLength = length }
}

// WithMaxFiles overrides the maximum number of concurrently-existing files
// F, i.e. the size of the inode table.
func WithMaxFiles(count uint) Option {
	return func(c *Config) { c.MaxFiles = count }
}
