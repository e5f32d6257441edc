package x64lower

import (
	"fmt"
	"io"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/sfilabs/x64lower/internal/backend"
	"github.com/sfilabs/x64lower/internal/backend/isa/amd64"
	"github.com/sfilabs/x64lower/internal/logging"
)

// LogScopes selects the lowering events written by WithLogWriter.
type LogScopes = logging.LogScopes

const (
	LogScopeNone    = logging.LogScopeNone
	LogScopeFrame   = logging.LogScopeFrame
	LogScopeSandbox = logging.LogScopeSandbox
	LogScopeCall    = logging.LogScopeCall
	LogScopeBundle  = logging.LogScopeBundle
	LogScopeEncode  = logging.LogScopeEncode
	LogScopeAll     = logging.LogScopeAll
)

// Environment variables read by NewLoweringConfigFromEnv.
const (
	EnvSandbox       = "X64LOWER_SANDBOX"
	EnvBundleLog2    = "X64LOWER_BUNDLE_LOG2"
	EnvISA           = "X64LOWER_ISA"
	EnvSubTarget     = "X64LOWER_SUBTARGET"
	EnvRandomizeSeed = "X64LOWER_RANDOMIZE_SEED"
	EnvLog           = "X64LOWER_LOG"
)

// LoweringConfig controls how functions are lowered, with the default
// implementation as NewLoweringConfig.
//
// LoweringConfig is immutable: every WithX method returns a modified copy
// and leaves the receiver unchanged.
type LoweringConfig struct {
	sandbox         backend.SandboxMode
	bundleAlignLog2 byte
	instructionSet  amd64.InstructionSet
	subTarget       amd64.SubTarget
	randomizeSeed   int64
	logWriter       io.Writer
	logScopes       LogScopes
}

// defaultConfig helps avoid copy/pasting the wrong defaults.
var defaultConfig = &LoweringConfig{
	sandbox:         backend.SandboxNone,
	bundleAlignLog2: backend.DefaultBundleAlignLog2,
	instructionSet:  amd64.InstructionSetDefault,
	subTarget:       amd64.SubTargetSysV,
}

// NewLoweringConfig returns the unsandboxed System V configuration using the
// instruction set of the host.
func NewLoweringConfig() *LoweringConfig {
	return defaultConfig.clone()
}

// clone ensures all fields are copied even if nil.
func (c *LoweringConfig) clone() *LoweringConfig {
	ret := *c
	return &ret
}

// WithSandbox enables or disables bundled software fault isolation.
func (c *LoweringConfig) WithSandbox(enabled bool) *LoweringConfig {
	ret := c.clone()
	if enabled {
		ret.sandbox = backend.SandboxBundledSFI
	} else {
		ret.sandbox = backend.SandboxNone
	}
	return ret
}

// WithSandboxMode sets the sandbox mode. Modes which are not implemented are
// rejected by NewFunction.
func (c *LoweringConfig) WithSandboxMode(mode backend.SandboxMode) *LoweringConfig {
	ret := c.clone()
	ret.sandbox = mode
	return ret
}

// WithBundleAlignLog2 sets the log2 of the bundle size. Defaults to 5, which
// is 32-byte bundles.
func (c *LoweringConfig) WithBundleAlignLog2(log2 byte) *LoweringConfig {
	ret := c.clone()
	ret.bundleAlignLog2 = log2
	return ret
}

// WithInstructionSet sets the vector extensions the generated code may use.
// amd64.InstructionSetDefault detects them from the host.
func (c *LoweringConfig) WithInstructionSet(isa amd64.InstructionSet) *LoweringConfig {
	ret := c.clone()
	ret.instructionSet = isa
	return ret
}

// WithSubTarget sets the calling convention.
func (c *LoweringConfig) WithSubTarget(st amd64.SubTarget) *LoweringConfig {
	ret := c.clone()
	ret.subTarget = st
	return ret
}

// WithRandomizeSeed permutes the registers of temporaries with a permutation
// derived from seed. Zero disables the permutation.
func (c *LoweringConfig) WithRandomizeSeed(seed int64) *LoweringConfig {
	ret := c.clone()
	ret.randomizeSeed = seed
	return ret
}

// WithLogWriter writes the lowering events of scopes to w. A nil w disables
// logging.
func (c *LoweringConfig) WithLogWriter(w io.Writer, scopes LogScopes) *LoweringConfig {
	ret := c.clone()
	ret.logWriter = w
	ret.logScopes = scopes
	return ret
}

// Sandbox returns the sandbox mode.
func (c *LoweringConfig) Sandbox() backend.SandboxMode { return c.sandbox }

// BundleAlignLog2 returns the log2 of the bundle size.
func (c *LoweringConfig) BundleAlignLog2() byte { return c.bundleAlignLog2 }

// InstructionSet returns the configured instruction set.
func (c *LoweringConfig) InstructionSet() amd64.InstructionSet { return c.instructionSet }

// SubTarget returns the calling convention.
func (c *LoweringConfig) SubTarget() amd64.SubTarget { return c.subTarget }

// RandomizeSeed returns the register permutation seed, zero if disabled.
func (c *LoweringConfig) RandomizeSeed() int64 { return c.randomizeSeed }

// String implements fmt.Stringer.
func (c *LoweringConfig) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sandbox=%s bundle=%d isa=%s subtarget=%s",
		c.sandbox, 1<<c.bundleAlignLog2, c.instructionSet, c.subTarget)
	if c.randomizeSeed != 0 {
		fmt.Fprintf(&b, " seed=%d", c.randomizeSeed)
	}
	return b.String()
}

func (c *LoweringConfig) machineConfig() amd64.Config {
	return amd64.Config{Sandbox: c.sandbox, SubTarget: c.subTarget, InstructionSet: c.instructionSet}
}

func (c *LoweringConfig) logger() *logging.Logger {
	if c.logWriter == nil || c.logScopes == LogScopeNone {
		return nil
	}
	return logging.NewLogger(c.logWriter, c.logScopes)
}

// NewLoweringConfigFromEnv returns NewLoweringConfig with the overrides set
// in the environment variables named by the Env constants. Log events are
// written to logWriter when X64LOWER_LOG names any scope.
func NewLoweringConfigFromEnv(logWriter io.Writer) (*LoweringConfig, error) {
	return defaultConfig.WithEnv(logWriter)
}

// WithEnv applies the overrides set in the environment to c. The
// environment is re-read on every call.
func (c *LoweringConfig) WithEnv(logWriter io.Writer) (*LoweringConfig, error) {
	env.Load()
	ret := c.clone()
	if env.Str(EnvSandbox) != "" {
		if env.Bool(EnvSandbox) {
			ret.sandbox = backend.SandboxBundledSFI
		} else {
			ret.sandbox = backend.SandboxNone
		}
	}
	if env.Str(EnvBundleLog2) != "" {
		l := env.Int(EnvBundleLog2, -1)
		if l < 0 || l > 63 {
			return nil, fmt.Errorf("invalid %s: %q", EnvBundleLog2, env.Str(EnvBundleLog2))
		}
		ret.bundleAlignLog2 = byte(l)
	}
	if s := env.Str(EnvISA); s != "" {
		isa, err := amd64.ParseInstructionSet(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvISA, err)
		}
		ret.instructionSet = isa
	}
	if s := env.Str(EnvSubTarget); s != "" {
		st, err := amd64.ParseSubTarget(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvSubTarget, err)
		}
		ret.subTarget = st
	}
	if env.Str(EnvRandomizeSeed) != "" {
		ret.randomizeSeed = env.Int64(EnvRandomizeSeed, 0)
	}
	if s := env.Str(EnvLog); s != "" {
		scopes, err := logging.ParseLogScopes(s)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvLog, err)
		}
		ret.logWriter = logWriter
		ret.logScopes = scopes
	}
	return ret, nil
}
