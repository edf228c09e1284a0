// Package tax carries the parafiscal configuration applied to billing
// documents: the FODEC development levy, the fixed fiscal stamp (timbre) and
// the locale default VAT rate. Configuration is a plain value threaded into
// each calculation call; nothing here reads process-wide state.
package tax

// Fodec describes the percentage levy computed on the post-discount HT base.
type Fodec struct {
	Enabled bool
	RateBps int64
}

// Timbre describes the fixed per-document stamp duty in minor units.
type Timbre struct {
	Enabled     bool
	AmountCents int64
}

// Config enumerates the parafiscal items that may apply to a document.
type Config struct {
	Fodec         Fodec
	Timbre        Timbre
	DefaultVATBps int64
}

// Flags are per-call overrides. A nil field defers to the Config's Enabled
// bit; a non-nil field always wins, so a caller can produce a stamp-free
// quote without touching ambient settings.
type Flags struct {
	ApplyFodec  *bool
	ApplyTimbre *bool
}

// Resolve combines ambient configuration with per-call flags.
func (c Config) Resolve(f Flags) (fodec, timbre bool) {
	fodec = c.Fodec.Enabled
	if f.ApplyFodec != nil {
		fodec = *f.ApplyFodec
	}
	timbre = c.Timbre.Enabled
	if f.ApplyTimbre != nil {
		timbre = *f.ApplyTimbre
	}
	return fodec, timbre
}

// Bool is a convenience for building Flags literals.
func Bool(v bool) *bool { return &v }
