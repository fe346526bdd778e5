package wire

import "fmt"

// DiagKind classifies a diagnostic message.
type DiagKind string

const (
	DiagDropped   DiagKind = "dropped"
	DiagInvalid   DiagKind = "invalid"
	DiagTruncated DiagKind = "truncated"
)

// Diag records a non-fatal issue encountered while decoding.
type Diag struct {
	Offset int      `json:"offset"`
	Kind   DiagKind `json:"kind"`
	Msg    string   `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Offset, d.Msg)
}

// Diags accumulates diagnostics.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(offset int, kind DiagKind, msg string) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: msg})
}

func (d *Diags) Addf(offset int, kind DiagKind, format string, args ...any) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Mode controls error handling behavior.
type Mode int

const (
	ModeBestEffort Mode = iota // recover where possible, accumulate diags
	ModeStrict                 // first recoverable issue is an error
)
