// internal/domain/brand.go
package domain

type Scheme string

const (
	SchemeVisa       Scheme = "visa"
	SchemeMastercard Scheme = "mastercard"
	SchemeAmex       Scheme = "amex"
	SchemeJCB        Scheme = "jcb"
)

// BrandProfile carries the scheme-specific configuration pushed to the
// reader before card detection. Supplied by config or backend; read-only to
// the core. Qualifier is the hex-encoded capability bitfield (TTQ for Visa,
// kernel configuration for Mastercard); limits are minor currency units.
type BrandProfile struct {
	Scheme           Scheme `json:"scheme"`
	Qualifier        string `json:"qualifier,omitempty"`
	FloorLimit       int64  `json:"floor_limit"`
	ContactlessLimit int64  `json:"contactless_limit"`
	CVMLimit         int64  `json:"cvm_limit"`
}
