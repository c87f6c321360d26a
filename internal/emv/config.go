// internal/emv/config.go
//
// Package emv builds and applies the scheme-specific kernel configuration a
// card read depends on: capability tag sets per brand, and the separately
// updatable kernel limits.
package emv

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pos-terminal/internal/domain"
)

// Capability tag sets pushed per scheme. The qualifier tag is the one field
// a BrandProfile can override; everything else is static terminal
// capability data.
const (
	tagVisaTTQ         = "9F66"
	tagMastercardKCfg  = "DF811B"
	tagTermCaps        = "9F33"
	tagAddlTermCaps    = "9F40"
	tagTermType        = "9F35"
	tagFloorLimit      = "9F1B"
	tagCtlessTxnLimit  = "DF8124"
	tagCtlessCVMLimit  = "DF8126"
	tagCtlessFloorTags = "DF8123"
)

const (
	defaultVisaTTQ        = "27000000"
	defaultMastercardKCfg = "60"
	defaultTermCaps       = "E0F8C8"
	defaultAddlTermCaps   = "F000F0A001"
	defaultTermType       = "22"
)

// KernelLimits is the numeric limit set owned by the separate limits path.
// Limits change with backend policy independently of capability flags, so
// they are never part of the scheme-config push.
type KernelLimits struct {
	FloorLimit       int64
	ContactlessLimit int64
	CVMLimit         int64
}

// ConfigService prepares the reader for card detection. ApplySchemeConfig
// must run once per session before the first card read; a repeat call in
// the same session is a logged no-op (see DESIGN.md).
type ConfigService struct {
	reader tlvSink
	logger *zap.Logger

	mu      sync.Mutex
	applied bool
}

// tlvSink is the slice of the reader contract this service needs.
type tlvSink interface {
	PushTLVConfig(ctx context.Context, scheme domain.Scheme, tags map[string]string) error
}

func NewConfigService(reader tlvSink, logger *zap.Logger) *ConfigService {
	return &ConfigService{reader: reader, logger: logger}
}

// ApplySchemeConfig builds and pushes two independent capability tag sets,
// one per scheme family. Qualifier values come from the supplied profile
// when present, else the built-in default. Nil profiles get the defaults.
func (s *ConfigService) ApplySchemeConfig(ctx context.Context, visa, mastercard *domain.BrandProfile) error {
	// The lock is held across the pushes so two concurrent calls cannot both
	// pass the session guard.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied {
		s.logger.Warn("scheme config already applied this session, ignoring reapply")
		return nil
	}

	visaTags := map[string]string{
		tagVisaTTQ:      defaultVisaTTQ,
		tagTermCaps:     defaultTermCaps,
		tagAddlTermCaps: defaultAddlTermCaps,
		tagTermType:     defaultTermType,
	}
	if visa != nil && visa.Qualifier != "" {
		visaTags[tagVisaTTQ] = visa.Qualifier
	}

	mcTags := map[string]string{
		tagMastercardKCfg: defaultMastercardKCfg,
		tagTermCaps:       defaultTermCaps,
		tagAddlTermCaps:   defaultAddlTermCaps,
		tagTermType:       defaultTermType,
	}
	if mastercard != nil && mastercard.Qualifier != "" {
		mcTags[tagMastercardKCfg] = mastercard.Qualifier
	}

	if err := s.reader.PushTLVConfig(ctx, domain.SchemeVisa, visaTags); err != nil {
		return fmt.Errorf("failed to push visa config: %w", err)
	}
	if err := s.reader.PushTLVConfig(ctx, domain.SchemeMastercard, mcTags); err != nil {
		return fmt.Errorf("failed to push mastercard config: %w", err)
	}

	s.applied = true

	s.logger.Info("scheme configuration applied",
		zap.String("visa_qualifier", visaTags[tagVisaTTQ]),
		zap.String("mastercard_qualifier", mcTags[tagMastercardKCfg]))
	return nil
}

// ApplyKernelLimits pushes the numeric limit tags for one scheme. Unlike
// the capability push this may be called whenever backend policy changes.
func (s *ConfigService) ApplyKernelLimits(ctx context.Context, scheme domain.Scheme, limits KernelLimits) error {
	tags := map[string]string{
		tagFloorLimit:      fmt.Sprintf("%08X", limits.FloorLimit),
		tagCtlessFloorTags: fmt.Sprintf("%012d", limits.FloorLimit),
		tagCtlessTxnLimit:  fmt.Sprintf("%012d", limits.ContactlessLimit),
		tagCtlessCVMLimit:  fmt.Sprintf("%012d", limits.CVMLimit),
	}
	if err := s.reader.PushTLVConfig(ctx, scheme, tags); err != nil {
		return fmt.Errorf("failed to push kernel limits: %w", err)
	}
	s.logger.Info("kernel limits applied",
		zap.String("scheme", string(scheme)),
		zap.Int64("floor_limit", limits.FloorLimit),
		zap.Int64("contactless_limit", limits.ContactlessLimit))
	return nil
}

// ResetSession clears the once-per-session guard. Called when a new session
// starts (reader power cycle, day start).
func (s *ConfigService) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = false
}

// Applied reports whether the scheme configuration has been pushed in the
// current session.
func (s *ConfigService) Applied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}
