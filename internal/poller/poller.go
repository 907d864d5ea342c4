// Package poller reads the inverter's register groups over Modbus TCP.
//
// Each poll cycle opens a fresh session to the WiNet-S dongle, reads every
// group in catalog order with a small inter-group delay (the dongle drops
// connections under back-to-back reads), slices the group responses into
// per-register word lists, and closes the session. Errors never propagate
// out of a cycle: any transport or protocol failure yields a nil result and
// advances the exponential backoff.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/solarhaus/telemetry/internal/registers"
)

const (
	// BaseBackoff is the delay after the first consecutive failure.
	BaseBackoff = 1 * time.Second
	// MaxBackoff caps the exponential growth.
	MaxBackoff = 60 * time.Second
	// ModbusTimeout is the per-request timeout (WiNet-S guideline).
	ModbusTimeout = 10 * time.Second
)

// ErrIllegalDataAddress is the device-level Modbus exception for a read of
// an unsupported register range. Optional groups tolerate it.
var ErrIllegalDataAddress = errors.New("modbus: illegal data address")

// Session is one open Modbus connection. ReadInputRegisters issues a
// function-code-0x04 read of quantity words starting at address.
type Session interface {
	ReadInputRegisters(address, quantity uint16) ([]uint16, error)
	Close() error
}

// Dialer opens Modbus sessions. The edge entrypoint injects a TCP dialer;
// tests inject fakes.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Poller executes poll cycles with exponential backoff across attempts.
// Only a failed cycle advances the failure counter; any success resets it.
type Poller struct {
	dialer              Dialer
	catalog             *registers.Catalog
	interRegisterDelay  time.Duration
	consecutiveFailures int
}

// New builds a Poller over the given dialer and catalog.
func New(dialer Dialer, catalog *registers.Catalog, interRegisterDelay time.Duration) *Poller {
	return &Poller{
		dialer:             dialer,
		catalog:            catalog,
		interRegisterDelay: interRegisterDelay,
	}
}

// ConsecutiveFailures returns the current failure streak, for liveness and
// metrics reporting.
func (p *Poller) ConsecutiveFailures() int { return p.consecutiveFailures }

// Poll executes one cycle: backoff sleep (when retrying after failures),
// connect, read all groups, disconnect. Returns the raw register map on
// success or nil on any error. A canceled context aborts the backoff sleep
// and the cycle.
func (p *Poller) Poll(ctx context.Context) map[string][]uint16 {
	if p.consecutiveFailures > 0 {
		delay := backoffDelay(p.consecutiveFailures)
		slog.Warn("backoff before modbus retry", "delay", delay, "consecutive_failures", p.consecutiveFailures)
		if !sleepCtx(ctx, delay) {
			return nil
		}
	}

	result := p.pollOnce(ctx)
	if result != nil {
		p.consecutiveFailures = 0
	} else {
		p.consecutiveFailures++
	}
	return result
}

// pollOnce runs a single connect-read-close cycle without backoff state.
func (p *Poller) pollOnce(ctx context.Context) map[string][]uint16 {
	session, err := p.dialer.Dial(ctx)
	if err != nil {
		slog.Warn("failed to connect to modbus device", "error", err)
		return nil
	}
	defer session.Close()

	result := make(map[string][]uint16)

	for idx, group := range p.catalog.Groups() {
		// Inter-register delay between groups, not before the first read.
		if idx > 0 && p.interRegisterDelay > 0 {
			if !sleepCtx(ctx, p.interRegisterDelay) {
				return nil
			}
		}

		words, err := session.ReadInputRegisters(uint16(group.StartAddress), uint16(group.Count))
		if err != nil {
			if group.Optional && errors.Is(err, ErrIllegalDataAddress) {
				slog.Warn("modbus error reading optional group, continuing without it",
					"group", group.Name, "address", group.StartAddress, "count", group.Count)
				continue
			}
			slog.Warn("modbus error reading group",
				"group", group.Name, "address", group.StartAddress, "count", group.Count, "error", err)
			return nil
		}
		if len(words) < group.Count {
			slog.Warn("short modbus response",
				"group", group.Name, "want", group.Count, "got", len(words))
			return nil
		}

		extractGroup(group, words, result)
	}

	return result
}

// extractGroup slices group-level words into per-register word lists by
// address offset.
func extractGroup(group registers.Group, words []uint16, out map[string][]uint16) {
	for _, reg := range group.Registers {
		offset := reg.Address - group.StartAddress
		out[reg.Name] = words[offset : offset+reg.Words]
	}
}

// backoffDelay returns min(base * 2^(n-1), max) for n consecutive failures.
func backoffDelay(n int) time.Duration {
	delay := BaseBackoff
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= MaxBackoff {
			return MaxBackoff
		}
	}
	if delay > MaxBackoff {
		return MaxBackoff
	}
	return delay
}

// sleepCtx sleeps for d unless ctx is canceled first. Reports whether the
// full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
