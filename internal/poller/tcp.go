package poller

import (
	"context"
	"errors"
	"fmt"

	"github.com/goburrow/modbus"
)

// TCPDialer opens Modbus TCP sessions via goburrow/modbus. One handler is
// created per Dial so every poll cycle gets a fresh connection; the WiNet-S
// dongle is more stable with short-lived sessions.
type TCPDialer struct {
	Addr    string // host:port
	SlaveID byte
}

// Dial connects to the device and returns a live session.
func (d *TCPDialer) Dial(ctx context.Context) (Session, error) {
	handler := modbus.NewTCPClientHandler(d.Addr)
	handler.Timeout = ModbusTimeout
	handler.SlaveId = d.SlaveID

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("modbus connect %s: %w", d.Addr, err)
	}

	return &tcpSession{
		handler: handler,
		client:  modbus.NewClient(handler),
	}, nil
}

type tcpSession struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func (s *tcpSession) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	data, err := s.client.ReadInputRegisters(address, quantity)
	if err != nil {
		var mbErr *modbus.ModbusError
		if errors.As(err, &mbErr) && mbErr.ExceptionCode == modbus.ExceptionCodeIllegalDataAddress {
			return nil, fmt.Errorf("read 0x04 at %d: %w", address, ErrIllegalDataAddress)
		}
		return nil, err
	}
	if len(data) != int(quantity)*2 {
		return nil, fmt.Errorf("read 0x04 at %d: response has %d bytes, want %d", address, len(data), quantity*2)
	}

	// Registers arrive big-endian, two bytes per word.
	words := make([]uint16, quantity)
	for i := range words {
		words[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return words, nil
}

func (s *tcpSession) Close() error {
	return s.handler.Close()
}
