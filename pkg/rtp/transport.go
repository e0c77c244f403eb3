// Package rtp предоставляет UDP транспорт RTP пакетов для плеч конференции.
package rtp

import (
	"context"
	"net"
	"time"

	"github.com/pion/rtp"
)

// Transport определяет интерфейс для транспортировки RTP пакетов
type Transport interface {
	// Send отправляет RTP пакет
	Send(packet *rtp.Packet) error

	// Receive получает RTP пакет с указанием источника
	Receive(ctx context.Context) (*rtp.Packet, net.Addr, error)

	// LocalAddr возвращает локальный адрес транспорта
	LocalAddr() net.Addr

	// RemoteAddr возвращает удаленный адрес транспорта (если известен)
	RemoteAddr() net.Addr

	// SetRemoteAddr устанавливает адрес отправки
	SetRemoteAddr(addr string) error

	// Close закрывает транспорт
	Close() error

	// IsActive проверяет активность транспорта
	IsActive() bool
}

// TransportConfig базовая конфигурация для транспорта
type TransportConfig struct {
	LocalAddr   string        // Локальный адрес для привязки
	RemoteAddr  string        // Удаленный адрес для отправки (опционально)
	BufferSize  int           // Размер буфера для чтения
	DSCP        int           // DSCP маркировка (0 = не устанавливать)
	ReadTimeout time.Duration // Шаг опроса контекста при чтении
}

// DefaultTransportConfig возвращает конфигурацию по умолчанию
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		BufferSize:  MaxRTPPacketSize,
		DSCP:        DSCPExpeditedForwarding,
		ReadTimeout: 100 * time.Millisecond,
	}
}
