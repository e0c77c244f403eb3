package rtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// Ограничения пакетов согласно RFC 3550
const (
	MinRTPPacketSize   = 12   // Минимальный размер RTP заголовка
	MaxRTPPacketSize   = 1500 // Максимальный размер (MTU)
	ExpectedRTPVersion = 2

	// DSCPExpeditedForwarding маркировка EF для голосового трафика
	DSCPExpeditedForwarding = 46
)

// ErrTransportClosed возвращается при работе с закрытым транспортом
var ErrTransportClosed = errors.New("транспорт не активен")

// ErrReadTimeout возвращается Receive, когда за шаг опроса пакет не пришел
var ErrReadTimeout = errors.New("таймаут чтения RTP")

// UDPTransport реализует Transport для UDP
type UDPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     TransportConfig
	metrics    *TransportMetrics

	active bool
	mutex  sync.RWMutex
}

// NewUDPTransport создает новый UDP транспорт для RTP.
// metrics может быть nil.
func NewUDPTransport(config TransportConfig, metrics *TransportMetrics) (*UDPTransport, error) {
	if config.BufferSize == 0 {
		config.BufferSize = MaxRTPPacketSize
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 100 * time.Millisecond
	}

	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения локального адреса: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения: %w", err)
	}

	if config.DSCP > 0 {
		if err := setSockOptForVoice(conn, config.DSCP); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
		}
	}

	transport := &UDPTransport{
		conn:    conn,
		config:  config,
		metrics: metrics,
		active:  true,
	}

	if config.RemoteAddr != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ошибка разрешения удаленного адреса: %w", err)
		}
		transport.remoteAddr = remoteAddr
	}

	return transport, nil
}

// Send отправляет RTP пакет по UDP
func (t *UDPTransport) Send(packet *rtp.Packet) error {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	remoteAddr := t.remoteAddr
	t.mutex.RUnlock()

	if !active {
		return ErrTransportClosed
	}
	if remoteAddr == nil {
		return fmt.Errorf("удаленный адрес не установлен")
	}

	if err := validateRTPHeader(&packet.Header); err != nil {
		return fmt.Errorf("невалидный RTP заголовок для отправки: %w", err)
	}

	data, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("ошибка маршалинга RTP пакета: %w", err)
	}
	if err := validatePacketSize(len(data)); err != nil {
		return fmt.Errorf("невалидный размер исходящего пакета: %w", err)
	}

	if _, err := conn.WriteToUDP(data, remoteAddr); err != nil {
		t.metrics.observeError("send")
		return fmt.Errorf("ошибка UDP записи: %w", err)
	}
	t.metrics.observeSent(len(data))
	return nil
}

// Receive получает RTP пакет по UDP.
// Чтение ограничено ReadTimeout, чтобы вызывающий мог проверить контекст;
// по истечении возвращается ErrReadTimeout.
func (t *UDPTransport) Receive(ctx context.Context) (*rtp.Packet, net.Addr, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	bufferSize := t.config.BufferSize
	timeout := t.config.ReadTimeout
	t.mutex.RUnlock()

	if !active {
		return nil, nil, ErrTransportClosed
	}

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	buffer := make([]byte, bufferSize)
	conn.SetReadDeadline(time.Now().Add(timeout))

	n, addr, err := conn.ReadFromUDP(buffer)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil, ErrReadTimeout
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrTransportClosed
		}
		t.metrics.observeError("receive")
		return nil, nil, fmt.Errorf("ошибка UDP чтения: %w", err)
	}

	if err := validatePacketSize(n); err != nil {
		t.metrics.observeError("validate")
		return nil, nil, fmt.Errorf("невалидный размер пакета: %w", err)
	}

	// Симметричный RTP: удаленный адрес берется из первого пакета
	t.mutex.Lock()
	if t.remoteAddr == nil {
		t.remoteAddr = addr
	}
	t.mutex.Unlock()

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(buffer[:n]); err != nil {
		t.metrics.observeError("validate")
		return nil, nil, fmt.Errorf("ошибка демаршалинга RTP пакета: %w", err)
	}
	if err := validateRTPHeader(&packet.Header); err != nil {
		t.metrics.observeError("validate")
		return nil, nil, fmt.Errorf("невалидный RTP заголовок: %w", err)
	}

	t.metrics.observeReceived(n)
	return packet, addr, nil
}

// LocalAddr возвращает локальный адрес
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteAddr возвращает удаленный адрес
func (t *UDPTransport) RemoteAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if t.remoteAddr == nil {
		return nil
	}
	return t.remoteAddr
}

// SetRemoteAddr устанавливает удаленный адрес
func (t *UDPTransport) SetRemoteAddr(addr string) error {
	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("ошибка разрешения удаленного адреса: %w", err)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.remoteAddr = remoteAddr
	return nil
}

// Close закрывает транспорт
func (t *UDPTransport) Close() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.active {
		return nil
	}
	t.active = false
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

// IsActive проверяет активность транспорта
func (t *UDPTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}

// setSockOptForVoice настраивает UDP сокет для голосового трафика
func setSockOptForVoice(conn *net.UDPConn, dscp int) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		sockErr = setSockOptVoice(int(fd), dscp)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func validatePacketSize(size int) error {
	if size < MinRTPPacketSize {
		return fmt.Errorf("пакет слишком мал: %d байт (минимум %d)", size, MinRTPPacketSize)
	}
	if size > MaxRTPPacketSize {
		return fmt.Errorf("пакет слишком велик: %d байт (максимум %d)", size, MaxRTPPacketSize)
	}
	return nil
}

func validateRTPHeader(header *rtp.Header) error {
	if header.Version != ExpectedRTPVersion {
		return fmt.Errorf("неподдерживаемая версия RTP: %d", header.Version)
	}
	if header.PayloadType > 127 {
		return fmt.Errorf("некорректный payload type: %d", header.PayloadType)
	}
	return nil
}
