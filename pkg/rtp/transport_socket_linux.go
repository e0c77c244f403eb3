//go:build linux

package rtp

import (
	"golang.org/x/sys/unix"
)

// setSockOptVoice выставляет приоритет сокета и DSCP маркировку (Linux)
func setSockOptVoice(fd, dscp int) error {
	// Приоритет 6 соответствует интерактивному аудио; в контейнерах может быть запрещен
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, 6)

	// DSCP находится в старших 6 битах TOS
	tos := dscp << 2
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		return nil
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}
