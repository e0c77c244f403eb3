//go:build !linux

package rtp

// setSockOptVoice на прочих платформах маркировка не выставляется
func setSockOptVoice(fd, dscp int) error {
	return nil
}
