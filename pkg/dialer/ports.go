package dialer

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoPorts пул RTP портов исчерпан
var ErrNoPorts = errors.New("нет доступных RTP портов")

// PortPool четные RTP порты диапазона. Нечетный порт пары остается за RTCP.
type PortPool struct {
	minPort   int
	maxPort   int
	allocated map[int]bool
	available []int
	mutex     sync.Mutex
}

// NewPortPool создает пул [minPort, maxPort]; границы выравниваются до четных
func NewPortPool(minPort, maxPort int) (*PortPool, error) {
	if minPort%2 != 0 {
		minPort++
	}
	if minPort <= 0 || maxPort > 65535 || minPort >= maxPort {
		return nil, fmt.Errorf("некорректный диапазон портов %d-%d", minPort, maxPort)
	}
	p := &PortPool{minPort: minPort, maxPort: maxPort, allocated: make(map[int]bool)}
	for port := minPort; port+1 <= maxPort; port += 2 {
		p.available = append(p.available, port)
	}
	return p, nil
}

// Allocate выдает наименьший свободный порт
func (p *PortPool) Allocate() (int, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if len(p.available) == 0 {
		return 0, ErrNoPorts
	}
	port := p.available[0]
	p.available = p.available[1:]
	p.allocated[port] = true
	return port, nil
}

// Release возвращает порт в пул. Повторное освобождение игнорируется.
func (p *PortPool) Release(port int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.allocated[port] {
		return
	}
	delete(p.allocated, port)
	for i, v := range p.available {
		if v > port {
			p.available = append(p.available[:i], append([]int{port}, p.available[i:]...)...)
			return
		}
	}
	p.available = append(p.available, port)
}

// Available количество свободных портов
func (p *PortPool) Available() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.available)
}
