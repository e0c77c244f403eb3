package media

import (
	"container/heap"
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// JitterBufferConfig параметры буфера переупорядочивания.
type JitterBufferConfig struct {
	BufferSize int // Максимальный размер буфера в пакетах
	Depth      int // Количество пакетов, накапливаемых до начала выдачи
}

// DefaultJitterBufferConfig возвращает конфигурацию для 20ms телефонии.
func DefaultJitterBufferConfig() JitterBufferConfig {
	return JitterBufferConfig{
		BufferSize: 50,
		Depth:      3,
	}
}

// JitterBuffer упорядочивает RTP пакеты по расширенному sequence number.
// Выдача начинается после накопления Depth пакетов; поздние пакеты,
// чей номер уже выдан, отбрасываются.
type JitterBuffer struct {
	config JitterBufferConfig

	packets packetHeap
	mutex   sync.Mutex

	cycles     uint32
	lastSeq    uint16
	started    bool
	primed     bool
	nextOut    uint32
	hasNextOut bool

	packetsReceived uint64
	packetsLate     uint64
	packetsDropped  uint64
	stopped         bool
}

// JitterBufferStatistics статистика буфера
type JitterBufferStatistics struct {
	BufferSize      int
	PacketsReceived uint64
	PacketsLate     uint64
	PacketsDropped  uint64
}

type jitterPacket struct {
	packet *rtp.Packet
	extSeq uint32
	index  int
}

// packetHeap реализует heap.Interface по расширенному sequence number
type packetHeap []*jitterPacket

func (h packetHeap) Len() int           { return len(h) }
func (h packetHeap) Less(i, j int) bool { return h[i].extSeq < h[j].extSeq }
func (h packetHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *packetHeap) Push(x interface{}) {
	item := x.(*jitterPacket)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *packetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// NewJitterBuffer создает буфер переупорядочивания.
func NewJitterBuffer(config JitterBufferConfig) (*JitterBuffer, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = 50
	}
	if config.Depth < 0 || config.Depth > config.BufferSize {
		return nil, NewMediaError(ErrorCodeAudioSizeInvalid,
			fmt.Sprintf("некорректная глубина jitter buffer: %d (размер %d)", config.Depth, config.BufferSize))
	}
	jb := &JitterBuffer{config: config}
	heap.Init(&jb.packets)
	return jb, nil
}

// Put добавляет пакет в буфер.
func (jb *JitterBuffer) Put(packet *rtp.Packet) error {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	if jb.stopped {
		return NewMediaError(ErrorCodeJitterBufferStopped, "jitter buffer остановлен")
	}
	jb.packetsReceived++

	ext := jb.extend(packet.SequenceNumber)
	if jb.hasNextOut && ext < jb.nextOut {
		jb.packetsLate++
		return nil
	}

	if len(jb.packets) >= jb.config.BufferSize {
		// Вытесняем самый старый пакет
		heap.Pop(&jb.packets)
		jb.packetsDropped++
	}
	heap.Push(&jb.packets, &jitterPacket{packet: packet, extSeq: ext})
	if len(jb.packets) >= jb.config.Depth {
		jb.primed = true
	}
	return nil
}

// Get возвращает следующий пакет по порядку, если буфер готов к выдаче.
func (jb *JitterBuffer) Get() (*rtp.Packet, bool) {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	if !jb.primed || len(jb.packets) == 0 {
		return nil, false
	}
	item := heap.Pop(&jb.packets).(*jitterPacket)
	jb.nextOut = item.extSeq + 1
	jb.hasNextOut = true
	if len(jb.packets) == 0 && jb.config.Depth > 0 {
		jb.primed = false
	}
	return item.packet, true
}

// Len текущее количество пакетов в буфере
func (jb *JitterBuffer) Len() int {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()
	return len(jb.packets)
}

// Stop останавливает буфер и освобождает пакеты.
func (jb *JitterBuffer) Stop() {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()
	jb.stopped = true
	jb.packets = nil
}

// GetStatistics возвращает статистику буфера
func (jb *JitterBuffer) GetStatistics() JitterBufferStatistics {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()
	return JitterBufferStatistics{
		BufferSize:      len(jb.packets),
		PacketsReceived: jb.packetsReceived,
		PacketsLate:     jb.packetsLate,
		PacketsDropped:  jb.packetsDropped,
	}
}

// extend переводит 16-битный номер в 32-битный с учетом переполнения.
func (jb *JitterBuffer) extend(seq uint16) uint32 {
	if !jb.started {
		jb.started = true
		jb.lastSeq = seq
		return uint32(seq)
	}
	if isSeqNewer(seq, jb.lastSeq) {
		if seq < jb.lastSeq {
			jb.cycles += 1 << 16
		}
		jb.lastSeq = seq
		return jb.cycles | uint32(seq)
	}
	// Старый пакет, возможно из предыдущего цикла
	if seq > jb.lastSeq && jb.cycles > 0 {
		return (jb.cycles - 1<<16) | uint32(seq)
	}
	return jb.cycles | uint32(seq)
}

// isSeqNewer проверяет, что seq1 новее seq2 с учетом переполнения
func isSeqNewer(seq1, seq2 uint16) bool {
	return seq1 != seq2 && uint16(seq1-seq2) < 0x8000
}
