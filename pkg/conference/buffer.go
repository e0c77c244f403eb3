package conference

// sampleQueue кольцевая очередь отсчетов фиксированной емкости.
// Синхронизация внешняя: входная очередь участника защищена audioIn,
// выходная audioOut.
type sampleQueue struct {
	data  []int16
	head  int
	size  int
	stale int // тиков без полного кадра при непустой очереди
}

func newSampleQueue(capacity int) *sampleQueue {
	return &sampleQueue{data: make([]int16, capacity)}
}

func (q *sampleQueue) Len() int { return q.size }
func (q *sampleQueue) Cap() int { return len(q.data) }

// Write добавляет отсчеты целиком или не добавляет ничего.
func (q *sampleQueue) Write(samples []int16) bool {
	if len(samples) > len(q.data)-q.size {
		return false
	}
	tail := (q.head + q.size) % len(q.data)
	n := copy(q.data[tail:], samples)
	copy(q.data, samples[n:])
	q.size += len(samples)
	return true
}

// Read извлекает до len(dst) отсчетов и возвращает их количество.
func (q *sampleQueue) Read(dst []int16) int {
	n := len(dst)
	if n > q.size {
		n = q.size
	}
	first := copy(dst[:n], q.data[q.head:])
	if first < n {
		copy(dst[first:n], q.data)
	}
	q.head = (q.head + n) % len(q.data)
	q.size -= n
	if q.size == 0 {
		q.head = 0
	}
	return n
}

// Reset очищает очередь
func (q *sampleQueue) Reset() {
	q.head = 0
	q.size = 0
	q.stale = 0
}
