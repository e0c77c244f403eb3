package conference

import (
	"context"
	"errors"
	"io"
	"sync"
)

// AudioSource поток моно PCM на частоте конференции.
// Read возвращает io.EOF, когда данные закончились.
type AudioSource interface {
	Read(p []int16) (int, error)
	Close() error
}

// SourceOpener открывает файл (или URI вида silence://, tone://) как AudioSource
type SourceOpener interface {
	Open(ctx context.Context, path string, rate int) (AudioSource, error)
}

// Rewinder источник, умеющий начинать воспроизведение заново без повторного открытия
type Rewinder interface {
	Rewind() error
}

// SpeechEngine синтезирует текст в AudioSource
type SpeechEngine interface {
	Synthesize(ctx context.Context, text, voice string, rate int) (AudioSource, error)
}

// NodeKind тип узла воспроизведения
type NodeKind int

const (
	NodeFile NodeKind = iota
	NodeSpeech
)

func (k NodeKind) String() string {
	if k == NodeSpeech {
		return "speech"
	}
	return "file"
}

// PlayOptions параметры запроса воспроизведения
type PlayOptions struct {
	Async  bool // Фоновый слот: заменяет текущий фоновый узел
	LeadIn int  // Тиков тишины перед началом, -1 = значение профиля
	Loop   bool // Повторять до явной остановки
	Voice  string
}

// FileNode узел очереди воспроизведения
type FileNode struct {
	Kind     NodeKind
	Identity string // путь к файлу или текст
	Async    bool
	Loop     bool

	leadIn     int
	source     AudioSource
	reopen     func() (AudioSource, error)
	background bool // MOH / perpetual sound, снимается при появлении второго участника

	done      bool
	onDestroy []func()
	closeOnce sync.Once
}

func newFileNode(kind NodeKind, identity string, source AudioSource, leadIn int, async bool) *FileNode {
	if leadIn < 0 {
		leadIn = 0
	}
	return &FileNode{
		Kind:     kind,
		Identity: identity,
		Async:    async,
		leadIn:   leadIn,
		source:   source,
	}
}

// OnDestroy регистрирует callback, вызываемый при освобождении узла
func (n *FileNode) OnDestroy(fn func()) {
	n.onDestroy = append(n.onDestroy, fn)
}

// readFrame заполняет dst. Возвращает false, если узел исчерпан на этом тике;
// в этом случае dst не содержит данных узла.
func (n *FileNode) readFrame(dst []int16) bool {
	clear(dst)
	if n.done {
		return false
	}
	if n.leadIn > 0 {
		n.leadIn--
		return true
	}

	filled := 0
	reopened := false
	for filled < len(dst) {
		read, err := n.source.Read(dst[filled:])
		filled += read
		if err == nil {
			if read == 0 {
				break
			}
			continue
		}
		if !errors.Is(err, io.EOF) || !n.Loop || reopened {
			break
		}
		// Повтор не больше одного раза за кадр
		reopened = true
		if r, ok := n.source.(Rewinder); ok {
			if r.Rewind() != nil {
				break
			}
			continue
		}
		if n.reopen == nil {
			break
		}
		_ = n.source.Close()
		src, rerr := n.reopen()
		if rerr != nil {
			break
		}
		n.source = src
	}
	return filled > 0
}

// complete отмечает узел завершенным; true только при первом вызове.
func (n *FileNode) complete() bool {
	if n.done {
		return false
	}
	n.done = true
	return true
}

// Close освобождает источник и вызывает callbacks. Идемпотентен.
func (n *FileNode) Close() {
	n.closeOnce.Do(func() {
		if n.source != nil {
			_ = n.source.Close()
		}
		for _, fn := range n.onDestroy {
			fn()
		}
	})
}

// playbackQueue последовательная очередь узлов, голова воспроизводится первой
type playbackQueue struct {
	nodes []*FileNode
}

func (q *playbackQueue) push(n *FileNode) {
	q.nodes = append(q.nodes, n)
}

func (q *playbackQueue) head() *FileNode {
	if len(q.nodes) == 0 {
		return nil
	}
	return q.nodes[0]
}

// advance снимает и освобождает голову очереди
func (q *playbackQueue) advance() {
	if len(q.nodes) == 0 {
		return
	}
	q.nodes[0].Close()
	q.nodes[0] = nil
	q.nodes = q.nodes[1:]
}

// clear освобождает все узлы и возвращает их количество
func (q *playbackQueue) clear() int {
	n := len(q.nodes)
	for _, node := range q.nodes {
		node.Close()
	}
	q.nodes = nil
	return n
}

func (q *playbackQueue) len() int { return len(q.nodes) }

// StopScope что именно остановить
type StopScope int

const (
	StopAll StopScope = iota
	StopCurrent
	StopAsync
)
