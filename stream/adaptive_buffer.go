package stream

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultReadBufferSize is the adaptive buffer's starting point, matching
// the teacher's nbio.Gopher default read buffer size.
const DefaultReadBufferSize = 4096

// AdaptiveBufferConfig tunes AdaptiveBuffer's grow/shrink behavior.
type AdaptiveBufferConfig struct {
	InitialSize    int
	MinSize        int
	MaxSize        int
	HistorySize    int
	GrowFactor     float64
	ShrinkFactor   float64
	ResizeInterval time.Duration
}

// AdaptiveBuffer is a sync.Pool of read buffers whose size tracks recent
// usage: a reader draws a buffer with Get, reports how many bytes a read
// used with RecordRead, and returns it with Put, so a connection that
// settles into large transfers stops paying for undersized buffers, and a
// mostly-idle one gives its buffer back down. No Stream in this package
// draws from one.
type AdaptiveBuffer struct {
	config         AdaptiveBufferConfig
	pool           sync.Pool
	usageHistory   []int
	historyIndex   int
	lastResizeTime time.Time
	growCount      int64
	shrinkCount    int64
	currentSize    int64
	mu             sync.Mutex
}

// NewAdaptiveBuffer builds an AdaptiveBuffer, filling in zero fields of
// config with sane defaults.
func NewAdaptiveBuffer(config AdaptiveBufferConfig) *AdaptiveBuffer {
	if config.InitialSize <= 0 {
		config.InitialSize = DefaultReadBufferSize
	}
	if config.MinSize <= 0 {
		config.MinSize = DefaultReadBufferSize / 2
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultReadBufferSize * 4
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 10
	}
	if config.GrowFactor <= 0 {
		config.GrowFactor = 1.5
	}
	if config.ShrinkFactor <= 0 {
		config.ShrinkFactor = 0.5
	}
	if config.ResizeInterval <= 0 {
		config.ResizeInterval = time.Second * 10
	}

	ab := &AdaptiveBuffer{
		config:         config,
		usageHistory:   make([]int, config.HistorySize),
		lastResizeTime: time.Now(),
	}
	atomic.StoreInt64(&ab.currentSize, int64(config.InitialSize))
	ab.pool.New = func() interface{} {
		buf := make([]byte, config.InitialSize)
		return &buf
	}
	return ab
}

// Get returns a buffer sized to the pool's current estimate.
func (b *AdaptiveBuffer) Get() *[]byte {
	buf := b.pool.Get().(*[]byte)
	size := int(atomic.LoadInt64(&b.currentSize))
	if len(*buf) != size {
		*buf = make([]byte, size)
	}
	return buf
}

// Put returns buf to the pool.
func (b *AdaptiveBuffer) Put(buf *[]byte) {
	b.pool.Put(buf)
}

// RecordRead feeds back how many bytes the last Read actually used, and
// possibly grows or shrinks the pool's buffer size.
func (b *AdaptiveBuffer) RecordRead(size int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	currentSize := atomic.LoadInt64(&b.currentSize)
	usagePercent := int(float64(size) / float64(currentSize) * 100)

	b.usageHistory[b.historyIndex] = usagePercent
	b.historyIndex = (b.historyIndex + 1) % len(b.usageHistory)

	b.maybeResize(size)
}

func (b *AdaptiveBuffer) maybeResize(lastReadSize int) {
	if time.Since(b.lastResizeTime) < b.config.ResizeInterval {
		return
	}

	sum := 0
	for _, usage := range b.usageHistory {
		sum += usage
	}
	avgUsage := float64(sum) / float64(len(b.usageHistory))
	currentSize := atomic.LoadInt64(&b.currentSize)

	if avgUsage > 80 && currentSize < int64(b.config.MaxSize) {
		newSize := int64(float64(currentSize) * b.config.GrowFactor)
		if newSize > int64(b.config.MaxSize) {
			newSize = int64(b.config.MaxSize)
		}
		atomic.StoreInt64(&b.currentSize, newSize)
		atomic.AddInt64(&b.growCount, 1)
	} else if avgUsage < 30 && currentSize > int64(b.config.MinSize) && lastReadSize < int(currentSize/2) {
		newSize := int64(float64(currentSize) * b.config.ShrinkFactor)
		if newSize < int64(b.config.MinSize) {
			newSize = int64(b.config.MinSize)
		}
		atomic.StoreInt64(&b.currentSize, newSize)
		atomic.AddInt64(&b.shrinkCount, 1)
	}
	b.lastResizeTime = time.Now()
}

// Stats reports current sizing and grow/shrink counters, for diagnostics.
func (b *AdaptiveBuffer) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	sum := 0
	for _, usage := range b.usageHistory {
		sum += usage
	}
	return map[string]interface{}{
		"currentSize": atomic.LoadInt64(&b.currentSize),
		"minSize":     b.config.MinSize,
		"maxSize":     b.config.MaxSize,
		"avgUsage":    float64(sum) / float64(len(b.usageHistory)),
		"growCount":   atomic.LoadInt64(&b.growCount),
		"shrinkCount": atomic.LoadInt64(&b.shrinkCount),
	}
}
