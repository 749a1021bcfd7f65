package progressbar

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

type cfg struct {
	interval   time.Duration
	stepHook   func(*Bar)
	finishHook func()
	title      string
	out        io.Writer
}

// Bar redraws a single status line on every tick. Counters are pulled through
// the step hook, so producers never wait on the bar.
type Bar struct {
	total    int64
	cur      int64
	size     int64
	lastSize int64
	lastTime time.Time
	rate     float64

	cfg cfg

	once   sync.Once
	finish chan struct{}
	done   chan struct{}
}

func New(opts ...Option) *Bar {
	c := cfg{interval: time.Second, out: os.Stdout}
	for _, opt := range opts {
		opt(&c)
	}
	return &Bar{
		cfg:    c,
		finish: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (b *Bar) Run() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.interval)
	defer ticker.Stop()
	b.lastTime = time.Now()
	for {
		select {
		case <-ticker.C:
			b.step()
			if b.total <= 0 {
				continue
			}
			b.render()
		case <-b.finish:
			b.step()
			if b.total > 0 {
				b.render()
			}
			if b.cfg.finishHook != nil {
				b.cfg.finishHook()
			}
			return
		}
	}
}

func (b *Bar) step() {
	if b.cfg.stepHook != nil {
		b.cfg.stepHook(b)
	}
	now := time.Now()
	if s := now.Sub(b.lastTime).Seconds(); s > 0 {
		b.rate = float64(b.size-b.lastSize) / s
	}
	b.lastTime = now
}

func (b *Bar) render() {
	fmt.Fprintf(b.cfg.out, "\r %s %6.2f%% %6d/%d %10s %12s/s",
		b.cfg.title,
		100*float64(b.cur)/float64(b.total),
		b.cur, b.total,
		humanize.Bytes(uint64(max(b.size, 0))),
		humanize.Bytes(uint64(max(b.rate, 0))),
	)
}

func (b *Bar) SetTotal(t int64) {
	b.total = t
}

func (b *Bar) SetCur(t int64) {
	b.cur = t
}

func (b *Bar) SetSize(t int64) {
	b.lastSize, b.size = b.size, t
}

// Finish stops the bar after a final redraw and waits for Run to return. It is
// safe to call more than once.
func (b *Bar) Finish() {
	b.once.Do(func() {
		close(b.finish)
	})
	<-b.done
}

type Option func(*cfg)

func WithInterval(duration time.Duration) Option {
	return func(cfg *cfg) {
		cfg.interval = duration
	}
}

func WithTitle(title string) Option {
	return func(cfg *cfg) {
		cfg.title = title
	}
}

func WithOutput(w io.Writer) Option {
	return func(cfg *cfg) {
		cfg.out = w
	}
}

func WithStepHook(h func(self *Bar)) Option {
	return func(cfg *cfg) {
		cfg.stepHook = h
	}
}

func WithFinishHook(h func()) Option {
	return func(cfg *cfg) {
		cfg.finishHook = h
	}
}
