package pull

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/containers/ramalama/pkg/progress"
)

// BarProgress renders one mpb progress bar per blob, the way
// containers/image's copy package renders a bar per layer, decorated with
// the blob name and a byte counter. A resumed blob gets no separate
// decorator; its bar simply starts at the resumed byte count.
type BarProgress struct {
	out      io.Writer
	progress *mpb.Progress
	mu       sync.Mutex
	bars     map[string]*mpb.Bar
}

// NewBarProgress returns a progress.Sink that draws bars to out, or a no-op
// sink if out is not a terminal (spec §4.H dry-run / non-interactive runs
// should not emit bar control codes into redirected output).
func NewBarProgress(out io.Writer, fd uintptr) progress.Sink {
	if !term.IsTerminal(int(fd)) {
		return progress.Nop{}
	}
	return &BarProgress{
		out:      out,
		progress: mpb.New(mpb.WithOutput(out)),
		bars:     map[string]*mpb.Bar{},
	}
}

func (b *BarProgress) Progress(blobName string, current, total int64) {
	b.mu.Lock()
	bar, ok := b.bars[blobName]
	if !ok {
		bar = b.progress.AddBar(total,
			mpb.PrependDecorators(decor.Name(blobName)),
			mpb.AppendDecorators(decor.CountersKibiByte("% .2f / % .2f")),
		)
		b.bars[blobName] = bar
	}
	b.mu.Unlock()
	bar.SetCurrent(current)
}
