package progress

import (
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/minio/pkg/console"
)

// Bar tracks transferred bytes across all workers of a run.
type Bar struct {
	*pb.ProgressBar
}

// NewByteBar instantiates a byte-granularity progress bar.
func NewByteBar(total int64) *Bar {
	// Progress bar specific theme customization.
	console.SetColor("Bar", color.New(color.FgGreen, color.Bold))

	bar := pb.New64(total)
	bar.Set(pb.Bytes, true)
	bar.SetRefreshRate(time.Millisecond * 125)
	bar.SetTemplateString(`{{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
	bar.Start()

	return &Bar{ProgressBar: bar}
}

// SetCaption sets the caption of the progress bar.
func (b *Bar) SetCaption(caption string) *Bar {
	b.ProgressBar.Set("prefix", caption)
	return b
}
