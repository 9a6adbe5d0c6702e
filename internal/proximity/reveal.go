package proximity

import (
	"time"

	"github.com/sells-group/photo-drop/internal/dispatch"
)

// Photo is a fetched drop image ready to reveal.
type Photo struct {
	Key     string `json:"key"`
	Payload string `json:"payload"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Screen renders the revealed photo on the client.
type Screen interface {
	ShowPhoto(p Photo, fade time.Duration)
	FadePhoto(key string, fade time.Duration)
	HidePhoto(key string)
}

// AfterFunc runs fn after d on its own goroutine. The returned func cancels it.
type AfterFunc func(d time.Duration, fn func()) (stop func() bool)

func timerAfter(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Reveal fades a found photo in, keeps it up until dismissed or until the
// timeout passes, then fades it out and clears it. Its methods run on the
// session loop; timer callbacks are posted back to it.
type Reveal struct {
	screen  Screen
	loop    dispatch.Poster
	fade    time.Duration
	timeout time.Duration
	after   AfterFunc

	gen     uint64
	current *Photo
	fading  string // key faded out but not yet hidden
	stop    func() bool
}

// NewReveal creates a Reveal. A zero timeout keeps the photo up until a
// manual dismiss.
func NewReveal(screen Screen, loop dispatch.Poster, fade, timeout time.Duration, after AfterFunc) *Reveal {
	if after == nil {
		after = timerAfter
	}
	return &Reveal{screen: screen, loop: loop, fade: fade, timeout: timeout, after: after}
}

// Show reveals p, replacing any photo already shown. A photo still fading
// out is hidden first.
func (r *Reveal) Show(p Photo) {
	r.cancelTimer()
	r.gen++
	if r.fading != "" {
		r.screen.HidePhoto(r.fading)
		r.fading = ""
	}
	r.current = &p
	r.screen.ShowPhoto(p, r.fade)

	if r.timeout > 0 {
		gen := r.gen
		r.stop = r.after(r.timeout, func() {
			r.loop.Post(func() {
				if r.gen == gen {
					r.Dismiss()
				}
			})
		})
	}
}

// Dismiss fades out the shown photo. It reports false if nothing is shown.
func (r *Reveal) Dismiss() bool {
	if r.current == nil {
		return false
	}
	r.cancelTimer()
	r.gen++
	key := r.current.Key
	r.current = nil
	r.fading = key
	r.screen.FadePhoto(key, r.fade)

	gen := r.gen
	r.stop = r.after(r.fade, func() {
		r.loop.Post(func() {
			if r.gen == gen {
				r.stop = nil
				r.fading = ""
				r.screen.HidePhoto(key)
			}
		})
	})
	return true
}

// Visible returns the photo currently shown.
func (r *Reveal) Visible() (Photo, bool) {
	if r.current == nil {
		return Photo{}, false
	}
	return *r.current, true
}

// Close cancels pending timers without touching the screen.
func (r *Reveal) Close() {
	r.cancelTimer()
	r.gen++
	r.current = nil
	r.fading = ""
}

func (r *Reveal) cancelTimer() {
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
}
