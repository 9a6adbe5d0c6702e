package proximity

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/dispatch"
	"github.com/sells-group/photo-drop/internal/imagestore"
	"github.com/sells-group/photo-drop/internal/model"
	"github.com/sells-group/photo-drop/internal/photo"
)

// ErrTimeout is reported when an exchange does not finish within the
// operation timeout.
var ErrTimeout = eris.New("proximity: exchange timed out")

// Choice is the user's answer to the found prompt.
type Choice string

const (
	ChoiceNotHere  Choice = "not_here"
	ChoiceExchange Choice = "exchange"
)

// PickerMode says what an open photo picker is for.
type PickerMode int

const (
	PickerClosed PickerMode = iota
	PickerDrop
	PickerExchange
)

func (m PickerMode) String() string {
	switch m {
	case PickerDrop:
		return "drop"
	case PickerExchange:
		return "exchange"
	default:
		return "closed"
	}
}

// MarshalText renders the mode name in JSON.
func (m PickerMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UI receives the controller's directives for the client.
type UI interface {
	ShowPrompt(key string, loc model.Location)
	OpenPicker(mode PickerMode)
	ClosePicker(mode PickerMode)
	DropCreated(key string, loc model.Location)
	DropFailed(err error)
	ExchangeCompleted(key string)
	ExchangeFailed(key string, err error)
}

// Images is the part of the image store the controller uses.
type Images interface {
	ObserveOnce(ctx context.Context, key string, poster dispatch.Poster, fn imagestore.Listener) imagestore.Subscription
	Overwrite(ctx context.Context, key, payload string) error
}

// Dropper stores a new drop at a location and returns its key.
type Dropper interface {
	Drop(ctx context.Context, payload string, loc model.Location) (string, error)
}

// Deps are the controller's collaborators.
type Deps struct {
	// Loop is the session loop all controller methods run on.
	Loop    dispatch.Poster
	Images  Images
	Dropper Dropper
	UI      UI
	Screen  Screen
	// Position returns the user's last known location.
	Position func() (model.Location, bool)
	// After schedules timers; nil uses time.AfterFunc.
	After AfterFunc
}

// Options tunes the controller.
type Options struct {
	OpTimeout     time.Duration
	FadeDuration  time.Duration
	RevealTimeout time.Duration
}

type pendingExchange struct {
	seq     uint64
	key     string
	payload string
	sub     imagestore.Subscription
	cancel  context.CancelFunc
	stop    func() bool
}

// Controller runs the found-drop state machine for one session. It is not
// safe for concurrent use: every method must run on Deps.Loop.
type Controller struct {
	deps   Deps
	opts   Options
	log    *zap.Logger
	reveal *Reveal

	state    State
	picker   PickerMode
	seq      uint64
	exchange *pendingExchange
	drops    int
	closed   bool
}

// NewController creates a controller in the idle phase.
func NewController(deps Deps, opts Options) *Controller {
	if deps.After == nil {
		deps.After = timerAfter
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 10 * time.Second
	}
	return &Controller{
		deps:   deps,
		opts:   opts,
		log:    zap.L().With(zap.String("component", "proximity")),
		reveal: NewReveal(deps.Screen, deps.Loop, opts.FadeDuration, opts.RevealTimeout, deps.After),
	}
}

// State returns the current exchange state.
func (c *Controller) State() State { return c.state }

// Picker returns the picker mode.
func (c *Controller) Picker() PickerMode { return c.picker }

// PendingDrops returns the number of drops still being stored.
func (c *Controller) PendingDrops() int { return c.drops }

// HandleFound handles a radius query Entered event.
func (c *Controller) HandleFound(key string, loc model.Location) {
	if c.closed {
		return
	}
	next, ok := Found(c.state, key, loc)
	if !ok {
		c.log.Debug("found drop ignored during exchange", zap.String("key", key))
		return
	}
	c.state = next
	c.deps.UI.ShowPrompt(key, loc)
}

// Decide applies the user's answer to the found prompt.
func (c *Controller) Decide(choice Choice) error {
	switch choice {
	case ChoiceNotHere:
		next, err := Decline(c.state)
		if err != nil {
			return err
		}
		c.state = next
		return nil
	case ChoiceExchange:
		next, err := Accept(c.state)
		if err != nil {
			return err
		}
		c.state = next
		c.openPicker(PickerExchange)
		return nil
	default:
		return eris.Errorf("proximity: unknown choice %q", choice)
	}
}

// DropPhoto opens the picker for a new drop.
func (c *Controller) DropPhoto() error {
	if c.state.Phase != Idle {
		return ErrNotIdle
	}
	if _, ok := c.position(); !ok {
		return ErrNoLocation
	}
	c.openPicker(PickerDrop)
	return nil
}

// PhotoPicked completes the open picker with an encoded payload.
func (c *Controller) PhotoPicked(payload string) error {
	mode := c.picker
	switch mode {
	case PickerClosed:
		return ErrPickerClosed
	case PickerExchange:
		if !c.state.InExchange() {
			return ErrNoExchange
		}
		c.closePicker()
		c.startExchange(c.state.TargetKey, payload)
		return nil
	default:
		loc, ok := c.position()
		if !ok {
			return ErrNoLocation
		}
		c.closePicker()
		c.startDrop(payload, loc)
		return nil
	}
}

// PickerCancelled closes the picker. A pending exchange is abandoned
// without touching either store.
func (c *Controller) PickerCancelled() error {
	if c.picker == PickerClosed {
		return ErrPickerClosed
	}
	c.closePicker()
	c.state = Cancel(c.state)
	return nil
}

// DismissPhoto fades out the revealed photo.
func (c *Controller) DismissPhoto() bool {
	return c.reveal.Dismiss()
}

// Revealed returns the photo on screen, if any.
func (c *Controller) Revealed() (Photo, bool) {
	return c.reveal.Visible()
}

// Close detaches listeners and stops timers. Callbacks still queued on the
// loop become no-ops.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.abortExchange()
	c.reveal.Close()
}

func (c *Controller) position() (model.Location, bool) {
	if c.deps.Position == nil {
		return model.Location{}, false
	}
	return c.deps.Position()
}

func (c *Controller) openPicker(mode PickerMode) {
	c.picker = mode
	c.deps.UI.OpenPicker(mode)
}

func (c *Controller) closePicker() {
	mode := c.picker
	c.picker = PickerClosed
	c.deps.UI.ClosePicker(mode)
}

func (c *Controller) startDrop(payload string, loc model.Location) {
	c.drops++
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.OpTimeout)
	go func() {
		defer cancel()
		key, err := c.deps.Dropper.Drop(ctx, payload, loc)
		c.deps.Loop.Post(func() {
			c.drops--
			if c.closed {
				return
			}
			if err != nil {
				c.log.Warn("drop failed", zap.Error(err))
				c.deps.UI.DropFailed(err)
				return
			}
			c.deps.UI.DropCreated(key, loc)
		})
	}()
}

// startExchange reads the target once, reveals it, then overwrites it with
// the picked payload.
func (c *Controller) startExchange(key, payload string) {
	c.seq++
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.OpTimeout)
	ex := &pendingExchange{seq: c.seq, key: key, payload: payload, cancel: cancel}
	c.exchange = ex

	ex.stop = c.deps.After(c.opts.OpTimeout, func() {
		c.deps.Loop.Post(func() { c.failExchange(ex.seq, ErrTimeout) })
	})
	ex.sub = c.deps.Images.ObserveOnce(ctx, key, c.deps.Loop, func(v imagestore.Value) {
		c.onExchangeValue(ctx, ex.seq, v)
	})
}

func (c *Controller) onExchangeValue(ctx context.Context, seq uint64, v imagestore.Value) {
	ex := c.exchange
	if c.closed || ex == nil || ex.seq != seq {
		return
	}
	if v.Err != nil {
		c.failExchange(seq, v.Err)
		return
	}
	if !v.Exists {
		c.failExchange(seq, eris.Errorf("proximity: drop %s has no photo", v.Key))
		return
	}

	if img, err := photo.Decode(v.Payload); err != nil {
		// The stored payload is unreadable; the exchange still replaces it.
		c.log.Warn("cannot decode found photo", zap.String("key", v.Key), zap.Error(err))
	} else {
		b := img.Bounds()
		c.reveal.Show(Photo{Key: v.Key, Payload: v.Payload, Width: b.Dx(), Height: b.Dy()})
	}

	// From here the overwrite's own deadline decides the outcome, so a write
	// that commits is never reported as timed out.
	if ex.stop != nil {
		ex.stop()
		ex.stop = nil
	}
	key, payload := ex.key, ex.payload
	go func() {
		err := c.deps.Images.Overwrite(ctx, key, payload)
		if err != nil && eris.Is(ctx.Err(), context.DeadlineExceeded) {
			err = eris.Wrap(ErrTimeout, err.Error())
		}
		c.deps.Loop.Post(func() {
			if err != nil {
				c.failExchange(seq, err)
				return
			}
			c.completeExchange(seq)
		})
	}()
}

func (c *Controller) completeExchange(seq uint64) {
	ex := c.exchange
	if c.closed || ex == nil || ex.seq != seq {
		return
	}
	c.endExchange()
	c.deps.UI.ExchangeCompleted(ex.key)
}

func (c *Controller) failExchange(seq uint64, err error) {
	ex := c.exchange
	if c.closed || ex == nil || ex.seq != seq {
		return
	}
	c.log.Warn("exchange failed", zap.String("key", ex.key), zap.Error(err))
	c.endExchange()
	c.deps.UI.ExchangeFailed(ex.key, err)
}

func (c *Controller) endExchange() {
	c.abortExchange()
	if next, err := Finish(c.state); err == nil {
		c.state = next
	}
}

func (c *Controller) abortExchange() {
	ex := c.exchange
	if ex == nil {
		return
	}
	c.exchange = nil
	if ex.stop != nil {
		ex.stop()
	}
	if ex.sub != nil {
		ex.sub.Detach()
	}
	ex.cancel()
}
