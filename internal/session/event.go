package session

import (
	"time"

	"github.com/sells-group/photo-drop/internal/model"
	"github.com/sells-group/photo-drop/internal/proximity"
)

// EventType names a directive sent to the client.
type EventType string

const (
	EventMapRegion         EventType = "map_region"
	EventPinAdded          EventType = "pin_added"
	EventPinRemoved        EventType = "pin_removed"
	EventDropFound         EventType = "drop_found"
	EventPickerOpened      EventType = "picker_opened"
	EventPickerClosed      EventType = "picker_closed"
	EventPhotoRevealed     EventType = "photo_revealed"
	EventPhotoDismissed    EventType = "photo_dismissed"
	EventPhotoHidden       EventType = "photo_hidden"
	EventDropCreated       EventType = "drop_created"
	EventDropFailed        EventType = "drop_failed"
	EventExchangeCompleted EventType = "exchange_completed"
	EventExchangeFailed    EventType = "exchange_failed"
)

// Event is one directive on a session's stream. Seq increases by one per
// event within a session.
type Event struct {
	Seq  uint64    `json:"seq"`
	Type EventType `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// FoundPrompt is the data of a drop_found event.
type FoundPrompt struct {
	Key      string         `json:"key"`
	Location model.Location `json:"location"`
	Title    string         `json:"title"`
	Choices  []Choice       `json:"choices"`
}

// Choice is a prompt button.
type Choice struct {
	Label string           `json:"label"`
	Value proximity.Choice `json:"value"`
}

// Shadow styles the revealed photo.
type Shadow struct {
	Radius  float64 `json:"radius"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Opacity float64 `json:"opacity"`
}

// RevealedPhoto is the data of a photo_revealed event.
type RevealedPhoto struct {
	Key     string `json:"key"`
	Payload string `json:"payload"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	FadeMs  int64  `json:"fade_ms"`
	Shadow  Shadow `json:"shadow"`
}

// PhotoFade is the data of a photo_dismissed event.
type PhotoFade struct {
	Key    string `json:"key"`
	FadeMs int64  `json:"fade_ms"`
}

// KeyRef carries a drop key.
type KeyRef struct {
	Key string `json:"key"`
}

// Picker is the data of picker events.
type Picker struct {
	Mode proximity.PickerMode `json:"mode"`
}

// Failure is the data of *_failed events.
type Failure struct {
	Key   string `json:"key,omitempty"`
	Error string `json:"error"`
}

var foundChoices = []Choice{
	{Label: "Not Here", Value: proximity.ChoiceNotHere},
	{Label: "Exchange", Value: proximity.ChoiceExchange},
}

var photoShadow = Shadow{Radius: 10, OffsetX: 10, OffsetY: 5, Opacity: 0.8}

// directives turns controller, screen and pin callbacks into events.
type directives struct {
	s *Session
}

func (d directives) AddPin(pin model.Pin)    { d.s.emit(EventPinAdded, pin) }
func (d directives) RemovePin(pin model.Pin) { d.s.emit(EventPinRemoved, pin) }

func (d directives) ShowPrompt(key string, loc model.Location) {
	d.s.emit(EventDropFound, FoundPrompt{Key: key, Location: loc, Title: "You Found a Drop!", Choices: foundChoices})
}

func (d directives) OpenPicker(mode proximity.PickerMode)  { d.s.emit(EventPickerOpened, Picker{Mode: mode}) }
func (d directives) ClosePicker(mode proximity.PickerMode) { d.s.emit(EventPickerClosed, Picker{Mode: mode}) }

func (d directives) DropCreated(key string, loc model.Location) {
	d.s.emit(EventDropCreated, model.Pin{Key: key, Location: loc})
}

func (d directives) DropFailed(err error) {
	d.s.emit(EventDropFailed, Failure{Error: err.Error()})
}

func (d directives) ExchangeCompleted(key string) { d.s.emit(EventExchangeCompleted, KeyRef{Key: key}) }

func (d directives) ExchangeFailed(key string, err error) {
	d.s.emit(EventExchangeFailed, Failure{Key: key, Error: err.Error()})
}

func (d directives) ShowPhoto(p proximity.Photo, fade time.Duration) {
	d.s.emit(EventPhotoRevealed, RevealedPhoto{
		Key:     p.Key,
		Payload: p.Payload,
		Width:   p.Width,
		Height:  p.Height,
		FadeMs:  fade.Milliseconds(),
		Shadow:  photoShadow,
	})
}

func (d directives) FadePhoto(key string, fade time.Duration) {
	d.s.emit(EventPhotoDismissed, PhotoFade{Key: key, FadeMs: fade.Milliseconds()})
}

func (d directives) HidePhoto(key string) { d.s.emit(EventPhotoHidden, KeyRef{Key: key}) }
