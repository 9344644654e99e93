package usecase

import (
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"

	"callpilot/internal/ports"
)

// NotesController keeps one mutable notes buffer per active call and flushes
// it to durable storage after a quiet period. Edits restart a single debounce
// timer, so at most one flush is ever pending.
//
// The buffer deliberately survives the call ending (id going empty) so notes
// stay visible for review; it resets only when a new concrete call id begins.
type NotesController struct {
	store     ports.NotesStore
	log       zerolog.Logger
	debounced func(func())
	now       func() time.Time

	mu        sync.Mutex
	callID    string
	text      string
	dirty     bool
	lastSaved time.Time
}

func NewNotesController(store ports.NotesStore, wait time.Duration, log zerolog.Logger) *NotesController {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &NotesController{
		store:     store,
		log:       log,
		debounced: debounce.New(wait),
		now:       time.Now,
	}
}

// SetCall binds the buffer to a new call id. Leaving a call with unsaved
// non-empty notes flushes them first; an empty id leaves the buffer alone.
func (c *NotesController) SetCall(id string) {
	if id == "" {
		return
	}

	c.mu.Lock()
	if id == c.callID {
		c.mu.Unlock()
		return
	}
	prevID, prevText, prevDirty := c.callID, c.text, c.dirty
	c.callID = id
	c.text = ""
	c.dirty = false
	c.mu.Unlock()

	if prevDirty && prevID != "" && strings.TrimSpace(prevText) != "" {
		if err := c.store.Set(prevID, prevText); err != nil {
			c.log.Warn().Err(err).Str("call", prevID).Msg("notes flush on call change failed")
		}
	}

	stored, err := c.store.Get(id)
	if err != nil {
		c.log.Warn().Err(err).Str("call", id).Msg("stored notes could not be loaded")
		return
	}
	c.mu.Lock()
	if c.callID == id && !c.dirty {
		c.text = stored
	}
	c.mu.Unlock()
}

// Edit replaces the buffer text, marks it dirty, and (re)starts the debounce.
func (c *NotesController) Edit(text string) {
	c.mu.Lock()
	c.text = text
	c.dirty = true
	id := c.callID
	c.mu.Unlock()

	if id == "" {
		return
	}
	c.debounced(func() { c.flush(id) })
}

// FlushNow synchronously flushes a dirty buffer; used on process teardown.
func (c *NotesController) FlushNow() {
	c.mu.Lock()
	id := c.callID
	c.mu.Unlock()
	if id == "" {
		return
	}
	c.flush(id)
}

// Text returns the buffer and its dirty flag.
func (c *NotesController) Text() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, c.dirty
}

// LastSaved returns when the buffer last reached durable storage.
func (c *NotesController) LastSaved() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSaved
}

func (c *NotesController) flush(id string) {
	c.mu.Lock()
	if c.callID != id || !c.dirty {
		c.mu.Unlock()
		return
	}
	text := c.text
	c.mu.Unlock()

	if err := c.store.Set(id, text); err != nil {
		// The buffer stays dirty; the next edit or forced flush retries.
		c.log.Warn().Err(err).Str("call", id).Msg("notes flush failed")
		return
	}

	c.mu.Lock()
	if c.callID == id && c.text == text {
		c.dirty = false
		c.lastSaved = c.now()
	}
	c.mu.Unlock()
}
