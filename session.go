package main

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Stage int

const (
	StageNoImage Stage = iota
	StageImageLoaded
	StageGrayscaleReady
)

func (s Stage) String() string {
	switch s {
	case StageNoImage:
		return "no_image"
	case StageImageLoaded:
		return "image_loaded"
	case StageGrayscaleReady:
		return "grayscale_ready"
	}
	return "unknown"
}

const (
	noImageMessage      = "Upload an image to begin transforming it!"
	grayscaleCaption    = "Converted to Grayscale"
	originalCaption     = "Original"
	convertFirstMessage = "Convert the image to grayscale to start transforming it."
)

var ErrNoImage = errors.New("no image uploaded")

// Session holds one user's original image and the grayscale grid derived from it.
// The grid is only ever set by ConvertToGrayscale and is dropped by every upload.
type Session struct {
	ID string

	mu       sync.Mutex
	loader   Loader
	encoder  PanelEncoder
	original *Original
	gray     *image.Gray

	// unix nanoseconds, kept outside mu so the store never waits on a render
	lastSeen atomic.Int64
}

func NewSession(id string, loader Loader, encoder PanelEncoder) *Session {
	s := &Session{
		ID:      id,
		loader:  loader,
		encoder: encoder,
	}
	s.touch(time.Now())
	return s
}

// EmptyView is what a caller without a session sees.
func EmptyView() View {
	return View{Stage: StageNoImage.String(), Message: noImageMessage}
}

func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage()
}

func (s *Session) stage() Stage {
	switch {
	case s.gray != nil:
		return StageGrayscaleReady
	case s.original != nil:
		return StageImageLoaded
	}
	return StageNoImage
}

// Upload replaces the original with the decoded file and clears the grayscale
// grid. When decoding fails the session is left exactly as it was.
func (s *Session) Upload(ctx context.Context, filename string, data []byte) error {
	original, err := s.loader.Load(filename, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.original = original
	s.gray = nil

	log.Ctx(ctx).Info().
		Str("filename", filename).
		Str("format", original.Format).
		Str("shape", original.Shape().String()).
		Msg("image loaded")
	return nil
}

func (s *Session) ConvertToGrayscale(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.original == nil {
		return ErrNoImage
	}

	s.gray = Grayscale(s.original.Image)
	log.Ctx(ctx).Debug().Str("shape", grayShape(s.gray).String()).Msg("converted to grayscale")
	return nil
}

// Reset drops everything the session holds.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.original = nil
	s.gray = nil
}

// Render builds the panels for the current stage. Parameters that cannot
// produce a grid are reported inside the comparison rather than as an error;
// the returned error is reserved for encoding failures.
func (s *Session) Render(ctx context.Context, params Params) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.original == nil {
		return EmptyView(), nil
	}
	view := View{Stage: s.stage().String()}

	var err error
	view.Original, err = s.encoder.Panel(originalCaption, s.original.Image, s.original.Shape())
	if err != nil {
		return View{}, err
	}

	if s.gray == nil {
		view.Message = convertFirstMessage
		return view, nil
	}

	grayPanelShape := grayShape(s.gray)
	view.Grayscale, err = s.encoder.Panel(grayscaleCaption, s.gray, grayPanelShape)
	if err != nil {
		return View{}, err
	}

	comparison := &Comparison{Kind: params.Kind}
	comparison.Before, err = s.encoder.Panel(originalCaption, s.gray, grayPanelShape)
	if err != nil {
		return View{}, err
	}

	result, err := Apply(s.gray, params)
	if err != nil {
		var paramErr *InvalidParameterError
		if !errors.As(err, &paramErr) {
			return View{}, err
		}
		log.Ctx(ctx).Warn().Err(err).Msg("transformation rejected")
		comparison.Error = err.Error()
		view.Comparison = comparison
		return view, nil
	}

	comparison.After, err = s.encoder.Panel(params.Caption(), result, grayShape(result))
	if err != nil {
		return View{}, err
	}
	view.Comparison = comparison
	return view, nil
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// SessionStore keeps sessions in memory, keyed by id. When limit is positive
// the store never holds more than limit sessions; starting one more drops the
// least recently seen.
type SessionStore struct {
	loader  Loader
	encoder PanelEncoder
	ttl     time.Duration
	limit   int

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionStore(loader Loader, encoder PanelEncoder, ttl time.Duration, limit int) *SessionStore {
	return &SessionStore{
		loader:   loader,
		encoder:  encoder,
		ttl:      ttl,
		limit:    limit,
		sessions: make(map[string]*Session),
	}
}

// Lookup returns the existing session for id without creating one.
func (st *SessionStore) Lookup(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}

	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()

	if ok {
		s.touch(time.Now())
	}
	return s, ok
}

// Get returns the session for id, creating a fresh one under a new id when id
// is empty or unknown.
func (st *SessionStore) Get(id string) *Session {
	if s, ok := st.Lookup(id); ok {
		return s
	}

	s := NewSession(uuid.NewString(), st.loader, st.encoder)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.limit > 0 && len(st.sessions) >= st.limit {
		delete(st.sessions, st.oldest().ID)
	}
	st.sessions[s.ID] = s
	return s
}

// oldest must be called with st.mu held on a non-empty store.
func (st *SessionStore) oldest() *Session {
	var found *Session
	for _, s := range st.sessions {
		if found == nil || s.lastSeen.Load() < found.lastSeen.Load() {
			found = s
		}
	}
	return found
}

func (st *SessionStore) Delete(id string) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	st.mu.Unlock()

	if ok {
		s.Reset()
	}
}

func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Evict drops sessions idle for longer than the store's TTL and reports how many went.
func (st *SessionStore) Evict(now time.Time) int {
	if st.ttl <= 0 {
		return 0
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	evicted := 0
	for id, s := range st.sessions {
		if s.idleSince(now) > st.ttl {
			delete(st.sessions, id)
			evicted++
		}
	}
	return evicted
}

// RunEviction calls Evict every interval until ctx is done.
func (st *SessionStore) RunEviction(ctx context.Context, interval time.Duration) {
	if st.ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := st.Evict(now); n > 0 {
				log.Ctx(ctx).Debug().Int("evicted", n).Int("remaining", st.Len()).Msg("evicted idle sessions")
			}
		}
	}
}
