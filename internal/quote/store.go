// Package quote stores short-lived shipping quote snapshots. A snapshot can
// be retrieved by its server-side id or by a self-contained signed token, so
// checkout keeps working even when the serving process did not retain state.
package quote

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/impetus-mx/storefront-api/internal/model"
)

// TTL is how long a quote snapshot stays valid after creation.
const TTL = 30 * time.Minute

const sweepInterval = time.Minute

// Store keeps quote snapshots in process memory and signs stateless tokens
// for them. Construct one at process start and inject it into handlers; it
// is not a durable store.
type Store struct {
	secret []byte
	now    func() time.Time

	mu        sync.Mutex
	snapshots map[string]model.QuoteSnapshot

	stopOnce sync.Once
	stop     chan struct{}
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source (for expiry tests).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a snapshot store signing tokens with the given secret and
// starts the background expiry sweep. Call Close to stop the sweep.
func NewStore(secret string, opts ...StoreOption) *Store {
	s := &Store{
		secret:    []byte(secret),
		now:       time.Now,
		snapshots: make(map[string]model.QuoteSnapshot),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.sweepLoop()
	return s
}

// Close stops the background sweep.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Put assigns a fresh quote id and expiry to the snapshot, stores it, and
// returns the stored snapshot together with its signed token.
func (s *Store) Put(snapshot model.QuoteSnapshot) (model.QuoteSnapshot, string, error) {
	snapshot.QuoteID = "quote_" + uuid.NewString()
	snapshot.ExpiresAt = s.now().Add(TTL).UnixMilli()

	token, err := s.encode(snapshot)
	if err != nil {
		return model.QuoteSnapshot{}, "", err
	}

	s.mu.Lock()
	s.snapshots[snapshot.QuoteID] = snapshot
	s.mu.Unlock()

	return snapshot, token, nil
}

// Get resolves a quote by id or by signed token. Expired entries are evicted
// on read and treated as misses; tokens with an invalid signature, malformed
// structure or past expiry are also misses.
func (s *Store) Get(idOrToken string) (*model.QuoteSnapshot, bool) {
	nowMillis := s.now().UnixMilli()

	s.mu.Lock()
	stored, ok := s.snapshots[idOrToken]
	if ok && stored.ExpiresAt <= nowMillis {
		delete(s.snapshots, idOrToken)
		ok = false
	}
	s.mu.Unlock()

	if ok {
		return &stored, true
	}

	decoded, ok := s.decode(idOrToken)
	if !ok || decoded.ExpiresAt <= nowMillis {
		return nil, false
	}
	return decoded, true
}

// encode produces the signed token: base64url(JSON) + "." + hex HMAC-SHA256.
func (s *Store) encode(snapshot model.QuoteSnapshot) (string, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.sign(encoded), nil
}

func (s *Store) decode(token string) (*model.QuoteSnapshot, bool) {
	encoded, signature, found := strings.Cut(token, ".")
	if !found || encoded == "" || signature == "" {
		return nil, false
	}

	if !hmac.Equal([]byte(s.sign(encoded)), []byte(signature)) {
		return nil, false
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}

	var snapshot model.QuoteSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, false
	}
	return &snapshot, true
}

func (s *Store) sign(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if removed := s.sweep(); removed > 0 {
				zap.L().Debug("pruned expired quote snapshots", zap.Int("removed", removed))
			}
		}
	}
}

func (s *Store) sweep() int {
	nowMillis := s.now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, snapshot := range s.snapshots {
		if snapshot.ExpiresAt <= nowMillis {
			delete(s.snapshots, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries (for tests and diagnostics).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}
