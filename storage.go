package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/coldvault/securestore/internal/authtag"
	"github.com/coldvault/securestore/internal/entrycrypt"
	"github.com/coldvault/securestore/internal/fault"
	"github.com/coldvault/securestore/internal/kek"
	"github.com/coldvault/securestore/internal/layout"
	"github.com/coldvault/securestore/internal/norcow"
	"github.com/coldvault/securestore/internal/pinlog"
	"github.com/coldvault/securestore/internal/primitive"
	"github.com/coldvault/securestore/internal/upgrade"
	"github.com/coldvault/securestore/log"
)

// Key identifies a stored entry; the high byte is the app, the low byte
// an app-local sub-key. Callers address public and protected entries with
// values of this type; the reserved APP_STORAGE space (the high byte
// AppStorage) is rejected by every public method.
type Key = norcow.Key

// App is the high byte of a Key, encoding storage policy.
type App = uint8

const (
	// AppStorage is reserved for this module's own metadata.
	AppStorage App = layout.AppStorage
	// FlagPublic marks a value as stored in cleartext, readable without
	// unlock, and excluded from the global authentication tag.
	FlagPublic App = layout.FlagPublic
)

// Store is the PIN-gated key-value store. Exactly one instance is
// expected per running process; see the package doc comment.
type Store struct {
	mu sync.Mutex

	n     norcow.Norcow
	fault *fault.Handler
	log   log.Logger

	progress      ProgressFunc
	delay         func(time.Duration)
	pinIterations int

	// SessionID is an opaque, never-persisted identifier for this Store
	// instance, useful for correlating log lines across multiple stores
	// opened in the same process (e.g. in tests).
	SessionID uuid.UUID

	initialized bool
	unlocked    bool

	cachedKeys         *memguard.LockedBuffer // 48 B: DEK (32) || SAK (16)
	authenticationSum  [32]byte
	hardwareSalt       [32]byte
	norcowActiveVersion uint32
}

// New constructs a Store. WithNorcow is required; New panics without it,
// since a Store with no backing log can perform no operation at all.
func New(opts ...Option) *Store {
	s := &Store{
		delay:     time.Sleep,
		SessionID: uuid.New(),
		log:       log.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.n == nil {
		panic("storage: WithNorcow is required")
	}
	s.fault = fault.New(s.n, layout.PinLogsKey, s.rawWipe)
	return s
}

func (s *Store) trip(reason string) {
	s.fault.Trip(reason)
}

// tryLock acquires s.mu without blocking, reporting ErrConcurrentAccess
// instead of stalling a second caller: the mutex exists purely to turn
// concurrent misuse into a clean error, not to serialize legitimate
// concurrent use (there is none - see the package doc comment).
func (s *Store) tryLock() error {
	if !s.mu.TryLock() {
		return ErrConcurrentAccess
	}
	return nil
}

func (s *Store) iterCount() int {
	return s.pinIterations
}

// Init runs the boot-time sequence: hashes hwSalt into the session's
// hardware salt, runs the v0 upgrade path if the mounted log predates the
// current layout, and bootstraps a fresh empty-PIN store if no EDEK_PVC
// record exists yet. It must be called exactly once before any other
// method.
func (s *Store) Init(hwSalt []byte) (err error) {
	if err := s.tryLock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	defer func() { err = s.recoverHalt(recover(), err) }()

	if s.initialized {
		return ErrAlreadyInitialized
	}

	s.hardwareSalt = primitive.SHA256(hwSalt)
	s.norcowActiveVersion = s.n.ActiveVersion()

	if s.norcowActiveVersion < layout.CurrentVersion {
		if upErr := s.runUpgradeLocked(); upErr != nil {
			s.log.Error(upErr).Message("storage: upgrade failed, wiping")
			if wipeErr := s.rawWipe(); wipeErr != nil {
				return fmt.Errorf("storage: upgrade failed (%v) and wipe failed: %w", upErr, wipeErr)
			}
			return fmt.Errorf("storage: upgrade failed, storage wiped: %w", upErr)
		}
		s.norcowActiveVersion = layout.CurrentVersion
	}

	if _, ok := s.n.Get(layout.EdekPvcKey); !ok {
		if bootErr := s.bootstrapWipedLocked(); bootErr != nil {
			return fmt.Errorf("storage: unable to bootstrap wiped storage: %w", bootErr)
		}
	}

	s.clearCachedKeysLocked()
	s.initialized = true
	return nil
}

// runUpgradeLocked wires internal/upgrade.FromV0's Hooks to this Store's
// own setPinWithKeysLocked and to pinlog.Init so the migration path reuses
// exactly the same PIN-setting and PIN-log-initializing logic a fresh boot
// would.
func (s *Store) runUpgradeLocked() error {
	cachedKeys, err := primitive.RandomBytes(layout.KeysLen)
	if err != nil {
		return fmt.Errorf("storage: unable to generate migration keys: %w", err)
	}
	defer primitive.Zero(cachedKeys)

	return upgrade.FromV0(s.n, cachedKeys, upgrade.Hooks{
		SetPin: func(pin uint32) error {
			return s.setPinWithKeysLocked(pin, cachedKeys)
		},
		InitPinLog: func(fails uint32) error {
			return pinlog.Init(s.n, layout.PinLogsKey, fails)
		},
	})
}

// bootstrapWipedLocked populates a freshly wiped (or freshly migrated,
// EDEK_PVC-absent) log with the empty-PIN initial state: a random DEK/SAK,
// an initialized authentication tag, an empty PIN, and a zero-failure PIN
// log. Mirrors storage.c's wiped-storage branch of storage_init plus
// storage_wipe's re-initialization.
func (s *Store) bootstrapWipedLocked() error {
	keys, err := primitive.RandomBytes(layout.KeysLen)
	if err != nil {
		return fmt.Errorf("storage: unable to generate initial keys: %w", err)
	}
	defer primitive.Zero(keys)

	dek, sak := keys[:layout.DEKLen], keys[layout.DEKLen:]

	if _, err := authtag.Init(s.n, layout.StorageTagKey, sak); err != nil {
		return fmt.Errorf("storage: unable to initialize authentication tag: %w", err)
	}
	if err := entrycrypt.Seal(s.n, layout.VersionKey, dek, encodeUint32(layout.CurrentVersion)); err != nil {
		return fmt.Errorf("storage: unable to set storage version: %w", err)
	}
	if err := s.setPinWithKeysLocked(layout.PinEmpty, keys); err != nil {
		return fmt.Errorf("storage: unable to set initial PIN: %w", err)
	}
	if err := pinlog.Init(s.n, layout.PinLogsKey, 0); err != nil {
		return fmt.Errorf("storage: unable to initialize PIN log: %w", err)
	}
	return nil
}

// rawWipe is the wipe primitive passed to internal/fault.Handler and
// reused by the public Wipe method. It must not take s.mu: Trip may
// invoke it while a public method already holds the lock.
func (s *Store) rawWipe() error {
	if err := s.n.Wipe(); err != nil {
		return err
	}
	s.unlocked = false
	s.initialized = false
	s.clearCachedKeysLocked()
	for i := range s.authenticationSum {
		s.authenticationSum[i] = 0
	}
	if err := s.bootstrapWipedLocked(); err != nil {
		return err
	}
	s.norcowActiveVersion = layout.CurrentVersion
	s.initialized = true
	return nil
}

func (s *Store) clearCachedKeysLocked() {
	if s.cachedKeys != nil {
		s.cachedKeys.Destroy()
		s.cachedKeys = nil
	}
}

// recoverHalt converts a recovered fault.Halted panic into ErrDeviceHalted
// at the public API boundary; any other recovered value is a genuine bug
// and is re-panicked unchanged.
func (s *Store) recoverHalt(r any, existing error) error {
	if r == nil {
		return existing
	}
	if _, ok := r.(fault.Halted); ok {
		s.log.Message("storage: device halted")
		return ErrDeviceHalted
	}
	panic(r)
}

// recoverHaltOutcome is recoverHalt's counterpart for the two methods that
// report an Outcome: on a recovered fault.Halted it reports Fault rather
// than leaving the named outcome result at its zero value (Wrong).
func (s *Store) recoverHaltOutcome(r any, outcome Outcome, existing error) (Outcome, error) {
	if r == nil {
		return outcome, existing
	}
	if _, ok := r.(fault.Halted); ok {
		s.log.Message("storage: device halted")
		return Fault, ErrDeviceHalted
	}
	panic(r)
}

func (s *Store) requireInitialized() error {
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (s *Store) requireUnlocked() error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	if !s.unlocked {
		return ErrLocked
	}
	return nil
}
