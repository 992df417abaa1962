package storage

import "time"

// unlockDelay sleeps 2^(ctr-1) seconds (zero for ctr 0, one for ctr 1,
// computed as (1<<ctr)>>1) before the
// PIN comparison proceeds, driving the progress callback every 100ms with
// the exact two-branch curve from storage.c's storage_unlock: a coarse
// linear step once the wait is long enough that sub-second precision
// would be noise, and a finer per-tick interpolation otherwise.
func (s *Store) unlockDelay(ctr uint32) {
	wait := uint32(1) << ctr >> 1
	for rem := wait; rem > 0; rem-- {
		for i := uint32(0); i < 10; i++ {
			if s.progress != nil {
				var progress uint32
				if wait > 1000000 {
					progress = (wait - rem) / (wait / 1000)
				} else {
					progress = ((wait-rem)*10 + i) * 100 / wait
				}
				s.progress(rem, progress)
			}
			s.delay(100 * time.Millisecond)
		}
	}
	if wait > 0 && s.progress != nil {
		s.progress(0, 1000)
	}
}
