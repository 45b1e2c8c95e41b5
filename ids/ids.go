// Package ids mints the identifiers used across sessions, streams, and
// episodes: short human-loggable IDs, a capacity-class hash for the buffer
// pool, and 64-bit episode IDs folded down from a random UUID.
package ids

import (
	"strconv"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

// Alphabet for generating IDs similar to shortid.DEFAULT_ABC.
// NOTE: len(idABC) > 0x3f - see GenTie()
const idABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

// LenShortID is the length of a generated short ID, per
// https://github.com/teris-io/shortid#id-length
const LenShortID = 9

const tooLongID = 32

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

// Init seeds the short-ID generator; call once at process startup.
func Init(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, idABC, seed)
}

// GenSessionID returns a short, loggable ID for a session or secondary
// connection (e.g. "A3f9kLp2x").
func GenSessionID() (id string) {
	var h, t string
	id = sid.MustGenerate()
	if !isAlpha(id[0]) {
		tie := int(rtie.Add(1))
		h = string(rune('A' + tie%26))
	}
	c := id[len(id)-1]
	if c == '-' || c == '_' {
		tie := int(rtie.Add(1))
		t = string(rune('a' + tie%26))
	}
	return h + id + t
}

// GenEpisodeID folds a random UUID down to the 64-bit episode_id carried in
// EpisodeState headers.
func GenEpisodeID() uint64 {
	u := uuid.New()
	return xxhash.Checksum64(u[:])
}

// HashClass returns the xxhash (seeded with mlcg32) of size's decimal form.
// buf.Pool does not call it: the pool picks its free-list index from the
// bit length of the requested size.
func HashClass(size int) uint64 {
	return xxhash.Checksum64S([]byte(strconv.Itoa(size)), mlcg32)
}

// mlcg32 is the xxhash seed HashClass uses; the same size always hashes to
// the same value within and across processes.
const mlcg32 = 0x2c9277b5

func IsValidID(id string) bool {
	return len(id) >= LenShortID && isAlphaNice(id)
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isAlphaNice(s string) bool {
	l := len(s)
	if l > tooLongID {
		return false
	}
	for i := range l {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}

// GenTie returns a 3-letter tie breaker, used to disambiguate IDs minted
// within the same generator tick.
func GenTie() string {
	tie := rtie.Add(1)
	b0 := idABC[tie&0x3f]
	b1 := idABC[-tie&0x3f]
	b2 := idABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}
