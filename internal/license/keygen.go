// Package license implements key generation and validation. Keys are
// fixed-width segments over an unambiguous alphabet with a trailing
// checksum segment, so structurally mutated keys can be rejected without
// touching the durable store.
package license

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"license-service/internal/apperr"
	"license-service/internal/util"
)

const (
	// alphabet omits 0/O/1/I; 32 characters so random bytes map onto it
	// without modulo bias.
	alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	segmentLength  = 5
	randomSegments = 4
	keySeparator   = "-"
)

// KeyChecker is the slice of the durable store the generator needs for
// collision checks.
type KeyChecker interface {
	KeyExists(ctx context.Context, key string) (bool, error)
}

type Generator struct {
	secret     []byte
	checker    KeyChecker
	maxRetries int
}

func NewGenerator(secret []byte, checker KeyChecker, maxRetries int) *Generator {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &Generator{secret: secret, checker: checker, maxRetries: maxRetries}
}

// Generate draws random segments, appends the checksum segment, and
// verifies the key is unused. Collisions retry up to the bound; running
// out of retries means the keyspace is effectively exhausted or entropy is
// broken, which is fatal, never a silent duplicate.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		key, err := g.newKey()
		if err != nil {
			return "", fmt.Errorf("failed to draw key segments: %w", err)
		}

		exists, err := g.checker.KeyExists(ctx, key)
		if err != nil {
			return "", err
		}
		if !exists {
			return key, nil
		}

		util.Warn("license key collision, regenerating",
			zap.Int("attempt", attempt+1))
	}

	return "", apperr.New(apperr.KindInternal, "KEYGEN_EXHAUSTED",
		fmt.Sprintf("no unused key after %d attempts", g.maxRetries))
}

func (g *Generator) newKey() (string, error) {
	segments := make([]string, 0, randomSegments+1)
	buf := make([]byte, segmentLength)

	for i := 0; i < randomSegments; i++ {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		segments = append(segments, encodeSegment(buf))
	}

	payload := strings.Join(segments, keySeparator)
	segments = append(segments, g.checksum(payload))
	return strings.Join(segments, keySeparator), nil
}

// checksum is a keyed blake2b MAC over the random segments, truncated to
// one segment width.
func (g *Generator) checksum(payload string) string {
	return checksumSegment(g.secret, payload)
}

func checksumSegment(secret []byte, payload string) string {
	mac, err := blake2b.New256(secret)
	if err != nil {
		// blake2b only rejects keys longer than 64 bytes
		panic("license: invalid signing secret: " + err.Error())
	}
	mac.Write([]byte(payload))
	return encodeSegment(mac.Sum(nil)[:segmentLength])
}

func encodeSegment(raw []byte) string {
	var b strings.Builder
	b.Grow(segmentLength)
	for i := 0; i < segmentLength; i++ {
		b.WriteByte(alphabet[int(raw[i])%len(alphabet)])
	}
	return b.String()
}
