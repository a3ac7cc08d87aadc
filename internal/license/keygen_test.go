package license

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-service/internal/apperr"
)

type fakeChecker struct {
	exists func(key string) bool
	calls  int
}

func (f *fakeChecker) KeyExists(ctx context.Context, key string) (bool, error) {
	f.calls++
	if f.exists == nil {
		return false, nil
	}
	return f.exists(key), nil
}

var testSecret = []byte("unit-test-signing-secret")

func TestGenerateProducesWellFormedKeys(t *testing.T) {
	gen := NewGenerator(testSecret, &fakeChecker{}, 10)

	for i := 0; i < 50; i++ {
		key, err := gen.Generate(context.Background())
		require.NoError(t, err)

		segments := strings.Split(key, "-")
		require.Len(t, segments, 5)
		for _, segment := range segments {
			assert.Len(t, segment, 5)
			assert.Empty(t, strings.Trim(segment, alphabet))
		}
	}
}

func TestGeneratedKeyPassesFormatCheck(t *testing.T) {
	gen := NewGenerator(testSecret, &fakeChecker{}, 10)
	validator := NewValidator(testSecret, nil)

	key, err := gen.Generate(context.Background())
	require.NoError(t, err)

	assert.Empty(t, validator.CheckFormat(key))
}

func TestChecksumDetectsMutation(t *testing.T) {
	gen := NewGenerator(testSecret, &fakeChecker{}, 10)
	validator := NewValidator(testSecret, nil)

	key, err := gen.Generate(context.Background())
	require.NoError(t, err)

	// Flip one payload character to a different alphabet character.
	mutated := []byte(key)
	if mutated[0] == 'A' {
		mutated[0] = 'B'
	} else {
		mutated[0] = 'A'
	}

	reasons := validator.CheckFormat(string(mutated))
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons, "checksum mismatch")
}

func TestChecksumBoundToSecret(t *testing.T) {
	gen := NewGenerator(testSecret, &fakeChecker{}, 10)
	otherValidator := NewValidator([]byte("a-different-secret"), nil)

	key, err := gen.Generate(context.Background())
	require.NoError(t, err)

	assert.Contains(t, otherValidator.CheckFormat(key), "checksum mismatch")
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	checker := &fakeChecker{}
	checker.exists = func(string) bool {
		return checker.calls <= 3
	}
	gen := NewGenerator(testSecret, checker, 10)

	key, err := gen.Generate(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.Equal(t, 4, checker.calls)
}

func TestGenerateFailsWhenKeyspaceLooksExhausted(t *testing.T) {
	checker := &fakeChecker{exists: func(string) bool { return true }}
	gen := NewGenerator(testSecret, checker, 3)

	_, err := gen.Generate(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))
	assert.Equal(t, 3, checker.calls)
}

func TestCheckFormatRejectsMalformedKeys(t *testing.T) {
	validator := NewValidator(testSecret, nil)

	cases := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"too few segments", "ABCDE-FGHJK-LMNPQ-RSTUV"},
		{"short segment", "ABCD-FGHJK-LMNPQ-RSTUV-WXYZ2"},
		{"forbidden characters", "ABC0E-FGHJK-LMNPQ-RSTUV-WXYZ2"},
		{"lowercase", "abcde-fghjk-lmnpq-rstuv-wxyz2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotEmpty(t, validator.CheckFormat(tc.key))
		})
	}
}
